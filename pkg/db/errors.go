package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// sqlState extracts the SQLSTATE and constraint from either Postgres driver's error type.
func sqlState(err error) (code, constraint string, ok bool) {
	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		return pgxErr.Code, pgxErr.ConstraintName, true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code), pqErr.Constraint, true
	}
	return "", "", false
}

// IsUniqueViolation reports whether err is a unique constraint violation. When
// constraintName is provided, only violations of that constraint match.
func IsUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}
	if code, constraint, ok := sqlState(err); ok {
		return code == pgUniqueViolation && (constraintName == "" || constraint == constraintName)
	}

	msg := err.Error()
	if constraintName != "" && strings.Contains(msg, constraintName) {
		return true
	}
	// sqlite reports "UNIQUE constraint failed: table.column".
	return strings.Contains(msg, "duplicate key value") || strings.Contains(msg, "UNIQUE constraint failed")
}

// IsRetryableTxError reports whether Postgres aborted the transaction in a way a replay can fix.
func IsRetryableTxError(err error) bool {
	if err == nil {
		return false
	}
	code, _, ok := sqlState(err)
	return ok && (code == pgSerializationFailure || code == pgDeadlockDetected)
}

func sqlStateOf(err error) string {
	code, _, ok := sqlState(err)
	if !ok {
		return ""
	}
	return code
}
