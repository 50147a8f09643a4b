package db

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/flashmart-backend/pkg/config"
	"github.com/angelmondragon/flashmart-backend/pkg/logger"
)

type testModel struct {
	ID   int
	Name string
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:dbclient_"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := conn.AutoMigrate(&testModel{}); err != nil {
		t.Fatalf("failed to migrate sqlite: %v", err)
	}
	return conn
}

func TestWithTx_CommitsAndRollbacks(t *testing.T) {
	db := newTestDB(t)
	client := Wrap(db)

	ctx := context.Background()
	if err := client.WithTx(ctx, func(tx *gorm.DB) error {
		return tx.Create(&testModel{Name: "committed"}).Error
	}); err != nil {
		t.Fatalf("WithTx commit failed: %v", err)
	}

	var count int64
	if err := db.Model(&testModel{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 record, got %d", count)
	}

	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(&testModel{Name: "rolled"}).Error; err != nil {
			return err
		}
		return errors.New("boom")
	})
	if err == nil {
		t.Fatal("expected WithTx to return an error")
	}
	if err := db.Model(&testModel{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed after rollback: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected rollback to leave 1 record, got %d", count)
	}
}

func TestPing(t *testing.T) {
	db := newTestDB(t)
	client := Wrap(db)
	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("unexpected ping error: %v", err)
	}
}

func TestNewOpensSQLiteDriver(t *testing.T) {
	client, err := New(context.Background(), config.DBConfig{
		Driver: config.DBDriverSQLite,
		DSN:    "file:client_new_" + uuid.NewString() + "?mode=memory&cache=shared",
	}, nil)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	defer client.Close()

	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("ping failed: %v", err)
	}
	if res := client.Exec(context.Background(), "CREATE TABLE probes (id INTEGER PRIMARY KEY, name TEXT UNIQUE)"); res.Error != nil {
		t.Fatalf("create table: %v", res.Error)
	}
}

func TestIsUniqueViolationDetectsSQLiteAndPostgres(t *testing.T) {
	db := newTestDB(t)
	if err := db.Exec("CREATE TABLE IF NOT EXISTS uniq_probe (code TEXT UNIQUE)").Error; err != nil {
		t.Fatalf("create table: %v", err)
	}
	if err := db.Exec("INSERT INTO uniq_probe (code) VALUES ('ORD-1')").Error; err != nil {
		t.Fatalf("insert: %v", err)
	}
	dupErr := db.Exec("INSERT INTO uniq_probe (code) VALUES ('ORD-1')").Error
	if !IsUniqueViolation(dupErr, "") {
		t.Fatalf("expected sqlite duplicate to be detected, got %v", dupErr)
	}

	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "ux_orders_order_number"}
	if !IsUniqueViolation(pgErr, "ux_orders_order_number") {
		t.Fatalf("expected pg unique violation to match constraint")
	}
	if IsUniqueViolation(pgErr, "ux_other") {
		t.Fatalf("constraint mismatch should not match")
	}
	if IsUniqueViolation(errors.New("connection reset"), "") {
		t.Fatalf("unrelated errors should not match")
	}
}

func TestWithTxReplaysSerializationFailures(t *testing.T) {
	db := newTestDB(t)
	client := Wrap(db)
	var waits []time.Duration
	client.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	attempts := 0
	err := client.WithTx(context.Background(), func(tx *gorm.DB) error {
		attempts++
		if err := tx.Create(&testModel{Name: "try"}).Error; err != nil {
			return err
		}
		if attempts < 3 {
			return &pgconn.PgError{Code: "40001"}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected third attempt to commit, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
	if len(waits) != 2 || waits[1] != 2*waits[0] {
		t.Fatalf("expected doubling backoff, got %v", waits)
	}
	var count int64
	db.Model(&testModel{}).Count(&count)
	if count != 1 {
		t.Fatalf("aborted attempts must roll back; got %d rows", count)
	}
}

func TestWithTxGivesUpAfterMaxAttempts(t *testing.T) {
	client := Wrap(newTestDB(t))
	client.sleep = func(context.Context, time.Duration) error { return nil }

	attempts := 0
	err := client.WithTx(context.Background(), func(*gorm.DB) error {
		attempts++
		return &pgconn.PgError{Code: "40P01"}
	})
	if !IsRetryableTxError(err) {
		t.Fatalf("expected the deadlock error back, got %v", err)
	}
	if attempts != maxTxAttempts {
		t.Fatalf("expected %d attempts, got %d", maxTxAttempts, attempts)
	}
}

func TestWithTxDoesNotReplayOrdinaryErrors(t *testing.T) {
	client := Wrap(newTestDB(t))
	attempts := 0
	_ = client.WithTx(context.Background(), func(*gorm.DB) error {
		attempts++
		return &pgconn.PgError{Code: "23505"}
	})
	if attempts != 1 {
		t.Fatalf("unique violations are final; got %d attempts", attempts)
	}
}

func TestWithTxRollsBackOnPanic(t *testing.T) {
	db := newTestDB(t)
	client := Wrap(db)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic to propagate")
		}
		var count int64
		db.Model(&testModel{}).Count(&count)
		if count != 0 {
			t.Fatalf("expected rollback, got %d rows", count)
		}
	}()
	_ = client.WithTx(context.Background(), func(tx *gorm.DB) error {
		tx.Create(&testModel{Name: "doomed"})
		panic("boom")
	})
}

func TestQueryLoggerWritesSlowAndFailedStatements(t *testing.T) {
	buf := &bytes.Buffer{}
	ql := newQueryLogger(logger.New(logger.Options{ServiceName: "test", Output: buf}), 100*time.Millisecond)
	sql := func() (string, int64) { return "SELECT 1", 1 }

	ql.Trace(context.Background(), time.Now(), sql, nil)
	ql.Trace(context.Background(), time.Now(), sql, gorm.ErrRecordNotFound)
	if buf.Len() != 0 {
		t.Fatalf("fast and not-found queries should be quiet: %s", buf.String())
	}

	ql.Trace(context.Background(), time.Now().Add(-time.Second), sql, nil)
	if !strings.Contains(buf.String(), "db.slow_query") {
		t.Fatalf("expected slow query line, got %s", buf.String())
	}

	buf.Reset()
	ql.Trace(context.Background(), time.Now(), sql, &pgconn.PgError{Code: "23514"})
	if !strings.Contains(buf.String(), `"sqlstate":"23514"`) {
		t.Fatalf("expected sqlstate on failed query, got %s", buf.String())
	}
}
