package orders

import (
	"encoding/base32"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	orderNumberPrefix    = "ORD"
	orderNumberSuffixLen = 8
)

var orderNumberEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewOrderNumber returns a human readable identifier of the form ORD-YYYYMMDD-XXXXXXXX. The suffix
// carries 40 bits of a random UUID; collisions are caught by the unique index and retried.
func NewOrderNumber(now time.Time) string {
	id := uuid.New()
	suffix := orderNumberEncoding.EncodeToString(id[:])[:orderNumberSuffixLen]
	return strings.Join([]string{orderNumberPrefix, now.UTC().Format("20060102"), suffix}, "-")
}

// ValidOrderNumber performs a cheap shape check before hitting the database.
func ValidOrderNumber(value string) bool {
	parts := strings.Split(value, "-")
	if len(parts) != 3 || parts[0] != orderNumberPrefix {
		return false
	}
	if _, err := time.Parse("20060102", parts[1]); err != nil {
		return false
	}
	if len(parts[2]) != orderNumberSuffixLen {
		return false
	}
	_, err := orderNumberEncoding.DecodeString(parts[2])
	return err == nil
}
