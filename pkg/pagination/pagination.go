// Package pagination implements keyset paging over (timestamp, id) pairs, newest first.
//
// Cursors are opaque to clients: a version byte, the row timestamp in unix nanoseconds and the
// row id, base64url encoded without padding.
package pagination

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	DefaultLimit = 25
	MaxLimit     = 100

	cursorVersion = 1
	cursorLen     = 1 + 8 + 16
)

var ErrInvalidCursor = errors.New("invalid cursor")

// Params holds cursor pagination inputs from controllers or services.
type Params struct {
	Limit  int
	Cursor string
}

// Cursor points at the last row of the previous page.
type Cursor struct {
	At time.Time
	ID uuid.UUID
}

// NormalizeLimit clamps limit to [1, MaxLimit], substituting DefaultLimit for non-positive values.
func NormalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	}
	return limit
}

// LimitWithBuffer fetches one extra row so Trim can tell whether another page exists.
func LimitWithBuffer(limit int) int {
	return NormalizeLimit(limit) + 1
}

func EncodeCursor(c Cursor) string {
	buf := make([]byte, cursorLen)
	buf[0] = cursorVersion
	binary.BigEndian.PutUint64(buf[1:9], uint64(c.At.UnixNano()))
	copy(buf[9:], c.ID[:])
	return base64.RawURLEncoding.EncodeToString(buf)
}

// ParseCursor returns nil, nil for an empty value. Every malformed value wraps ErrInvalidCursor.
func ParseCursor(value string) (*Cursor, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	if len(raw) != cursorLen || raw[0] != cursorVersion {
		return nil, ErrInvalidCursor
	}
	id, err := uuid.FromBytes(raw[9:])
	if err != nil || id == uuid.Nil {
		return nil, ErrInvalidCursor
	}
	return &Cursor{
		At: time.Unix(0, int64(binary.BigEndian.Uint64(raw[1:9]))).UTC(),
		ID: id,
	}, nil
}

// Before restricts q to rows strictly after c in (timeCol DESC, idCol DESC) order. A nil cursor
// leaves q untouched. Column names are trusted identifiers, never user input.
func (c *Cursor) Before(q *gorm.DB, timeCol, idCol string) *gorm.DB {
	if c == nil {
		return q
	}
	clause := fmt.Sprintf("(%[1]s < ? OR (%[1]s = ? AND %[2]s < ?))", timeCol, idCol)
	return q.Where(clause, c.At, c.At, c.ID)
}

// Page is one slice of a cursor-paginated listing.
type Page[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"next_cursor,omitempty"`
}

// Trim drops the lookahead row fetched with LimitWithBuffer and builds the next cursor from the
// last row kept. Items is never nil so it encodes as [].
func Trim[T any](rows []T, limit int, key func(T) Cursor) Page[T] {
	limit = NormalizeLimit(limit)
	if len(rows) <= limit {
		if rows == nil {
			rows = []T{}
		}
		return Page[T]{Items: rows}
	}
	kept := rows[:limit]
	return Page[T]{
		Items:      kept,
		NextCursor: EncodeCursor(key(kept[len(kept)-1])),
	}
}
