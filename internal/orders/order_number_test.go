package orders

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var orderNumberPattern = regexp.MustCompile(`^ORD-20260314-[A-Z2-7]{8}$`)

func TestNewOrderNumberShape(t *testing.T) {
	now := time.Date(2026, 3, 14, 23, 59, 0, 0, time.UTC)
	seen := make(map[string]struct{})
	for i := 0; i < 500; i++ {
		n := NewOrderNumber(now)
		require.Regexp(t, orderNumberPattern, n)
		require.True(t, ValidOrderNumber(n))
		seen[n] = struct{}{}
	}
	require.Len(t, seen, 500)
}

func TestValidOrderNumberRejectsGarbage(t *testing.T) {
	for _, value := range []string{"", "ORD-1-ABC", "INV-20260314-ABCDEFGH", "ORD-20261399-ABCDEFGH", "ORD-20260314-abcdefgh", "ORD-20260314-ABCDEFG1"} {
		require.False(t, ValidOrderNumber(value), value)
	}
}
