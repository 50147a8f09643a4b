package deals

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// DiscountPercentage derives the advertised discount from the two prices, rounding half away from
// zero. Price pairs that round to 0% or 100% are rejected rather than stored with a percentage that
// disagrees with the prices. Client supplied percentages are never used.
func DiscountPercentage(originalCents, dealCents int) (int, error) {
	if originalCents <= 0 {
		return 0, fmt.Errorf("original price must be positive")
	}
	if dealCents <= 0 {
		return 0, fmt.Errorf("deal price must be positive")
	}
	if dealCents >= originalCents {
		return 0, fmt.Errorf("deal price must be below the original price")
	}

	original := decimal.NewFromInt(int64(originalCents))
	saved := decimal.NewFromInt(int64(originalCents - dealCents))
	pct := saved.Mul(hundred).Div(original).Round(0).IntPart()

	if pct <= 0 || pct >= 100 {
		return 0, fmt.Errorf("deal price gives a %d%% discount; it must round to between 1%% and 99%%", pct)
	}
	return int(pct), nil
}
