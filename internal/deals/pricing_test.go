package deals

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDiscountPercentage(t *testing.T) {
	cases := []struct {
		name     string
		original int
		deal     int
		want     int
	}{
		{name: "quarter off", original: 1000, deal: 750, want: 25},
		{name: "thirds round down", original: 3000, deal: 2000, want: 33},
		{name: "half rounds away from zero", original: 40, deal: 39, want: 3},
		{name: "smallest discount that rounds to one", original: 200, deal: 199, want: 1},
		{name: "largest discount that rounds to ninety nine", original: 1000, deal: 11, want: 99},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DiscountPercentage(tc.original, tc.deal)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestDiscountPercentageRejectsNonDiscounts(t *testing.T) {
	_, err := DiscountPercentage(1000, 1000)
	require.Error(t, err)
	_, err = DiscountPercentage(1000, 0)
	require.Error(t, err)
	_, err = DiscountPercentage(0, 10)
	require.Error(t, err)
}

func TestDiscountPercentageRejectsPricesRoundingOutOfRange(t *testing.T) {
	_, err := DiscountPercentage(100000, 99999)
	require.Error(t, err, "0.001% off rounds to zero")
	_, err = DiscountPercentage(1000, 1)
	require.Error(t, err, "99.9% off rounds to one hundred")
	_, err = DiscountPercentage(1000, 5)
	require.Error(t, err, "99.5% off rounds half away from zero to one hundred")
}
