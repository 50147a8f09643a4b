package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestFlashDealLiveness(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	deal := FlashDeal{
		QuantityAvailable: 3,
		QuantitySold:      1,
		StartsAt:          start,
		EndsAt:            start.Add(time.Hour),
		IsActive:          true,
	}

	require.False(t, deal.IsLive(start.Add(-time.Second)))
	require.True(t, deal.IsLive(start))
	require.False(t, deal.IsLive(start.Add(time.Hour)), "ends_at is exclusive")
	require.Equal(t, 2, deal.Remaining())

	deal.QuantitySold = 3
	require.False(t, deal.IsLive(start))
	require.Equal(t, 0, deal.Remaining())

	deal.QuantitySold = 0
	deal.DeletedAt = gorm.DeletedAt{Time: start, Valid: true}
	require.False(t, deal.IsLive(start))
}

func TestFlashDealSecondsRemaining(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	deal := FlashDeal{StartsAt: start, EndsAt: start.Add(90 * time.Second)}

	require.EqualValues(t, 60, deal.SecondsRemaining(start.Add(30*time.Second)))
	require.EqualValues(t, 0, deal.SecondsRemaining(start.Add(-time.Minute)))
	require.EqualValues(t, 0, deal.SecondsRemaining(start.Add(2*time.Minute)))
}

func TestOrderEffectiveUnitPrice(t *testing.T) {
	order := Order{UnitPriceCents: 1000}
	require.Equal(t, 1000, order.EffectiveUnitPriceCents())

	deal := 700
	order.DealPriceCents = &deal
	require.Equal(t, 700, order.EffectiveUnitPriceCents())
}
