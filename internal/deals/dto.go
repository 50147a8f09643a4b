package deals

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/flashmart-backend/pkg/db/models"
)

// DealDTO is the read model returned to clients. SecondsRemaining is computed from the clock at
// read time.
type DealDTO struct {
	ID                 uuid.UUID `json:"id"`
	ProductID          uuid.UUID `json:"product_id"`
	SellerID           uuid.UUID `json:"seller_id"`
	OriginalPriceCents int       `json:"original_price_cents"`
	DealPriceCents     int       `json:"deal_price_cents"`
	DiscountPercentage int       `json:"discount_percentage"`
	QuantityAvailable  int       `json:"quantity_available"`
	QuantitySold       int       `json:"quantity_sold"`
	QuantityRemaining  int       `json:"quantity_remaining"`
	StartsAt           time.Time `json:"starts_at"`
	EndsAt             time.Time `json:"ends_at"`
	IsActive           bool      `json:"is_active"`
	IsLive             bool      `json:"is_live"`
	SecondsRemaining   int64     `json:"seconds_remaining"`
	CreatedAt          time.Time `json:"created_at"`
}

// NewDealDTO builds the read model for deal as seen at now.
func NewDealDTO(deal models.FlashDeal, now time.Time) DealDTO {
	return DealDTO{
		ID:                 deal.ID,
		ProductID:          deal.ProductID,
		SellerID:           deal.SellerID,
		OriginalPriceCents: deal.OriginalPriceCents,
		DealPriceCents:     deal.DealPriceCents,
		DiscountPercentage: deal.DiscountPercentage,
		QuantityAvailable:  deal.QuantityAvailable,
		QuantitySold:       deal.QuantitySold,
		QuantityRemaining:  deal.Remaining(),
		StartsAt:           deal.StartsAt,
		EndsAt:             deal.EndsAt,
		IsActive:           deal.IsActive,
		IsLive:             deal.IsLive(now),
		SecondsRemaining:   deal.SecondsRemaining(now),
		CreatedAt:          deal.CreatedAt,
	}
}
