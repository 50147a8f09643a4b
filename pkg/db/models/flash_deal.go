package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// FlashDeal is a time boxed, quantity limited price override for one product.
type FlashDeal struct {
	ID                 uuid.UUID      `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ProductID          uuid.UUID      `gorm:"column:product_id;type:uuid;not null"`
	SellerID           uuid.UUID      `gorm:"column:seller_id;type:uuid;not null"`
	OriginalPriceCents int            `gorm:"column:original_price_cents;not null"`
	DealPriceCents     int            `gorm:"column:deal_price_cents;not null"`
	DiscountPercentage int            `gorm:"column:discount_percentage;not null"`
	QuantityAvailable  int            `gorm:"column:quantity_available;not null"`
	QuantitySold       int            `gorm:"column:quantity_sold;not null"`
	StartsAt           time.Time      `gorm:"column:starts_at;not null"`
	EndsAt             time.Time      `gorm:"column:ends_at;not null"`
	IsActive           bool           `gorm:"column:is_active;not null"`
	CreatedAt          time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time      `gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt          gorm.DeletedAt `gorm:"column:deleted_at;index"`
}

// Remaining returns how many units can still be reserved.
func (d FlashDeal) Remaining() int {
	if left := d.QuantityAvailable - d.QuantitySold; left > 0 {
		return left
	}
	return 0
}

// InWindow reports whether now falls inside [starts_at, ends_at).
func (d FlashDeal) InWindow(now time.Time) bool {
	return !now.Before(d.StartsAt) && now.Before(d.EndsAt)
}

// IsLive reports whether the deal can be purchased at now.
func (d FlashDeal) IsLive(now time.Time) bool {
	return d.IsActive && !d.DeletedAt.Valid && d.InWindow(now) && d.QuantitySold < d.QuantityAvailable
}

// SecondsRemaining is derived from the wall clock and never persisted.
func (d FlashDeal) SecondsRemaining(now time.Time) int64 {
	if !d.InWindow(now) {
		return 0
	}
	return int64(d.EndsAt.Sub(now) / time.Second)
}
