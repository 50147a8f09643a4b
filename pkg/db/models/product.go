package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/flashmart-backend/pkg/enums"
)

// Product is the slice of the catalog listing the order core reads: price and stock.
type Product struct {
	ID            uuid.UUID      `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	SellerID      uuid.UUID      `gorm:"column:seller_id;type:uuid;not null"`
	Name          string         `gorm:"column:name;not null"`
	PriceCents    int            `gorm:"column:price_cents;not null"`
	Currency      enums.Currency `gorm:"column:currency;type:text;not null"`
	StockQuantity int            `gorm:"column:stock_quantity;not null"`
	IsActive      bool           `gorm:"column:is_active;not null"`
	CreatedAt     time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}
