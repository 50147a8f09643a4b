package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/flashmart-backend/pkg/enums"
	"github.com/angelmondragon/flashmart-backend/pkg/types"
)

// Order is a single-seller, single-product purchase and the unit escrow is held against.
type Order struct {
	ID                      uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderNumber             string            `gorm:"column:order_number;not null;uniqueIndex:ux_orders_order_number"`
	CheckoutGroupID         *uuid.UUID        `gorm:"column:checkout_group_id;type:uuid"`
	BuyerID                 uuid.UUID         `gorm:"column:buyer_id;type:uuid;not null"`
	SellerID                uuid.UUID         `gorm:"column:seller_id;type:uuid;not null"`
	ProductID               uuid.UUID         `gorm:"column:product_id;type:uuid;not null"`
	DealID                  *uuid.UUID        `gorm:"column:deal_id;type:uuid"`
	Quantity                int               `gorm:"column:quantity;not null"`
	UnitPriceCents          int               `gorm:"column:unit_price_cents;not null"`
	DealPriceCents          *int              `gorm:"column:deal_price_cents"`
	TotalAmountCents        int               `gorm:"column:total_amount_cents;not null"`
	Currency                enums.Currency    `gorm:"column:currency;type:text;not null"`
	DeliveryAddress         types.Address     `gorm:"column:delivery_address;type:jsonb;serializer:json;not null"`
	Status                  enums.OrderStatus `gorm:"column:status;type:text;not null"`
	TrackingNumber          *string           `gorm:"column:tracking_number"`
	ShippedAt               *time.Time        `gorm:"column:shipped_at"`
	DeliveredAt             *time.Time        `gorm:"column:delivered_at"`
	BuyerConfirmedAt        *time.Time        `gorm:"column:buyer_confirmed_at"`
	CompletedAt             *time.Time        `gorm:"column:completed_at"`
	CancelledAt             *time.Time        `gorm:"column:cancelled_at"`
	DisputedAt              *time.Time        `gorm:"column:disputed_at"`
	DeliveryPhotoURL        *string           `gorm:"column:delivery_photo_url"`
	DeliveryPhotoUploadedAt *time.Time        `gorm:"column:delivery_photo_uploaded_at"`
	SignerName              *string           `gorm:"column:signer_name"`
	SignatureImage          *string           `gorm:"column:signature_image"`
	SignatureDigest         *string           `gorm:"column:signature_digest"`
	CreatedAt               time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt               time.Time         `gorm:"column:updated_at;autoUpdateTime"`

	Escrow     *EscrowRecord       `gorm:"foreignKey:OrderID;references:ID"`
	Assignment *DeliveryAssignment `gorm:"foreignKey:OrderID;references:ID"`
}

// EffectiveUnitPriceCents returns the deal price when one was applied at creation.
func (o Order) EffectiveUnitPriceCents() int {
	if o.DealPriceCents != nil {
		return *o.DealPriceCents
	}
	return o.UnitPriceCents
}
