package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/flashmart-backend/pkg/enums"
)

// OrderCreatedEvent is emitted once per order after escrow is held.
type OrderCreatedEvent struct {
	OrderID          uuid.UUID      `json:"order_id"`
	OrderNumber      string         `json:"order_number"`
	CheckoutGroupID  *uuid.UUID     `json:"checkout_group_id,omitempty"`
	BuyerID          uuid.UUID      `json:"buyer_id"`
	SellerID         uuid.UUID      `json:"seller_id"`
	ProductID        uuid.UUID      `json:"product_id"`
	DealID           *uuid.UUID     `json:"deal_id,omitempty"`
	Quantity         int            `json:"quantity"`
	TotalAmountCents int            `json:"total_amount_cents"`
	Currency         enums.Currency `json:"currency"`
}

// OrderStatusChangedEvent covers seller driven moves along the fulfilment path.
type OrderStatusChangedEvent struct {
	OrderID        uuid.UUID         `json:"order_id"`
	OrderNumber    string            `json:"order_number"`
	From           enums.OrderStatus `json:"from"`
	To             enums.OrderStatus `json:"to"`
	TrackingNumber *string           `json:"tracking_number,omitempty"`
}

// OrderCompletedEvent fires when the buyer signs for the parcel or an admin releases a dispute.
type OrderCompletedEvent struct {
	OrderID     uuid.UUID           `json:"order_id"`
	OrderNumber string              `json:"order_number"`
	SellerID    uuid.UUID           `json:"seller_id"`
	Trigger     enums.EscrowTrigger `json:"trigger"`
	CompletedAt time.Time           `json:"completed_at"`
}

type OrderDisputedEvent struct {
	OrderID     uuid.UUID         `json:"order_id"`
	OrderNumber string            `json:"order_number"`
	DisputeID   uuid.UUID         `json:"dispute_id"`
	From        enums.OrderStatus `json:"from"`
	Description string            `json:"description"`
}

// OrderExpiredEvent is emitted by the stale pending order sweep.
type OrderExpiredEvent struct {
	OrderID      uuid.UUID `json:"order_id"`
	OrderNumber  string    `json:"order_number"`
	PendingSince time.Time `json:"pending_since"`
	ExpiredAt    time.Time `json:"expired_at"`
}

type CheckoutConvertedEvent struct {
	CheckoutGroupID  uuid.UUID   `json:"checkout_group_id"`
	BuyerID          uuid.UUID   `json:"buyer_id"`
	OrderIDs         []uuid.UUID `json:"order_ids"`
	OrderNumbers     []string    `json:"order_numbers"`
	TotalAmountCents int         `json:"total_amount_cents"`
}

type DisputeResolvedEvent struct {
	DisputeID   uuid.UUID               `json:"dispute_id"`
	OrderID     uuid.UUID               `json:"order_id"`
	OrderNumber string                  `json:"order_number"`
	Resolution  enums.DisputeResolution `json:"resolution"`
	ResolvedBy  uuid.UUID               `json:"resolved_by"`
}

// EscrowTransitionEvent is shared by every escrow event type.
type EscrowTransitionEvent struct {
	OrderID     uuid.UUID            `json:"order_id"`
	From        *enums.EscrowState   `json:"from,omitempty"`
	To          enums.EscrowState    `json:"to"`
	Trigger     *enums.EscrowTrigger `json:"trigger,omitempty"`
	AmountCents int                  `json:"amount_cents"`
	Currency    enums.Currency       `json:"currency"`
}

// DealEvent snapshots the deal after create, update, delete or expiry.
type DealEvent struct {
	DealID             uuid.UUID `json:"deal_id"`
	ProductID          uuid.UUID `json:"product_id"`
	SellerID           uuid.UUID `json:"seller_id"`
	DealPriceCents     int       `json:"deal_price_cents"`
	DiscountPercentage int       `json:"discount_percentage"`
	QuantityAvailable  int       `json:"quantity_available"`
	QuantitySold       int       `json:"quantity_sold"`
	StartsAt           time.Time `json:"starts_at"`
	EndsAt             time.Time `json:"ends_at"`
	IsActive           bool      `json:"is_active"`
}

type DeliveryClaimedEvent struct {
	OrderID     uuid.UUID `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	AgentID     uuid.UUID `json:"agent_id"`
	ClaimedAt   time.Time `json:"claimed_at"`
}

type DeliveryProofUploadedEvent struct {
	OrderID     uuid.UUID `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	AgentID     uuid.UUID `json:"agent_id"`
	PhotoURL    string    `json:"photo_url"`
	UploadedAt  time.Time `json:"uploaded_at"`
}
