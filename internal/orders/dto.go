package orders

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/flashmart-backend/pkg/db/models"
	"github.com/angelmondragon/flashmart-backend/pkg/enums"
	"github.com/angelmondragon/flashmart-backend/pkg/types"
)

// OrderDTO is the participant facing view of an order. EscrowStatus is read from the escrow
// record rather than stored on the order.
type OrderDTO struct {
	ID                 uuid.UUID          `json:"id"`
	OrderNumber        string             `json:"order_number"`
	CheckoutGroupID    *uuid.UUID         `json:"checkout_group_id,omitempty"`
	BuyerID            uuid.UUID          `json:"buyer_id"`
	SellerID           uuid.UUID          `json:"seller_id"`
	ProductID          uuid.UUID          `json:"product_id"`
	DealID             *uuid.UUID         `json:"deal_id,omitempty"`
	Quantity           int                `json:"quantity"`
	UnitPriceCents     int                `json:"unit_price_cents"`
	DealPriceCents     *int               `json:"deal_price_cents,omitempty"`
	TotalAmountCents   int                `json:"total_amount_cents"`
	Currency           enums.Currency     `json:"currency"`
	DeliveryAddress    types.Address      `json:"delivery_address"`
	Status             enums.OrderStatus  `json:"status"`
	EscrowStatus       *enums.EscrowState `json:"escrow_status,omitempty"`
	TrackingNumber     *string            `json:"tracking_number,omitempty"`
	Delivery           *DeliveryDTO       `json:"delivery,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
	ShippedAt          *time.Time         `json:"shipped_at,omitempty"`
	DeliveredAt        *time.Time         `json:"delivered_at,omitempty"`
	BuyerConfirmedAt   *time.Time         `json:"buyer_confirmed_at,omitempty"`
	CompletedAt        *time.Time         `json:"completed_at,omitempty"`
	CancelledAt        *time.Time         `json:"cancelled_at,omitempty"`
	DisputedAt         *time.Time         `json:"disputed_at,omitempty"`
	DeliveryPhotoURL   *string            `json:"delivery_photo_url,omitempty"`
	SignerName         *string            `json:"signer_name,omitempty"`
	HasSignatureImage  bool               `json:"has_signature_image"`
	SignatureDigestHex *string            `json:"signature_digest,omitempty"`
}

// DeliveryDTO summarises the delivery assignment.
type DeliveryDTO struct {
	AgentID        *uuid.UUID `json:"agent_id,omitempty"`
	ClaimedAt      *time.Time `json:"claimed_at,omitempty"`
	ReadyForPickup bool       `json:"ready_for_pickup"`
}

// NewOrderDTO maps a loaded order, with its escrow and assignment preloaded when available.
func NewOrderDTO(order models.Order) OrderDTO {
	dto := OrderDTO{
		ID:                 order.ID,
		OrderNumber:        order.OrderNumber,
		CheckoutGroupID:    order.CheckoutGroupID,
		BuyerID:            order.BuyerID,
		SellerID:           order.SellerID,
		ProductID:          order.ProductID,
		DealID:             order.DealID,
		Quantity:           order.Quantity,
		UnitPriceCents:     order.UnitPriceCents,
		DealPriceCents:     order.DealPriceCents,
		TotalAmountCents:   order.TotalAmountCents,
		Currency:           order.Currency,
		DeliveryAddress:    order.DeliveryAddress,
		Status:             order.Status,
		TrackingNumber:     order.TrackingNumber,
		CreatedAt:          order.CreatedAt,
		ShippedAt:          order.ShippedAt,
		DeliveredAt:        order.DeliveredAt,
		BuyerConfirmedAt:   order.BuyerConfirmedAt,
		CompletedAt:        order.CompletedAt,
		CancelledAt:        order.CancelledAt,
		DisputedAt:         order.DisputedAt,
		DeliveryPhotoURL:   order.DeliveryPhotoURL,
		SignerName:         order.SignerName,
		HasSignatureImage:  order.SignatureImage != nil && *order.SignatureImage != "",
		SignatureDigestHex: order.SignatureDigest,
	}
	if order.Escrow != nil {
		state := order.Escrow.State
		dto.EscrowStatus = &state
	}
	if order.Assignment != nil {
		dto.Delivery = &DeliveryDTO{
			AgentID:        order.Assignment.AgentID,
			ClaimedAt:      order.Assignment.ClaimedAt,
			ReadyForPickup: order.Assignment.ReadyForPickup,
		}
	}
	return dto
}
