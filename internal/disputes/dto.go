package disputes

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/flashmart-backend/pkg/db/models"
	"github.com/angelmondragon/flashmart-backend/pkg/enums"
)

type DisputeDTO struct {
	ID             uuid.UUID                `json:"id"`
	OrderID        uuid.UUID                `json:"order_id"`
	OrderNumber    string                   `json:"order_number,omitempty"`
	BuyerID        uuid.UUID                `json:"buyer_id"`
	Description    string                   `json:"description"`
	FromStatus     enums.OrderStatus        `json:"from_status"`
	Status         enums.DisputeStatus      `json:"status"`
	Resolution     *enums.DisputeResolution `json:"resolution,omitempty"`
	ResolvedBy     *uuid.UUID               `json:"resolved_by,omitempty"`
	ResolutionNote *string                  `json:"resolution_note,omitempty"`
	ResolvedAt     *time.Time               `json:"resolved_at,omitempty"`
	OrderStatus    enums.OrderStatus        `json:"order_status,omitempty"`
	EscrowStatus   *enums.EscrowState       `json:"escrow_status,omitempty"`
	CreatedAt      time.Time                `json:"created_at"`
}

func newDisputeDTO(dispute models.Dispute, order *models.Order) DisputeDTO {
	dto := DisputeDTO{
		ID:             dispute.ID,
		OrderID:        dispute.OrderID,
		BuyerID:        dispute.BuyerID,
		Description:    dispute.Description,
		FromStatus:     dispute.FromStatus,
		Status:         dispute.Status,
		Resolution:     dispute.Resolution,
		ResolvedBy:     dispute.ResolvedBy,
		ResolutionNote: dispute.ResolutionNote,
		ResolvedAt:     dispute.ResolvedAt,
		CreatedAt:      dispute.CreatedAt,
	}
	if order != nil {
		dto.OrderNumber = order.OrderNumber
		dto.OrderStatus = order.Status
		if order.Escrow != nil {
			state := order.Escrow.State
			dto.EscrowStatus = &state
		}
	}
	return dto
}
