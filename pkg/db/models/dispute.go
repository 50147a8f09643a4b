package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/flashmart-backend/pkg/enums"
)

// Dispute records a buyer issue report and its admin resolution.
type Dispute struct {
	ID             uuid.UUID                `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID        uuid.UUID                `gorm:"column:order_id;type:uuid;not null;uniqueIndex:ux_disputes_order_id"`
	BuyerID        uuid.UUID                `gorm:"column:buyer_id;type:uuid;not null"`
	Description    string                   `gorm:"column:description;not null"`
	FromStatus     enums.OrderStatus        `gorm:"column:from_status;type:text;not null"`
	Status         enums.DisputeStatus      `gorm:"column:status;type:text;not null"`
	Resolution     *enums.DisputeResolution `gorm:"column:resolution;type:text"`
	ResolvedBy     *uuid.UUID               `gorm:"column:resolved_by;type:uuid"`
	ResolutionNote *string                  `gorm:"column:resolution_note"`
	ResolvedAt     *time.Time               `gorm:"column:resolved_at"`
	CreatedAt      time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}
