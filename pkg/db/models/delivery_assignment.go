package models

import (
	"time"

	"github.com/google/uuid"
)

// DeliveryAssignment tracks which agent, if any, has captured an order for delivery.
type DeliveryAssignment struct {
	ID             uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID        uuid.UUID  `gorm:"column:order_id;type:uuid;not null;uniqueIndex:ux_delivery_assignments_order_id"`
	AgentID        *uuid.UUID `gorm:"column:agent_id;type:uuid"`
	ClaimedAt      *time.Time `gorm:"column:claimed_at"`
	ReadyForPickup bool       `gorm:"column:ready_for_pickup;not null"`
	ReadyAt        *time.Time `gorm:"column:ready_at"`
	CreatedAt      time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}
