package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/flashmart-backend/pkg/enums"
)

// EscrowRecord is the single source of truth for an order's fund state.
type EscrowRecord struct {
	ID             uuid.UUID            `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID        uuid.UUID            `gorm:"column:order_id;type:uuid;not null;uniqueIndex:ux_escrow_records_order_id"`
	AmountCents    int                  `gorm:"column:amount_cents;not null"`
	Currency       enums.Currency       `gorm:"column:currency;type:text;not null"`
	State          enums.EscrowState    `gorm:"column:state;type:text;not null"`
	ReleaseTrigger *enums.EscrowTrigger `gorm:"column:release_trigger;type:text"`
	HeldAt         time.Time            `gorm:"column:held_at;not null"`
	ReleasedAt     *time.Time           `gorm:"column:released_at"`
	RefundedAt     *time.Time           `gorm:"column:refunded_at"`
	DisputedAt     *time.Time           `gorm:"column:disputed_at"`
	CreatedAt      time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

// EscrowEvent is an append-only audit row written for every applied escrow transition.
type EscrowEvent struct {
	ID          uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID     uuid.UUID             `gorm:"column:order_id;type:uuid;not null"`
	EventType   enums.EscrowEventType `gorm:"column:event_type;type:text;not null"`
	FromState   *enums.EscrowState    `gorm:"column:from_state;type:text"`
	ToState     enums.EscrowState     `gorm:"column:to_state;type:text;not null"`
	Trigger     *enums.EscrowTrigger  `gorm:"column:trigger;type:text"`
	AmountCents int                   `gorm:"column:amount_cents;not null"`
	OccurredAt  time.Time             `gorm:"column:occurred_at;not null"`
}
