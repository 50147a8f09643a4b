package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/flashmart-backend/pkg/enums"
)

// OutboxEvent is inserted in the transaction that causes it, so an event exists iff its state
// change committed. The relay sets PublishedAt once Pub/Sub acknowledges the message. A parked
// event keeps PublishedAt nil and has AttemptCount raised to the retry limit.
type OutboxEvent struct {
	ID            uuid.UUID                 `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	EventType     enums.OutboxEventType     `gorm:"column:event_type;type:text;not null"`
	AggregateType enums.OutboxAggregateType `gorm:"column:aggregate_type;type:text;not null"`
	AggregateID   uuid.UUID                 `gorm:"column:aggregate_id;type:uuid;not null"`
	Payload       json.RawMessage           `gorm:"column:payload;type:jsonb;not null"`
	CreatedAt     time.Time                 `gorm:"column:created_at;autoCreateTime"`
	PublishedAt   *time.Time                `gorm:"column:published_at"`
	AttemptCount  int                       `gorm:"column:attempt_count;not null;default:0"`
	LastError     *string                   `gorm:"column:last_error"`
}

// OrderingKey keeps every event of one order, deal or dispute in commit order on the wire.
func (e OutboxEvent) OrderingKey() string {
	return string(e.AggregateType) + ":" + e.AggregateID.String()
}

func (e OutboxEvent) Pending() bool { return e.PublishedAt == nil }
