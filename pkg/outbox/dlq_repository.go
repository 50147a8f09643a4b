package outbox

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/flashmart-backend/pkg/db/models"
	"github.com/angelmondragon/flashmart-backend/pkg/enums"
	"github.com/angelmondragon/flashmart-backend/pkg/pagination"
)

const maxDLQErrorLen = 1024

// DLQFilter narrows the dead letter listing. Zero values match everything.
type DLQFilter struct {
	EventType   enums.OutboxEventType
	Reason      enums.OutboxDLQErrorReason
	AggregateID *uuid.UUID
	pagination.Params
}

// DLQRepository stores events the relay gave up on, newest failure first.
type DLQRepository struct {
	db *gorm.DB
}

func NewDLQRepository(db *gorm.DB) *DLQRepository {
	return &DLQRepository{db: db}
}

// InsertTx must run in the relay's batch transaction so the DLQ row and the terminal mark on
// the outbox row commit together.
func (r *DLQRepository) InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.FailedAt.IsZero() {
		entry.FailedAt = time.Now().UTC()
	}
	if entry.ErrorMessage != nil {
		msg := truncateDLQError(*entry.ErrorMessage)
		entry.ErrorMessage = &msg
	}
	return tx.Create(&entry).Error
}

// FindByEventID returns nil, nil when the event was never dead-lettered.
func (r *DLQRepository) FindByEventID(ctx context.Context, eventID uuid.UUID) (*models.OutboxDLQ, error) {
	var row models.OutboxDLQ
	err := r.db.WithContext(ctx).Where("event_id = ?", eventID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *DLQRepository) List(ctx context.Context, filter DLQFilter) (*pagination.Page[models.OutboxDLQ], error) {
	cursor, err := pagination.ParseCursor(filter.Cursor)
	if err != nil {
		return nil, err
	}

	query := r.db.WithContext(ctx).Model(&models.OutboxDLQ{})
	if filter.EventType != "" {
		query = query.Where("event_type = ?", filter.EventType)
	}
	if filter.Reason != "" {
		query = query.Where("error_reason = ?", filter.Reason)
	}
	if filter.AggregateID != nil {
		query = query.Where("aggregate_id = ?", *filter.AggregateID)
	}
	query = cursor.Before(query, "failed_at", "id")

	var rows []models.OutboxDLQ
	if err := query.
		Order("failed_at DESC").
		Order("id DESC").
		Limit(pagination.LimitWithBuffer(filter.Limit)).
		Find(&rows).Error; err != nil {
		return nil, err
	}

	page := pagination.Trim(rows, filter.Limit, func(row models.OutboxDLQ) pagination.Cursor {
		return pagination.Cursor{At: row.FailedAt, ID: row.ID}
	})
	return &page, nil
}

// truncateDLQError caps the stored message without splitting a multi-byte character.
func truncateDLQError(message string) string {
	if len(message) <= maxDLQErrorLen {
		return message
	}
	cut := maxDLQErrorLen
	for cut > 0 && !utf8.RuneStart(message[cut]) {
		cut--
	}
	return message[:cut]
}
