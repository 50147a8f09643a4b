package escrow

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/flashmart-backend/pkg/db/models"
	"github.com/angelmondragon/flashmart-backend/pkg/enums"
)

// Repository persists escrow records and their audit trail.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, record *models.EscrowRecord) error
	FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.EscrowRecord, error)
	Transition(ctx context.Context, orderID uuid.UUID, from []enums.EscrowState, updates map[string]any) (int64, error)
	AppendEvent(ctx context.Context, event *models.EscrowEvent) error
	ListEvents(ctx context.Context, orderID uuid.UUID) ([]models.EscrowEvent, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an escrow repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, record *models.EscrowRecord) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *repository) FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.EscrowRecord, error) {
	var record models.EscrowRecord
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		First(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

// Transition applies updates only while the record is in one of the from states and reports how
// many rows moved.
func (r *repository) Transition(ctx context.Context, orderID uuid.UUID, from []enums.EscrowState, updates map[string]any) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.EscrowRecord{}).
		Where("order_id = ? AND state IN ?", orderID, from).
		Updates(updates)
	return res.RowsAffected, res.Error
}

func (r *repository) AppendEvent(ctx context.Context, event *models.EscrowEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *repository) ListEvents(ctx context.Context, orderID uuid.UUID) ([]models.EscrowEvent, error) {
	var events []models.EscrowEvent
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("occurred_at ASC").
		Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}
