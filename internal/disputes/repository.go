package disputes

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/flashmart-backend/pkg/db/models"
	"github.com/angelmondragon/flashmart-backend/pkg/enums"
	"github.com/angelmondragon/flashmart-backend/pkg/pagination"
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, dispute *models.Dispute) error
	FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Dispute, error)
	Resolve(ctx context.Context, id uuid.UUID, updates map[string]any) (int64, error)
	ListByStatus(ctx context.Context, status enums.DisputeStatus, cursor *pagination.Cursor, limit int) ([]models.Dispute, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, dispute *models.Dispute) error {
	if dispute.ID == uuid.Nil {
		dispute.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(dispute).Error
}

func (r *repository) FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Dispute, error) {
	var dispute models.Dispute
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&dispute).Error; err != nil {
		return nil, err
	}
	return &dispute, nil
}

// Resolve only touches disputes that are still open.
func (r *repository) Resolve(ctx context.Context, id uuid.UUID, updates map[string]any) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Dispute{}).
		Where("id = ? AND status = ?", id, enums.DisputeStatusOpen).
		Updates(updates)
	return res.RowsAffected, res.Error
}

func (r *repository) ListByStatus(ctx context.Context, status enums.DisputeStatus, cursor *pagination.Cursor, limit int) ([]models.Dispute, error) {
	q := r.db.WithContext(ctx).Where("status = ?", status)
	q = cursor.Before(q, "created_at", "id")
	var rows []models.Dispute
	if err := q.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
