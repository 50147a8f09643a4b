package deals

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/flashmart-backend/pkg/db/models"
	"github.com/angelmondragon/flashmart-backend/pkg/pagination"
)

// Repository persists flash deals. Every stock mutation is a single conditional UPDATE.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, deal *models.FlashDeal) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.FlashDeal, error)
	FindByIDIncludingDeleted(ctx context.Context, id uuid.UUID) (*models.FlashDeal, error)
	CountOverlapping(ctx context.Context, productID uuid.UUID, startsAt, endsAt time.Time) (int64, error)
	Reserve(ctx context.Context, id uuid.UUID, qty int, now time.Time) (int64, error)
	ReleaseReservation(ctx context.Context, id uuid.UUID, qty int, now time.Time) (int64, error)
	Narrow(ctx context.Context, id uuid.UUID, guard NarrowGuard, updates map[string]any) (int64, error)
	SoftDelete(ctx context.Context, id uuid.UUID, now time.Time) (int64, error)
	ListLive(ctx context.Context, now time.Time, filter ListFilter, cursor *pagination.Cursor, limit int) ([]models.FlashDeal, error)
	FindEnded(ctx context.Context, now time.Time, limit int) ([]models.FlashDeal, error)
	Deactivate(ctx context.Context, id uuid.UUID, now time.Time) (int64, error)
}

// NarrowGuard holds the bounds an edit must stay within at write time.
type NarrowGuard struct {
	MinQuantityAvailable int
	MaxEndsAt            time.Time
}

// ListFilter narrows the live deal listing.
type ListFilter struct {
	ProductID *uuid.UUID
	SellerID  *uuid.UUID
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a flash deal repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, deal *models.FlashDeal) error {
	if deal.ID == uuid.Nil {
		deal.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(deal).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.FlashDeal, error) {
	var deal models.FlashDeal
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&deal).Error; err != nil {
		return nil, err
	}
	return &deal, nil
}

func (r *repository) FindByIDIncludingDeleted(ctx context.Context, id uuid.UUID) (*models.FlashDeal, error) {
	var deal models.FlashDeal
	if err := r.db.WithContext(ctx).Unscoped().Where("id = ?", id).First(&deal).Error; err != nil {
		return nil, err
	}
	return &deal, nil
}

func (r *repository) CountOverlapping(ctx context.Context, productID uuid.UUID, startsAt, endsAt time.Time) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&models.FlashDeal{}).
		Where("product_id = ? AND is_active = ? AND starts_at < ? AND ends_at > ?", productID, true, endsAt, startsAt).
		Count(&n).Error
	return n, err
}

func (r *repository) Reserve(ctx context.Context, id uuid.UUID, qty int, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.FlashDeal{}).
		Where("id = ?", id).
		Where("is_active = ? AND starts_at <= ? AND ends_at > ?", true, now, now).
		Where("quantity_sold + ? <= quantity_available", qty).
		Updates(map[string]any{
			"quantity_sold": gorm.Expr("quantity_sold + ?", qty),
			"updated_at":    now,
		})
	return res.RowsAffected, res.Error
}

func (r *repository) ReleaseReservation(ctx context.Context, id uuid.UUID, qty int, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Unscoped().
		Model(&models.FlashDeal{}).
		Where("id = ? AND quantity_sold >= ?", id, qty).
		Updates(map[string]any{
			"quantity_sold": gorm.Expr("quantity_sold - ?", qty),
			"updated_at":    now,
		})
	return res.RowsAffected, res.Error
}

func (r *repository) Narrow(ctx context.Context, id uuid.UUID, guard NarrowGuard, updates map[string]any) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.FlashDeal{}).
		Where("id = ?", id).
		Where("quantity_sold <= ?", guard.MinQuantityAvailable).
		Where("ends_at >= ?", guard.MaxEndsAt).
		Updates(updates)
	return res.RowsAffected, res.Error
}

func (r *repository) SoftDelete(ctx context.Context, id uuid.UUID, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.FlashDeal{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"is_active":  false,
			"deleted_at": now,
			"updated_at": now,
		})
	return res.RowsAffected, res.Error
}

func (r *repository) ListLive(ctx context.Context, now time.Time, filter ListFilter, cursor *pagination.Cursor, limit int) ([]models.FlashDeal, error) {
	q := r.db.WithContext(ctx).
		Model(&models.FlashDeal{}).
		Where("is_active = ? AND starts_at <= ? AND ends_at > ? AND quantity_sold < quantity_available", true, now, now)
	if filter.ProductID != nil {
		q = q.Where("product_id = ?", *filter.ProductID)
	}
	if filter.SellerID != nil {
		q = q.Where("seller_id = ?", *filter.SellerID)
	}
	q = cursor.Before(q, "created_at", "id")

	var rows []models.FlashDeal
	if err := q.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) FindEnded(ctx context.Context, now time.Time, limit int) ([]models.FlashDeal, error) {
	var rows []models.FlashDeal
	err := r.db.WithContext(ctx).
		Where("is_active = ? AND ends_at <= ?", true, now).
		Order("ends_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *repository) Deactivate(ctx context.Context, id uuid.UUID, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.FlashDeal{}).
		Where("id = ? AND is_active = ?", id, true).
		Updates(map[string]any{
			"is_active":  false,
			"updated_at": now,
		})
	return res.RowsAffected, res.Error
}
