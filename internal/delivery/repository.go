package delivery

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/flashmart-backend/pkg/db/models"
	"github.com/angelmondragon/flashmart-backend/pkg/enums"
	"github.com/angelmondragon/flashmart-backend/pkg/pagination"
)

// claimableOrder matches orders an agent may still capture: shipped, or processing with the seller
// having flagged the parcel ready.
const claimableOrder = `EXISTS (SELECT 1 FROM orders o WHERE o.id = delivery_assignments.order_id
	AND (o.status = ? OR (o.status = ? AND delivery_assignments.ready_for_pickup = ?)))`

// Repository persists delivery assignments. Claim is the only path that sets agent_id.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.DeliveryAssignment, error)
	Claim(ctx context.Context, orderID, agentID uuid.UUID, now time.Time) (int64, error)
	MarkReady(ctx context.Context, orderID uuid.UUID, now time.Time) (int64, error)
	ListClaimable(ctx context.Context, cursor *pagination.Cursor, limit int) ([]models.Order, error)
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

func (r *repository) FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.DeliveryAssignment, error) {
	var assignment models.DeliveryAssignment
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&assignment).Error; err != nil {
		return nil, err
	}
	return &assignment, nil
}

// Claim sets the agent only while nobody holds the order and the order is still claimable. The
// check and the write are one statement, so two agents racing see exactly one success.
func (r *repository) Claim(ctx context.Context, orderID, agentID uuid.UUID, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.DeliveryAssignment{}).
		Where("order_id = ? AND agent_id IS NULL", orderID).
		Where(claimableOrder, enums.OrderStatusShipped, enums.OrderStatusProcessing, true).
		Updates(map[string]any{
			"agent_id":   agentID,
			"claimed_at": now,
			"updated_at": now,
		})
	return res.RowsAffected, res.Error
}

func (r *repository) MarkReady(ctx context.Context, orderID uuid.UUID, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.DeliveryAssignment{}).
		Where("order_id = ? AND ready_for_pickup = ?", orderID, false).
		Updates(map[string]any{
			"ready_for_pickup": true,
			"ready_at":         now,
			"updated_at":       now,
		})
	return res.RowsAffected, res.Error
}

func (r *repository) ListClaimable(ctx context.Context, cursor *pagination.Cursor, limit int) ([]models.Order, error) {
	q := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Select("orders.*").
		Joins("JOIN delivery_assignments da ON da.order_id = orders.id").
		Where("da.agent_id IS NULL").
		Where("(orders.status = ? OR (orders.status = ? AND da.ready_for_pickup = ?))",
			enums.OrderStatusShipped, enums.OrderStatusProcessing, true).
		Preload("Assignment")
	q = cursor.Before(q, "orders.created_at", "orders.id")
	var rows []models.Order
	if err := q.Order("orders.created_at DESC").Order("orders.id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
