package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/flashmart-backend/pkg/db/models"
	"github.com/angelmondragon/flashmart-backend/pkg/enums"
	"github.com/angelmondragon/flashmart-backend/pkg/pagination"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, order *models.Order) error {
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Omit("Escrow", "Assignment").Create(order).Error
}

func (r *repository) CreateAssignment(ctx context.Context, assignment *models.DeliveryAssignment) error {
	if assignment.ID == uuid.Nil {
		assignment.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(assignment).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Escrow").
		Preload("Assignment").
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindByNumber(ctx context.Context, orderNumber string) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Escrow").
		Preload("Assignment").
		Where("order_number = ?", orderNumber).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindByCheckoutGroup(ctx context.Context, checkoutGroupID uuid.UUID) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.WithContext(ctx).
		Preload("Escrow").
		Where("checkout_group_id = ?", checkoutGroupID).
		Order("created_at ASC").
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// GuardedUpdate applies updates only while the order still has one of the from statuses. extra is
// an optional additional predicate such as "buyer_confirmed_at IS NULL".
func (r *repository) GuardedUpdate(ctx context.Context, id uuid.UUID, from []enums.OrderStatus, extra string, updates map[string]any) (int64, error) {
	q := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status IN ?", id, from)
	if extra != "" {
		q = q.Where(extra)
	}
	res := q.Updates(updates)
	return res.RowsAffected, res.Error
}

func (r *repository) List(ctx context.Context, filter ListFilter, cursor *pagination.Cursor, limit int) ([]models.Order, error) {
	q := r.db.WithContext(ctx).Model(&models.Order{}).Preload("Escrow").Preload("Assignment")
	if filter.BuyerID != nil {
		q = q.Where("orders.buyer_id = ?", *filter.BuyerID)
	}
	if filter.SellerID != nil {
		q = q.Where("orders.seller_id = ?", *filter.SellerID)
	}
	if filter.AgentID != nil {
		q = q.Select("orders.*").
			Joins("JOIN delivery_assignments da ON da.order_id = orders.id").
			Where("da.agent_id = ?", *filter.AgentID)
	}
	if filter.Status != nil {
		q = q.Where("orders.status = ?", *filter.Status)
	}
	q = cursor.Before(q, "orders.created_at", "orders.id")

	var rows []models.Order
	if err := q.Order("orders.created_at DESC").Order("orders.id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) FindPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	var rows []models.Order
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", enums.OrderStatusPending, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
