package checkout

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/flashmart-backend/internal/orders"
	"github.com/angelmondragon/flashmart-backend/pkg/db/models"
)

// Repository exposes read helpers for checkout groups. A group has no table of its own; it is the
// set of orders sharing a checkout_group_id.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByCheckoutGroupID(ctx context.Context, checkoutGroupID uuid.UUID) ([]models.Order, error)
}

type repository struct {
	orders orders.Repository
}

// NewRepository builds a checkout repository backed by the orders repository.
func NewRepository(ordersRepo orders.Repository) Repository {
	if ordersRepo == nil {
		return nil
	}
	return &repository{orders: ordersRepo}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{orders: r.orders.WithTx(tx)}
}

func (r *repository) FindByCheckoutGroupID(ctx context.Context, checkoutGroupID uuid.UUID) ([]models.Order, error) {
	if checkoutGroupID == uuid.Nil {
		return nil, nil
	}
	return r.orders.FindByCheckoutGroup(ctx, checkoutGroupID)
}
