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

// Repository defines persistence operations for orders and their delivery assignment row.
// Status changes go through GuardedUpdate so the caller's expected status is part of the write.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	CreateAssignment(ctx context.Context, assignment *models.DeliveryAssignment) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByNumber(ctx context.Context, orderNumber string) (*models.Order, error)
	FindByCheckoutGroup(ctx context.Context, checkoutGroupID uuid.UUID) ([]models.Order, error)
	GuardedUpdate(ctx context.Context, id uuid.UUID, from []enums.OrderStatus, extra string, updates map[string]any) (int64, error)
	List(ctx context.Context, filter ListFilter, cursor *pagination.Cursor, limit int) ([]models.Order, error)
	FindPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
}

// ListFilter scopes an order listing to one participant.
type ListFilter struct {
	BuyerID  *uuid.UUID
	SellerID *uuid.UUID
	AgentID  *uuid.UUID
	Status   *enums.OrderStatus
}
