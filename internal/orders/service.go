package orders

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/flashmart-backend/internal/escrow"
	"github.com/angelmondragon/flashmart-backend/pkg/auth"
	"github.com/angelmondragon/flashmart-backend/pkg/db"
	"github.com/angelmondragon/flashmart-backend/pkg/db/models"
	"github.com/angelmondragon/flashmart-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/flashmart-backend/pkg/errors"
	"github.com/angelmondragon/flashmart-backend/pkg/logger"
	"github.com/angelmondragon/flashmart-backend/pkg/outbox"
	"github.com/angelmondragon/flashmart-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/flashmart-backend/pkg/pagination"
	"github.com/angelmondragon/flashmart-backend/pkg/types"
)

const (
	orderNumberIndex        = "ux_orders_order_number"
	maxOrderNumberAttempts  = 3
	stalePendingBatchSize   = 100
	defaultMaxOrderQuantity = 100
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type catalog interface {
	Get(ctx context.Context, tx *gorm.DB, productID uuid.UUID) (*models.Product, error)
	TakeStock(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) error
	ReturnStock(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) error
}

type dealAllocator interface {
	Reserve(ctx context.Context, tx *gorm.DB, dealID uuid.UUID, qty int) (*models.FlashDeal, error)
	ReleaseReservation(ctx context.Context, tx *gorm.DB, dealID uuid.UUID, qty int) error
}

type escrowLedger interface {
	Hold(ctx context.Context, tx *gorm.DB, input escrow.HoldInput) (*models.EscrowRecord, error)
	Refund(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, trigger enums.EscrowTrigger) (*models.EscrowRecord, error)
}

// Service drives the order state machine for buyers and sellers.
type Service interface {
	CreateOrder(ctx context.Context, principal auth.Principal, input CreateOrderInput) (*OrderDTO, error)
	CreateOrderInTx(ctx context.Context, tx *gorm.DB, principal auth.Principal, input CreateOrderInput) (*models.Order, error)
	UpdateOrderStatus(ctx context.Context, principal auth.Principal, orderNumber string, input UpdateStatusInput) (*OrderDTO, error)
	GetOrder(ctx context.Context, principal auth.Principal, orderNumber string) (*OrderDTO, error)
	ListOrders(ctx context.Context, principal auth.Principal, input ListOrdersInput) (*pagination.Page[OrderDTO], error)
	ExpireStalePending(ctx context.Context) (int, error)
}

// CreateOrderInput is one product line bought from one seller.
type CreateOrderInput struct {
	SellerID        *uuid.UUID
	ProductID       uuid.UUID
	Quantity        int
	DealID          *uuid.UUID
	AllowFullPrice  bool
	DeliveryAddress types.Address
	CheckoutGroupID *uuid.UUID
}

// UpdateStatusInput is a seller's fulfilment update.
type UpdateStatusInput struct {
	Status         enums.OrderStatus
	TrackingNumber *string
}

// ListOrdersInput filters a participant's order history.
type ListOrdersInput struct {
	Status *enums.OrderStatus
	Params pagination.Params
}

// Options tunes order creation and the stale order sweep.
type Options struct {
	MaxQuantity int
	PendingTTL  time.Duration
}

type service struct {
	repo      Repository
	tx        txRunner
	catalog   catalog
	deals     dealAllocator
	escrow    escrowLedger
	outbox    outbox.Emitter
	logg      *logger.Logger
	opts      Options
	now       func() time.Time
	newNumber func(time.Time) string
}

// NewService builds the order lifecycle service with the required dependencies.
func NewService(repo Repository, tx txRunner, products catalog, deals dealAllocator, ledger escrowLedger, emitter outbox.Emitter, logg *logger.Logger, opts Options) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if products == nil {
		return nil, fmt.Errorf("catalog required")
	}
	if deals == nil {
		return nil, fmt.Errorf("deal allocator required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("escrow ledger required")
	}
	if emitter == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	if opts.MaxQuantity <= 0 {
		opts.MaxQuantity = defaultMaxOrderQuantity
	}
	return &service{
		repo:      repo,
		tx:        tx,
		catalog:   products,
		deals:     deals,
		escrow:    ledger,
		outbox:    emitter,
		logg:      logg,
		opts:      opts,
		now:       func() time.Time { return time.Now().UTC() },
		newNumber: NewOrderNumber,
	}, nil
}

func (s *service) CreateOrder(ctx context.Context, principal auth.Principal, input CreateOrderInput) (*OrderDTO, error) {
	var created *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		order, err := s.CreateOrderInTx(ctx, tx, principal, input)
		if err != nil {
			return err
		}
		created, err = s.repo.WithTx(tx).FindByID(ctx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload order")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	dto := NewOrderDTO(*created)
	return &dto, nil
}

// CreateOrderInTx reserves deal stock first, then catalog stock, then writes the order and holds
// escrow for the fixed total. Any failure rolls back every step with the caller's transaction.
func (s *service) CreateOrderInTx(ctx context.Context, tx *gorm.DB, principal auth.Principal, input CreateOrderInput) (*models.Order, error) {
	if err := requireRole(principal, enums.MemberRoleBuyer); err != nil {
		return nil, err
	}
	if input.ProductID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product_id is required")
	}
	if input.Quantity <= 0 || input.Quantity > s.opts.MaxQuantity {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("quantity must be between 1 and %d", s.opts.MaxQuantity))
	}
	address := input.DeliveryAddress.Normalized()
	if err := address.Validate(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, err.Error())
	}

	product, err := s.catalog.Get(ctx, tx, input.ProductID)
	if err != nil {
		return nil, err
	}
	if input.SellerID != nil && *input.SellerID != product.SellerID {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product is not sold by this seller")
	}
	if !product.IsActive {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "product is not available").WithReason(pkgerrors.ReasonOutOfStock)
	}
	if product.SellerID == principal.UserID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "sellers cannot buy their own products")
	}

	var dealPrice *int
	var dealID *uuid.UUID
	if input.DealID != nil {
		deal, err := s.deals.Reserve(ctx, tx, *input.DealID, input.Quantity)
		switch {
		case err == nil:
			if deal.ProductID != product.ID {
				return nil, pkgerrors.New(pkgerrors.CodeValidation, "deal does not apply to this product")
			}
			price := deal.DealPriceCents
			dealPrice = &price
			id := deal.ID
			dealID = &id
		case input.AllowFullPrice && isDealStockError(err):
			s.logg.Info(s.logg.WithField(ctx, "deal_id", input.DealID.String()), "deal exhausted, falling back to full price")
		default:
			return nil, err
		}
	}

	if err := s.catalog.TakeStock(ctx, tx, product.ID, input.Quantity); err != nil {
		return nil, err
	}

	now := s.now()
	order := &models.Order{
		CheckoutGroupID: input.CheckoutGroupID,
		BuyerID:         principal.UserID,
		SellerID:        product.SellerID,
		ProductID:       product.ID,
		DealID:          dealID,
		Quantity:        input.Quantity,
		UnitPriceCents:  product.PriceCents,
		DealPriceCents:  dealPrice,
		Currency:        product.Currency,
		DeliveryAddress: address,
		Status:          enums.OrderStatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	order.TotalAmountCents = order.Quantity * order.EffectiveUnitPriceCents()

	repo := s.repo.WithTx(tx)
	if err := s.insertWithNumber(ctx, tx, repo, order, now); err != nil {
		return nil, err
	}
	if err := repo.CreateAssignment(ctx, &models.DeliveryAssignment{OrderID: order.ID}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create delivery assignment")
	}

	if _, err := s.escrow.Hold(ctx, tx, escrow.HoldInput{
		OrderID:     order.ID,
		AmountCents: order.TotalAmountCents,
		Currency:    order.Currency,
	}); err != nil {
		return nil, err
	}

	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderCreated,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         actorRef(principal),
		OccurredAt:    now,
		Data: payloads.OrderCreatedEvent{
			OrderID:          order.ID,
			OrderNumber:      order.OrderNumber,
			CheckoutGroupID:  order.CheckoutGroupID,
			BuyerID:          order.BuyerID,
			SellerID:         order.SellerID,
			ProductID:        order.ProductID,
			DealID:           order.DealID,
			Quantity:         order.Quantity,
			TotalAmountCents: order.TotalAmountCents,
			Currency:         order.Currency,
		},
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit order created")
	}

	s.logg.Info(s.logg.WithOrderNumber(ctx, order.OrderNumber), "order created")
	return order, nil
}

// insertWithNumber retries the insert under a savepoint when the random order number collides.
func (s *service) insertWithNumber(ctx context.Context, tx *gorm.DB, repo Repository, order *models.Order, now time.Time) error {
	for attempt := 0; attempt < maxOrderNumberAttempts; attempt++ {
		order.ID = uuid.New()
		order.OrderNumber = s.newNumber(now)

		savepoint := "order_number_" + strconv.Itoa(attempt)
		if err := tx.SavePoint(savepoint).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create savepoint")
		}
		err := repo.Create(ctx, order)
		if err == nil {
			return nil
		}
		if !db.IsUniqueViolation(err, orderNumberIndex) {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert order")
		}
		if rbErr := tx.RollbackTo(savepoint).Error; rbErr != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, rbErr, "rollback savepoint")
		}
	}
	return pkgerrors.New(pkgerrors.CodeConflict, "could not allocate a unique order number")
}

func (s *service) UpdateOrderStatus(ctx context.Context, principal auth.Principal, orderNumber string, input UpdateStatusInput) (*OrderDTO, error) {
	if err := requireRole(principal, enums.MemberRoleSeller); err != nil {
		return nil, err
	}
	if !input.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown status")
	}
	var tracking *string
	if input.TrackingNumber != nil {
		if trimmed := strings.TrimSpace(*input.TrackingNumber); trimmed != "" {
			tracking = &trimmed
		}
	}

	var updated *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := loadByNumber(ctx, repo, orderNumber)
		if err != nil {
			return err
		}
		if order.SellerID != principal.UserID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to seller")
		}
		if err := CheckSellerTransition(order.Status, input.Status); err != nil {
			return err
		}

		from := order.Status
		if input.Status == enums.OrderStatusCancelled {
			applied, err := s.cancelInTx(ctx, tx, order, []enums.OrderStatus{from}, enums.EscrowTriggerSellerCancellation)
			if err != nil {
				return err
			}
			if !applied {
				return s.explainLostRace(ctx, repo, order.ID, input.Status)
			}
		} else {
			now := s.now()
			updates := map[string]any{
				"status":     input.Status,
				"updated_at": now,
			}
			if (input.Status == enums.OrderStatusShipped || input.Status == enums.OrderStatusDelivered) && order.ShippedAt == nil {
				updates["shipped_at"] = now
			}
			if input.Status == enums.OrderStatusDelivered {
				updates["delivered_at"] = now
			}
			if tracking != nil {
				updates["tracking_number"] = *tracking
			}
			affected, err := repo.GuardedUpdate(ctx, order.ID, []enums.OrderStatus{from}, "", updates)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
			}
			if affected == 0 {
				return s.explainLostRace(ctx, repo, order.ID, input.Status)
			}
		}

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderStatusChanged,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         actorRef(principal),
			Data: payloads.OrderStatusChangedEvent{
				OrderID:        order.ID,
				OrderNumber:    order.OrderNumber,
				From:           from,
				To:             input.Status,
				TrackingNumber: tracking,
			},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit status change")
		}

		updated, err = repo.FindByID(ctx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload order")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithFields(s.logg.WithOrderNumber(ctx, updated.OrderNumber), map[string]any{"status": updated.Status})
	s.logg.Info(logCtx, "order status updated")
	dto := NewOrderDTO(*updated)
	return &dto, nil
}

// cancelInTx moves the order to cancelled, refunds escrow and returns catalog and deal stock.
// It reports false when the order had already left the expected statuses.
func (s *service) cancelInTx(ctx context.Context, tx *gorm.DB, order *models.Order, from []enums.OrderStatus, trigger enums.EscrowTrigger) (bool, error) {
	now := s.now()
	affected, err := s.repo.WithTx(tx).GuardedUpdate(ctx, order.ID, from, "", map[string]any{
		"status":       enums.OrderStatusCancelled,
		"cancelled_at": now,
		"updated_at":   now,
	})
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel order")
	}
	if affected == 0 {
		return false, nil
	}

	if _, err := s.escrow.Refund(ctx, tx, order.ID, trigger); err != nil {
		return false, err
	}
	if err := s.catalog.ReturnStock(ctx, tx, order.ProductID, order.Quantity); err != nil {
		return false, err
	}
	if order.DealID != nil && order.DealPriceCents != nil {
		if err := s.deals.ReleaseReservation(ctx, tx, *order.DealID, order.Quantity); err != nil {
			return false, err
		}
	}
	return true, nil
}

// explainLostRace re-reads an order whose guarded update matched nothing.
func (s *service) explainLostRace(ctx context.Context, repo Repository, orderID uuid.UUID, to enums.OrderStatus) error {
	current, err := repo.FindByID(ctx, orderID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload order")
	}
	if err := CheckSellerTransition(current.Status, to); err != nil {
		return err
	}
	return pkgerrors.New(pkgerrors.CodeStateConflict, "order changed concurrently, retry")
}

func (s *service) GetOrder(ctx context.Context, principal auth.Principal, orderNumber string) (*OrderDTO, error) {
	if !principal.Valid() {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "principal required")
	}
	order, err := loadByNumber(ctx, s.repo, orderNumber)
	if err != nil {
		return nil, err
	}
	if !CanView(principal, *order) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "not a participant of this order")
	}
	dto := NewOrderDTO(*order)
	return &dto, nil
}

func (s *service) ListOrders(ctx context.Context, principal auth.Principal, input ListOrdersInput) (*pagination.Page[OrderDTO], error) {
	if !principal.Valid() {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "principal required")
	}
	if input.Status != nil && !input.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown status filter")
	}
	cursor, err := pagination.ParseCursor(input.Params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	filter := ListFilter{Status: input.Status}
	userID := principal.UserID
	switch principal.Role {
	case enums.MemberRoleBuyer:
		filter.BuyerID = &userID
	case enums.MemberRoleSeller:
		filter.SellerID = &userID
	case enums.MemberRoleAgent:
		filter.AgentID = &userID
	}

	rows, err := s.repo.List(ctx, filter, cursor, pagination.LimitWithBuffer(input.Params.Limit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}
	trimmed := pagination.Trim(rows, input.Params.Limit, func(o models.Order) pagination.Cursor {
		return pagination.Cursor{At: o.CreatedAt, ID: o.ID}
	})
	page := &pagination.Page[OrderDTO]{
		Items:      make([]OrderDTO, 0, len(trimmed.Items)),
		NextCursor: trimmed.NextCursor,
	}
	for _, order := range trimmed.Items {
		page.Items = append(page.Items, NewOrderDTO(order))
	}
	return page, nil
}

// ExpireStalePending cancels orders that sat in pending past the configured TTL. Each order is
// cancelled in its own transaction so one failure does not hold back the rest.
func (s *service) ExpireStalePending(ctx context.Context) (int, error) {
	if s.opts.PendingTTL <= 0 {
		return 0, nil
	}
	now := s.now()
	cutoff := now.Add(-s.opts.PendingTTL)
	stale, err := s.repo.FindPendingBefore(ctx, cutoff, stalePendingBatchSize)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find stale orders")
	}

	expired := 0
	var errs error
	for i := range stale {
		order := stale[i]
		applied := false
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			var err error
			applied, err = s.cancelInTx(ctx, tx, &order, []enums.OrderStatus{enums.OrderStatusPending}, enums.EscrowTriggerOrderExpiry)
			if err != nil || !applied {
				return err
			}
			return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventOrderExpired,
				AggregateType: enums.AggregateOrder,
				AggregateID:   order.ID,
				Data: payloads.OrderExpiredEvent{
					OrderID:      order.ID,
					OrderNumber:  order.OrderNumber,
					PendingSince: order.CreatedAt,
					ExpiredAt:    now,
				},
			})
		})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("expire %s: %w", order.OrderNumber, err))
			continue
		}
		if applied {
			expired++
		}
	}
	if expired > 0 {
		s.logg.Info(s.logg.WithField(ctx, "expired", expired), "stale pending orders cancelled")
	}
	return expired, errs
}

// CanView reports whether principal may read order.
func CanView(principal auth.Principal, order models.Order) bool {
	switch principal.Role {
	case enums.MemberRoleAdmin:
		return true
	case enums.MemberRoleBuyer:
		return order.BuyerID == principal.UserID
	case enums.MemberRoleSeller:
		return order.SellerID == principal.UserID
	case enums.MemberRoleAgent:
		if order.Assignment == nil {
			return false
		}
		if order.Assignment.AgentID != nil {
			return *order.Assignment.AgentID == principal.UserID
		}
		return order.Status == enums.OrderStatusShipped ||
			(order.Status == enums.OrderStatusProcessing && order.Assignment.ReadyForPickup)
	default:
		return false
	}
}

func loadByNumber(ctx context.Context, repo Repository, orderNumber string) (*models.Order, error) {
	orderNumber = strings.TrimSpace(orderNumber)
	if !ValidOrderNumber(orderNumber) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	order, err := repo.FindByNumber(ctx, orderNumber)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

// LoadByNumber is shared by the delivery and dispute services so lookups fail the same way.
func LoadByNumber(ctx context.Context, repo Repository, orderNumber string) (*models.Order, error) {
	return loadByNumber(ctx, repo, orderNumber)
}

func isDealStockError(err error) bool {
	return pkgerrors.HasReason(err, pkgerrors.ReasonDealUnavailable) ||
		pkgerrors.HasReason(err, pkgerrors.ReasonInsufficientDealStock)
}

func requireRole(principal auth.Principal, role enums.MemberRole) error {
	if !principal.Valid() {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "principal required")
	}
	if !principal.Is(role) {
		return pkgerrors.New(pkgerrors.CodeForbidden, fmt.Sprintf("%s role required", role))
	}
	return nil
}

func actorRef(principal auth.Principal) *outbox.ActorRef {
	return &outbox.ActorRef{UserID: principal.UserID, Role: principal.Role.String()}
}
