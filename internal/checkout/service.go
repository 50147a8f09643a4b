package checkout

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/flashmart-backend/internal/checkout/helpers"
	"github.com/angelmondragon/flashmart-backend/internal/orders"
	"github.com/angelmondragon/flashmart-backend/pkg/auth"
	"github.com/angelmondragon/flashmart-backend/pkg/db/models"
	"github.com/angelmondragon/flashmart-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/flashmart-backend/pkg/errors"
	"github.com/angelmondragon/flashmart-backend/pkg/logger"
	"github.com/angelmondragon/flashmart-backend/pkg/outbox"
	"github.com/angelmondragon/flashmart-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/flashmart-backend/pkg/types"
)

const defaultMaxLines = 50

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type productLoader interface {
	GetMany(ctx context.Context, tx *gorm.DB, productIDs []uuid.UUID) (map[uuid.UUID]models.Product, error)
}

type orderCreator interface {
	CreateOrderInTx(ctx context.Context, tx *gorm.DB, principal auth.Principal, input orders.CreateOrderInput) (*models.Order, error)
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service executes checkout orchestration.
type Service interface {
	Execute(ctx context.Context, principal auth.Principal, input CheckoutInput) (*Result, error)
	Get(ctx context.Context, principal auth.Principal, checkoutGroupID uuid.UUID) (*Result, error)
}

// CheckoutInput is a buyer's cart: product lines plus one delivery address for every order.
type CheckoutInput struct {
	Lines           []helpers.Line
	DeliveryAddress types.Address
}

// Result is the checkout group and the orders it produced.
type Result struct {
	CheckoutGroupID  uuid.UUID         `json:"checkout_group_id"`
	Orders           []orders.OrderDTO `json:"orders"`
	TotalAmountCents int               `json:"total_amount_cents"`
}

type service struct {
	tx       txRunner
	repo     Repository
	products productLoader
	orders   orderCreator
	outbox   outboxPublisher
	logg     *logger.Logger
	maxLines int
	maxQty   int
	now      func() time.Time
}

// NewService builds the checkout service.
func NewService(
	tx txRunner,
	repo Repository,
	products productLoader,
	orderSvc orderCreator,
	publisher outboxPublisher,
	logg *logger.Logger,
	maxQty int,
) (Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if repo == nil {
		return nil, fmt.Errorf("checkout repository required")
	}
	if products == nil {
		return nil, fmt.Errorf("product loader required")
	}
	if orderSvc == nil {
		return nil, fmt.Errorf("order service required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{
		tx:       tx,
		repo:     repo,
		products: products,
		orders:   orderSvc,
		outbox:   publisher,
		logg:     logg,
		maxLines: defaultMaxLines,
		maxQty:   maxQty,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Execute converts a cart into one order per line. Everything runs in one transaction: a line that
// cannot be fulfilled rolls back stock, deal and escrow changes made for the lines before it.
func (s *service) Execute(ctx context.Context, principal auth.Principal, input CheckoutInput) (*Result, error) {
	if !principal.Valid() {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "principal required")
	}
	if !principal.Is(enums.MemberRoleBuyer) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "buyer role required")
	}
	if err := helpers.ValidateLines(input.Lines, s.maxLines, s.maxQty); err != nil {
		return nil, err
	}
	address := input.DeliveryAddress.Normalized()
	if err := address.Validate(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, err.Error())
	}

	groupID := uuid.New()
	var result *Result
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		ids := make([]uuid.UUID, 0, len(input.Lines))
		for _, line := range input.Lines {
			ids = append(ids, line.ProductID)
		}
		products, err := s.products.GetMany(ctx, tx, ids)
		if err != nil {
			return err
		}
		if err := helpers.ValidateProducts(input.Lines, products, principal.UserID); err != nil {
			return err
		}

		created := make([]models.Order, 0, len(input.Lines))
		for _, group := range helpers.GroupLinesBySeller(input.Lines, products) {
			sellerID := group.SellerID
			for _, line := range group.Lines {
				order, err := s.orders.CreateOrderInTx(ctx, tx, principal, orders.CreateOrderInput{
					SellerID:        &sellerID,
					ProductID:       line.ProductID,
					Quantity:        line.Quantity,
					DealID:          line.DealID,
					AllowFullPrice:  line.AllowFullPrice,
					DeliveryAddress: address,
					CheckoutGroupID: &groupID,
				})
				if err != nil {
					return annotateLine(err, line.ProductID)
				}
				created = append(created, *order)
			}
		}

		if err := s.emitConverted(ctx, tx, principal, groupID, created); err != nil {
			return err
		}

		stored, err := s.repo.WithTx(tx).FindByCheckoutGroupID(ctx, groupID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load checkout group")
		}
		result = buildResult(groupID, stored)
		return nil
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"checkout_group_id": groupID.String(),
		"orders":            len(result.Orders),
	})
	s.logg.Info(logCtx, "checkout converted")
	return result, nil
}

func (s *service) Get(ctx context.Context, principal auth.Principal, checkoutGroupID uuid.UUID) (*Result, error) {
	if !principal.Valid() {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "principal required")
	}
	rows, err := s.repo.FindByCheckoutGroupID(ctx, checkoutGroupID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load checkout group")
	}
	if len(rows) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "checkout group not found")
	}
	if !principal.Is(enums.MemberRoleAdmin) && rows[0].BuyerID != principal.UserID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "checkout group not found")
	}
	return buildResult(checkoutGroupID, rows), nil
}

func (s *service) emitConverted(ctx context.Context, tx *gorm.DB, principal auth.Principal, groupID uuid.UUID, created []models.Order) error {
	data := payloads.CheckoutConvertedEvent{
		CheckoutGroupID: groupID,
		BuyerID:         principal.UserID,
		OrderIDs:        make([]uuid.UUID, 0, len(created)),
		OrderNumbers:    make([]string, 0, len(created)),
	}
	for _, order := range created {
		data.OrderIDs = append(data.OrderIDs, order.ID)
		data.OrderNumbers = append(data.OrderNumbers, order.OrderNumber)
		data.TotalAmountCents += order.TotalAmountCents
	}
	event := outbox.DomainEvent{
		EventType:     enums.EventCheckoutConverted,
		AggregateType: enums.AggregateCheckoutGroup,
		AggregateID:   groupID,
		Actor:         &outbox.ActorRef{UserID: principal.UserID, Role: principal.Role.String()},
		OccurredAt:    s.now(),
		Data:          data,
	}
	if err := s.outbox.Emit(ctx, tx, event); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit checkout converted")
	}
	return nil
}

func buildResult(groupID uuid.UUID, rows []models.Order) *Result {
	result := &Result{
		CheckoutGroupID: groupID,
		Orders:          make([]orders.OrderDTO, 0, len(rows)),
	}
	for _, order := range rows {
		result.Orders = append(result.Orders, orders.NewOrderDTO(order))
		result.TotalAmountCents += order.TotalAmountCents
	}
	return result
}

// annotateLine tags a typed error with the product that failed so clients can point at the line.
func annotateLine(err error, productID uuid.UUID) error {
	if typed := pkgerrors.As(err); typed != nil && typed.Details() == nil {
		return typed.WithDetails(map[string]any{"product_id": productID})
	}
	return err
}
