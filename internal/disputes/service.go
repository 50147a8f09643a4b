package disputes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/flashmart-backend/internal/orders"
	"github.com/angelmondragon/flashmart-backend/pkg/auth"
	"github.com/angelmondragon/flashmart-backend/pkg/db/models"
	"github.com/angelmondragon/flashmart-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/flashmart-backend/pkg/errors"
	"github.com/angelmondragon/flashmart-backend/pkg/logger"
	"github.com/angelmondragon/flashmart-backend/pkg/outbox"
	"github.com/angelmondragon/flashmart-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/flashmart-backend/pkg/pagination"
)

const maxDescriptionLength = 2000

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type stockReturner interface {
	ReturnStock(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) error
}

type dealReleaser interface {
	ReleaseReservation(ctx context.Context, tx *gorm.DB, dealID uuid.UUID, qty int) error
}

type escrowLedger interface {
	Release(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, trigger enums.EscrowTrigger) (*models.EscrowRecord, error)
	Refund(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, trigger enums.EscrowTrigger) (*models.EscrowRecord, error)
	Freeze(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.EscrowRecord, error)
}

// Service lets buyers raise an issue on an order and admins settle it.
type Service interface {
	ReportIssue(ctx context.Context, principal auth.Principal, orderNumber string, input ReportInput) (*DisputeDTO, error)
	ResolveDispute(ctx context.Context, principal auth.Principal, orderNumber string, input ResolveInput) (*DisputeDTO, error)
	GetDispute(ctx context.Context, principal auth.Principal, orderNumber string) (*DisputeDTO, error)
	ListOpen(ctx context.Context, principal auth.Principal, params pagination.Params) (*pagination.Page[DisputeDTO], error)
}

type ReportInput struct {
	Description string
}

type ResolveInput struct {
	Resolution enums.DisputeResolution
	Note       *string
}

type service struct {
	repo    Repository
	orders  orders.Repository
	tx      txRunner
	escrow  escrowLedger
	catalog stockReturner
	deals   dealReleaser
	outbox  outbox.Emitter
	logg    *logger.Logger
	now     func() time.Time
}

func NewService(repo Repository, orderRepo orders.Repository, tx txRunner, ledger escrowLedger, products stockReturner, deals dealReleaser, emitter outbox.Emitter, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("disputes repository required")
	}
	if orderRepo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("escrow ledger required")
	}
	if products == nil {
		return nil, fmt.Errorf("catalog required")
	}
	if deals == nil {
		return nil, fmt.Errorf("deal allocator required")
	}
	if emitter == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{
		repo:    repo,
		orders:  orderRepo,
		tx:      tx,
		escrow:  ledger,
		catalog: products,
		deals:   deals,
		outbox:  emitter,
		logg:    logg,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// ReportIssue freezes escrow and parks the order in disputed until an admin resolves it.
func (s *service) ReportIssue(ctx context.Context, principal auth.Principal, orderNumber string, input ReportInput) (*DisputeDTO, error) {
	if err := requireRole(principal, enums.MemberRoleBuyer); err != nil {
		return nil, err
	}
	description := strings.TrimSpace(input.Description)
	if description == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "description is required")
	}
	if utf8.RuneCountInString(description) > maxDescriptionLength {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("description must be at most %d characters", maxDescriptionLength))
	}

	var dto DisputeDTO
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		orderRepo := s.orders.WithTx(tx)
		order, err := orders.LoadByNumber(ctx, orderRepo, orderNumber)
		if err != nil {
			return err
		}
		if order.BuyerID != principal.UserID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "only the buyer can report an issue")
		}
		if !orders.CanDispute(order.Status) {
			return invalidState(fmt.Sprintf("cannot dispute a %s order", order.Status))
		}

		now := s.now()
		from := order.Status
		affected, err := orderRepo.GuardedUpdate(ctx, order.ID,
			[]enums.OrderStatus{enums.OrderStatusPending, enums.OrderStatusShipped, enums.OrderStatusDelivered}, "",
			map[string]any{
				"status":      enums.OrderStatusDisputed,
				"disputed_at": now,
				"updated_at":  now,
			})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "dispute order")
		}
		if affected == 0 {
			return invalidState("order changed before the issue was recorded")
		}
		if _, err := s.escrow.Freeze(ctx, tx, order.ID); err != nil {
			return err
		}

		dispute := &models.Dispute{
			OrderID:     order.ID,
			BuyerID:     principal.UserID,
			Description: description,
			FromStatus:  from,
			Status:      enums.DisputeStatusOpen,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.repo.WithTx(tx).Create(ctx, dispute); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create dispute")
		}

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderDisputed,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         actorRef(principal),
			OccurredAt:    now,
			Data: payloads.OrderDisputedEvent{
				OrderID:     order.ID,
				OrderNumber: order.OrderNumber,
				DisputeID:   dispute.ID,
				From:        from,
				Description: description,
			},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit order disputed")
		}

		reloaded, err := orderRepo.FindByID(ctx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload order")
		}
		dto = newDisputeDTO(*dispute, reloaded)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logg.Warn(s.logg.WithOrderNumber(ctx, dto.OrderNumber), "order disputed, escrow frozen")
	return &dto, nil
}

// ResolveDispute settles escrow exactly once. Retrying with the same resolution returns the
// settled dispute; asking for the other resolution is a conflict.
func (s *service) ResolveDispute(ctx context.Context, principal auth.Principal, orderNumber string, input ResolveInput) (*DisputeDTO, error) {
	if err := requireRole(principal, enums.MemberRoleAdmin); err != nil {
		return nil, err
	}
	if !input.Resolution.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "resolution must be release or refund")
	}
	var note *string
	if input.Note != nil {
		if trimmed := strings.TrimSpace(*input.Note); trimmed != "" {
			note = &trimmed
		}
	}

	var dto DisputeDTO
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		orderRepo := s.orders.WithTx(tx)
		repo := s.repo.WithTx(tx)
		order, err := orders.LoadByNumber(ctx, orderRepo, orderNumber)
		if err != nil {
			return err
		}
		dispute, err := repo.FindByOrderID(ctx, order.ID)
		if err != nil {
			return notFoundOr(err, "load dispute")
		}
		if dispute.Status == enums.DisputeStatusResolved {
			return sameResolution(*dispute, input.Resolution, func() { dto = newDisputeDTO(*dispute, order) })
		}

		now := s.now()
		affected, err := repo.Resolve(ctx, dispute.ID, map[string]any{
			"status":          enums.DisputeStatusResolved,
			"resolution":      input.Resolution,
			"resolved_by":     principal.UserID,
			"resolution_note": note,
			"resolved_at":     now,
			"updated_at":      now,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve dispute")
		}
		if affected == 0 {
			current, err := repo.FindByOrderID(ctx, order.ID)
			if err != nil {
				return notFoundOr(err, "reload dispute")
			}
			return sameResolution(*current, input.Resolution, func() { dto = newDisputeDTO(*current, order) })
		}

		orderUpdates := map[string]any{"updated_at": now}
		if input.Resolution == enums.DisputeResolutionRelease {
			orderUpdates["status"] = enums.OrderStatusCompleted
			orderUpdates["completed_at"] = now
		} else {
			orderUpdates["status"] = enums.OrderStatusCancelled
			orderUpdates["cancelled_at"] = now
		}
		affected, err = orderRepo.GuardedUpdate(ctx, order.ID, []enums.OrderStatus{enums.OrderStatusDisputed}, "", orderUpdates)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "settle disputed order")
		}
		if affected == 0 {
			return invalidState("order is no longer disputed")
		}

		if input.Resolution == enums.DisputeResolutionRelease {
			_, err = s.escrow.Release(ctx, tx, order.ID, enums.EscrowTriggerDisputeResolution)
		} else {
			_, err = s.escrow.Refund(ctx, tx, order.ID, enums.EscrowTriggerDisputeResolution)
		}
		if err != nil {
			return err
		}
		if input.Resolution == enums.DisputeResolutionRefund && dispute.FromStatus == enums.OrderStatusPending {
			if err := s.restock(ctx, tx, order); err != nil {
				return err
			}
		}

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventDisputeResolved,
			AggregateType: enums.AggregateDispute,
			AggregateID:   dispute.ID,
			Actor:         actorRef(principal),
			OccurredAt:    now,
			Data: payloads.DisputeResolvedEvent{
				DisputeID:   dispute.ID,
				OrderID:     order.ID,
				OrderNumber: order.OrderNumber,
				Resolution:  input.Resolution,
				ResolvedBy:  principal.UserID,
			},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit dispute resolved")
		}
		if input.Resolution == enums.DisputeResolutionRelease {
			if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventOrderCompleted,
				AggregateType: enums.AggregateOrder,
				AggregateID:   order.ID,
				Actor:         actorRef(principal),
				OccurredAt:    now,
				Data: payloads.OrderCompletedEvent{
					OrderID:     order.ID,
					OrderNumber: order.OrderNumber,
					SellerID:    order.SellerID,
					Trigger:     enums.EscrowTriggerDisputeResolution,
					CompletedAt: now,
				},
			}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit order completed")
			}
		}

		resolved, err := repo.FindByOrderID(ctx, order.ID)
		if err != nil {
			return notFoundOr(err, "reload dispute")
		}
		reloaded, err := orderRepo.FindByID(ctx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload order")
		}
		dto = newDisputeDTO(*resolved, reloaded)
		return nil
	})
	if err != nil {
		return nil, err
	}
	logCtx := s.logg.WithFields(s.logg.WithOrderNumber(ctx, dto.OrderNumber), map[string]any{"resolution": input.Resolution})
	s.logg.Info(logCtx, "dispute resolved")
	return &dto, nil
}

func (s *service) GetDispute(ctx context.Context, principal auth.Principal, orderNumber string) (*DisputeDTO, error) {
	if !principal.Valid() {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "principal required")
	}
	order, err := orders.LoadByNumber(ctx, s.orders, orderNumber)
	if err != nil {
		return nil, err
	}
	allowed := principal.Is(enums.MemberRoleAdmin) ||
		(principal.Is(enums.MemberRoleBuyer) && order.BuyerID == principal.UserID) ||
		(principal.Is(enums.MemberRoleSeller) && order.SellerID == principal.UserID)
	if !allowed {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "not a participant of this order")
	}
	dispute, err := s.repo.FindByOrderID(ctx, order.ID)
	if err != nil {
		return nil, notFoundOr(err, "load dispute")
	}
	dto := newDisputeDTO(*dispute, order)
	return &dto, nil
}

func (s *service) ListOpen(ctx context.Context, principal auth.Principal, params pagination.Params) (*pagination.Page[DisputeDTO], error) {
	if err := requireRole(principal, enums.MemberRoleAdmin); err != nil {
		return nil, err
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.ListByStatus(ctx, enums.DisputeStatusOpen, cursor, pagination.LimitWithBuffer(params.Limit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list disputes")
	}
	trimmed := pagination.Trim(rows, params.Limit, func(d models.Dispute) pagination.Cursor {
		return pagination.Cursor{At: d.CreatedAt, ID: d.ID}
	})
	page := &pagination.Page[DisputeDTO]{
		Items:      make([]DisputeDTO, 0, len(trimmed.Items)),
		NextCursor: trimmed.NextCursor,
	}
	for _, dispute := range trimmed.Items {
		page.Items = append(page.Items, newDisputeDTO(dispute, nil))
	}
	return page, nil
}

// restock hands back what an unshipped order reserved.
func (s *service) restock(ctx context.Context, tx *gorm.DB, order *models.Order) error {
	if err := s.catalog.ReturnStock(ctx, tx, order.ProductID, order.Quantity); err != nil {
		return err
	}
	if order.DealID != nil && order.DealPriceCents != nil {
		return s.deals.ReleaseReservation(ctx, tx, *order.DealID, order.Quantity)
	}
	return nil
}

func sameResolution(dispute models.Dispute, requested enums.DisputeResolution, accept func()) error {
	if dispute.Resolution != nil && *dispute.Resolution == requested {
		accept()
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeStateConflict, "dispute already resolved with a different outcome").
		WithReason(pkgerrors.ReasonInvalidState)
}

func notFoundOr(err error, op string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "dispute not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, op)
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

func invalidState(msg string) error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, msg).WithReason(pkgerrors.ReasonInvalidState)
}

func actorRef(principal auth.Principal) *outbox.ActorRef {
	return &outbox.ActorRef{UserID: principal.UserID, Role: principal.Role.String()}
}
