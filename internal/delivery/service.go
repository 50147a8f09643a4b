package delivery

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/flashmart-backend/internal/orders"
	"github.com/angelmondragon/flashmart-backend/pkg/auth"
	"github.com/angelmondragon/flashmart-backend/pkg/db/models"
	"github.com/angelmondragon/flashmart-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/flashmart-backend/pkg/errors"
	"github.com/angelmondragon/flashmart-backend/pkg/logger"
	"github.com/angelmondragon/flashmart-backend/pkg/metrics"
	"github.com/angelmondragon/flashmart-backend/pkg/outbox"
	"github.com/angelmondragon/flashmart-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/flashmart-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type escrowReleaser interface {
	Release(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, trigger enums.EscrowTrigger) (*models.EscrowRecord, error)
}

// Service covers the hand-off from seller to agent to buyer.
type Service interface {
	MarkReadyForPickup(ctx context.Context, principal auth.Principal, orderNumber string) (*orders.OrderDTO, error)
	ClaimOrder(ctx context.Context, principal auth.Principal, orderNumber string) (*orders.OrderDTO, error)
	UploadDeliveryProof(ctx context.Context, principal auth.Principal, orderNumber, photoURL string) (*orders.OrderDTO, error)
	ConfirmReceived(ctx context.Context, principal auth.Principal, orderNumber string, input ConfirmInput) (*orders.OrderDTO, error)
	ListClaimable(ctx context.Context, principal auth.Principal, params pagination.Params) (*pagination.Page[orders.OrderDTO], error)
}

// ConfirmInput is the buyer's proof of receipt.
type ConfirmInput struct {
	SignerName     string
	SignatureImage string
}

type service struct {
	repo            Repository
	orders          orders.Repository
	tx              txRunner
	escrow          escrowReleaser
	outbox          outbox.Emitter
	metrics         *metrics.MarketplaceMetrics
	logg            *logger.Logger
	strictSignature bool
	now             func() time.Time
}

// NewService wires the delivery confirmation flow. metrics may be nil.
func NewService(repo Repository, orderRepo orders.Repository, tx txRunner, ledger escrowReleaser, emitter outbox.Emitter, m *metrics.MarketplaceMetrics, logg *logger.Logger, strictSignature bool) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("delivery repository required")
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
	if emitter == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{
		repo:            repo,
		orders:          orderRepo,
		tx:              tx,
		escrow:          ledger,
		outbox:          emitter,
		metrics:         m,
		logg:            logg,
		strictSignature: strictSignature,
		now:             func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *service) MarkReadyForPickup(ctx context.Context, principal auth.Principal, orderNumber string) (*orders.OrderDTO, error) {
	if err := requireRole(principal, enums.MemberRoleSeller); err != nil {
		return nil, err
	}
	return s.inTx(ctx, orderNumber, func(tx *gorm.DB, order *models.Order) error {
		if order.SellerID != principal.UserID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to seller")
		}
		if order.Status != enums.OrderStatusProcessing {
			return invalidState("only processing orders can be marked ready for pickup")
		}
		if _, err := s.repo.WithTx(tx).MarkReady(ctx, order.ID, s.now()); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark ready for pickup")
		}
		return nil
	})
}

// ClaimOrder gives the order to the first agent that asks. A retry by the agent already holding
// it succeeds without writing.
func (s *service) ClaimOrder(ctx context.Context, principal auth.Principal, orderNumber string) (*orders.OrderDTO, error) {
	if err := requireRole(principal, enums.MemberRoleAgent); err != nil {
		return nil, err
	}
	var claimedAt time.Time
	dto, err := s.inTx(ctx, orderNumber, func(tx *gorm.DB, order *models.Order) error {
		repo := s.repo.WithTx(tx)
		now := s.now()
		affected, err := repo.Claim(ctx, order.ID, principal.UserID, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim order")
		}
		if affected == 0 {
			assignment, err := repo.FindByOrderID(ctx, order.ID)
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					s.metrics.ObserveClaim(metrics.ClaimNotClaimable)
					return notClaimable()
				}
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load assignment")
			}
			switch {
			case assignment.AgentID != nil && *assignment.AgentID == principal.UserID:
				s.metrics.ObserveClaim(metrics.ClaimRetried)
				return nil
			case assignment.AgentID != nil:
				s.metrics.ObserveClaim(metrics.ClaimAlreadyClaimed)
				return pkgerrors.New(pkgerrors.CodeStateConflict, "order already claimed by another agent").
					WithReason(pkgerrors.ReasonAlreadyClaimed)
			default:
				s.metrics.ObserveClaim(metrics.ClaimNotClaimable)
				return notClaimable()
			}
		}

		claimedAt = now
		s.metrics.ObserveClaim(metrics.ClaimClaimed)
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventDeliveryClaimed,
			AggregateType: enums.AggregateDelivery,
			AggregateID:   order.ID,
			Actor:         actorRef(principal),
			OccurredAt:    now,
			Data: payloads.DeliveryClaimedEvent{
				OrderID:     order.ID,
				OrderNumber: order.OrderNumber,
				AgentID:     principal.UserID,
				ClaimedAt:   now,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	if !claimedAt.IsZero() {
		s.logg.Info(s.logg.WithFields(s.logg.WithOrderNumber(ctx, dto.OrderNumber), map[string]any{"agent_id": principal.UserID.String()}), "order claimed")
	}
	return dto, nil
}

// UploadDeliveryProof attaches a photo URL. It is informational and never moves status or escrow.
func (s *service) UploadDeliveryProof(ctx context.Context, principal auth.Principal, orderNumber, photoURL string) (*orders.OrderDTO, error) {
	if err := requireRole(principal, enums.MemberRoleAgent); err != nil {
		return nil, err
	}
	photoURL = strings.TrimSpace(photoURL)
	if err := validatePhotoURL(photoURL); err != nil {
		return nil, err
	}
	return s.inTx(ctx, orderNumber, func(tx *gorm.DB, order *models.Order) error {
		if order.Assignment == nil || order.Assignment.AgentID == nil || *order.Assignment.AgentID != principal.UserID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "only the claiming agent can upload proof")
		}
		if order.Status == enums.OrderStatusCancelled {
			return invalidState("order was cancelled")
		}
		now := s.now()
		allowed := []enums.OrderStatus{
			enums.OrderStatusProcessing,
			enums.OrderStatusShipped,
			enums.OrderStatusDelivered,
			enums.OrderStatusCompleted,
			enums.OrderStatusDisputed,
		}
		affected, err := s.orders.WithTx(tx).GuardedUpdate(ctx, order.ID, allowed, "", map[string]any{
			"delivery_photo_url":         photoURL,
			"delivery_photo_uploaded_at": now,
			"updated_at":                 now,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store delivery proof")
		}
		if affected == 0 {
			return invalidState("order was cancelled")
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventDeliveryProofUploaded,
			AggregateType: enums.AggregateDelivery,
			AggregateID:   order.ID,
			Actor:         actorRef(principal),
			OccurredAt:    now,
			Data: payloads.DeliveryProofUploadedEvent{
				OrderID:     order.ID,
				OrderNumber: order.OrderNumber,
				AgentID:     principal.UserID,
				PhotoURL:    photoURL,
				UploadedAt:  now,
			},
		})
	})
}

// ConfirmReceived completes the order and releases escrow to the seller in one transaction.
func (s *service) ConfirmReceived(ctx context.Context, principal auth.Principal, orderNumber string, input ConfirmInput) (*orders.OrderDTO, error) {
	if err := requireRole(principal, enums.MemberRoleBuyer); err != nil {
		return nil, err
	}
	signature, err := ParseSignature(input.SignerName, input.SignatureImage, s.strictSignature)
	if err != nil {
		return nil, err
	}

	dto, err := s.inTx(ctx, orderNumber, func(tx *gorm.DB, order *models.Order) error {
		if order.BuyerID != principal.UserID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "only the buyer can confirm receipt")
		}
		if !orders.CanConfirmReceipt(order.Status) || order.BuyerConfirmedAt != nil {
			return invalidState(fmt.Sprintf("cannot confirm receipt of a %s order", order.Status))
		}

		now := s.now()
		updates := map[string]any{
			"status":             enums.OrderStatusCompleted,
			"buyer_confirmed_at": now,
			"completed_at":       now,
			"signer_name":        signature.SignerName,
			"signature_image":    signature.Image,
			"signature_digest":   signature.Digest,
			"updated_at":         now,
		}
		if order.DeliveredAt == nil {
			updates["delivered_at"] = now
		}
		affected, err := s.orders.WithTx(tx).GuardedUpdate(ctx, order.ID,
			[]enums.OrderStatus{enums.OrderStatusShipped, enums.OrderStatusDelivered},
			"buyer_confirmed_at IS NULL", updates)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "confirm receipt")
		}
		if affected == 0 {
			return invalidState("order changed before receipt was confirmed")
		}

		if _, err := s.escrow.Release(ctx, tx, order.ID, enums.EscrowTriggerBuyerConfirmation); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCompleted,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         actorRef(principal),
			OccurredAt:    now,
			Data: payloads.OrderCompletedEvent{
				OrderID:     order.ID,
				OrderNumber: order.OrderNumber,
				SellerID:    order.SellerID,
				Trigger:     enums.EscrowTriggerBuyerConfirmation,
				CompletedAt: now,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	s.logg.Info(s.logg.WithOrderNumber(ctx, dto.OrderNumber), "receipt confirmed, escrow released")
	return dto, nil
}

func (s *service) ListClaimable(ctx context.Context, principal auth.Principal, params pagination.Params) (*pagination.Page[orders.OrderDTO], error) {
	if err := requireRole(principal, enums.MemberRoleAgent); err != nil {
		return nil, err
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.ListClaimable(ctx, cursor, pagination.LimitWithBuffer(params.Limit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list claimable orders")
	}
	trimmed := pagination.Trim(rows, params.Limit, func(o models.Order) pagination.Cursor {
		return pagination.Cursor{At: o.CreatedAt, ID: o.ID}
	})
	page := &pagination.Page[orders.OrderDTO]{
		Items:      make([]orders.OrderDTO, 0, len(trimmed.Items)),
		NextCursor: trimmed.NextCursor,
	}
	for _, order := range trimmed.Items {
		page.Items = append(page.Items, orders.NewOrderDTO(order))
	}
	return page, nil
}

// inTx loads the order by number, runs fn and returns the reloaded order.
func (s *service) inTx(ctx context.Context, orderNumber string, fn func(tx *gorm.DB, order *models.Order) error) (*orders.OrderDTO, error) {
	var result *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.orders.WithTx(tx)
		order, err := orders.LoadByNumber(ctx, repo, orderNumber)
		if err != nil {
			return err
		}
		if err := fn(tx, order); err != nil {
			return err
		}
		result, err = repo.FindByID(ctx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload order")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	dto := orders.NewOrderDTO(*result)
	return &dto, nil
}

func validatePhotoURL(raw string) error {
	if raw == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "photo_url is required")
	}
	u, err := url.ParseRequestURI(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "photo_url must be an http or https url")
	}
	return nil
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

func notClaimable() error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, "order is not available for pickup").
		WithReason(pkgerrors.ReasonNotClaimable)
}

func actorRef(principal auth.Principal) *outbox.ActorRef {
	return &outbox.ActorRef{UserID: principal.UserID, Role: principal.Role.String()}
}
