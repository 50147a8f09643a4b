package deals

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

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

const expireBatchSize = 200

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type productLoader interface {
	Get(ctx context.Context, tx *gorm.DB, productID uuid.UUID) (*models.Product, error)
}

// Service manages flash deals and allocates their limited stock.
type Service interface {
	CreateDeal(ctx context.Context, principal auth.Principal, input CreateDealInput) (*DealDTO, error)
	UpdateDeal(ctx context.Context, principal auth.Principal, dealID uuid.UUID, input UpdateDealInput) (*DealDTO, error)
	DeleteDeal(ctx context.Context, principal auth.Principal, dealID uuid.UUID) error
	GetDeal(ctx context.Context, dealID uuid.UUID) (*DealDTO, error)
	ListActiveDeals(ctx context.Context, input ListDealsInput) (*pagination.Page[DealDTO], error)

	// Reserve and ReleaseReservation run inside the caller's transaction.
	Reserve(ctx context.Context, tx *gorm.DB, dealID uuid.UUID, qty int) (*models.FlashDeal, error)
	ReleaseReservation(ctx context.Context, tx *gorm.DB, dealID uuid.UUID, qty int) error

	ExpireEnded(ctx context.Context) (int, error)
}

// CreateDealInput is a seller's request to discount one of their products.
type CreateDealInput struct {
	ProductID         uuid.UUID
	DealPriceCents    int
	QuantityAvailable int
	StartsAt          time.Time
	EndsAt            time.Time
}

// UpdateDealInput carries optional edits. ProductID and StartsAt are accepted only so an attempt
// to change them can be rejected explicitly.
type UpdateDealInput struct {
	ProductID         *uuid.UUID
	StartsAt          *time.Time
	DealPriceCents    *int
	QuantityAvailable *int
	EndsAt            *time.Time
	IsActive          *bool
}

// ListDealsInput filters the live deal listing.
type ListDealsInput struct {
	ProductID *uuid.UUID
	SellerID  *uuid.UUID
	Params    pagination.Params
}

type service struct {
	repo      Repository
	tx        txRunner
	products  productLoader
	outbox    outbox.Emitter
	metrics   *metrics.MarketplaceMetrics
	logg      *logger.Logger
	maxWindow time.Duration
	now       func() time.Time
}

// NewService wires the deal allocator. A zero maxWindow disables the window length check.
func NewService(repo Repository, tx txRunner, products productLoader, emitter outbox.Emitter, m *metrics.MarketplaceMetrics, logg *logger.Logger, maxWindow time.Duration) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("deal repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if products == nil {
		return nil, fmt.Errorf("product loader required")
	}
	if emitter == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{
		repo:      repo,
		tx:        tx,
		products:  products,
		outbox:    emitter,
		metrics:   m,
		logg:      logg,
		maxWindow: maxWindow,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *service) CreateDeal(ctx context.Context, principal auth.Principal, input CreateDealInput) (*DealDTO, error) {
	if err := requireSeller(principal); err != nil {
		return nil, err
	}
	if input.ProductID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product_id is required")
	}
	if input.QuantityAvailable <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity_available must be positive")
	}

	now := s.now()
	startsAt := input.StartsAt.UTC()
	if input.StartsAt.IsZero() {
		startsAt = now
	}
	endsAt := input.EndsAt.UTC()
	if err := s.validateWindow(startsAt, endsAt, now); err != nil {
		return nil, err
	}

	var created models.FlashDeal
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		product, err := s.products.Get(ctx, tx, input.ProductID)
		if err != nil {
			return err
		}
		if product.SellerID != principal.UserID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "product does not belong to seller")
		}
		pct, err := DiscountPercentage(product.PriceCents, input.DealPriceCents)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, err.Error())
		}

		repo := s.repo.WithTx(tx)
		overlapping, err := repo.CountOverlapping(ctx, product.ID, startsAt, endsAt)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check overlapping deals")
		}
		if overlapping > 0 {
			return pkgerrors.New(pkgerrors.CodeConflict, "product already has an active deal in this window")
		}

		created = models.FlashDeal{
			ProductID:          product.ID,
			SellerID:           product.SellerID,
			OriginalPriceCents: product.PriceCents,
			DealPriceCents:     input.DealPriceCents,
			DiscountPercentage: pct,
			QuantityAvailable:  input.QuantityAvailable,
			QuantitySold:       0,
			StartsAt:           startsAt,
			EndsAt:             endsAt,
			IsActive:           true,
		}
		if err := repo.Create(ctx, &created); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create deal")
		}
		return s.emit(ctx, tx, enums.EventDealCreated, created, &principal)
	})
	if err != nil {
		return nil, err
	}

	s.logg.Info(s.logg.WithField(ctx, "deal_id", created.ID.String()), "flash deal created")
	dto := NewDealDTO(created, now)
	return &dto, nil
}

func (s *service) UpdateDeal(ctx context.Context, principal auth.Principal, dealID uuid.UUID, input UpdateDealInput) (*DealDTO, error) {
	if err := requireSeller(principal); err != nil {
		return nil, err
	}
	if input.ProductID != nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product_id cannot be changed")
	}
	if input.StartsAt != nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "starts_at cannot be changed").
			WithReason(pkgerrors.ReasonInvalidWindow)
	}

	now := s.now()
	var updated *models.FlashDeal
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		deal, err := s.loadOwned(ctx, repo, principal, dealID)
		if err != nil {
			return err
		}

		updates := map[string]any{"updated_at": now}
		guard := NarrowGuard{
			MinQuantityAvailable: deal.QuantityAvailable,
			MaxEndsAt:            deal.EndsAt,
		}

		if input.DealPriceCents != nil {
			pct, err := DiscountPercentage(deal.OriginalPriceCents, *input.DealPriceCents)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeValidation, err, err.Error())
			}
			updates["deal_price_cents"] = *input.DealPriceCents
			updates["discount_percentage"] = pct
		}
		if input.QuantityAvailable != nil {
			qty := *input.QuantityAvailable
			if qty > deal.QuantityAvailable {
				return pkgerrors.New(pkgerrors.CodeValidation, "quantity_available may only decrease")
			}
			if qty < deal.QuantitySold {
				return quantityBelowSold(deal.QuantitySold, qty)
			}
			updates["quantity_available"] = qty
			guard.MinQuantityAvailable = qty
		}
		if input.EndsAt != nil {
			endsAt := input.EndsAt.UTC()
			if endsAt.After(deal.EndsAt) {
				return pkgerrors.New(pkgerrors.CodeValidation, "ends_at may only move earlier").
					WithReason(pkgerrors.ReasonInvalidWindow)
			}
			if !endsAt.After(deal.StartsAt) {
				return pkgerrors.New(pkgerrors.CodeValidation, "ends_at must be after starts_at").
					WithReason(pkgerrors.ReasonInvalidWindow)
			}
			updates["ends_at"] = endsAt
			guard.MaxEndsAt = endsAt
		}
		if input.IsActive != nil {
			if *input.IsActive && !deal.IsActive {
				return pkgerrors.New(pkgerrors.CodeValidation, "a deactivated deal cannot be reactivated")
			}
			updates["is_active"] = *input.IsActive
		}

		affected, err := repo.Narrow(ctx, deal.ID, guard, updates)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update deal")
		}
		current, err := repo.FindByID(ctx, deal.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload deal")
		}
		if affected == 0 {
			// a reservation committed between our read and the guarded write
			if current.QuantitySold > guard.MinQuantityAvailable {
				return quantityBelowSold(current.QuantitySold, guard.MinQuantityAvailable)
			}
			return pkgerrors.New(pkgerrors.CodeStateConflict, "deal changed concurrently")
		}
		updated = current
		return s.emit(ctx, tx, enums.EventDealUpdated, *current, &principal)
	})
	if err != nil {
		return nil, err
	}

	s.logg.Info(s.logg.WithField(ctx, "deal_id", updated.ID.String()), "flash deal updated")
	dto := NewDealDTO(*updated, now)
	return &dto, nil
}

func (s *service) DeleteDeal(ctx context.Context, principal auth.Principal, dealID uuid.UUID) error {
	if err := requireSeller(principal); err != nil {
		return err
	}
	now := s.now()
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		deal, err := s.loadOwned(ctx, repo, principal, dealID)
		if err != nil {
			return err
		}
		affected, err := repo.SoftDelete(ctx, deal.ID, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete deal")
		}
		if affected == 0 {
			return pkgerrors.New(pkgerrors.CodeNotFound, "deal not found")
		}
		deal.IsActive = false
		return s.emit(ctx, tx, enums.EventDealDeleted, *deal, &principal)
	})
}

func (s *service) GetDeal(ctx context.Context, dealID uuid.UUID) (*DealDTO, error) {
	if dealID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "deal id required")
	}
	deal, err := s.repo.FindByID(ctx, dealID)
	if err != nil {
		return nil, notFoundOr(err, "load deal")
	}
	dto := NewDealDTO(*deal, s.now())
	return &dto, nil
}

func (s *service) ListActiveDeals(ctx context.Context, input ListDealsInput) (*pagination.Page[DealDTO], error) {
	cursor, err := pagination.ParseCursor(input.Params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	now := s.now()
	rows, err := s.repo.ListLive(ctx, now, ListFilter{ProductID: input.ProductID, SellerID: input.SellerID}, cursor, pagination.LimitWithBuffer(input.Params.Limit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list deals")
	}
	trimmed := pagination.Trim(rows, input.Params.Limit, func(d models.FlashDeal) pagination.Cursor {
		return pagination.Cursor{At: d.CreatedAt, ID: d.ID}
	})
	page := &pagination.Page[DealDTO]{
		Items:      make([]DealDTO, 0, len(trimmed.Items)),
		NextCursor: trimmed.NextCursor,
	}
	for _, deal := range trimmed.Items {
		page.Items = append(page.Items, NewDealDTO(deal, now))
	}
	return page, nil
}

// Reserve takes qty units from the deal pool in one conditional update. When nothing moves the row
// is re-read only to pick the right error; the decision itself was made by the database.
func (s *service) Reserve(ctx context.Context, tx *gorm.DB, dealID uuid.UUID, qty int) (*models.FlashDeal, error) {
	if dealID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "deal id required")
	}
	if qty <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}

	now := s.now()
	repo := s.repo.WithTx(tx)
	affected, err := repo.Reserve(ctx, dealID, qty, now)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reserve deal stock")
	}

	deal, err := repo.FindByIDIncludingDeleted(ctx, dealID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.metrics.ObserveReservation(metrics.ReservationNotFound)
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "deal not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load deal")
	}

	if affected == 1 {
		s.metrics.ObserveReservation(metrics.ReservationReserved)
		return deal, nil
	}

	remaining := deal.Remaining()
	if deal.DeletedAt.Valid || !deal.IsActive || !deal.InWindow(now) || remaining == 0 {
		s.metrics.ObserveReservation(metrics.ReservationUnavailable)
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "deal unavailable").
			WithReason(pkgerrors.ReasonDealUnavailable).
			WithDetails(map[string]any{"deal_id": dealID})
	}
	s.metrics.ObserveReservation(metrics.ReservationInsufficient)
	return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "insufficient deal stock").
		WithReason(pkgerrors.ReasonInsufficientDealStock).
		WithDetails(map[string]any{"deal_id": dealID, "requested": qty, "remaining": remaining})
}

func (s *service) ReleaseReservation(ctx context.Context, tx *gorm.DB, dealID uuid.UUID, qty int) error {
	if qty <= 0 {
		return nil
	}
	repo := s.repo.WithTx(tx)
	affected, err := repo.ReleaseReservation(ctx, dealID, qty, s.now())
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release deal stock")
	}
	if affected == 0 {
		if _, err := repo.FindByIDIncludingDeleted(ctx, dealID); err != nil {
			return notFoundOr(err, "load deal")
		}
		return pkgerrors.New(pkgerrors.CodeStateConflict, "deal has fewer sold units than released")
	}
	return nil
}

// ExpireEnded deactivates deals whose window has closed and emits deal_expired for each.
func (s *service) ExpireEnded(ctx context.Context) (int, error) {
	now := s.now()
	expired := 0
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		ended, err := repo.FindEnded(ctx, now, expireBatchSize)
		if err != nil {
			return err
		}
		for _, deal := range ended {
			affected, err := repo.Deactivate(ctx, deal.ID, now)
			if err != nil {
				return err
			}
			if affected == 0 {
				continue
			}
			deal.IsActive = false
			if err := s.emit(ctx, tx, enums.EventDealExpired, deal, nil); err != nil {
				return err
			}
			expired++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return expired, nil
}

func (s *service) validateWindow(startsAt, endsAt, now time.Time) error {
	if endsAt.IsZero() || !endsAt.After(startsAt) {
		return pkgerrors.New(pkgerrors.CodeValidation, "ends_at must be after starts_at").
			WithReason(pkgerrors.ReasonInvalidWindow)
	}
	if !endsAt.After(now) {
		return pkgerrors.New(pkgerrors.CodeValidation, "ends_at must be in the future").
			WithReason(pkgerrors.ReasonInvalidWindow)
	}
	if s.maxWindow > 0 && endsAt.Sub(startsAt) > s.maxWindow {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("deal window may not exceed %s", s.maxWindow)).
			WithReason(pkgerrors.ReasonInvalidWindow)
	}
	return nil
}

func (s *service) loadOwned(ctx context.Context, repo Repository, principal auth.Principal, dealID uuid.UUID) (*models.FlashDeal, error) {
	if dealID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "deal id required")
	}
	deal, err := repo.FindByID(ctx, dealID)
	if err != nil {
		return nil, notFoundOr(err, "load deal")
	}
	if deal.SellerID != principal.UserID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "deal does not belong to seller")
	}
	return deal, nil
}

func (s *service) emit(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, deal models.FlashDeal, principal *auth.Principal) error {
	event := outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateDeal,
		AggregateID:   deal.ID,
		Data: payloads.DealEvent{
			DealID:             deal.ID,
			ProductID:          deal.ProductID,
			SellerID:           deal.SellerID,
			DealPriceCents:     deal.DealPriceCents,
			DiscountPercentage: deal.DiscountPercentage,
			QuantityAvailable:  deal.QuantityAvailable,
			QuantitySold:       deal.QuantitySold,
			StartsAt:           deal.StartsAt,
			EndsAt:             deal.EndsAt,
			IsActive:           deal.IsActive,
		},
	}
	if principal != nil {
		event.Actor = &outbox.ActorRef{UserID: principal.UserID, Role: principal.Role.String()}
	}
	if err := s.outbox.Emit(ctx, tx, event); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit deal event")
	}
	return nil
}

func requireSeller(principal auth.Principal) error {
	if !principal.Valid() {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "principal required")
	}
	if !principal.Is(enums.MemberRoleSeller) {
		return pkgerrors.New(pkgerrors.CodeForbidden, "seller role required")
	}
	return nil
}

func quantityBelowSold(sold, requested int) error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, "quantity_available cannot go below quantity_sold").
		WithReason(pkgerrors.ReasonQuantityBelowSold).
		WithDetails(map[string]any{"quantity_sold": sold, "requested": requested})
}

func notFoundOr(err error, op string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "deal not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, op)
}
