package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/flashmart-backend/pkg/db"
	"github.com/angelmondragon/flashmart-backend/pkg/db/models"
	"github.com/angelmondragon/flashmart-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/flashmart-backend/pkg/errors"
	"github.com/angelmondragon/flashmart-backend/pkg/logger"
	"github.com/angelmondragon/flashmart-backend/pkg/metrics"
	"github.com/angelmondragon/flashmart-backend/pkg/outbox"
	"github.com/angelmondragon/flashmart-backend/pkg/outbox/payloads"
)

// Ledger moves funds between escrow states. Mutating calls run inside the caller's transaction so
// the order row and the escrow row commit together.
type Ledger interface {
	Hold(ctx context.Context, tx *gorm.DB, input HoldInput) (*models.EscrowRecord, error)
	Release(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, trigger enums.EscrowTrigger) (*models.EscrowRecord, error)
	Refund(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, trigger enums.EscrowTrigger) (*models.EscrowRecord, error)
	Freeze(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.EscrowRecord, error)
	Get(ctx context.Context, orderID uuid.UUID) (*models.EscrowRecord, error)
}

// HoldInput describes funds collected for one order.
type HoldInput struct {
	OrderID     uuid.UUID
	AmountCents int
	Currency    enums.Currency
}

type service struct {
	repo    Repository
	outbox  outbox.Emitter
	metrics *metrics.MarketplaceMetrics
	logg    *logger.Logger
	now     func() time.Time
}

// NewService wires the escrow ledger. metrics may be nil.
func NewService(repo Repository, emitter outbox.Emitter, m *metrics.MarketplaceMetrics, logg *logger.Logger) (Ledger, error) {
	if repo == nil {
		return nil, fmt.Errorf("escrow repository required")
	}
	if emitter == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{
		repo:    repo,
		outbox:  emitter,
		metrics: m,
		logg:    logg,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *service) Hold(ctx context.Context, tx *gorm.DB, input HoldInput) (*models.EscrowRecord, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if input.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "escrow amount must be positive")
	}
	if !input.Currency.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unsupported currency")
	}

	repo := s.repo.WithTx(tx)
	existing, err := repo.FindByOrderID(ctx, input.OrderID)
	switch {
	case err == nil:
		if existing.State == enums.EscrowStateHeld && existing.AmountCents == input.AmountCents {
			return existing, nil
		}
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "escrow already exists for order").
			WithDetails(map[string]any{"state": existing.State, "amount_cents": existing.AmountCents})
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load escrow record")
	}

	now := s.now()
	record := &models.EscrowRecord{
		OrderID:     input.OrderID,
		AmountCents: input.AmountCents,
		Currency:    input.Currency,
		State:       enums.EscrowStateHeld,
		HeldAt:      now,
	}
	if err := repo.Create(ctx, record); err != nil {
		if db.IsUniqueViolation(err, "ux_escrow_records_order_id") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeStateConflict, err, "escrow already exists for order")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create escrow record")
	}
	if err := s.record(ctx, tx, record, nil, enums.EscrowEventHeld, nil, now); err != nil {
		return nil, err
	}
	return record, nil
}

func (s *service) Release(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, trigger enums.EscrowTrigger) (*models.EscrowRecord, error) {
	var from enums.EscrowState
	switch trigger {
	case enums.EscrowTriggerBuyerConfirmation:
		from = enums.EscrowStateHeld
	case enums.EscrowTriggerDisputeResolution:
		from = enums.EscrowStateDisputed
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("trigger %q cannot release escrow", trigger))
	}
	now := s.now()
	return s.transition(ctx, tx, transition{
		orderID: orderID,
		from:    []enums.EscrowState{from},
		to:      enums.EscrowStateReleased,
		event:   enums.EscrowEventReleased,
		trigger: &trigger,
		updates: map[string]any{
			"state":           enums.EscrowStateReleased,
			"release_trigger": trigger,
			"released_at":     now,
		},
		at: now,
	})
}

func (s *service) Refund(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, trigger enums.EscrowTrigger) (*models.EscrowRecord, error) {
	if !trigger.IsValid() || trigger == enums.EscrowTriggerBuyerConfirmation {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("trigger %q cannot refund escrow", trigger))
	}
	now := s.now()
	return s.transition(ctx, tx, transition{
		orderID: orderID,
		from:    []enums.EscrowState{enums.EscrowStateHeld, enums.EscrowStateDisputed},
		to:      enums.EscrowStateRefunded,
		event:   enums.EscrowEventRefunded,
		trigger: &trigger,
		updates: map[string]any{
			"state":           enums.EscrowStateRefunded,
			"release_trigger": trigger,
			"refunded_at":     now,
		},
		at: now,
	})
}

func (s *service) Freeze(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.EscrowRecord, error) {
	now := s.now()
	return s.transition(ctx, tx, transition{
		orderID: orderID,
		from:    []enums.EscrowState{enums.EscrowStateHeld},
		to:      enums.EscrowStateDisputed,
		event:   enums.EscrowEventFrozen,
		updates: map[string]any{
			"state":       enums.EscrowStateDisputed,
			"disputed_at": now,
		},
		at: now,
	})
}

func (s *service) Get(ctx context.Context, orderID uuid.UUID) (*models.EscrowRecord, error) {
	record, err := s.repo.FindByOrderID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "escrow record not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load escrow record")
	}
	return record, nil
}

type transition struct {
	orderID uuid.UUID
	from    []enums.EscrowState
	to      enums.EscrowState
	event   enums.EscrowEventType
	trigger *enums.EscrowTrigger
	updates map[string]any
	at      time.Time
}

// transition runs one guarded update. When no row moves the record is re-read: already at the
// target state is a no-op success, anything else is a conflict.
func (s *service) transition(ctx context.Context, tx *gorm.DB, t transition) (*models.EscrowRecord, error) {
	if t.orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	repo := s.repo.WithTx(tx)

	before, err := repo.FindByOrderID(ctx, t.orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "escrow record not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load escrow record")
	}

	affected, err := repo.Transition(ctx, t.orderID, t.from, t.updates)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update escrow state")
	}

	current, err := repo.FindByOrderID(ctx, t.orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "escrow record not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload escrow record")
	}

	if affected == 0 {
		if current.State == t.to {
			return current, nil
		}
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("escrow is %s, cannot move to %s", current.State, t.to)).
			WithDetails(map[string]any{"state": current.State, "target": t.to})
	}

	from := before.State
	if err := s.record(ctx, tx, current, &from, t.event, t.trigger, t.at); err != nil {
		return nil, err
	}
	return current, nil
}

// record appends the audit row and queues the domain event for an applied transition.
func (s *service) record(ctx context.Context, tx *gorm.DB, rec *models.EscrowRecord, from *enums.EscrowState, eventType enums.EscrowEventType, trigger *enums.EscrowTrigger, at time.Time) error {
	if err := s.repo.WithTx(tx).AppendEvent(ctx, &models.EscrowEvent{
		OrderID:     rec.OrderID,
		EventType:   eventType,
		FromState:   from,
		ToState:     rec.State,
		Trigger:     trigger,
		AmountCents: rec.AmountCents,
		OccurredAt:  at,
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append escrow event")
	}

	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     outboxEventFor(eventType),
		AggregateType: enums.AggregateEscrow,
		AggregateID:   rec.OrderID,
		OccurredAt:    at,
		Data: payloads.EscrowTransitionEvent{
			OrderID:     rec.OrderID,
			From:        from,
			To:          rec.State,
			Trigger:     trigger,
			AmountCents: rec.AmountCents,
			Currency:    rec.Currency,
		},
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit escrow event")
	}

	triggerLabel := "none"
	if trigger != nil {
		triggerLabel = trigger.String()
	}
	s.metrics.ObserveEscrowTransition(rec.State.String(), triggerLabel)

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"order_id":     rec.OrderID.String(),
		"escrow_state": rec.State,
		"trigger":      triggerLabel,
	})
	s.logg.Info(logCtx, "escrow transition applied")
	return nil
}

func outboxEventFor(eventType enums.EscrowEventType) enums.OutboxEventType {
	switch eventType {
	case enums.EscrowEventReleased:
		return enums.EventEscrowReleased
	case enums.EscrowEventRefunded:
		return enums.EventEscrowRefunded
	case enums.EscrowEventFrozen:
		return enums.EventEscrowFrozen
	default:
		return enums.EventEscrowHeld
	}
}
