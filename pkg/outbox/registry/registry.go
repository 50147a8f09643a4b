// Package registry maps outbox event types to the topic they are relayed on and the payload
// struct they decode into.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/angelmondragon/flashmart-backend/pkg/config"
	"github.com/angelmondragon/flashmart-backend/pkg/db/models"
	"github.com/angelmondragon/flashmart-backend/pkg/enums"
	"github.com/angelmondragon/flashmart-backend/pkg/outbox"
	"github.com/angelmondragon/flashmart-backend/pkg/outbox/payloads"
)

type EventDescriptor struct {
	EventType      enums.OutboxEventType
	AggregateType  enums.OutboxAggregateType
	Topic          string
	PayloadFactory func() any
}

type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

// NonRetryableError marks a row that can never be published as stored; the relay dead-letters it
// instead of retrying.
type NonRetryableError struct {
	Err error
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error { return e.Err }

func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

func rejectf(format string, args ...any) error {
	return NewNonRetryableError(fmt.Errorf(format, args...))
}

type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

func factory[T any]() func() any {
	return func() any { return new(T) }
}

// eventRoutes lists every relayed event type under its aggregate. Each aggregate publishes to a
// single topic, picked in NewEventRegistry.
var eventRoutes = []struct {
	aggregate enums.OutboxAggregateType
	events    map[enums.OutboxEventType]func() any
}{
	{enums.AggregateOrder, map[enums.OutboxEventType]func() any{
		enums.EventOrderCreated:       factory[payloads.OrderCreatedEvent](),
		enums.EventOrderStatusChanged: factory[payloads.OrderStatusChangedEvent](),
		enums.EventOrderCompleted:     factory[payloads.OrderCompletedEvent](),
		enums.EventOrderDisputed:      factory[payloads.OrderDisputedEvent](),
		enums.EventOrderExpired:       factory[payloads.OrderExpiredEvent](),
	}},
	{enums.AggregateCheckoutGroup, map[enums.OutboxEventType]func() any{
		enums.EventCheckoutConverted: factory[payloads.CheckoutConvertedEvent](),
	}},
	{enums.AggregateDispute, map[enums.OutboxEventType]func() any{
		enums.EventDisputeResolved: factory[payloads.DisputeResolvedEvent](),
	}},
	{enums.AggregateDelivery, map[enums.OutboxEventType]func() any{
		enums.EventDeliveryClaimed:       factory[payloads.DeliveryClaimedEvent](),
		enums.EventDeliveryProofUploaded: factory[payloads.DeliveryProofUploadedEvent](),
	}},
	{enums.AggregateEscrow, map[enums.OutboxEventType]func() any{
		enums.EventEscrowHeld:     factory[payloads.EscrowTransitionEvent](),
		enums.EventEscrowReleased: factory[payloads.EscrowTransitionEvent](),
		enums.EventEscrowRefunded: factory[payloads.EscrowTransitionEvent](),
		enums.EventEscrowFrozen:   factory[payloads.EscrowTransitionEvent](),
	}},
	{enums.AggregateDeal, map[enums.OutboxEventType]func() any{
		enums.EventDealCreated: factory[payloads.DealEvent](),
		enums.EventDealUpdated: factory[payloads.DealEvent](),
		enums.EventDealDeleted: factory[payloads.DealEvent](),
		enums.EventDealExpired: factory[payloads.DealEvent](),
	}},
}

// NewEventRegistry routes order lifecycle events (orders, checkout, disputes, deliveries) to the
// orders topic, escrow transitions to the escrow topic and deal changes to the deals topic.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	var missing []error
	for name, topic := range map[string]string{"orders": cfg.OrdersTopic, "deals": cfg.DealsTopic, "escrow": cfg.EscrowTopic} {
		if topic == "" {
			missing = append(missing, fmt.Errorf("%s topic is required", name))
		}
	}
	if err := errors.Join(missing...); err != nil {
		return nil, err
	}

	topicFor := map[enums.OutboxAggregateType]string{
		enums.AggregateOrder:         cfg.OrdersTopic,
		enums.AggregateCheckoutGroup: cfg.OrdersTopic,
		enums.AggregateDispute:       cfg.OrdersTopic,
		enums.AggregateDelivery:      cfg.OrdersTopic,
		enums.AggregateEscrow:        cfg.EscrowTopic,
		enums.AggregateDeal:          cfg.DealsTopic,
	}
	reg := &EventRegistry{entries: map[enums.OutboxEventType]EventDescriptor{}}
	for _, route := range eventRoutes {
		for eventType, newPayload := range route.events {
			reg.entries[eventType] = EventDescriptor{
				EventType:      eventType,
				AggregateType:  route.aggregate,
				Topic:          topicFor[route.aggregate],
				PayloadFactory: newPayload,
			}
		}
	}
	return reg, nil
}

// Topics returns the distinct topics routed to, sorted.
func (r *EventRegistry) Topics() []string {
	var topics []string
	for _, desc := range r.entries {
		if !slices.Contains(topics, desc.Topic) {
			topics = append(topics, desc.Topic)
		}
	}
	slices.Sort(topics)
	return topics
}

// Resolve checks a row against its descriptor and decodes the typed payload. Every failure is
// non-retryable: the stored row will not change between attempts.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	switch {
	case !ok:
		return nil, rejectf("unsupported event type %s", event.EventType)
	case desc.AggregateType != event.AggregateType:
		return nil, rejectf("aggregate mismatch: %s events belong to %s, row has %s", event.EventType, desc.AggregateType, event.AggregateType)
	case event.AggregateID == uuid.Nil:
		return nil, rejectf("%s: missing aggregate_id", event.EventType)
	}

	envelope, err := outbox.DecodeEnvelope(event.Payload)
	if err != nil {
		return nil, rejectf("%s: %w", event.EventType, err)
	}
	if envelope.EventType != "" && envelope.EventType != event.EventType {
		return nil, rejectf("envelope type %s does not match row type %s", envelope.EventType, event.EventType)
	}

	payload := desc.PayloadFactory()
	if err := json.Unmarshal(envelope.Data, payload); err != nil {
		return nil, rejectf("decode %s payload: %w", event.EventType, err)
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}
