package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type column of outbox_events.
type OutboxAggregateType string

const (
	AggregateOrder         OutboxAggregateType = "order"
	AggregateCheckoutGroup OutboxAggregateType = "checkout_group"
	AggregateEscrow        OutboxAggregateType = "escrow"
	AggregateDeal          OutboxAggregateType = "flash_deal"
	AggregateDelivery      OutboxAggregateType = "delivery_assignment"
	AggregateDispute       OutboxAggregateType = "dispute"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateOrder,
	AggregateCheckoutGroup,
	AggregateEscrow,
	AggregateDeal,
	AggregateDelivery,
	AggregateDispute,
}

// IsValid reports whether the value matches a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type column of outbox_events.
type OutboxEventType string

const (
	EventOrderCreated          OutboxEventType = "order_created"
	EventOrderStatusChanged    OutboxEventType = "order_status_changed"
	EventOrderCompleted        OutboxEventType = "order_completed"
	EventOrderDisputed         OutboxEventType = "order_disputed"
	EventOrderExpired          OutboxEventType = "order_expired"
	EventCheckoutConverted     OutboxEventType = "checkout_converted"
	EventDisputeResolved       OutboxEventType = "dispute_resolved"
	EventEscrowHeld            OutboxEventType = "escrow_held"
	EventEscrowReleased        OutboxEventType = "escrow_released"
	EventEscrowRefunded        OutboxEventType = "escrow_refunded"
	EventEscrowFrozen          OutboxEventType = "escrow_frozen"
	EventDealCreated           OutboxEventType = "deal_created"
	EventDealUpdated           OutboxEventType = "deal_updated"
	EventDealDeleted           OutboxEventType = "deal_deleted"
	EventDealExpired           OutboxEventType = "deal_expired"
	EventDeliveryClaimed       OutboxEventType = "delivery_claimed"
	EventDeliveryProofUploaded OutboxEventType = "delivery_proof_uploaded"
)

var validOutboxEventTypes = []OutboxEventType{
	EventOrderCreated,
	EventOrderStatusChanged,
	EventOrderCompleted,
	EventOrderDisputed,
	EventOrderExpired,
	EventCheckoutConverted,
	EventDisputeResolved,
	EventEscrowHeld,
	EventEscrowReleased,
	EventEscrowRefunded,
	EventEscrowFrozen,
	EventDealCreated,
	EventDealUpdated,
	EventDealDeleted,
	EventDealExpired,
	EventDeliveryClaimed,
	EventDeliveryProofUploaded,
}

// IsValid reports whether the value matches a known event type.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
