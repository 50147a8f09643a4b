package enums

import "fmt"

// EscrowState is the fund state recorded per order.
type EscrowState string

const (
	EscrowStateHeld     EscrowState = "held"
	EscrowStateReleased EscrowState = "released"
	EscrowStateRefunded EscrowState = "refunded"
	EscrowStateDisputed EscrowState = "disputed"
)

var validEscrowStates = []EscrowState{
	EscrowStateHeld,
	EscrowStateReleased,
	EscrowStateRefunded,
	EscrowStateDisputed,
}

// String implements fmt.Stringer.
func (s EscrowState) String() string {
	return string(s)
}

// IsValid reports whether the value is a known EscrowState.
func (s EscrowState) IsValid() bool {
	for _, candidate := range validEscrowStates {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the record can no longer change.
func (s EscrowState) IsTerminal() bool {
	return s == EscrowStateReleased || s == EscrowStateRefunded
}

// ParseEscrowState converts raw input into an EscrowState.
func ParseEscrowState(value string) (EscrowState, error) {
	for _, candidate := range validEscrowStates {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid escrow state %q", value)
}

// EscrowTrigger names the caller path that moved escrow.
type EscrowTrigger string

const (
	EscrowTriggerBuyerConfirmation  EscrowTrigger = "buyer_confirmation"
	EscrowTriggerDisputeResolution  EscrowTrigger = "dispute_resolution"
	EscrowTriggerSellerCancellation EscrowTrigger = "seller_cancellation"
	EscrowTriggerOrderExpiry        EscrowTrigger = "order_expiry"
)

var validEscrowTriggers = []EscrowTrigger{
	EscrowTriggerBuyerConfirmation,
	EscrowTriggerDisputeResolution,
	EscrowTriggerSellerCancellation,
	EscrowTriggerOrderExpiry,
}

// String implements fmt.Stringer.
func (t EscrowTrigger) String() string {
	return string(t)
}

// IsValid reports whether the value is a known EscrowTrigger.
func (t EscrowTrigger) IsValid() bool {
	for _, candidate := range validEscrowTriggers {
		if candidate == t {
			return true
		}
	}
	return false
}

// IsReleaseTrigger reports whether funds may be paid out to the seller through this path.
func (t EscrowTrigger) IsReleaseTrigger() bool {
	return t == EscrowTriggerBuyerConfirmation || t == EscrowTriggerDisputeResolution
}

// EscrowEventType labels rows of the escrow audit trail.
type EscrowEventType string

const (
	EscrowEventHeld     EscrowEventType = "held"
	EscrowEventReleased EscrowEventType = "released"
	EscrowEventRefunded EscrowEventType = "refunded"
	EscrowEventFrozen   EscrowEventType = "frozen"
)
