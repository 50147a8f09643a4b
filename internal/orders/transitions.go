package orders

import (
	"fmt"

	"github.com/angelmondragon/flashmart-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/flashmart-backend/pkg/errors"
)

// fulfilmentRank orders the statuses a seller may move through.
var fulfilmentRank = map[enums.OrderStatus]int{
	enums.OrderStatusPending:    0,
	enums.OrderStatusProcessing: 1,
	enums.OrderStatusShipped:    2,
	enums.OrderStatusDelivered:  3,
}

// CheckSellerTransition decides whether a seller may move an order from one status to another.
// Forward moves along the fulfilment path may skip steps. Cancellation is only possible before
// the parcel ships.
func CheckSellerTransition(from, to enums.OrderStatus) error {
	if !to.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown status %q", to))
	}
	if from.IsTerminal() || from == enums.OrderStatusDisputed {
		return invalidTransition(from, to)
	}

	if to == enums.OrderStatusCancelled {
		if from == enums.OrderStatusPending || from == enums.OrderStatusProcessing {
			return nil
		}
		return invalidTransition(from, to)
	}

	toRank, ok := fulfilmentRank[to]
	if !ok {
		// completed and disputed are reached through the buyer and admin paths only
		return invalidTransition(from, to)
	}
	if toRank <= fulfilmentRank[from] {
		return invalidTransition(from, to)
	}
	return nil
}

// CanDispute reports whether a buyer may open a dispute from status.
func CanDispute(status enums.OrderStatus) bool {
	switch status {
	case enums.OrderStatusPending, enums.OrderStatusShipped, enums.OrderStatusDelivered:
		return true
	default:
		return false
	}
}

// CanConfirmReceipt reports whether a buyer may sign for an order in status.
func CanConfirmReceipt(status enums.OrderStatus) bool {
	return status == enums.OrderStatusShipped || status == enums.OrderStatusDelivered
}

func invalidTransition(from, to enums.OrderStatus) error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("cannot move order from %s to %s", from, to)).
		WithReason(pkgerrors.ReasonInvalidTransition).
		WithDetails(map[string]any{"from": from, "to": to})
}
