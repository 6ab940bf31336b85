package orders

import (
	"github.com/01moynul/storefront-ledger/internal/apperr"
	"github.com/01moynul/storefront-ledger/internal/models"
)

var (
	statePending    = models.OrderState{Payment: models.PaymentPending, Order: models.OrderPending}
	stateVerifying  = models.OrderState{Payment: models.PaymentPendingVerification, Order: models.OrderPending}
	stateProcessing = models.OrderState{Payment: models.PaymentPaid, Order: models.OrderProcessing}
	stateCompleted  = models.OrderState{Payment: models.PaymentPaid, Order: models.OrderCompleted}
	stateFailed     = models.OrderState{Payment: models.PaymentFailed, Order: models.OrderCancelled}
	stateCancelled  = models.OrderState{Payment: models.PaymentCancelled, Order: models.OrderCancelled}
	stateRefunded   = models.OrderState{Payment: models.PaymentRefunded, Order: models.OrderCancelled}
)

// transitions lists every legal joint state and where it may go next.
// Terminal states map to nothing.
var transitions = map[models.OrderState][]models.OrderState{
	statePending:    {stateVerifying, stateProcessing, stateFailed, stateCancelled},
	stateVerifying:  {stateProcessing, stateFailed, stateCancelled},
	stateProcessing: {stateCompleted, stateRefunded},
	stateCompleted:  nil,
	stateFailed:     nil,
	stateCancelled:  nil,
	stateRefunded:   nil,
}

// IsLegal reports whether s is one of the allowed joint states.
func IsLegal(s models.OrderState) bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether an order may move from one joint state to
// another.
func CanTransition(from, to models.OrderState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func IsTerminal(s models.OrderState) bool {
	return IsLegal(s) && len(transitions[s]) == 0
}

// resolveTarget turns an admin request, which may name one or both status
// axes, into a full joint state relative to the current one.
func resolveTarget(current models.OrderState, payment models.PaymentStatus, order models.OrderStatus) (models.OrderState, error) {
	switch payment {
	case "":
	case models.PaymentPending:
		return statePending, nil
	case models.PaymentPendingVerification:
		return stateVerifying, nil
	case models.PaymentPaid:
		if order == models.OrderCompleted {
			return stateCompleted, nil
		}
		if current == stateCompleted {
			return stateCompleted, nil
		}
		return stateProcessing, nil
	case models.PaymentFailed:
		return stateFailed, nil
	case models.PaymentCancelled:
		return stateCancelled, nil
	case models.PaymentRefunded:
		return stateRefunded, nil
	default:
		return models.OrderState{}, apperr.Validationf("Unknown payment status %q", payment)
	}

	switch order {
	case "":
		return models.OrderState{}, apperr.Validation("payment_status or order_status is required")
	case models.OrderPending:
		return models.OrderState{Payment: current.Payment, Order: models.OrderPending}, nil
	case models.OrderProcessing:
		return models.OrderState{Payment: current.Payment, Order: models.OrderProcessing}, nil
	case models.OrderCompleted:
		return stateCompleted, nil
	case models.OrderCancelled:
		switch current.Payment {
		case models.PaymentPaid:
			return stateRefunded, nil
		case models.PaymentFailed, models.PaymentRefunded:
			return current, nil
		}
		return stateCancelled, nil
	default:
		return models.OrderState{}, apperr.Validationf("Unknown order status %q", order)
	}
}
