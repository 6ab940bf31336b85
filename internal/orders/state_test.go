package orders

import (
	"testing"

	"github.com/01moynul/storefront-ledger/internal/models"
)

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		from, to models.OrderState
		want     bool
	}{
		{statePending, stateVerifying, true},
		{statePending, stateProcessing, true},
		{statePending, stateCompleted, false},
		{stateVerifying, stateProcessing, true},
		{stateVerifying, stateFailed, true},
		{stateProcessing, stateCompleted, true},
		{stateProcessing, stateRefunded, true},
		{stateProcessing, stateCancelled, false},
		{stateCompleted, stateRefunded, false},
		{stateFailed, stateProcessing, false},
		{stateCancelled, statePending, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestIllegalJointStates(t *testing.T) {
	bad := []models.OrderState{
		{Payment: models.PaymentPending, Order: models.OrderCompleted},
		{Payment: models.PaymentPending, Order: models.OrderProcessing},
		{Payment: models.PaymentFailed, Order: models.OrderProcessing},
		{Payment: models.PaymentPaid, Order: models.OrderPending},
	}
	for _, s := range bad {
		if IsLegal(s) {
			t.Errorf("%s should not be legal", s)
		}
	}
	for _, s := range []models.OrderState{stateCompleted, stateFailed, stateCancelled, stateRefunded} {
		if !IsTerminal(s) {
			t.Errorf("%s should be terminal", s)
		}
	}
}

func TestResolveTarget(t *testing.T) {
	tests := []struct {
		name    string
		current models.OrderState
		payment models.PaymentStatus
		order   models.OrderStatus
		want    models.OrderState
	}{
		{"approve", stateVerifying, models.PaymentPaid, "", stateProcessing},
		{"reject", stateVerifying, models.PaymentFailed, "", stateFailed},
		{"cancel unpaid", statePending, "", models.OrderCancelled, stateCancelled},
		{"cancel paid refunds", stateProcessing, "", models.OrderCancelled, stateRefunded},
		{"complete", stateProcessing, "", models.OrderCompleted, stateCompleted},
		{"paid on completed stays put", stateCompleted, models.PaymentPaid, "", stateCompleted},
		{"processing keeps payment axis", statePending, "", models.OrderProcessing, models.OrderState{Payment: models.PaymentPending, Order: models.OrderProcessing}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveTarget(tt.current, tt.payment, tt.order)
			if err != nil {
				t.Fatalf("resolveTarget: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}

	if _, err := resolveTarget(statePending, "", ""); err == nil {
		t.Error("empty request accepted")
	}
	if _, err := resolveTarget(statePending, "lost", ""); err == nil {
		t.Error("unknown payment status accepted")
	}
}
