package domain

import "testing"

func TestOrderStatusTransitions(t *testing.T) {
	tests := []struct {
		from OrderStatus
		to   OrderStatus
		want bool
	}{
		{OrderPending, OrderPaymentConfirmed, true},
		{OrderPending, OrderCancelled, true},
		{OrderPending, OrderInProgress, false},
		{OrderPending, OrderCompleted, false},
		{OrderPaymentConfirmed, OrderInProgress, true},
		{OrderPaymentConfirmed, OrderCancelled, true},
		{OrderPaymentConfirmed, OrderCompleted, false},
		{OrderInProgress, OrderCompleted, true},
		{OrderInProgress, OrderCancelled, false},
		{OrderInProgress, OrderPaymentConfirmed, false},
		{OrderCompleted, OrderCancelled, false},
		{OrderCompleted, OrderPending, false},
		{OrderCancelled, OrderPending, false},
		{OrderCancelled, OrderCompleted, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
			t.Fatalf("%s -> %s: expected %t, got %t", tt.from, tt.to, tt.want, got)
		}
	}
}

func TestTerminalStates(t *testing.T) {
	for _, s := range []OrderStatus{OrderCompleted, OrderCancelled} {
		if !s.Terminal() {
			t.Fatalf("expected %s to be terminal", s)
		}
	}
	for _, s := range []OrderStatus{OrderPending, OrderPaymentConfirmed, OrderInProgress} {
		if s.Terminal() {
			t.Fatalf("expected %s to be non-terminal", s)
		}
	}
}
