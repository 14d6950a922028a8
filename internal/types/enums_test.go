package types

import "testing"

func TestPaymentStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		name    string
		from    PaymentStatus
		to      PaymentStatus
		allowed bool
	}{
		{"pending to completed", PaymentPending, PaymentCompleted, true},
		{"pending to failed", PaymentPending, PaymentFailed, true},
		{"pending to refunded", PaymentPending, PaymentRefunded, true},
		{"completed to refunded", PaymentCompleted, PaymentRefunded, true},
		{"completed to completed is idempotent", PaymentCompleted, PaymentCompleted, true},
		{"refunded to completed is forbidden", PaymentRefunded, PaymentCompleted, false},
		{"refunded to pending is forbidden", PaymentRefunded, PaymentPending, false},
		{"refunded to refunded is idempotent", PaymentRefunded, PaymentRefunded, true},
		{"completed to pending is forbidden", PaymentCompleted, PaymentPending, false},
		{"failed to completed is forbidden", PaymentFailed, PaymentCompleted, false},
		{"completed to failed is forbidden", PaymentCompleted, PaymentFailed, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.allowed {
				t.Errorf("CanTransitionTo(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.allowed)
			}
		})
	}
}
