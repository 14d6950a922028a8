package types

// PaymentStatus represents the lifecycle state of a Payment record.
// Status advances monotonically pending -> completed -> refunded;
// failed is a terminal sibling of pending.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

// rank orders payment statuses for monotonicity checks. refunded and failed
// are terminal; failed ranks alongside completed so a refund can never be
// "downgraded" back to it.
func (s PaymentStatus) rank() int {
	switch s {
	case PaymentPending:
		return 0
	case PaymentCompleted, PaymentFailed:
		return 1
	case PaymentRefunded:
		return 2
	default:
		return -1
	}
}

// CanTransitionTo reports whether a status change respects the monotonic
// ordering. Equal-rank transitions are allowed only when idempotent
// (same status).
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	if s == next {
		return true
	}
	// failed and completed are siblings; neither may replace the other.
	if s.rank() == next.rank() {
		return false
	}
	return next.rank() > s.rank()
}

// SubscriptionTier defines the benefit level a User currently holds.
type SubscriptionTier string

const (
	TierFree       SubscriptionTier = "free"
	TierPro        SubscriptionTier = "pro"
	TierEnterprise SubscriptionTier = "enterprise"
)

// DiscountType identifies how a discount was computed by the provider.
type DiscountType string

const (
	DiscountFixed      DiscountType = "fixed"
	DiscountPercentage DiscountType = "percentage"
)

// EventOutcome records how an inbound webhook event was handled.
type EventOutcome string

const (
	OutcomeProcessed  EventOutcome = "processed"
	OutcomeSkipped    EventOutcome = "skipped"
	OutcomeSoftFailed EventOutcome = "soft_failed"
	OutcomeDuplicate  EventOutcome = "duplicate"
)
