package reconcile

import (
	"time"

	"polarsync/internal/types"
)

// Checkout statuses the provider reports that drive ledger transitions.
const (
	checkoutStatusConfirmed = "confirmed"
	checkoutStatusFailed    = "failed"
)

// The ledger's transition functions are pure: each takes the current payment
// value and an event variant and returns the next payment value, leaving the
// input untouched. Status moves only forward (pending -> completed ->
// refunded, with failed as a terminal sibling of pending); a disallowed
// transition keeps the current status while metadata annotations still
// apply. All monetary figures are integer minor units, post-discount and
// pre-refund. Refunds annotate the metadata bag rather than mutating the
// amount so the original sale value stays queryable.

// NewPaymentFromCheckout builds the pending payment for a fresh checkout.
func NewPaymentFromCheckout(paymentID string, c *CheckoutData, now time.Time) types.Payment {
	amount, original := netOverGross(c.Amount, c.NetAmount)

	p := types.Payment{
		ID:             paymentID,
		CheckoutID:     c.ID,
		CustomerID:     c.CustomerID,
		CustomerEmail:  c.CustomerEmail,
		ProductID:      c.ProductID,
		Amount:         amount,
		OriginalAmount: original,
		Currency:       c.Currency,
		Status:         types.PaymentPending,
		EventType:      EventCheckoutCreated,
		FeatureDate:    metaString(c.Metadata, "feature_date"),
		AppName:        metaString(c.Metadata, "app_name"),
		Metadata:       types.PaymentMetadata{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if c.Product != nil {
		p.ProductName = c.Product.Name
		if p.ProductID == "" {
			p.ProductID = c.Product.ID
		}
	}
	mergeDiscount(&p, c.DiscountAmount, c.Discount)
	return p
}

// ApplyCheckoutUpdate folds a checkout.updated event into an existing
// payment. The payment completes only when the provider reports the
// checkout confirmed; a reported failure moves a pending payment to failed.
// Newly present discount fields are merged and the provider status is
// recorded in the metadata bag.
func ApplyCheckoutUpdate(p types.Payment, c *CheckoutData, now time.Time) types.Payment {
	next := clonePayment(p)

	switch c.Status {
	case checkoutStatusConfirmed:
		advance(&next, types.PaymentCompleted, EventCheckoutUpdated, now)
	case checkoutStatusFailed:
		advance(&next, types.PaymentFailed, EventCheckoutUpdated, now)
	default:
		next.EventType = EventCheckoutUpdated
		next.UpdatedAt = now
	}

	if c.Status != "" {
		next.Metadata[types.MetaCheckoutStatus] = c.Status
	}
	if c.CustomerID != "" {
		next.CustomerID = c.CustomerID
	}
	if c.CustomerEmail != "" && next.CustomerEmail == "" {
		next.CustomerEmail = c.CustomerEmail
	}
	if amount, original := netOverGross(c.Amount, c.NetAmount); c.Amount != 0 || c.NetAmount != nil {
		next.Amount = amount
		if original != 0 {
			next.OriginalAmount = original
		}
	}
	mergeDiscount(&next, c.DiscountAmount, c.Discount)
	return next
}

// ApplyOrderCreated completes an existing payment with the authoritative
// order total and links the order id for later refund and invoice lookups.
func ApplyOrderCreated(p types.Payment, o *OrderData, now time.Time) types.Payment {
	next := clonePayment(p)
	advance(&next, types.PaymentCompleted, EventOrderCreated, now)

	amount, original := netOverGross(o.TotalAmount, o.NetAmount)
	next.Amount = amount
	if original != 0 {
		next.OriginalAmount = original
	}
	annotateOrder(&next, o)
	mergeDiscount(&next, o.DiscountAmount, o.Discount)
	return next
}

// NewPaymentFromOrder creates a completed payment directly from an order
// event. This covers out-of-order delivery where the order arrives before,
// or without, its checkout event.
func NewPaymentFromOrder(paymentID string, o *OrderData, now time.Time) types.Payment {
	amount, original := netOverGross(o.TotalAmount, o.NetAmount)

	p := types.Payment{
		ID:             paymentID,
		CheckoutID:     o.CheckoutID,
		CustomerID:     o.CustomerID,
		CustomerEmail:  orderEmail(o),
		ProductID:      o.ProductID,
		Amount:         amount,
		OriginalAmount: original,
		Currency:       o.Currency,
		Status:         types.PaymentCompleted,
		EventType:      EventOrderCreated,
		FeatureDate:    metaString(o.Metadata, "feature_date"),
		AppName:        metaString(o.Metadata, "app_name"),
		Metadata:       types.PaymentMetadata{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if o.Product != nil {
		p.ProductName = o.Product.Name
		if p.ProductID == "" {
			p.ProductID = o.Product.ID
		}
	}
	annotateOrder(&p, o)
	mergeDiscount(&p, o.DiscountAmount, o.Discount)
	return p
}

// ApplyOrderPaid marks the payment completed and records the paid
// timestamp. Reapplying the same event is a no-op transition.
func ApplyOrderPaid(p types.Payment, o *OrderData, now time.Time) types.Payment {
	next := clonePayment(p)
	advance(&next, types.PaymentCompleted, EventOrderPaid, now)
	next.Metadata[types.MetaPaidAt] = now.UTC().Format(time.RFC3339)
	annotateOrder(&next, o)
	return next
}

// ApplyOrderUpdate annotates the payment with the order's current state.
// Invoice readiness is recorded here; the dispatcher reads it back to send
// the invoice notification. Status never changes on order.updated.
func ApplyOrderUpdate(p types.Payment, o *OrderData, now time.Time) types.Payment {
	next := clonePayment(p)
	next.UpdatedAt = now
	annotateOrder(&next, o)
	if o.IsInvoiceGenerated {
		next.Metadata[types.MetaInvoiceGenerated] = true
	}
	return next
}

// ApplyRefund moves the payment to refunded and records the refund details
// in the metadata bag. Once refunded, no later event moves the payment back
// to completed or pending.
func ApplyRefund(p types.Payment, eventType string, r *RefundData, now time.Time) types.Payment {
	next := clonePayment(p)
	advance(&next, types.PaymentRefunded, eventType, now)
	next.Metadata[types.MetaRefundedAt] = now.UTC().Format(time.RFC3339)
	if r != nil {
		if r.ID != "" {
			next.Metadata[types.MetaRefundID] = r.ID
		}
		if r.Amount != 0 {
			next.Metadata[types.MetaRefundAmount] = r.Amount
		}
		if r.Reason != "" {
			next.Metadata[types.MetaRefundReason] = r.Reason
		}
	}
	return next
}

// NewPaymentFromSubscription creates a completed payment for a new
// subscription, carrying the subscription id and period end in the
// metadata bag.
func NewPaymentFromSubscription(paymentID string, s *SubscriptionData, now time.Time) types.Payment {
	p := types.Payment{
		ID:            paymentID,
		CheckoutID:    s.CheckoutID,
		CustomerID:    s.CustomerID,
		CustomerEmail: subscriptionEmail(s),
		ProductID:     s.ProductID,
		Amount:        s.Amount,
		Currency:      s.Currency,
		Status:        types.PaymentCompleted,
		EventType:     EventSubCreated,
		Metadata:      types.PaymentMetadata{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if s.Product != nil {
		p.ProductName = s.Product.Name
		if p.ProductID == "" {
			p.ProductID = s.Product.ID
		}
	}
	annotateSubscription(&p, s)
	return p
}

// ApplySubscriptionUpdate annotates an existing payment with the
// subscription's current state. Cancellation does not flip the payment
// status; revoking the user's tier is the authoritative effect and happens
// in the projection.
func ApplySubscriptionUpdate(p types.Payment, s *SubscriptionData, eventType string, now time.Time) types.Payment {
	next := clonePayment(p)
	next.EventType = eventType
	next.UpdatedAt = now
	annotateSubscription(&next, s)
	if eventType == EventSubCanceled {
		canceledAt := now
		if s.CanceledAt != nil {
			canceledAt = *s.CanceledAt
		}
		next.Metadata[types.MetaCanceledAt] = canceledAt.UTC().Format(time.RFC3339)
	}
	return next
}

// --- helpers ---

// clonePayment copies the payment with an independent, non-nil metadata bag.
func clonePayment(p types.Payment) types.Payment {
	next := p
	next.Metadata = p.Metadata.Clone()
	if next.Metadata == nil {
		next.Metadata = types.PaymentMetadata{}
	}
	return next
}

// advance applies a status transition if the monotonic ordering allows it,
// and records event provenance either way.
func advance(p *types.Payment, next types.PaymentStatus, eventType string, now time.Time) {
	if p.Status.CanTransitionTo(next) {
		p.Status = next
	}
	p.EventType = eventType
	p.UpdatedAt = now
}

// netOverGross resolves the authoritative amount when an event carries both
// a gross figure and a post-discount net figure: net wins, gross is retained
// as the original amount.
func netOverGross(gross int64, net *int64) (amount, original int64) {
	if net != nil {
		return *net, gross
	}
	return gross, 0
}

// mergeDiscount folds discount fields from an event into the payment. The
// top-level discountAmount wins over the nested object's amount when both
// are present; the nested object supplies code, id and type.
func mergeDiscount(p *types.Payment, topLevel *int64, d *DiscountRef) {
	if d != nil {
		if d.Code != "" {
			p.DiscountCode = d.Code
		}
		if d.ID != "" {
			p.DiscountID = d.ID
		}
		if d.Type != "" {
			p.DiscountType = d.Type
		}
	}
	switch {
	case topLevel != nil:
		p.DiscountAmount = *topLevel
	case d != nil && d.Amount != 0:
		p.DiscountAmount = d.Amount
	}
}

// annotateOrder records order linkage on the payment.
func annotateOrder(p *types.Payment, o *OrderData) {
	if o.ID != "" {
		p.Metadata[types.MetaOrderID] = o.ID
	}
	if o.SubscriptionID != "" {
		p.Metadata[types.MetaSubscriptionID] = o.SubscriptionID
	}
	if p.CustomerID == "" && o.CustomerID != "" {
		p.CustomerID = o.CustomerID
	}
	if p.CustomerEmail == "" {
		p.CustomerEmail = orderEmail(o)
	}
}

// annotateSubscription records subscription linkage on the payment.
func annotateSubscription(p *types.Payment, s *SubscriptionData) {
	if s.ID != "" {
		p.Metadata[types.MetaSubscriptionID] = s.ID
	}
	if s.CurrentPeriodEnd != nil {
		p.Metadata[types.MetaPeriodEnd] = s.CurrentPeriodEnd.UTC().Format(time.RFC3339)
	}
	if p.CustomerID == "" && s.CustomerID != "" {
		p.CustomerID = s.CustomerID
	}
}

// orderEmail returns the best email the order event carries.
func orderEmail(o *OrderData) string {
	if o.CustomerEmail != "" {
		return o.CustomerEmail
	}
	if o.Customer != nil {
		return o.Customer.Email
	}
	return ""
}

// subscriptionEmail returns the best email the subscription event carries.
func subscriptionEmail(s *SubscriptionData) string {
	if s.Customer != nil {
		return s.Customer.Email
	}
	return ""
}
