// Package reconcile implements the webhook event-reconciliation core: the
// rules by which inbound, possibly-out-of-order, possibly-duplicated provider
// events are folded into the local payment and user records.
//
// The package is organized around a typed event union (this file), pure
// ledger transitions (ledger.go), identifier resolution (resolver.go), the
// user projection (projection.go), the side-effect dispatcher
// (dispatcher.go), and the processor that orchestrates them (processor.go).
package reconcile

import (
	"encoding/json"
	"time"

	"polarsync/internal/types"
)

// Provider event types handled by the reconciliation core. Any other type
// is acknowledged and ignored.
const (
	EventCheckoutCreated = "checkout.created"
	EventCheckoutUpdated = "checkout.updated"
	EventOrderCreated    = "order.created"
	EventOrderPaid       = "order.paid"
	EventOrderUpdated    = "order.updated"
	EventOrderRefunded   = "order.refunded"
	EventRefundCreated   = "refund.created"
	EventSubCreated      = "subscription.created"
	EventSubUpdated      = "subscription.updated"
	EventSubCanceled     = "subscription.canceled"
	EventCustomerCreated = "customer.created"
	EventCustomerUpdated = "customer.updated"
	EventCustomerState   = "customer.state_changed"
)

// Event is the tagged union of provider event variants. Exactly one of the
// data pointers is non-nil for a recognized type; all are nil for types the
// core does not handle. Payload validation happens once here, at the
// boundary, never in the transition functions.
type Event struct {
	Type string

	Checkout     *CheckoutData
	Order        *OrderData
	Subscription *SubscriptionData
	Customer     *CustomerData
	Refund       *RefundData
}

// CustomerRef is the nested customer object some events carry.
type CustomerRef struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	ExternalID string `json:"externalId"`
}

// ProductRef is the nested product object carried by checkout, order and
// subscription events.
type ProductRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// DiscountRef is the nested discount object. Its Amount is only a fallback;
// the top-level discountAmount field on the event wins when both are
// present.
type DiscountRef struct {
	ID     string             `json:"id"`
	Code   string             `json:"code"`
	Name   string             `json:"name"`
	Type   types.DiscountType `json:"type"`
	Amount int64              `json:"amount"`
}

// CheckoutData is the payload of checkout.created and checkout.updated.
type CheckoutData struct {
	ID     string `json:"id"`
	Status string `json:"status"`

	CustomerID         string       `json:"customerId"`
	CustomerEmail      string       `json:"customerEmail"`
	CustomerExternalID string       `json:"customerExternalId"`
	Customer           *CustomerRef `json:"customer"`

	ProductID string      `json:"productId"`
	Product   *ProductRef `json:"product"`

	// Amount is the gross total; NetAmount, when present, is the
	// authoritative post-discount total.
	Amount         int64        `json:"amount"`
	NetAmount      *int64       `json:"netAmount"`
	DiscountAmount *int64       `json:"discountAmount"`
	Currency       string       `json:"currency"`
	Discount       *DiscountRef `json:"discount"`

	Metadata map[string]any `json:"metadata"`
}

// OrderData is the payload of order.created, order.paid, order.updated and
// order.refunded.
type OrderData struct {
	ID         string `json:"id"`
	CheckoutID string `json:"checkoutId"`
	Status     string `json:"status"`

	CustomerID         string       `json:"customerId"`
	CustomerEmail      string       `json:"customerEmail"`
	CustomerExternalID string       `json:"customerExternalId"`
	Customer           *CustomerRef `json:"customer"`

	ProductID string      `json:"productId"`
	Product   *ProductRef `json:"product"`

	// TotalAmount is the authoritative order total (gross); NetAmount, when
	// present, is the post-discount figure and wins for the ledger amount.
	TotalAmount    int64        `json:"totalAmount"`
	NetAmount      *int64       `json:"netAmount"`
	DiscountAmount *int64       `json:"discountAmount"`
	Currency       string       `json:"currency"`
	Discount       *DiscountRef `json:"discount"`

	SubscriptionID string `json:"subscriptionId"`

	// IsInvoiceGenerated flips to true on the order.updated event that
	// signals the retrievable invoice is ready.
	IsInvoiceGenerated bool `json:"isInvoiceGenerated"`

	Metadata map[string]any `json:"metadata"`
}

// SubscriptionData is the payload of subscription.created, .updated and
// .canceled.
type SubscriptionData struct {
	ID         string `json:"id"`
	CheckoutID string `json:"checkoutId"`
	Status     string `json:"status"`

	CustomerID         string       `json:"customerId"`
	CustomerExternalID string       `json:"customerExternalId"`
	Customer           *CustomerRef `json:"customer"`

	ProductID string      `json:"productId"`
	Product   *ProductRef `json:"product"`

	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`

	CurrentPeriodEnd *time.Time `json:"currentPeriodEnd"`
	CanceledAt       *time.Time `json:"canceledAt"`

	Metadata map[string]any `json:"metadata"`
}

// CustomerData is the payload of customer.created, .updated and
// .state_changed.
type CustomerData struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	ExternalID string `json:"externalId"`
}

// RefundData is the payload of refund.created.
type RefundData struct {
	ID             string `json:"id"`
	OrderID        string `json:"orderId"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	Reason         string `json:"reason"`
	RevokeBenefits bool   `json:"revokeBenefits"`
}

// webhookEnvelope is the outer shape every provider event shares.
type webhookEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ParseEvent decodes a raw, already-verified webhook payload into the typed
// event union. Unrecognized event types parse successfully with all variant
// pointers nil so the caller can acknowledge and skip them. Malformed JSON
// is a validation error.
func ParseEvent(payload []byte) (*Event, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "invalid webhook event JSON", err)
	}
	if env.Type == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "webhook event has no type", nil)
	}

	event := &Event{Type: env.Type}

	var target any
	switch env.Type {
	case EventCheckoutCreated, EventCheckoutUpdated:
		event.Checkout = &CheckoutData{}
		target = event.Checkout
	case EventOrderCreated, EventOrderPaid, EventOrderUpdated, EventOrderRefunded:
		event.Order = &OrderData{}
		target = event.Order
	case EventSubCreated, EventSubUpdated, EventSubCanceled:
		event.Subscription = &SubscriptionData{}
		target = event.Subscription
	case EventCustomerCreated, EventCustomerUpdated, EventCustomerState:
		event.Customer = &CustomerData{}
		target = event.Customer
	case EventRefundCreated:
		event.Refund = &RefundData{}
		target = event.Refund
	default:
		return event, nil
	}

	if len(env.Data) == 0 {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "webhook event has no data", nil)
	}
	if err := json.Unmarshal(env.Data, target); err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "invalid webhook event data", err)
	}
	return event, nil
}

// metaString reads a string-valued key from a loosely-typed provider
// metadata object.
func metaString(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
