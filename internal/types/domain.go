// Package types holds the domain model shared by every layer of the service:
// Payment and User records, the error taxonomy, enumerations, and the JSONB
// codecs the repositories depend on.
package types

import "time"

// Payment is one record per checkout attempt. A second checkout always
// produces a second Payment, never an update to a prior one; the abandoned
// rows are kept for conversion analytics.
type Payment struct {
	ID         string `json:"id"`
	CheckoutID string `json:"checkoutId"`

	// CustomerID is the provider-assigned customer identifier. Assigned only
	// once the buyer completes identity-linked steps, so it may be empty.
	CustomerID    string `json:"customerId,omitempty"`
	CustomerEmail string `json:"customerEmail,omitempty"`

	ProductID   string `json:"productId,omitempty"`
	ProductName string `json:"productName,omitempty"`

	// Amount is the authoritative post-discount, pre-refund total in minor
	// units. Refunds annotate Metadata instead of mutating this field.
	Amount   int64  `json:"amount"`
	Currency string `json:"currency,omitempty"`

	Status PaymentStatus `json:"status"`

	// EventType records the name of the last provider event that mutated
	// this record. Overwritten on every relevant event for provenance.
	EventType string `json:"eventType"`

	DiscountCode   string       `json:"discountCode,omitempty"`
	DiscountID     string       `json:"discountId,omitempty"`
	DiscountAmount int64        `json:"discountAmount,omitempty"`
	DiscountType   DiscountType `json:"discountType,omitempty"`

	// OriginalAmount is the pre-discount (gross) total when the provider
	// supplied both net and gross figures.
	OriginalAmount int64 `json:"originalAmount,omitempty"`

	FeatureDate string `json:"featureDate,omitempty"`
	AppName     string `json:"appName,omitempty"`

	// Metadata is the open-ended bag carrying provider identifiers needed
	// for later operations: order id, subscription id, refund id, paid/refund
	// timestamps, invoice linkage.
	Metadata PaymentMetadata `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Well-known PaymentMetadata keys. The bag stays open-ended; these constants
// name the entries the reconciliation core itself reads back.
const (
	MetaOrderID          = "orderId"
	MetaSubscriptionID   = "subscriptionId"
	MetaPeriodEnd        = "currentPeriodEnd"
	MetaPaidAt           = "paidAt"
	MetaRefundID         = "refundId"
	MetaRefundAmount     = "refundedAmount"
	MetaRefundReason     = "refundReason"
	MetaRefundedAt       = "refundedAt"
	MetaCheckoutStatus   = "checkoutStatus"
	MetaInvoiceGenerated = "isInvoiceGenerated"
	MetaInvoiceRequested = "invoiceRequested"
	MetaCanceledAt       = "canceledAt"
)

// User is one record per distinct resolved identity, projected from the
// payment ledger. It carries no credentials.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`

	// CustomerID is the provider customer identifier, unique when present.
	CustomerID string `json:"customerId,omitempty"`

	Tier SubscriptionTier `json:"tier"`

	SubscriptionID     string     `json:"subscriptionId,omitempty"`
	SubscriptionEndsAt *time.Time `json:"subscriptionEndsAt,omitempty"`

	// PaymentIDs is the owned-payments reference list. Append is guarded to
	// be set-like; many Payments may reference one User.
	PaymentIDs StringList `json:"paymentIds,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Product is static reference data mapping a provider product id to the
// benefit tier it grants and its display name.
type Product struct {
	ID   string           `json:"id"`
	Name string           `json:"name"`
	Tier SubscriptionTier `json:"tier"`
}

// WebhookEvent is one row of the processed-event journal, keyed by the
// provider-assigned event id for duplicate detection. The raw payload is
// stored zstd-compressed for audit and replay.
type WebhookEvent struct {
	EventID    string       `json:"eventId"`
	EventType  string       `json:"eventType"`
	Outcome    EventOutcome `json:"outcome"`
	ReceivedAt time.Time    `json:"receivedAt"`
}

// CheckoutRequest is the inbound payload for creating a provider checkout
// session.
type CheckoutRequest struct {
	ProductID          string `json:"productId" validate:"required"`
	SuccessURL         string `json:"successUrl" validate:"required,url"`
	CustomerEmail      string `json:"customerEmail,omitempty" validate:"omitempty,email"`
	ExternalCustomerID string `json:"externalCustomerId,omitempty"`
}

// CheckoutSession is the provider's answer to a checkout creation call.
type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Refund mirrors the provider's refund record for the operations surface.
type Refund struct {
	ID             string    `json:"id"`
	OrderID        string    `json:"orderId"`
	Amount         int64     `json:"amount"`
	Reason         string    `json:"reason,omitempty"`
	RevokeBenefits bool      `json:"revokeBenefits"`
	CreatedAt      time.Time `json:"createdAt"`
}

// OrderInvoice is the retrievable invoice for a completed order. The URL
// expires roughly ten minutes after issuance.
type OrderInvoice struct {
	URL string `json:"url"`
}
