package external

import (
	"context"

	"polarsync/internal/types"
)

// PolarService abstracts interactions with the payment provider.
// Implementations translate between domain types and the provider's REST
// API.
type PolarService interface {
	// CreateCheckoutSession opens a hosted checkout for the given product.
	// The external customer id is the caller's own user key and is echoed
	// back on webhook events for identity resolution.
	CreateCheckoutSession(ctx context.Context, req types.CheckoutRequest) (*types.CheckoutSession, error)

	// GenerateInvoice asks the provider to produce an invoice for the order.
	// An invoice that already exists surfaces as ErrCodeConflictInvoiceExists.
	GenerateInvoice(ctx context.Context, orderID string) error

	// GetInvoice returns the retrievable invoice for the order. The URL
	// expires roughly ten minutes after issuance.
	GetInvoice(ctx context.Context, orderID string) (*types.OrderInvoice, error)

	// CreateRefund refunds an order, optionally revoking the benefits it
	// granted.
	CreateRefund(ctx context.Context, orderID, reason string, amount int64, revokeBenefits bool) (*types.Refund, error)

	// ListRefunds returns the refunds recorded against the order.
	ListRefunds(ctx context.Context, orderID string) ([]types.Refund, error)
}

// WebhookHeaders carries the three signature headers every provider
// delivery includes.
type WebhookHeaders struct {
	ID        string
	Timestamp string
	Signature string
}

// WebhookVerifier validates that an inbound event payload genuinely
// originates from the payment provider.
type WebhookVerifier interface {
	// Verify checks the signature headers against the exact raw body bytes
	// and the shared signing secret. Returns nil on success; an AppError
	// with an auth_ code otherwise.
	Verify(payload []byte, headers WebhookHeaders, secret string) error
}
