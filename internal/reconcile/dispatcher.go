package reconcile

import (
	"context"
	"errors"
	"log/slog"

	"polarsync/internal/types"
)

// InvoiceService is the subset of the provider client the dispatcher needs.
type InvoiceService interface {
	// GenerateInvoice asks the provider to produce an invoice for the
	// order. An invoice that already exists surfaces as an AppError with
	// ErrCodeConflictInvoiceExists.
	GenerateInvoice(ctx context.Context, orderID string) error

	// GetInvoice returns the retrievable invoice. Its URL expires roughly
	// ten minutes after issuance.
	GetInvoice(ctx context.Context, orderID string) (*types.OrderInvoice, error)
}

// InvoiceNotification carries everything the email collaborator needs to
// tell a customer their invoice is ready.
type InvoiceNotification struct {
	To          string
	OrderID     string
	Amount      int64
	Currency    string
	ProductName string
	InvoiceURL  string
}

// EmailSender delivers customer-facing notifications.
type EmailSender interface {
	SendInvoiceReady(ctx context.Context, n InvoiceNotification) error
}

// MetricsEmitter publishes processing metrics. Implementations must be safe
// to call with a canceled context; emission is fire-and-forget.
type MetricsEmitter interface {
	EventProcessed(ctx context.Context, eventType string, outcome types.EventOutcome)
	CollaboratorFailure(ctx context.Context, collaborator string)
}

// Dispatcher fires follow-up side effects after order-completion
// transitions. Every failure here is logged and swallowed: the provider
// retries the whole event on a non-200 acknowledgment, so a flaky invoice
// or email collaborator must never surface in the webhook response.
type Dispatcher struct {
	invoices InvoiceService
	email    EmailSender
	metrics  MetricsEmitter
	logger   *slog.Logger
}

// NewDispatcher creates a Dispatcher. The email sender and metrics emitter
// may be nil; the corresponding side effects are then skipped.
func NewDispatcher(invoices InvoiceService, email EmailSender, metrics MetricsEmitter, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{invoices: invoices, email: email, metrics: metrics, logger: logger}
}

// EnsureInvoice requests invoice generation for the payment's order.
// Returns true when the invoice is known to exist afterwards, so the caller
// can persist the requested flag and skip the call on redelivery. A
// conflict response from the collaborator means the invoice was already
// generated and counts as success.
func (d *Dispatcher) EnsureInvoice(ctx context.Context, p *types.Payment) bool {
	orderID := p.Metadata.GetString(types.MetaOrderID)
	if orderID == "" {
		return false
	}
	if requested, _ := p.Metadata[types.MetaInvoiceRequested].(bool); requested {
		return false
	}

	if err := d.invoices.GenerateInvoice(ctx, orderID); err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeConflictInvoiceExists {
			return true
		}
		d.logger.ErrorContext(ctx, "invoice generation failed",
			"order_id", orderID,
			"payment_id", p.ID,
			"error", err,
		)
		d.collaboratorFailure(ctx, "invoice")
		return false
	}
	return true
}

// NotifyInvoiceReady fetches the retrievable invoice URL and emails it to
// the customer. Called when an order update reports the invoice generated.
func (d *Dispatcher) NotifyInvoiceReady(ctx context.Context, p *types.Payment, email string) {
	orderID := p.Metadata.GetString(types.MetaOrderID)
	if orderID == "" || email == "" {
		return
	}

	invoice, err := d.invoices.GetInvoice(ctx, orderID)
	if err != nil {
		d.logger.ErrorContext(ctx, "invoice retrieval failed",
			"order_id", orderID,
			"payment_id", p.ID,
			"error", err,
		)
		d.collaboratorFailure(ctx, "invoice")
		return
	}

	if d.email == nil {
		return
	}
	err = d.email.SendInvoiceReady(ctx, InvoiceNotification{
		To:          email,
		OrderID:     orderID,
		Amount:      p.Amount,
		Currency:    p.Currency,
		ProductName: p.ProductName,
		InvoiceURL:  invoice.URL,
	})
	if err != nil {
		d.logger.ErrorContext(ctx, "invoice notification email failed",
			"order_id", orderID,
			"to", email,
			"error", err,
		)
		d.collaboratorFailure(ctx, "email")
	}
}

func (d *Dispatcher) collaboratorFailure(ctx context.Context, collaborator string) {
	if d.metrics != nil {
		d.metrics.CollaboratorFailure(ctx, collaborator)
	}
}
