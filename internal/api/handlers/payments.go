package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"polarsync/internal/core"
	"polarsync/internal/types"
)

// invoiceRetryDelay is how long to wait before the single re-fetch after
// kicking off invoice generation. Provider generation typically completes
// within a couple of seconds.
const invoiceRetryDelay = 2 * time.Second

// PaymentReader is the subset of the payment repository the API surface
// needs.
type PaymentReader interface {
	GetByID(ctx context.Context, id string) (*types.Payment, error)
	GetByCheckoutID(ctx context.Context, checkoutID string) (*types.Payment, error)
	ListByEmail(ctx context.Context, email string) ([]*types.Payment, error)
}

// CheckoutOpener opens hosted checkout sessions with the payment provider.
type CheckoutOpener interface {
	CreateCheckoutSession(ctx context.Context, req types.CheckoutRequest) (*types.CheckoutSession, error)
}

// InvoiceFetcher generates and retrieves provider invoices.
type InvoiceFetcher interface {
	GenerateInvoice(ctx context.Context, orderID string) error
	GetInvoice(ctx context.Context, orderID string) (*types.OrderInvoice, error)
}

// PaymentsHandler exposes the checkout and payment query API.
type PaymentsHandler struct {
	payments   PaymentReader
	checkouts  CheckoutOpener
	invoices   InvoiceFetcher
	validator  *core.Validator
	successURL string
	logger     *slog.Logger
	sleepFn    func(time.Duration)
}

// NewPaymentsHandler creates a PaymentsHandler. successURL is where the
// provider redirects the customer after a completed checkout.
func NewPaymentsHandler(
	payments PaymentReader,
	checkouts CheckoutOpener,
	invoices InvoiceFetcher,
	validator *core.Validator,
	successURL string,
	logger *slog.Logger,
) *PaymentsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PaymentsHandler{
		payments:   payments,
		checkouts:  checkouts,
		invoices:   invoices,
		validator:  validator,
		successURL: successURL,
		logger:     logger,
		sleepFn:    time.Sleep,
	}
}

// RegisterRoutes mounts the payment API under the v1 group.
func (h *PaymentsHandler) RegisterRoutes(r chi.Router) {
	r.Post("/checkouts", h.CreateCheckout)
	r.Get("/payments", h.ListPayments)
	r.Get("/payments/checkout/{checkoutID}", h.GetPaymentByCheckout)
	r.Get("/payments/{paymentID}/invoice", h.GetPaymentInvoice)
}

// createCheckoutRequest is the client-facing checkout creation payload.
// successUrl falls back to the configured redirect; the external customer id
// falls back to the lower-cased email so webhook events carry it back.
type createCheckoutRequest struct {
	ProductID          string `json:"productId" validate:"required"`
	SuccessURL         string `json:"successUrl" validate:"omitempty,url"`
	CustomerEmail      string `json:"customerEmail" validate:"omitempty,email"`
	ExternalCustomerID string `json:"externalCustomerId" validate:"omitempty"`
}

// CreateCheckout opens a hosted checkout session.
func (h *PaymentsHandler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	var req createCheckoutRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.CustomerEmail))
	externalID := strings.ToLower(strings.TrimSpace(req.ExternalCustomerID))
	if externalID == "" {
		externalID = email
	}
	successURL := req.SuccessURL
	if successURL == "" {
		successURL = h.successURL
	}

	session, err := h.checkouts.CreateCheckoutSession(r.Context(), types.CheckoutRequest{
		ProductID:          req.ProductID,
		SuccessURL:         successURL,
		CustomerEmail:      email,
		ExternalCustomerID: externalID,
	})
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "checkout session created",
		"checkout_id", session.ID,
		"product_id", req.ProductID,
	)
	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: session})
}

// ListPayments returns all payments recorded for an email address, newest
// first.
func (h *PaymentsHandler) ListPayments(w http.ResponseWriter, r *http.Request) {
	email := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("email")))
	if email == "" {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"email query parameter is required",
			nil,
		))
		return
	}

	payments, err := h.payments.ListByEmail(r.Context(), email)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: payments})
}

// GetPaymentByCheckout returns the payment created for a checkout session.
// Frontends poll this after the provider redirects the customer back.
func (h *PaymentsHandler) GetPaymentByCheckout(w http.ResponseWriter, r *http.Request) {
	checkoutID := chi.URLParam(r, "checkoutID")

	payment, err := h.payments.GetByCheckoutID(r.Context(), checkoutID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: payment})
}

// GetPaymentInvoice returns the invoice URL for a completed payment. When
// the provider has not generated the invoice yet, generation is requested
// and the fetch retried once after a short delay. Invoice URLs expire, so
// the response is never cached.
func (h *PaymentsHandler) GetPaymentInvoice(w http.ResponseWriter, r *http.Request) {
	paymentID := chi.URLParam(r, "paymentID")

	payment, err := h.payments.GetByID(r.Context(), paymentID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if payment.Status != types.PaymentCompleted && payment.Status != types.PaymentRefunded {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeNotFoundInvoice,
			"payment has no invoice",
			nil,
		))
		return
	}
	orderID := payment.Metadata.GetString(types.MetaOrderID)
	if orderID == "" {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeNotFoundInvoice,
			"payment has no associated order",
			nil,
		))
		return
	}

	invoice, err := h.fetchInvoice(r.Context(), orderID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: invoice})
}

// fetchInvoice retrieves the invoice, triggering generation and one delayed
// retry when it does not exist yet. A generation conflict means another
// request already triggered it, which is equally fine.
func (h *PaymentsHandler) fetchInvoice(ctx context.Context, orderID string) (*types.OrderInvoice, error) {
	invoice, err := h.invoices.GetInvoice(ctx, orderID)
	if err == nil {
		return invoice, nil
	}

	var appErr *types.AppError
	if !errors.As(err, &appErr) || appErr.Code != types.ErrCodeNotFoundInvoice {
		return nil, err
	}

	if genErr := h.invoices.GenerateInvoice(ctx, orderID); genErr != nil {
		var genAppErr *types.AppError
		if !errors.As(genErr, &genAppErr) || genAppErr.Code != types.ErrCodeConflictInvoiceExists {
			return nil, genErr
		}
	}

	h.sleepFn(invoiceRetryDelay)
	return h.invoices.GetInvoice(ctx, orderID)
}
