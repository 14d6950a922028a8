// Package handlers contains the HTTP handler implementations for the API.
//
// The webhook handler is NOT behind any auth middleware; it is called
// directly by the payment provider. Security is provided by verifying the
// standard-webhooks signature headers.
package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"polarsync/internal/core"
	"polarsync/internal/external"
	"polarsync/internal/types"
)

// maxWebhookBodySize caps webhook payloads at 64 KB. Provider payloads are
// typically a few kilobytes; the limit protects against abuse.
const maxWebhookBodySize = 64 * 1024

// Standard-webhooks delivery headers.
const (
	headerWebhookID        = "webhook-id"
	headerWebhookTimestamp = "webhook-timestamp"
	headerWebhookSignature = "webhook-signature"
)

// EventProcessor reconciles one verified webhook delivery. This is the
// subset of the reconciliation processor the handler needs.
type EventProcessor interface {
	Process(ctx context.Context, eventID string, payload []byte) error
}

// PolarWebhookHandler handles asynchronous events from the payment provider.
type PolarWebhookHandler struct {
	verifier  external.WebhookVerifier
	processor EventProcessor
	secret    string
	logger    *slog.Logger
}

// NewPolarWebhookHandler creates a PolarWebhookHandler with the provided
// dependencies.
func NewPolarWebhookHandler(
	verifier external.WebhookVerifier,
	processor EventProcessor,
	secret string,
	logger *slog.Logger,
) *PolarWebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PolarWebhookHandler{
		verifier:  verifier,
		processor: processor,
		secret:    secret,
		logger:    logger,
	}
}

// RegisterRoutes mounts the webhook endpoint. Mounted under /webhooks by
// the server, outside the authenticated /v1 group.
func (h *PolarWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/polar", h.Handle)
}

// Handle processes an incoming webhook delivery:
//  1. Reads the raw body with a size limit.
//  2. Verifies the signature headers against the exact received bytes.
//  3. Hands the payload to the reconciliation processor.
//  4. Acknowledges with 200 and {"received": true}.
//
// Unverifiable deliveries are rejected with 401 so a misconfigured secret
// surfaces in the provider's delivery log. Processing failures that the
// processor classifies as hard (storage unavailable) return 500 so the
// provider redelivers; the event journal makes redelivery safe.
func (h *PolarWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.WarnContext(r.Context(), "failed to read webhook body",
			"error", err,
		)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"failed to read request body",
			err,
		))
		return
	}

	headers := external.WebhookHeaders{
		ID:        r.Header.Get(headerWebhookID),
		Timestamp: r.Header.Get(headerWebhookTimestamp),
		Signature: r.Header.Get(headerWebhookSignature),
	}

	if err := h.verifier.Verify(payload, headers, h.secret); err != nil {
		h.logger.WarnContext(r.Context(), "webhook signature verification failed",
			"webhook_id", headers.ID,
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	if err := h.processor.Process(r.Context(), headers.ID, payload); err != nil {
		h.logger.ErrorContext(r.Context(), "webhook event processing failed",
			"webhook_id", headers.ID,
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, map[string]bool{"received": true})
}
