package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"polarsync/internal/reconcile"
	"polarsync/internal/types"
)

// Provider API base URLs per server environment.
const (
	polarProductionAPIBase = "https://api.polar.sh"
	polarSandboxAPIBase    = "https://sandbox-api.polar.sh"
)

// PolarClientConfig holds the configuration for creating a PolarClient.
type PolarClientConfig struct {
	AccessToken string
	Server      string // "production" or "sandbox"
	BaseURL     string // Override for testing; derived from Server when empty
	Logger      *slog.Logger
}

// PolarClient implements PolarService by making direct HTTP calls to the
// provider's REST API through BaseClient, so every call inherits the
// platform's resilience behavior (circuit breaker, retries, error mapping).
type PolarClient struct {
	base        *BaseClient
	accessToken string
	baseURL     string
	logger      *slog.Logger
}

// NewPolarClient creates a new PolarClient.
func NewPolarClient(httpClient *http.Client, cfg PolarClientConfig) *PolarClient {
	base := NewBaseClient(
		httpClient,
		"polar",
		DefaultRetryPolicy(),
		"polarsync/1.0",
	)
	return NewPolarClientWithBase(base, cfg)
}

// NewPolarClientWithBase creates a PolarClient with a pre-configured
// BaseClient. This is useful for testing when you want to control retry
// behavior.
func NewPolarClientWithBase(base *BaseClient, cfg PolarClientConfig) *PolarClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		if cfg.Server == "sandbox" {
			baseURL = polarSandboxAPIBase
		} else {
			baseURL = polarProductionAPIBase
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &PolarClient{
		base:        base,
		accessToken: cfg.AccessToken,
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		logger:      logger,
	}
}

// checkoutCreateBody is the provider's checkout creation payload.
type checkoutCreateBody struct {
	ProductID          string `json:"productId"`
	SuccessURL         string `json:"successUrl"`
	CustomerEmail      string `json:"customerEmail,omitempty"`
	CustomerExternalID string `json:"customerExternalId,omitempty"`
}

// CreateCheckoutSession opens a hosted checkout session for the product.
func (c *PolarClient) CreateCheckoutSession(ctx context.Context, req types.CheckoutRequest) (*types.CheckoutSession, error) {
	body := checkoutCreateBody{
		ProductID:          req.ProductID,
		SuccessURL:         req.SuccessURL,
		CustomerEmail:      req.CustomerEmail,
		CustomerExternalID: req.ExternalCustomerID,
	}

	resp, err := c.post(ctx, "/v1/checkouts", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, c.unexpectedStatus("CreateCheckoutSession", resp)
	}

	var session types.CheckoutSession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamPolar, "failed to decode checkout session response", err)
	}
	return &session, nil
}

// GenerateInvoice asks the provider to produce an invoice for the order.
// The provider answers 202 when generation starts and 409 when the invoice
// already exists; the conflict maps to ErrCodeConflictInvoiceExists so
// callers can treat it as already done.
func (c *PolarClient) GenerateInvoice(ctx context.Context, orderID string) error {
	resp, err := c.post(ctx, "/v1/orders/"+url.PathEscape(orderID)+"/invoice", struct{}{})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusAccepted, http.StatusCreated, http.StatusOK:
		return nil
	case http.StatusConflict:
		return types.NewAppError(types.ErrCodeConflictInvoiceExists, "invoice already generated", nil)
	case http.StatusNotFound:
		return types.NewAppError(types.ErrCodeNotFoundOrder, fmt.Sprintf("order %s not found", orderID), nil)
	default:
		return c.unexpectedStatus("GenerateInvoice", resp)
	}
}

// GetInvoice fetches the retrievable invoice for the order.
func (c *PolarClient) GetInvoice(ctx context.Context, orderID string) (*types.OrderInvoice, error) {
	resp, err := c.get(ctx, "/v1/orders/"+url.PathEscape(orderID)+"/invoice")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, types.NewAppError(types.ErrCodeNotFoundInvoice, fmt.Sprintf("invoice for order %s not ready", orderID), nil)
	default:
		return nil, c.unexpectedStatus("GetInvoice", resp)
	}

	var invoice types.OrderInvoice
	if err := json.NewDecoder(resp.Body).Decode(&invoice); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamPolar, "failed to decode invoice response", err)
	}
	return &invoice, nil
}

// refundCreateBody is the provider's refund creation payload.
type refundCreateBody struct {
	OrderID        string `json:"orderId"`
	Reason         string `json:"reason"`
	Amount         int64  `json:"amount"`
	RevokeBenefits bool   `json:"revokeBenefits"`
}

// CreateRefund refunds an order. The provider confirms the refund through a
// refund.created webhook event; the returned record is the immediate
// answer, not the reconciled state.
func (c *PolarClient) CreateRefund(ctx context.Context, orderID, reason string, amount int64, revokeBenefits bool) (*types.Refund, error) {
	body := refundCreateBody{
		OrderID:        orderID,
		Reason:         reason,
		Amount:         amount,
		RevokeBenefits: revokeBenefits,
	}

	resp, err := c.post(ctx, "/v1/refunds", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated, http.StatusOK:
	case http.StatusNotFound:
		return nil, types.NewAppError(types.ErrCodeNotFoundOrder, fmt.Sprintf("order %s not found", orderID), nil)
	case http.StatusUnprocessableEntity:
		return nil, types.NewAppError(types.ErrCodeValidationInvalidAmount, "refund amount rejected by provider", nil)
	default:
		return nil, c.unexpectedStatus("CreateRefund", resp)
	}

	var refund types.Refund
	if err := json.NewDecoder(resp.Body).Decode(&refund); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamPolar, "failed to decode refund response", err)
	}
	return &refund, nil
}

// refundListResponse is the provider's paginated refund listing. The core
// only ever needs the first page; an order has a handful of refunds at
// most.
type refundListResponse struct {
	Items []types.Refund `json:"items"`
}

// ListRefunds returns the refunds recorded against the order.
func (c *PolarClient) ListRefunds(ctx context.Context, orderID string) ([]types.Refund, error) {
	resp, err := c.get(ctx, "/v1/refunds?orderId="+url.QueryEscape(orderID))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.unexpectedStatus("ListRefunds", resp)
	}

	var list refundListResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamPolar, "failed to decode refund list response", err)
	}
	return list.Items, nil
}

// --- request plumbing ---

func (c *PolarClient) post(ctx context.Context, path string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to marshal provider request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create provider request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setAuthHeaders(req)

	return c.do(req)
}

func (c *PolarClient) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create provider request", err)
	}
	c.setAuthHeaders(req)

	return c.do(req)
}

func (c *PolarClient) do(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := c.base.Do(req)
	if err != nil {
		c.logger.WarnContext(req.Context(), "provider request failed",
			"method", req.Method,
			"path", req.URL.Path,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err,
		)
		return nil, err
	}
	return resp, nil
}

func (c *PolarClient) setAuthHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Accept", "application/json")
}

// unexpectedStatus drains a bounded slice of the error body for the log and
// maps the response to an upstream error.
func (c *PolarClient) unexpectedStatus(op string, resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	c.logger.WarnContext(resp.Request.Context(), "unexpected provider response",
		"op", op,
		"status", resp.StatusCode,
		"body", string(snippet),
	)
	return types.NewAppError(
		types.ErrCodeUpstreamPolar,
		fmt.Sprintf("%s: provider returned %d", op, resp.StatusCode),
		nil,
	)
}

// Compile-time assertions.
var (
	_ PolarService             = (*PolarClient)(nil)
	_ reconcile.InvoiceService = (*PolarClient)(nil)
)
