package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"polarsync/internal/reconcile"
	"polarsync/internal/types"
)

// sendGridAPIBase is the default SendGrid API base URL.
// Overridable in tests via SendGridClientConfig.BaseURL.
const sendGridAPIBase = "https://api.sendgrid.com"

// SendGridClientConfig holds the configuration for creating a SendGridClient.
type SendGridClientConfig struct {
	APIKey      string
	FromAddress string
	FromName    string
	TemplateID  string
	BaseURL     string // Override for testing; defaults to sendGridAPIBase
	Logger      *slog.Logger
}

// SendGridClient delivers customer notifications by making direct HTTP
// calls to the SendGrid v3 Mail Send API through BaseClient, inheriting
// the platform's resilience behavior.
type SendGridClient struct {
	base   *BaseClient
	cfg    SendGridClientConfig
	logger *slog.Logger
}

// NewSendGridClient creates a new SendGridClient.
func NewSendGridClient(httpClient *http.Client, cfg SendGridClientConfig) *SendGridClient {
	base := NewBaseClient(
		httpClient,
		"sendgrid",
		RetryPolicy{
			MaxRetries: 2,
			MinWait:    500 * time.Millisecond,
			MaxWait:    5 * time.Second,
		},
		"polarsync/1.0",
	)
	return NewSendGridClientWithBase(base, cfg)
}

// NewSendGridClientWithBase creates a SendGridClient with a pre-configured
// BaseClient. This is useful for testing when you want to control retry
// behavior.
func NewSendGridClientWithBase(base *BaseClient, cfg SendGridClientConfig) *SendGridClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = sendGridAPIBase
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &SendGridClient{base: base, cfg: cfg, logger: logger}
}

// sendGridMailPayload is the v3 mail/send request shape with a dynamic
// template.
type sendGridMailPayload struct {
	Personalizations []sendGridPersonalization `json:"personalizations"`
	From             sendGridAddress           `json:"from"`
	TemplateID       string                    `json:"template_id"`
}

type sendGridPersonalization struct {
	To           []sendGridAddress `json:"to"`
	TemplateData map[string]any    `json:"dynamic_template_data"`
}

type sendGridAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// SendInvoiceReady emails the customer the retrievable invoice URL through
// a SendGrid dynamic template. SendGrid answers 202 on acceptance.
func (s *SendGridClient) SendInvoiceReady(ctx context.Context, n reconcile.InvoiceNotification) error {
	payload := sendGridMailPayload{
		Personalizations: []sendGridPersonalization{
			{
				To: []sendGridAddress{{Email: n.To}},
				TemplateData: map[string]any{
					"order_id":     n.OrderID,
					"amount":       formatMinorUnits(n.Amount),
					"currency":     strings.ToUpper(n.Currency),
					"product_name": n.ProductName,
					"invoice_url":  n.InvoiceURL,
				},
			},
		},
		From:       sendGridAddress{Email: s.cfg.FromAddress, Name: s.cfg.FromName},
		TemplateID: s.cfg.TemplateID,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to marshal mail payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/v3/mail/send", bytes.NewReader(body))
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create mail send request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)

	resp, err := s.base.Do(req)
	if err != nil {
		return types.NewAppError(types.ErrCodeUpstreamEmailProvider, "mail send failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return types.NewAppError(
			types.ErrCodeUpstreamEmailProvider,
			fmt.Sprintf("mail send returned %d", resp.StatusCode),
			nil,
		)
	}

	s.logger.InfoContext(ctx, "invoice notification sent",
		"to", n.To,
		"order_id", n.OrderID,
		"message_id", resp.Header.Get("X-Message-Id"),
	)
	return nil
}

// formatMinorUnits renders an integer minor-unit amount as a decimal string
// for the email template.
func formatMinorUnits(amount int64) string {
	return fmt.Sprintf("%d.%02d", amount/100, amount%100)
}

// Compile-time assertion that SendGridClient satisfies the dispatcher's
// email contract.
var _ reconcile.EmailSender = (*SendGridClient)(nil)
