package external

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"polarsync/internal/reconcile"
	"polarsync/internal/types"
)

func newTestSendGridClient(t *testing.T, handler http.HandlerFunc) *SendGridClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	base := NewBaseClient(
		server.Client(),
		"sendgrid-test",
		RetryPolicy{MaxRetries: 0, MinWait: time.Millisecond, MaxWait: time.Millisecond},
		"polarsync-test",
		WithSleepFunc(func(time.Duration) {}),
	)
	return NewSendGridClientWithBase(base, SendGridClientConfig{
		APIKey:      "SG.test",
		FromAddress: "billing@example.com",
		FromName:    "Billing",
		TemplateID:  "d-invoice-ready",
		BaseURL:     server.URL,
	})
}

func TestSendInvoiceReady(t *testing.T) {
	var gotPayload sendGridMailPayload
	client := newTestSendGridClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v3/mail/send" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer SG.test" {
			t.Errorf("Authorization = %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		w.Header().Set("X-Message-Id", "msg_abc")
		w.WriteHeader(http.StatusAccepted)
	})

	err := client.SendInvoiceReady(context.Background(), reconcile.InvoiceNotification{
		To:          "buyer@example.com",
		OrderID:     "order_1",
		Amount:      999,
		Currency:    "usd",
		ProductName: "Pro (Monthly)",
		InvoiceURL:  "https://polar.sh/invoices/inv_1.pdf",
	})
	if err != nil {
		t.Fatalf("SendInvoiceReady: %v", err)
	}

	if gotPayload.TemplateID != "d-invoice-ready" {
		t.Errorf("template_id = %q", gotPayload.TemplateID)
	}
	if len(gotPayload.Personalizations) != 1 {
		t.Fatalf("personalizations = %+v", gotPayload.Personalizations)
	}
	p := gotPayload.Personalizations[0]
	if len(p.To) != 1 || p.To[0].Email != "buyer@example.com" {
		t.Errorf("to = %+v", p.To)
	}
	if p.TemplateData["amount"] != "9.99" || p.TemplateData["currency"] != "USD" {
		t.Errorf("template data = %+v", p.TemplateData)
	}
}

func TestSendInvoiceReady_ProviderRejects(t *testing.T) {
	client := newTestSendGridClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})

	err := client.SendInvoiceReady(context.Background(), reconcile.InvoiceNotification{
		To:      "buyer@example.com",
		OrderID: "order_1",
	})
	assertErrCode(t, err, types.ErrCodeUpstreamEmailProvider)
}

func TestFormatMinorUnits(t *testing.T) {
	cases := []struct {
		amount int64
		want   string
	}{
		{0, "0.00"},
		{5, "0.05"},
		{999, "9.99"},
		{120000, "1200.00"},
	}
	for _, tc := range cases {
		if got := formatMinorUnits(tc.amount); got != tc.want {
			t.Errorf("formatMinorUnits(%d) = %q, want %q", tc.amount, got, tc.want)
		}
	}
}
