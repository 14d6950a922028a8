package external

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"polarsync/internal/types"
)

// newTestPolarClient points a PolarClient at an httptest server with retries
// disabled so failure cases return immediately.
func newTestPolarClient(t *testing.T, handler http.HandlerFunc) *PolarClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	base := NewBaseClient(
		server.Client(),
		"polar-test",
		RetryPolicy{MaxRetries: 0, MinWait: time.Millisecond, MaxWait: time.Millisecond},
		"polarsync-test",
		WithSleepFunc(func(time.Duration) {}),
	)
	return NewPolarClientWithBase(base, PolarClientConfig{
		AccessToken: "polar_at_test",
		BaseURL:     server.URL,
	})
}

func TestCreateCheckoutSession(t *testing.T) {
	var gotBody checkoutCreateBody
	client := newTestPolarClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/checkouts" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer polar_at_test" {
			t.Errorf("Authorization = %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(types.CheckoutSession{ID: "co_1", URL: "https://polar.sh/checkout/co_1"})
	})

	session, err := client.CreateCheckoutSession(context.Background(), types.CheckoutRequest{
		ProductID:          "prod_pro_monthly",
		SuccessURL:         "https://app.example.com/done",
		CustomerEmail:      "buyer@example.com",
		ExternalCustomerID: "buyer@example.com",
	})
	if err != nil {
		t.Fatalf("CreateCheckoutSession: %v", err)
	}
	if session.ID != "co_1" || session.URL == "" {
		t.Errorf("session = %+v", session)
	}
	if gotBody.CustomerExternalID != "buyer@example.com" {
		t.Errorf("customerExternalId = %q", gotBody.CustomerExternalID)
	}
}

func TestGenerateInvoice(t *testing.T) {
	cases := []struct {
		name     string
		status   int
		wantCode types.ErrorCode
	}{
		{"accepted", http.StatusAccepted, ""},
		{"already exists", http.StatusConflict, types.ErrCodeConflictInvoiceExists},
		{"unknown order", http.StatusNotFound, types.ErrCodeNotFoundOrder},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := newTestPolarClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/v1/orders/order_1/invoice" {
					t.Errorf("path = %q", r.URL.Path)
				}
				w.WriteHeader(tc.status)
			})

			err := client.GenerateInvoice(context.Background(), "order_1")
			if tc.wantCode == "" {
				if err != nil {
					t.Fatalf("GenerateInvoice: %v", err)
				}
				return
			}
			assertErrCode(t, err, tc.wantCode)
		})
	}
}

func TestGetInvoice(t *testing.T) {
	client := newTestPolarClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(types.OrderInvoice{URL: "https://polar.sh/invoices/inv_1.pdf"})
	})

	invoice, err := client.GetInvoice(context.Background(), "order_1")
	if err != nil {
		t.Fatalf("GetInvoice: %v", err)
	}
	if invoice.URL != "https://polar.sh/invoices/inv_1.pdf" {
		t.Errorf("url = %q", invoice.URL)
	}
}

func TestGetInvoice_NotReady(t *testing.T) {
	client := newTestPolarClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := client.GetInvoice(context.Background(), "order_1")
	assertErrCode(t, err, types.ErrCodeNotFoundInvoice)
}

func TestCreateRefund(t *testing.T) {
	client := newTestPolarClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body refundCreateBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		if body.OrderID != "order_1" || !body.RevokeBenefits {
			t.Errorf("body = %+v", body)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(types.Refund{ID: "ref_1", OrderID: body.OrderID, Amount: body.Amount})
	})

	refund, err := client.CreateRefund(context.Background(), "order_1", "customer_request", 999, true)
	if err != nil {
		t.Fatalf("CreateRefund: %v", err)
	}
	if refund.ID != "ref_1" || refund.Amount != 999 {
		t.Errorf("refund = %+v", refund)
	}
}

func TestCreateRefund_AmountRejected(t *testing.T) {
	client := newTestPolarClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	})

	_, err := client.CreateRefund(context.Background(), "order_1", "customer_request", 10_000_000, false)
	assertErrCode(t, err, types.ErrCodeValidationInvalidAmount)
}

func TestListRefunds(t *testing.T) {
	client := newTestPolarClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("orderId"); got != "order_1" {
			t.Errorf("orderId = %q", got)
		}
		json.NewEncoder(w).Encode(refundListResponse{Items: []types.Refund{
			{ID: "ref_1", OrderID: "order_1", Amount: 500},
			{ID: "ref_2", OrderID: "order_1", Amount: 499},
		}})
	})

	refunds, err := client.ListRefunds(context.Background(), "order_1")
	if err != nil {
		t.Fatalf("ListRefunds: %v", err)
	}
	if len(refunds) != 2 || refunds[1].ID != "ref_2" {
		t.Errorf("refunds = %+v", refunds)
	}
}

func TestDo_RetriesServerErrors(t *testing.T) {
	attempts := 0
	client := newTestPolarClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})
	client.base.retryPolicy = RetryPolicy{MaxRetries: 3, MinWait: time.Millisecond, MaxWait: time.Millisecond}

	if err := client.GenerateInvoice(context.Background(), "order_1"); err != nil {
		t.Fatalf("GenerateInvoice after retries: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}
