package reconcile

import (
	"errors"
	"testing"

	"polarsync/internal/types"
)

func TestParseEvent_CheckoutCreated(t *testing.T) {
	payload := []byte(`{
		"type": "checkout.created",
		"data": {
			"id": "co_1",
			"status": "open",
			"customerEmail": "a@x.com",
			"productId": "prod_pro_monthly",
			"amount": 2900,
			"netAmount": 2400,
			"discountAmount": 500,
			"currency": "usd",
			"discount": {"id": "disc_1", "code": "LAUNCH", "type": "fixed", "amount": 500},
			"metadata": {"app_name": "studio", "feature_date": "2026-05-01"}
		}
	}`)

	event, err := ParseEvent(payload)
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	if event.Type != EventCheckoutCreated {
		t.Errorf("type = %q", event.Type)
	}
	c := event.Checkout
	if c == nil {
		t.Fatal("checkout variant not populated")
	}
	if c.ID != "co_1" || c.CustomerEmail != "a@x.com" || c.Amount != 2900 {
		t.Errorf("checkout fields: %+v", c)
	}
	if c.NetAmount == nil || *c.NetAmount != 2400 {
		t.Error("netAmount not parsed")
	}
	if c.DiscountAmount == nil || *c.DiscountAmount != 500 {
		t.Error("discountAmount not parsed")
	}
	if c.Discount == nil || c.Discount.Code != "LAUNCH" || c.Discount.Type != types.DiscountFixed {
		t.Errorf("discount object: %+v", c.Discount)
	}
	if metaString(c.Metadata, "app_name") != "studio" {
		t.Error("metadata app_name not parsed")
	}
}

func TestParseEvent_RefundCreated(t *testing.T) {
	payload := []byte(`{
		"type": "refund.created",
		"data": {"id": "refund_1", "orderId": "order_1", "amount": 999, "reason": "customer_request", "revokeBenefits": true}
	}`)

	event, err := ParseEvent(payload)
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	r := event.Refund
	if r == nil {
		t.Fatal("refund variant not populated")
	}
	if r.OrderID != "order_1" || r.Amount != 999 || !r.RevokeBenefits {
		t.Errorf("refund fields: %+v", r)
	}
}

func TestParseEvent_UnknownType(t *testing.T) {
	event, err := ParseEvent([]byte(`{"type": "benefit.granted", "data": {"id": "b_1"}}`))
	if err != nil {
		t.Fatalf("unknown types must parse: %v", err)
	}
	if event.Type != "benefit.granted" {
		t.Errorf("type = %q", event.Type)
	}
	if event.Checkout != nil || event.Order != nil || event.Subscription != nil ||
		event.Customer != nil || event.Refund != nil {
		t.Error("unknown type must leave all variants nil")
	}
}

func TestParseEvent_Malformed(t *testing.T) {
	cases := map[string][]byte{
		"invalid json": []byte(`{"type": "checkout.created"`),
		"missing type": []byte(`{"data": {"id": "co_1"}}`),
		"missing data": []byte(`{"type": "checkout.created"}`),
		"bad data":     []byte(`{"type": "checkout.created", "data": 42}`),
	}

	for name, payload := range cases {
		_, err := ParseEvent(payload)
		if err == nil {
			t.Errorf("%s: expected error", name)
			continue
		}
		var appErr *types.AppError
		if !errors.As(err, &appErr) {
			t.Errorf("%s: expected AppError, got %T", name, err)
		}
	}
}
