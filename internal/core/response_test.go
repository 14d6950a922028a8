package core

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"polarsync/internal/types"
)

func requestWithID(method, target, body string) *http.Request {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, target, nil)
	} else {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	return r.WithContext(types.WithRequestID(r.Context(), "req_test"))
}

func decodeErrorBody(t *testing.T, rec *httptest.ResponseRecorder) APIErrorResponse {
	t.Helper()
	var resp APIErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return resp
}

func TestJSON_WritesEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	JSON(rec, requestWithID(http.MethodGet, "/v1/thing", ""), http.StatusOK, APIResponse{Data: map[string]string{"id": "pay_1"}})

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), `"pay_1"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestError_AppErrorDrivesStatus(t *testing.T) {
	cases := []struct {
		code       types.ErrorCode
		wantStatus int
	}{
		{types.ErrCodeAuthSignatureInvalid, http.StatusUnauthorized},
		{types.ErrCodeNotFoundPayment, http.StatusNotFound},
		{types.ErrCodeConflictEmail, http.StatusConflict},
		{types.ErrCodeUpstreamPolar, http.StatusBadGateway},
	}

	for _, tc := range cases {
		rec := httptest.NewRecorder()
		Error(rec, requestWithID(http.MethodGet, "/v1/thing", ""), types.NewAppError(tc.code, "boom", nil))

		if rec.Code != tc.wantStatus {
			t.Errorf("%s: status = %d, want %d", tc.code, rec.Code, tc.wantStatus)
		}
		resp := decodeErrorBody(t, rec)
		if resp.Error.Code != string(tc.code) || resp.Error.RequestID != "req_test" {
			t.Errorf("%s: error detail = %+v", tc.code, resp.Error)
		}
	}
}

func TestError_GenericErrorIsOpaque500(t *testing.T) {
	rec := httptest.NewRecorder()
	Error(rec, requestWithID(http.MethodGet, "/v1/thing", ""), errors.New("pgx: connection refused"))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d", rec.Code)
	}
	resp := decodeErrorBody(t, rec)
	if resp.Error.Code != string(types.ErrCodeInternalUnexpected) {
		t.Errorf("code = %q", resp.Error.Code)
	}
	if strings.Contains(rec.Body.String(), "pgx") {
		t.Error("internal error detail leaked to client")
	}
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		ProductID string `json:"productId"`
	}

	t.Run("valid body", func(t *testing.T) {
		var dst payload
		rec := httptest.NewRecorder()
		err := DecodeJSON(rec, requestWithID(http.MethodPost, "/v1/thing", `{"productId":"prod_1"}`), &dst)
		if err != nil {
			t.Fatalf("DecodeJSON: %v", err)
		}
		if dst.ProductID != "prod_1" {
			t.Errorf("productId = %q", dst.ProductID)
		}
	})

	invalid := []struct {
		name string
		body string
	}{
		{"malformed", `{"productId":`},
		{"unknown field", `{"productId":"p","extra":true}`},
		{"empty body", ``},
		{"trailing value", `{"productId":"p"}{"productId":"q"}`},
		{"type mismatch", `{"productId":7}`},
	}
	for _, tc := range invalid {
		t.Run(tc.name, func(t *testing.T) {
			var dst payload
			rec := httptest.NewRecorder()
			err := DecodeJSON(rec, requestWithID(http.MethodPost, "/v1/thing", tc.body), &dst)
			if err == nil {
				t.Fatal("expected decode error")
			}
			var appErr *types.AppError
			if !errors.As(err, &appErr) || appErr.Code != errCodeValidationInvalidJSON {
				t.Errorf("error = %v", err)
			}
		})
	}
}

func TestValidateStruct(t *testing.T) {
	type req struct {
		ProductID  string `json:"productId" validate:"required"`
		SuccessURL string `json:"successUrl" validate:"required,url"`
	}

	v := NewValidator()
	if err := v.ValidateStruct(req{ProductID: "prod_1", SuccessURL: "https://example.com/done"}); err != nil {
		t.Fatalf("valid struct rejected: %v", err)
	}

	err := v.ValidateStruct(req{SuccessURL: "not-a-url"})
	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected AppError, got %v", err)
	}
	if appErr.HTTPStatus() != http.StatusBadRequest {
		t.Errorf("status = %d", appErr.HTTPStatus())
	}
	fields, _ := appErr.Details["fields"].(map[string]any)
	if len(fields) != 2 {
		t.Errorf("fields = %v", appErr.Details["fields"])
	}
}
