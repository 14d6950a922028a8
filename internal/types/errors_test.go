package types

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestErrorCode_HTTPStatus(t *testing.T) {
	tests := []struct {
		code     ErrorCode
		expected int
	}{
		{ErrCodeValidationMissingField, http.StatusBadRequest},
		{ErrCodeValidationInvalidEmail, http.StatusBadRequest},
		{ErrCodeAuthSignatureMissing, http.StatusUnauthorized},
		{ErrCodeAuthSignatureInvalid, http.StatusUnauthorized},
		{ErrCodeAuthTimestampStale, http.StatusUnauthorized},
		{ErrCodeNotFoundPayment, http.StatusNotFound},
		{ErrCodeNotFoundOrder, http.StatusNotFound},
		{ErrCodeConflictCheckoutID, http.StatusConflict},
		{ErrCodeConflictInvoiceExists, http.StatusConflict},
		{ErrCodeUpstreamPolar, http.StatusBadGateway},
		{ErrCodeUpstreamRateLimited, http.StatusBadGateway},
		{ErrCodeInternalDB, http.StatusInternalServerError},
		{ErrCodeInternalConfigSecret, http.StatusInternalServerError},
		{ErrorCode("something_unknown"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := tt.code.HTTPStatus(); got != tt.expected {
				t.Errorf("HTTPStatus(%s) = %d, want %d", tt.code, got, tt.expected)
			}
		})
	}
}

func TestAppError_ErrorAndUnwrap(t *testing.T) {
	inner := errors.New("connection refused")
	appErr := NewAppError(ErrCodeInternalDB, "failed to store payment", inner)

	if appErr.Error() != "internal_database_error: failed to store payment" {
		t.Errorf("unexpected Error() output: %s", appErr.Error())
	}
	if !errors.Is(appErr, inner) {
		t.Error("expected errors.Is to find the wrapped error")
	}

	var target *AppError
	wrapped := fmt.Errorf("processing: %w", appErr)
	if !errors.As(wrapped, &target) {
		t.Fatal("expected errors.As to extract *AppError from chain")
	}
	if target.Code != ErrCodeInternalDB {
		t.Errorf("expected code %q, got %q", ErrCodeInternalDB, target.Code)
	}
}

func TestNewAppErrorWithDetails(t *testing.T) {
	err := NewAppErrorWithDetails(ErrCodeConflictInvoiceExists, "invoice already generated", nil,
		map[string]any{"order_id": "ord_1"})
	if err.Details["order_id"] != "ord_1" {
		t.Errorf("expected details to carry order_id, got %v", err.Details)
	}
	if err.HTTPStatus() != http.StatusConflict {
		t.Errorf("expected 409, got %d", err.HTTPStatus())
	}
}
