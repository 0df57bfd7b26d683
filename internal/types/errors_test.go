package types

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestAppErrorErrorFormat(t *testing.T) {
	appErr := NewAppError(ErrCodeQuotaExceeded, "free invoice limit reached", nil)

	want := "limit_invoices_exceeded: free invoice limit reached"
	if appErr.Error() != want {
		t.Errorf("Error() = %q, want %q", appErr.Error(), want)
	}
}

func TestAppErrorUnwrap(t *testing.T) {
	underlying := errors.New("connection refused")
	appErr := NewAppError(ErrCodeInternalDB, "load profile", underlying)

	if !errors.Is(appErr, underlying) {
		t.Error("errors.Is should find the wrapped error")
	}
	if NewAppError(ErrCodeNotFoundProfile, "missing", nil).Unwrap() != nil {
		t.Error("Unwrap should be nil without an underlying error")
	}
}

func TestAppErrorErrorsAs(t *testing.T) {
	wrapped := fmt.Errorf("resolve: %w", NewAppError(ErrCodeAuthTokenExpired, "token has expired", nil))

	var appErr *AppError
	if !errors.As(wrapped, &appErr) {
		t.Fatal("errors.As failed")
	}
	if appErr.Code != ErrCodeAuthTokenExpired {
		t.Errorf("Code = %q", appErr.Code)
	}
}

func TestAppErrorWithDetails(t *testing.T) {
	original := NewAppErrorWithDetails(ErrCodeQuotaExceeded, "limit", nil, map[string]any{"limit": 3})
	enhanced := original.WithDetails(map[string]any{"current": 3, "limit": 5})

	if enhanced.Details["limit"] != 5 || enhanced.Details["current"] != 3 {
		t.Errorf("merged details = %v", enhanced.Details)
	}
	if original.Details["limit"] != 3 || len(original.Details) != 1 {
		t.Errorf("original was mutated: %v", original.Details)
	}

	fromNil := NewAppError(ErrCodeNotFoundProfile, "missing", nil).WithDetails(map[string]any{"user_id": "u1"})
	if fromNil.Details["user_id"] != "u1" {
		t.Errorf("WithDetails on nil details = %v", fromNil.Details)
	}
}

func TestErrorCodeHTTPStatusMapping(t *testing.T) {
	tests := []struct {
		code       ErrorCode
		wantStatus int
	}{
		{ErrCodeValidationMissingField, http.StatusBadRequest},
		{ErrCodeValidationInvalidJSON, http.StatusBadRequest},
		{ErrCodeValidationInvalidField, http.StatusBadRequest},

		{ErrCodeAuthTokenMissing, http.StatusUnauthorized},
		{ErrCodeAuthTokenInvalid, http.StatusUnauthorized},
		{ErrCodeAuthTokenExpired, http.StatusUnauthorized},

		{ErrCodeQuotaExceeded, http.StatusForbidden},

		{ErrCodeNotFoundProfile, http.StatusNotFound},
		{ErrCodeNotFoundSubscription, http.StatusNotFound},

		{ErrCodeConflictConcurrent, http.StatusConflict},
		{ErrCodeConflictExists, http.StatusConflict},
		{ErrCodeConflictRetryExhausted, http.StatusServiceUnavailable},

		{ErrCodeMigrationPartialFailure, http.StatusInternalServerError},

		{ErrCodeInternalDB, http.StatusInternalServerError},
		{ErrCodeInternalUnexpected, http.StatusInternalServerError},
		{ErrCodeInternalLocalStore, http.StatusInternalServerError},

		{ErrCodeUpstreamStripe, http.StatusBadGateway},
		{ErrCodeUpstreamUnavailable, http.StatusServiceUnavailable},
		{ErrCodeUpstreamRateLimited, http.StatusTooManyRequests},
		{ErrCodeNetworkUnavailable, http.StatusServiceUnavailable},

		{ErrorCode("totally_unknown_error"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := tt.code.HTTPStatus(); got != tt.wantStatus {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.wantStatus)
			}
		})
	}
}

func TestCodeHelpers(t *testing.T) {
	quota := fmt.Errorf("record: %w", NewAppError(ErrCodeQuotaExceeded, "limit", nil))
	notFound := NewAppError(ErrCodeNotFoundSubscription, "gone", nil)

	if CodeOf(errors.New("plain")) != "" {
		t.Error("CodeOf(plain error) should be empty")
	}
	if !IsQuotaExceeded(quota) || IsQuotaExceeded(notFound) {
		t.Error("IsQuotaExceeded mismatch")
	}
	if !IsNotFound(notFound) || IsNotFound(quota) {
		t.Error("IsNotFound mismatch")
	}
	if IsCode(nil, ErrCodeQuotaExceeded) {
		t.Error("IsCode(nil) should be false")
	}
}
