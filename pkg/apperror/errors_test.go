package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		appErr   *AppError
		expected string
	}{
		{
			name:     "without wrapped error",
			appErr:   New("LED_001", "Insufficient funds", http.StatusPaymentRequired),
			expected: "[LED_001] Insufficient funds",
		},
		{
			name:     "with wrapped error",
			appErr:   Wrap("SYS_001", "DB error", http.StatusInternalServerError, fmt.Errorf("connection refused")),
			expected: "[SYS_001] DB error: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.appErr.Error())
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	inner := fmt.Errorf("inner error")
	appErr := Wrap("SYS_001", "wrapped", http.StatusInternalServerError, inner)

	assert.True(t, errors.Is(appErr, inner))
	assert.Nil(t, New("LED_001", "test", http.StatusBadRequest).Unwrap())
}

func TestLedgerErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        *AppError
		code       string
		httpStatus int
	}{
		{"InsufficientFunds", ErrInsufficientFunds(), CodeInsufficientFunds, 402},
		{"InvalidAmount", ErrInvalidAmount(), CodeInvalidAmount, 400},
		{"ConcurrentModification", ErrConcurrentModification(nil), CodeConcurrentModification, 409},
		{"ReconcileMismatch", ErrReconcileMismatch(10, 20), CodeReconcileMismatch, 500},
		{"NotFound", ErrNotFound("wallet"), CodeNotFound, 404},
		{"WalletDisabled", ErrWalletDisabled(), CodeWalletDisabled, 422},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.httpStatus, tt.err.HTTPStatus)
		})
	}
}

func TestWorkflowErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        *AppError
		code       string
		httpStatus int
	}{
		{"InvalidTransition", ErrInvalidTransition("approved", "approve"), CodeInvalidTransition, 409},
		{"StaleState", ErrStaleState(), CodeStaleState, 409},
		{"DuplicateRequest", ErrDuplicateRequest(), CodeDuplicateRequest, 409},
		{"Connection", ErrConnection("wallets", errors.New("eof")), CodeConnection, 503},
		{"InvalidToken", ErrInvalidToken(), CodeInvalidToken, 401},
		{"Forbidden", ErrForbidden(), CodeForbidden, 403},
		{"RateLimit", ErrRateLimitExceeded(), CodeRateLimitExceeded, 429},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.httpStatus, tt.err.HTTPStatus)
		})
	}
}

func TestInvalidTransition_Message(t *testing.T) {
	err := ErrInvalidTransition("rejected", "approve")
	assert.Equal(t, "Cannot approve a request in state rejected", err.Message)
}

func TestCode_WrappedAppError(t *testing.T) {
	wrapped := fmt.Errorf("service layer: %w", ErrStaleState())

	assert.Equal(t, CodeStaleState, Code(wrapped))
	assert.True(t, HasCode(wrapped, CodeStaleState))
	assert.False(t, HasCode(wrapped, CodeInvalidTransition))
	assert.Equal(t, "", Code(errors.New("plain")))
	assert.False(t, HasCode(nil, CodeStaleState))
}

func TestInternalError(t *testing.T) {
	inner := errors.New("db down")
	err := InternalError(inner)

	assert.Equal(t, CodeInternal, err.Code)
	assert.Equal(t, http.StatusInternalServerError, err.HTTPStatus)
	assert.ErrorIs(t, err, inner)
}
