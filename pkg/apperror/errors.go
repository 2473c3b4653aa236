package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes surfaced to consumers. Clients display the reason rather than a generic error.
const (
	CodeInsufficientFunds      = "LED_001"
	CodeInvalidAmount          = "LED_002"
	CodeConcurrentModification = "LED_003"
	CodeReconcileMismatch      = "LED_004"
	CodeNotFound               = "LED_005"
	CodeWalletDisabled         = "LED_006"

	CodeInvalidTransition = "WF_001"
	CodeStaleState        = "WF_002"
	CodeDuplicateRequest  = "WF_003"

	CodeConnection = "RT_001"

	CodeInvalidToken = "AUTH_003"
	CodeForbidden    = "AUTH_005"

	CodeRateLimitExceeded = "RATE_001"

	CodeInternal = "SYS_001"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// Code returns the AppError code carried by err, or "" when err is not an AppError.
func Code(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// HasCode reports whether err is an AppError with the given code.
func HasCode(err error, code string) bool {
	return err != nil && Code(err) == code
}

// ---- Ledger (LED) ----

func ErrInsufficientFunds() *AppError {
	return New(CodeInsufficientFunds, "Insufficient balance in wallet", http.StatusPaymentRequired)
}

func ErrInvalidAmount() *AppError {
	return New(CodeInvalidAmount, "Invalid amount", http.StatusBadRequest)
}

// ErrConcurrentModification is returned when a wallet version race outlived the internal retries.
func ErrConcurrentModification(err error) *AppError {
	return Wrap(CodeConcurrentModification, "Wallet was modified concurrently, retry the operation", http.StatusConflict, err)
}

// ErrReconcileMismatch escalates a cached balance that still diverges from its history after repair.
func ErrReconcileMismatch(cached, computed int64) *AppError {
	return New(CodeReconcileMismatch,
		fmt.Sprintf("Wallet balance %d diverges from transaction history %d", cached, computed),
		http.StatusInternalServerError)
}

func ErrNotFound(entity string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

func ErrWalletDisabled() *AppError {
	return New(CodeWalletDisabled, "Wallet is disabled", http.StatusUnprocessableEntity)
}

// ---- Workflow (WF) ----

func ErrInvalidTransition(from, action string) *AppError {
	return New(CodeInvalidTransition,
		fmt.Sprintf("Cannot %s a request in state %s", action, from),
		http.StatusConflict)
}

// ErrStaleState is returned to the loser of a race on the same request.
func ErrStaleState() *AppError {
	return New(CodeStaleState, "Request was modified concurrently", http.StatusConflict)
}

func ErrDuplicateRequest() *AppError {
	return New(CodeDuplicateRequest, "A pending request already exists for this project", http.StatusConflict)
}

// ---- Realtime (RT) ----

// ErrConnection reports a subscription whose reconnect attempts are exhausted.
func ErrConnection(topic string, err error) *AppError {
	return Wrap(CodeConnection, fmt.Sprintf("Realtime connection to %q lost", topic), http.StatusServiceUnavailable, err)
}

// ---- Authentication (AUTH) ----

func ErrInvalidToken() *AppError {
	return New(CodeInvalidToken, "Invalid or expired token", http.StatusUnauthorized)
}

func ErrForbidden() *AppError {
	return New(CodeForbidden, "Actor is not allowed to perform this operation", http.StatusForbidden)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New(CodeRateLimitExceeded, "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- System & Infrastructure (SYS) ----

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap(CodeInternal, "Internal server error", http.StatusInternalServerError, err)
}

// Validation returns a LED_002-style validation error.
func Validation(message string) *AppError {
	return New(CodeInvalidAmount, message, http.StatusBadRequest)
}
