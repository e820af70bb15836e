package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode classifies application errors for the signaling boundary.
type ErrorCode string

const (
	ErrCodeValidation    ErrorCode = "VALIDATION"
	ErrCodeAuthorization ErrorCode = "AUTHORIZATION"
	ErrCodeNotFound      ErrorCode = "NOT_FOUND"
	ErrCodeCapacity      ErrorCode = "CAPACITY"
	ErrCodeRateLimit     ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeEngine        ErrorCode = "ENGINE_ERROR"
	ErrCodeInternal      ErrorCode = "INTERNAL_ERROR"
)

// AppError is a structured error carrying a code and optional context.
// Codes are stable; messages are safe to return to clients.
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
	Context    map[string]interface{}
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext attaches a key/value pair for internal logging. The context
// map is never serialized to clients.
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func newError(code ErrorCode, message string, status int) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status}
}

// NewValidationError reports malformed or missing client input.
func NewValidationError(message string) *AppError {
	return newError(ErrCodeValidation, message, http.StatusBadRequest)
}

// NewAuthorizationError reports a role or identity mismatch.
func NewAuthorizationError(message string) *AppError {
	return newError(ErrCodeAuthorization, message, http.StatusForbidden)
}

// NewNotFoundError reports an absent room, participant, transport or producer.
func NewNotFoundError(resource string) *AppError {
	return newError(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

// NewCapacityError reports an exhausted limit, such as a full room.
func NewCapacityError(message string) *AppError {
	return newError(ErrCodeCapacity, message, http.StatusConflict)
}

// NewRateLimitError reports an exhausted rate-limit window.
func NewRateLimitError(message string) *AppError {
	return newError(ErrCodeRateLimit, message, http.StatusTooManyRequests)
}

// NewEngineError wraps a failed SFU engine call. The cause is kept for
// internal logging; the client-visible message stays generic.
func NewEngineError(cause error) *AppError {
	e := newError(ErrCodeEngine, "media engine operation failed", http.StatusBadGateway)
	e.Cause = cause
	return e
}

// NewInternalError reports an unexpected failure.
func NewInternalError(message string) *AppError {
	return newError(ErrCodeInternal, message, http.StatusInternalServerError)
}

// CodeOf extracts the error code, falling back to INTERNAL_ERROR for
// unclassified errors.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// AsAppError extracts an AppError from the chain, or nil.
func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}
