package apperr

import (
	"errors"
	"fmt"
)

// Stable error codes surfaced to API clients in the error body.
const (
	CodeNotFound      = "NOT_FOUND"
	CodeValidation    = "VALIDATION_ERROR"
	CodeDatabase      = "DATABASE_ERROR"
	CodeStripeAPI     = "STRIPE_API_ERROR"
	CodeStripeWebhook = "STRIPE_WEBHOOK_ERROR"
)

// Error is the application error carried across service boundaries. Code is
// stable and machine-readable, Status is the HTTP status the API layer should
// answer with, Err optionally wraps the underlying cause.
type Error struct {
	Code    string
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

func Wrap(code string, status int, message string, err error) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

func NotFound(message string) *Error {
	return New(CodeNotFound, 404, message)
}

func Validation(message string) *Error {
	return New(CodeValidation, 400, message)
}

// From extracts an *Error from err's chain; ok is false for untyped errors.
func From(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsCode reports whether err carries the given application error code.
func IsCode(err error, code string) bool {
	if appErr, ok := From(err); ok {
		return appErr.Code == code
	}
	return false
}
