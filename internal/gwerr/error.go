// Package gwerr defines the gateway's structured error type. Components
// return *Error (or wrap into one) rather than unwinding through layers of
// plain errors, so the route layer can take the HTTP status from the error's
// HTTPStatus field without string-sniffing.
package gwerr

import "fmt"

// Code is a stable, machine-matchable error identifier.
type Code string

const (
	CodeValidation     Code = "VALIDATION"
	CodeRateLimited    Code = "RATE_LIMITED"
	CodeUpstreamError  Code = "UPSTREAM_ERROR"
	CodeTimeout        Code = "TIMEOUT"
	CodeCircuitOpen    Code = "CIRCUIT_OPEN"
	CodeConfiguration  Code = "CONFIGURATION"
	CodeInternal       Code = "INTERNAL"
)

// Error is the gateway's structured error, implementing error and Unwrap.
type Error struct {
	Code       Code
	Message    string
	HTTPStatus int
	Retryable  bool
	Provider   string
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause to errors.Is / errors.As.
func (e *Error) Unwrap() error { return e.Cause }

// New creates an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}
