// Package perrors defines the tagged error kinds returned across Personal
// Pipeline's component boundaries: adapters, the cache, the circuit
// breaker, the pipeline, and the tool layer all return one of these so
// callers can branch on Code rather than parse messages.
package perrors

import (
	"errors"
	"fmt"
)

// Code identifies the category of a Error.
type Code string

const (
	CodeConfig     Code = "CONFIG_ERROR"
	CodeAuth       Code = "AUTH_ERROR"
	CodeNotFound   Code = "NOT_FOUND"
	CodeValidation Code = "VALIDATION_ERROR"
	CodeUnavailable Code = "UNAVAILABLE"
	CodeTimeout    Code = "TIMEOUT"
	CodeCircuitOpen Code = "CIRCUIT_OPEN"
	CodeRateLimited Code = "RATE_LIMITED"
	CodeOverloaded Code = "OVERLOADED"
	CodeInternal   Code = "INTERNAL_ERROR"
)

// Error is the tagged error type returned by every component in this
// module. CorrelationID lets a caller tie a failure back to the request
// that produced it across logs; Suggestion is a human-actionable hint
// surfaced to operators (e.g. "check TOKEN_ENV is set").
type Error struct {
	Code          Code
	Message       string
	CorrelationID string
	Suggestion    string
	Cause         error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a Error of the given kind.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap builds a Error of the given kind around a lower-level cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// WithCorrelationID returns a copy of e carrying the given correlation ID.
func (e *Error) WithCorrelationID(id string) *Error {
	cp := *e
	cp.CorrelationID = id
	return &cp
}

// WithSuggestion returns a copy of e carrying an operator-facing hint.
func (e *Error) WithSuggestion(s string) *Error {
	cp := *e
	cp.Suggestion = s
	return &cp
}

// Is reports whether err is a *Error of the given code, unwrapping as
// needed. Callers typically use this instead of errors.As when they only
// care about the code, not the full struct.
func Is(err error, code Code) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code == code
	}
	return false
}

func Config(msg string) *Error     { return New(CodeConfig, msg) }
func Auth(msg string) *Error       { return New(CodeAuth, msg) }
func NotFound(msg string) *Error   { return New(CodeNotFound, msg) }
func Validation(msg string) *Error { return New(CodeValidation, msg) }
func Unavailable(msg string) *Error { return New(CodeUnavailable, msg) }
func Timeout(msg string) *Error    { return New(CodeTimeout, msg) }
func CircuitOpen(msg string) *Error { return New(CodeCircuitOpen, msg) }
func RateLimited(msg string) *Error { return New(CodeRateLimited, msg) }
func Overloaded(msg string) *Error { return New(CodeOverloaded, msg) }
func Internal(msg string) *Error   { return New(CodeInternal, msg) }
