package oracle

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an oracle failure into the small set of categories
// the retry policy (internal/retry) and fallback (internal/fallback) use
// to decide what to do next.
type ErrorKind string

// Recognised error kinds.
const (
	KindUnauthorized ErrorKind = "unauthorized"
	KindRateLimited  ErrorKind = "rate_limited"
	KindServerError  ErrorKind = "server_error"
	KindTimeout      ErrorKind = "timeout"
	KindNetwork      ErrorKind = "network"
	KindMalformed    ErrorKind = "malformed"
)

// Error is a structured oracle failure. Every provider adapter's classify
// function returns one of these rather than a bare wrapped SDK error, so
// callers above the transport layer never need to type-switch on an SDK
// type: the transport is the only component allowed to speak a
// backend-specific wire format.
type Error struct {
	Provider  string
	Operation string
	Kind      ErrorKind
	HTTP      int
	Message   string
	Cause     error
}

// NewError constructs an Error. provider and kind are required.
func NewError(provider, operation string, kind ErrorKind, http int, message string, cause error) *Error {
	return &Error{Provider: provider, Operation: operation, Kind: kind, HTTP: http, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	op := e.Operation
	if op == "" {
		op = "request"
	}
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.HTTP > 0 {
		return fmt.Sprintf("%s %s (%s %d): %s", e.Provider, e.Kind, op, e.HTTP, msg)
	}
	return fmt.Sprintf("%s %s (%s): %s", e.Provider, e.Kind, op, msg)
}

// Unwrap returns the underlying SDK/transport error.
func (e *Error) Unwrap() error { return e.Cause }

// Retryable reports whether the retry policy should attempt this
// operation again: RateLimited, ServerError (HTTP >=500, or no HTTP
// status recorded), Timeout, and Network are retryable; Unauthorized and
// Malformed are not.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindRateLimited, KindTimeout, KindNetwork:
		return true
	case KindServerError:
		return e.HTTP == 0 || e.HTTP >= 500
	default:
		return false
	}
}

// AsError returns the first *Error in err's chain, if any.
func AsError(err error) (*Error, bool) {
	var oe *Error
	if errors.As(err, &oe) {
		return oe, true
	}
	return nil, false
}
