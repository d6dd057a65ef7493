// Package errors carries typed API errors from handlers to the HTTP edge,
// where they are mapped to status codes, logged and counted.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Kind categorizes an error for status mapping and metrics.
type Kind string

const (
	// KindValidation is invalid caller input (HTTP 400).
	KindValidation Kind = "validation"
	// KindNotFound is a missing resource (HTTP 404).
	KindNotFound Kind = "not_found"
	// KindUpstream is a failed aggregator or chain fetch (HTTP 502).
	KindUpstream Kind = "upstream"
	// KindUnavailable is a down backing service (HTTP 503).
	KindUnavailable Kind = "unavailable"
	// KindInternal is everything else (HTTP 500).
	KindInternal Kind = "internal"
)

// Error is a typed error with an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatus maps the kind to a status code.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindUpstream:
		return http.StatusBadGateway
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Validation reports invalid caller input.
func Validation(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

// NotFound reports a missing resource.
func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

// Upstream wraps a failed fetch from the portfolio source.
func Upstream(message string, cause error) *Error {
	return &Error{Kind: KindUpstream, Message: message, Cause: cause}
}

// Unavailable wraps a failure of a backing service.
func Unavailable(message string, cause error) *Error {
	return &Error{Kind: KindUnavailable, Message: message, Cause: cause}
}

// Internal wraps an unexpected server-side failure.
func Internal(message string, cause error) *Error {
	return &Error{Kind: KindInternal, Message: message, Cause: cause}
}

// Classify returns err as *Error, wrapping unknown errors as internal.
func Classify(err error) *Error {
	var typed *Error
	if stderrors.As(err, &typed) {
		return typed
	}
	return &Error{Kind: KindInternal, Message: "internal error", Cause: err}
}
