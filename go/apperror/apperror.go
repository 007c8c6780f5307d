// Package apperror defines the error kinds that cross component boundaries
// and their HTTP status mapping. Inner packages return these so the web
// layer can pick status codes without string matching.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure for the HTTP layer.
type Kind int

const (
	// Internal is an unclassified failure. The zero value on purpose, so an
	// un-annotated error maps to a 500.
	Internal Kind = iota
	// BadInput is a malformed request body or query parameter.
	BadInput
	// NotFound means the dataset, sample, or view does not exist.
	NotFound
	// Conflict means a background task of this type is already running.
	Conflict
	// StoreError is a column-store failure.
	StoreError
	// ParseError means an annotation file was unreadable as a whole.
	ParseError
	// CapabilityUnavailable means a model endpoint or API key is missing.
	CapabilityUnavailable
)

func (k Kind) String() string {
	switch k {
	case BadInput:
		return "bad_input"
	case NotFound:
		return "not_found"
	case Conflict:
		return "conflict"
	case StoreError:
		return "store_error"
	case ParseError:
		return "parse_error"
	case CapabilityUnavailable:
		return "capability_unavailable"
	default:
		return "internal"
	}
}

// HTTPStatus returns the status code a handler should respond with.
func (k Kind) HTTPStatus() int {
	switch k {
	case BadInput, ParseError:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	case CapabilityUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error carries a Kind alongside a message and an optional cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

// Error implements error.
func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Msg, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s", e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
}

// Unwrap supports errors.Is / errors.As on the cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap tags err with a kind. The message shown to users comes from the
// handler; err keeps its own text for the logs. Returns nil if err is nil.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// KindOf extracts the Kind from any error in the chain, defaulting to
// Internal.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return Internal
}

// IsKind reports whether any error in the chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind == kind
	}
	return false
}

// Message returns the outermost kind-tagged message, or a generic fallback
// suitable for showing to users.
func Message(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) && appErr.Msg != "" {
		return appErr.Msg
	}
	return "internal error"
}
