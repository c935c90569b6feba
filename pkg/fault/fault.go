// Package fault defines the typed error taxonomy used on component
// boundaries. Components never panic on a single-request error; they return
// a *Fault (or wrap one) and the orchestrator records it in the reasoning
// trace.
package fault

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a fault for retry and HTTP mapping decisions.
type Kind string

const (
	// KindValidation is bad input: missing field, type mismatch, unknown tool.
	// Never retried.
	KindValidation Kind = "validation"

	// KindNotFound is an absent conversation, document or template.
	KindNotFound Kind = "not_found"

	// KindRateLimited is a tool-level window rejection. Not retried internally.
	KindRateLimited Kind = "rate_limited"

	// KindUnavailable is an upstream timeout or 5xx after retries were
	// exhausted, or an unreachable collaborator.
	KindUnavailable Kind = "unavailable"

	// KindInternal is everything else.
	KindInternal Kind = "internal"
)

// Fault carries kind, message and origin component.
type Fault struct {
	Kind      Kind
	Component string
	Message   string
	Err       error
}

func (f *Fault) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Component, f.Message, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Component, f.Message)
}

func (f *Fault) Unwrap() error { return f.Err }

// New creates a fault with the given kind.
func New(kind Kind, component, message string) *Fault {
	return &Fault{Kind: kind, Component: component, Message: message}
}

// Wrap creates a fault wrapping an underlying error.
func Wrap(kind Kind, component, message string, err error) *Fault {
	return &Fault{Kind: kind, Component: component, Message: message, Err: err}
}

func Validation(component, format string, args ...any) *Fault {
	return New(KindValidation, component, fmt.Sprintf(format, args...))
}

func NotFound(component, format string, args ...any) *Fault {
	return New(KindNotFound, component, fmt.Sprintf(format, args...))
}

func RateLimited(component, format string, args ...any) *Fault {
	return New(KindRateLimited, component, fmt.Sprintf(format, args...))
}

func Unavailable(component, format string, args ...any) *Fault {
	return New(KindUnavailable, component, fmt.Sprintf(format, args...))
}

func Internal(component, format string, args ...any) *Fault {
	return New(KindInternal, component, fmt.Sprintf(format, args...))
}

// KindOf extracts the kind from an error chain. Unclassified errors are
// internal.
func KindOf(err error) Kind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return KindInternal
}

// HTTPStatus maps a fault kind to an HTTP status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindRateLimited, KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
