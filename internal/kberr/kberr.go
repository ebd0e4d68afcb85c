// Package kberr defines the pipeline's error taxonomy: a small closed set of
// Kinds that every component returns instead of raw driver/library errors, so
// callers (orchestrator retry logic, the HTTP surface, reconciler) can branch
// on Kind rather than string-matching or reaching into wrapped types.
package kberr

import (
	"errors"
	"fmt"
)

// Kind classifies why an operation failed. Mirrors the taxonomy every
// component (C1-C8) is required to report through.
type Kind int

const (
	// Internal is the zero value so an unset Kind fails closed as a 500,
	// never as something a caller might retry or expose to a tenant.
	Internal Kind = iota
	InvalidArgument
	NotFound
	Forbidden
	ConflictState
	Transient
	ResourceExhausted
	DataError
	ProfileMismatch
)

func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "invalid_argument"
	case NotFound:
		return "not_found"
	case Forbidden:
		return "forbidden"
	case ConflictState:
		return "conflict_state"
	case Transient:
		return "transient"
	case ResourceExhausted:
		return "resource_exhausted"
	case DataError:
		return "data_error"
	case ProfileMismatch:
		return "profile_mismatch"
	default:
		return "internal"
	}
}

// Error is the concrete error type carried through the pipeline. Cause is
// kept for errors.Unwrap so driver errors (pgx, qdrant, redis) remain
// inspectable without leaking their Kind into caller branching.
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

func (e *Error) Unwrap() error { return e.Cause }

// Newf builds a Kind-tagged error with a formatted message.
func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a Kind to an existing error, preserving it as Cause.
func Wrap(kind Kind, cause error, format string, args ...any) error {
	if cause == nil {
		return Newf(kind, format, args...)
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, defaulting to Internal when err does
// not carry one (e.g. it escaped from a third-party driver unwrapped).
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}
