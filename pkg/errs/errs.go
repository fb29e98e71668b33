// Package errs defines the error taxonomy exposed on the command and query
// boundary. Every error returned by the core maps onto exactly one Kind so
// protocol surfaces can translate it without string matching.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error on the API boundary.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalid
	KindNotFound
	KindAlreadyExists
	KindPrecondition
	KindConcurrencyConflict
	KindPermissionDenied
	KindTimeout
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindInvalid:
		return "invalid_argument"
	case KindNotFound:
		return "not_found"
	case KindAlreadyExists:
		return "already_exists"
	case KindPrecondition:
		return "failed_precondition"
	case KindConcurrencyConflict:
		return "concurrency_conflict"
	case KindPermissionDenied:
		return "permission_denied"
	case KindTimeout:
		return "deadline_exceeded"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is the single error type used across the core. ID is a stable,
// machine-readable identifier (e.g. "COMMAND-user-notfound"); Message is
// human-readable and names the offending field where applicable.
type Error struct {
	Kind    Kind
	ID      string
	Message string
	parent  error
}

func (e *Error) Error() string {
	if e.parent != nil {
		return fmt.Sprintf("%s: %s (%s): %v", e.Kind, e.Message, e.ID, e.parent)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.ID)
}

func (e *Error) Unwrap() error { return e.parent }

// Is matches either another *Error with the same Kind or one of the
// kind sentinels below, so callers can use errors.Is on both.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		if t.ID != "" && t.ID != e.ID {
			return false
		}
		return t.Kind == e.Kind
	}
	if s, ok := target.(sentinel); ok {
		return Kind(s) == e.Kind
	}
	return false
}

type sentinel Kind

func (s sentinel) Error() string { return Kind(s).String() }

// Kind sentinels for errors.Is checks.
var (
	ErrInvalid             = sentinel(KindInvalid)
	ErrNotFound            = sentinel(KindNotFound)
	ErrAlreadyExists       = sentinel(KindAlreadyExists)
	ErrPrecondition        = sentinel(KindPrecondition)
	ErrConcurrencyConflict = sentinel(KindConcurrencyConflict)
	ErrPermissionDenied    = sentinel(KindPermissionDenied)
	ErrTimeout             = sentinel(KindTimeout)
	ErrInternal            = sentinel(KindInternal)
)

func newError(kind Kind, parent error, id, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		ID:      id,
		Message: fmt.Sprintf(format, args...),
		parent:  parent,
	}
}

func ThrowInvalid(parent error, id, format string, args ...any) *Error {
	return newError(KindInvalid, parent, id, format, args...)
}

func ThrowNotFound(parent error, id, format string, args ...any) *Error {
	return newError(KindNotFound, parent, id, format, args...)
}

func ThrowAlreadyExists(parent error, id, format string, args ...any) *Error {
	return newError(KindAlreadyExists, parent, id, format, args...)
}

func ThrowPrecondition(parent error, id, format string, args ...any) *Error {
	return newError(KindPrecondition, parent, id, format, args...)
}

func ThrowConcurrencyConflict(parent error, id, format string, args ...any) *Error {
	return newError(KindConcurrencyConflict, parent, id, format, args...)
}

func ThrowPermissionDenied(parent error, id, format string, args ...any) *Error {
	return newError(KindPermissionDenied, parent, id, format, args...)
}

func ThrowTimeout(parent error, id, format string, args ...any) *Error {
	return newError(KindTimeout, parent, id, format, args...)
}

func ThrowInternal(parent error, id, format string, args ...any) *Error {
	return newError(KindInternal, parent, id, format, args...)
}

// KindOf returns the Kind of err, or KindUnknown if err does not carry one.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func IsInvalid(err error) bool             { return errors.Is(err, ErrInvalid) }
func IsNotFound(err error) bool            { return errors.Is(err, ErrNotFound) }
func IsAlreadyExists(err error) bool       { return errors.Is(err, ErrAlreadyExists) }
func IsPrecondition(err error) bool        { return errors.Is(err, ErrPrecondition) }
func IsConcurrencyConflict(err error) bool { return errors.Is(err, ErrConcurrencyConflict) }
func IsPermissionDenied(err error) bool    { return errors.Is(err, ErrPermissionDenied) }
func IsTimeout(err error) bool             { return errors.Is(err, ErrTimeout) }
func IsInternal(err error) bool            { return errors.Is(err, ErrInternal) }
