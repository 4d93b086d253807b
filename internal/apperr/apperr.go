// Package apperr defines the typed error categories returned to clients.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindResourceUnavailable Kind = "resource_unavailable"
	KindSlotUnavailable     Kind = "slot_unavailable"
	KindNotFound            Kind = "not_found"
	KindValidation          Kind = "validation_failed"
	KindStore               Kind = "store_failure"
)

// TryAgain is shown to clients instead of internal failure details.
const TryAgain = "service temporarily unavailable, please try again"

// Error carries a category and a human-readable reason.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

func Wrap(kind Kind, err error, reason string) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

func Validation(format string, args ...any) *Error {
	return New(KindValidation, fmt.Sprintf(format, args...))
}

func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, fmt.Sprintf(format, args...))
}

func SlotUnavailable(format string, args ...any) *Error {
	return New(KindSlotUnavailable, fmt.Sprintf(format, args...))
}

func Store(err error, op string) *Error {
	return Wrap(KindStore, err, op)
}

// Classify keeps typed errors and wraps anything else as a store failure.
func Classify(err error, op string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return Store(err, op)
}

// KindOf returns the category of err. Uncategorised errors count as store failures.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindStore
}

// Is reports whether err belongs to kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Public returns the kind and the reason safe to show to a client.
func Public(err error) (Kind, string) {
	kind := KindOf(err)
	switch kind {
	case KindStore, KindResourceUnavailable:
		return kind, TryAgain
	}
	var e *Error
	if errors.As(err, &e) {
		return kind, e.Reason
	}
	return kind, err.Error()
}
