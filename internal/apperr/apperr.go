// Package apperr defines the failure kinds reported by engine operations.
// Every error returned across a component boundary carries exactly one
// Kind so transports can map it without inspecting messages.
package apperr

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind string

const (
	KindAuthentication         Kind = "authentication_failure"
	KindAuthorization          Kind = "authorization_failure"
	KindNotFound               Kind = "not_found"
	KindInvalidRequest         Kind = "invalid_request"
	KindInsufficientStock      Kind = "insufficient_stock"
	KindInvalidStateTransition Kind = "invalid_state_transition"
	KindConflict               Kind = "conflict"
	KindAggregationTimeout     Kind = "aggregation_timeout"
	KindDownstreamUnavailable  Kind = "downstream_unavailable"
	KindInternal               Kind = "internal"
)

// Error is a failure with a kind and a human readable detail.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind, so errors.Is(err, apperr.NotFound)
// style checks work against the sentinel values below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Err == nil && t.Kind == e.Kind
}

// Sentinels usable with errors.Is.
var (
	Authentication         = &Error{Kind: KindAuthentication}
	Authorization          = &Error{Kind: KindAuthorization}
	NotFound               = &Error{Kind: KindNotFound}
	InvalidRequest         = &Error{Kind: KindInvalidRequest}
	InsufficientStock      = &Error{Kind: KindInsufficientStock}
	InvalidStateTransition = &Error{Kind: KindInvalidStateTransition}
	Conflict               = &Error{Kind: KindConflict}
	AggregationTimeout     = &Error{Kind: KindAggregationTimeout}
	DownstreamUnavailable  = &Error{Kind: KindDownstreamUnavailable}
)

// New creates an error of the given kind with a formatted detail.
func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Wrap attaches a kind to err. A nil err yields nil, and an err that
// already carries a kind is returned unchanged.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	return &Error{Kind: kind, Err: err}
}

// KindOf returns the kind of err, KindInternal for untyped errors and
// the empty kind for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindAggregationTimeout
	}
	return KindInternal
}
