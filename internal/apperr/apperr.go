// Package apperr defines the error taxonomy shared by every external call
// site. Each failure is tagged with a Kind so the queue can decide
// retry-ability in one place instead of inspecting ad hoc shapes.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind string

const (
	KindNotFound      Kind = "NOT_FOUND"
	KindRateLimited   Kind = "RATE_LIMITED"
	KindNetwork       Kind = "NETWORK_ERROR"
	KindValidation    Kind = "VALIDATION_ERROR"
	KindPermanentAuth Kind = "PERMANENT_AUTH_ERROR"
	KindQuotaExceeded Kind = "QUOTA_EXHAUSTED"
	KindInternal      Kind = "INTERNAL"
)

// Error is a tagged error. Op names the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a tagged error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf creates a tagged error from a format string.
func Newf(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the Kind from err, or KindInternal for untagged errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Retryable reports whether the queue should retry the job carrying err.
// Only transient provider conditions qualify; everything else fails fast.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindRateLimited, KindNetwork, KindInternal:
		return true
	default:
		return false
	}
}

// Is lets errors.Is match against a bare Kind sentinel.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
