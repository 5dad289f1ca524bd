package domain

import (
	"errors"
	"fmt"
)

// ErrKind classifies an application error for the HTTP boundary.
type ErrKind int

const (
	// KindInternal - unexpected failure, surfaces as 500 with a trace id
	KindInternal ErrKind = iota
	// KindValidation - input violates a schema constraint, surfaces as 422
	KindValidation
	// KindNotFound - id lookup miss, surfaces as 404
	KindNotFound
	// KindBusiness - domain precondition failed, surfaces as 400
	KindBusiness
	// KindUpstream - no upstream provider could serve the call, surfaces as 503
	KindUpstream
)

// String returns the kind's short name for logs and envelopes.
func (k ErrKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindBusiness:
		return "business"
	case KindUpstream:
		return "upstream_unavailable"
	default:
		return "internal"
	}
}

// AppError carries a kind alongside the underlying error.
type AppError struct {
	Kind ErrKind
	Msg  string
	Err  error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Validationf creates a validation error.
func Validationf(format string, args ...interface{}) error {
	return &AppError{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

// NotFoundf creates a resource-not-found error.
func NotFoundf(format string, args ...interface{}) error {
	return &AppError{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

// Businessf creates a domain-precondition error.
func Businessf(format string, args ...interface{}) error {
	return &AppError{Kind: KindBusiness, Msg: fmt.Sprintf(format, args...)}
}

// Upstreamf creates an upstream-unavailable error.
func Upstreamf(format string, args ...interface{}) error {
	return &AppError{Kind: KindUpstream, Msg: fmt.Sprintf(format, args...)}
}

// Internalf creates an internal error wrapping err.
func Internalf(err error, format string, args ...interface{}) error {
	return &AppError{Kind: KindInternal, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the kind from err, defaulting to KindInternal.
func KindOf(err error) ErrKind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrKind) bool {
	return KindOf(err) == kind
}
