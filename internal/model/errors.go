package model

import (
	"errors"
	"fmt"
)

// Kind categorizes errors returned by remote writes and validation.
type Kind string

const (
	// KindPermissionDenied means the backend rejected the write on authorization.
	// The optimistic overlay of the mutation is rolled back.
	KindPermissionDenied Kind = "permission_denied"

	// KindTransient means the write may succeed if retried (network, timeout).
	// The mutation stays pending.
	KindTransient Kind = "transient"

	// KindNotFound means the referenced item, class or request does not exist.
	// Never retried.
	KindNotFound Kind = "not_found"

	// KindValidation means the input was rejected before a mutation was recorded.
	KindValidation Kind = "validation"
)

// Error is the structured {kind, message} result surfaced to callers.
type Error struct {
	Kind    Kind
	Message string

	// Err is the underlying cause (optional).
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the error kind allows a retry.
func (e *Error) Retryable() bool {
	return e.Kind == KindTransient
}

// NewError creates an Error of the given kind.
func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WrapError creates an Error of the given kind wrapping cause.
func WrapError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// PermissionDenied creates a KindPermissionDenied error.
func PermissionDenied(format string, args ...any) *Error {
	return NewError(KindPermissionDenied, fmt.Sprintf(format, args...))
}

// NotFound creates a KindNotFound error.
func NotFound(format string, args ...any) *Error {
	return NewError(KindNotFound, fmt.Sprintf(format, args...))
}

// Validation creates a KindValidation error.
func Validation(format string, args ...any) *Error {
	return NewError(KindValidation, fmt.Sprintf(format, args...))
}

// Transient creates a KindTransient error.
func Transient(format string, args ...any) *Error {
	return NewError(KindTransient, fmt.Sprintf(format, args...))
}

// KindOf extracts the Kind from err. Errors that are not an *Error are
// classified as transient: an unknown failure of a remote call is assumed
// to be network trouble rather than a definitive rejection.
// Returns "" for a nil error.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransient
}

// IsKind reports whether err is an *Error of the given kind.
// Uses errors.As to handle wrapped errors.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// AsError converts any error to an *Error, classifying unknown errors with KindOf.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return WrapError(KindTransient, "remote call failed", err)
}
