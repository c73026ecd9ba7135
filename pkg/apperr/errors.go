// Package apperr defines the outcome taxonomy shared by every service operation.
//
// Services return *Error for expected domain outcomes (missing entities, denied
// access, conflicts) and plain wrapped errors for everything else. KindOf
// classifies any error chain so the HTTP layer can map it to a status code.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an operation outcome
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindPermissionDenied
	KindQuotaExceeded
	KindValidation
	KindConflict
	KindExternalVerification
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindPermissionDenied:
		return "permission_denied"
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindExternalVerification:
		return "external_verification"
	default:
		return "internal"
	}
}

// Error is a classified domain error
type Error struct {
	Kind    Kind
	Message string
	// Field names the offending request field for validation errors
	Field string
	Err   error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrorKind reports the kind of the error
func (e *Error) ErrorKind() Kind {
	return e.Kind
}

// Kinded is implemented by errors outside this package that carry a Kind
type Kinded interface {
	ErrorKind() Kind
}

// NotFound returns a NotFound error for the named entity
func NotFound(entity string) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s not found", entity)}
}

// PermissionDenied returns a PermissionDenied error with a human readable reason
func PermissionDenied(reason string) *Error {
	return &Error{Kind: KindPermissionDenied, Message: reason}
}

// Validation returns a Validation error for a request field
func Validation(field, message string) *Error {
	return &Error{Kind: KindValidation, Field: field, Message: message}
}

// Conflict returns a Conflict error
func Conflict(message string) *Error {
	return &Error{Kind: KindConflict, Message: message}
}

// Verification returns an ExternalVerification error
func Verification(message string, err error) *Error {
	return &Error{Kind: KindExternalVerification, Message: message, Err: err}
}

// Internal wraps an unexpected error
func Internal(message string, err error) *Error {
	return &Error{Kind: KindInternal, Message: message, Err: err}
}

// KindOf classifies err. Unclassified errors are KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	var k Kinded
	if errors.As(err, &k) {
		return k.ErrorKind()
	}
	return KindInternal
}

// Is reports whether err is classified as kind
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsNotFound reports whether err is a NotFound outcome
func IsNotFound(err error) bool {
	return Is(err, KindNotFound)
}

// IsPermissionDenied reports whether err is a PermissionDenied outcome
func IsPermissionDenied(err error) bool {
	return Is(err, KindPermissionDenied)
}

// IsConflict reports whether err is a Conflict outcome
func IsConflict(err error) bool {
	return Is(err, KindConflict)
}

// IsValidation reports whether err is a Validation outcome
func IsValidation(err error) bool {
	return Is(err, KindValidation)
}

// Message returns the client-safe message for err
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindInternal {
		return e.Message
	}
	if k := KindOf(err); k != KindInternal {
		return err.Error()
	}
	return "internal server error"
}
