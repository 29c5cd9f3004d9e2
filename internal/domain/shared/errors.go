package shared

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an error for retry and reporting decisions
type ErrorKind string

const (
	KindUnknown       ErrorKind = "unknown"
	KindTransient     ErrorKind = "transient"
	KindPermanent     ErrorKind = "permanent"
	KindAuthorization ErrorKind = "authorization"
	KindNotFound      ErrorKind = "not_found"
)

// DomainError represents a domain-level error
type DomainError struct {
	Code    string    `json:"code"`
	Message string    `json:"message"`
	Kind    ErrorKind `json:"-"`
	cause   error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause, if any
func (e *DomainError) Unwrap() error {
	return e.cause
}

// Is matches domain errors by code so wrapped copies compare equal to sentinels
func (e *DomainError) Is(target error) bool {
	var t *DomainError
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// WithCause returns a copy of the error wrapping cause
func (e *DomainError) WithCause(cause error) *DomainError {
	return &DomainError{Code: e.Code, Message: e.Message, Kind: e.Kind, cause: cause}
}

// WithMessage returns a copy of the error with a more specific message
func (e *DomainError) WithMessage(message string) *DomainError {
	return &DomainError{Code: e.Code, Message: message, Kind: e.Kind, cause: e.cause}
}

// NewDomainError creates a new permanent domain error
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Kind:    KindPermanent,
	}
}

// NewKindError creates a domain error of the given kind
func NewKindError(kind ErrorKind, code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Kind:    kind,
	}
}

// Common domain errors
var (
	ErrNotFound            = NewKindError(KindNotFound, "NOT_FOUND", "Resource not found")
	ErrAlreadyExists       = NewDomainError("ALREADY_EXISTS", "Resource already exists")
	ErrInvalidInput        = NewDomainError("INVALID_INPUT", "Invalid input provided")
	ErrInvalidState        = NewDomainError("INVALID_STATE", "Operation not allowed in current state")
	ErrTenantRequired      = NewDomainError("TENANT_REQUIRED", "Tenant ID is required")
	ErrConcurrencyConflict = NewKindError(KindTransient, "CONCURRENCY_CONFLICT", "Resource was modified by another process")
	ErrTransient           = NewKindError(KindTransient, "TRANSIENT", "Temporary failure, retry later")
	ErrPlatformUnavailable = NewKindError(KindTransient, "PLATFORM_UNAVAILABLE", "Commerce platform is unavailable")
	ErrUnauthorized        = NewKindError(KindAuthorization, "UNAUTHORIZED", "Not authorized to perform this action")
	ErrForbidden           = NewKindError(KindAuthorization, "FORBIDDEN", "Access to this resource is forbidden")
	ErrPermissionDenied    = NewKindError(KindAuthorization, "PERMISSION_DENIED", "Role does not permit this action")
)

// KindOf returns the kind of the first DomainError in err's chain
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	var de *DomainError
	if errors.As(err, &de) && de.Kind != "" {
		return de.Kind
	}
	return KindUnknown
}

// IsTransient reports whether err should be retried
func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}

// IsPermanent reports whether retrying err can never succeed
func IsPermanent(err error) bool {
	switch KindOf(err) {
	case KindPermanent, KindAuthorization, KindNotFound:
		return true
	default:
		return false
	}
}

// Transient wraps err as a transient failure
func Transient(err error) error {
	if err == nil {
		return nil
	}
	if IsTransient(err) {
		return err
	}
	return ErrTransient.WithCause(err)
}

// Permanent wraps err as a permanent failure
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	if IsPermanent(err) {
		return err
	}
	return NewDomainError("PERMANENT", "Permanent failure").WithCause(err)
}
