package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate indicates a uniqueness violation in the store.
	ErrDuplicate = errors.New("duplicate entry")
	// ErrAuthenticationRequired indicates a missing or invalid principal.
	ErrAuthenticationRequired = errors.New("authentication required")
	// ErrPermissionDenied indicates the principal lacks a grant.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrCrossTenantViolation indicates an attempted tenant boundary breach.
	ErrCrossTenantViolation = errors.New("cross-tenant violation")
	// ErrConfiguration indicates an entity policy or deployment inconsistency.
	ErrConfiguration = errors.New("authorization configuration error")
	// ErrDataIntegrity indicates malformed stored permission data.
	ErrDataIntegrity = errors.New("permission data integrity warning")
	// ErrInvalidOperation indicates a malformed data operation.
	ErrInvalidOperation = errors.New("invalid operation")
)

// Error codes exposed to clients.
const (
	CodeAuthRequired            = "AUTH_REQUIRED"
	CodeInsufficientPermissions = "AUTH_INSUFFICIENT_PERMISSIONS"
	CodeIsolationViolation      = "AUTH_COMPANY_ISOLATION_VIOLATION"
	CodeConfiguration           = "AUTHZ_CONFIGURATION_ERROR"
	CodeInvalidOperation        = "INVALID_OPERATION"
	CodeNotFound                = "NOT_FOUND"
	CodeDuplicate               = "DUPLICATE"
	CodeInternal                = "INTERNAL_ERROR"
)

// Error carries a client facing code next to one of the sentinel errors above.
type Error struct {
	Kind     error
	Code     string
	Message  string
	Required []string
	Current  []string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Message)
}

// Unwrap exposes the sentinel for errors.Is.
func (e *Error) Unwrap() error {
	return e.Kind
}

// Denied builds a permission denial carrying the diagnostic permission lists.
func Denied(message string, required, current []string) *Error {
	return &Error{Kind: ErrPermissionDenied, Code: CodeInsufficientPermissions, Message: message, Required: required, Current: current}
}

// CrossTenant builds a tenant isolation violation.
func CrossTenant(format string, args ...any) *Error {
	return &Error{Kind: ErrCrossTenantViolation, Code: CodeIsolationViolation, Message: fmt.Sprintf(format, args...)}
}

// Misconfigured builds a configuration error.
func Misconfigured(format string, args ...any) *Error {
	return &Error{Kind: ErrConfiguration, Code: CodeConfiguration, Message: fmt.Sprintf(format, args...)}
}

// Invalid builds an invalid operation error.
func Invalid(format string, args ...any) *Error {
	return &Error{Kind: ErrInvalidOperation, Code: CodeInvalidOperation, Message: fmt.Sprintf(format, args...)}
}

// Unauthenticated builds an authentication error.
func Unauthenticated(message string) *Error {
	return &Error{Kind: ErrAuthenticationRequired, Code: CodeAuthRequired, Message: message}
}

// UserSafeMessage returns a message that can be shown to clients.
func UserSafeMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		switch {
		case errors.Is(e.Kind, ErrConfiguration):
			return "authorization is misconfigured for this resource"
		case errors.Is(e.Kind, ErrCrossTenantViolation):
			return "access to data of another organisation is not allowed"
		}
		if e.Message != "" {
			return e.Message
		}
		return e.Kind.Error()
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return "resource not found"
	case errors.Is(err, ErrDuplicate):
		return "resource already exists"
	}
	return "internal error"
}
