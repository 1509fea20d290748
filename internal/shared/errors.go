package shared

import (
	"errors"
	"fmt"
)

// Error kinds. Every domain error wraps exactly one of these so transports can map
// them without knowing the domain.
var (
	// ErrValidation marks malformed input; nothing was attempted.
	ErrValidation = errors.New("validation failed")
	// ErrForbidden marks a role or branch-scope denial.
	ErrForbidden = errors.New("forbidden")
	// ErrUnauthorized marks a missing or bad credential.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrConflict marks a business rule conflict such as insufficient stock.
	ErrConflict = errors.New("conflict")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrIntegrity marks a broken storage invariant.
	ErrIntegrity = errors.New("integrity violation")
)

// DomainError carries a machine readable code alongside its kind.
type DomainError struct {
	Kind    error
	Code    string
	Message string
}

func (e *DomainError) Error() string {
	return e.Message
}

// Unwrap exposes the kind to errors.Is.
func (e *DomainError) Unwrap() error {
	return e.Kind
}

// NewError builds a DomainError.
func NewError(kind error, code, message string) *DomainError {
	return &DomainError{Kind: kind, Code: code, Message: message}
}

// Errorf builds a DomainError with a formatted message.
func Errorf(kind error, code, format string, args ...any) *DomainError {
	return &DomainError{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Detail returns a new error with the same kind and code and a more specific message.
func (e *DomainError) Detail(format string, args ...any) *DomainError {
	return &DomainError{Kind: e.Kind, Code: e.Code, Message: fmt.Sprintf("%s: %s", e.Message, fmt.Sprintf(format, args...))}
}

// Is matches on code so that Detail variants compare equal to their sentinel.
func (e *DomainError) Is(target error) bool {
	var other *DomainError
	if errors.As(target, &other) {
		return other.Code != "" && other.Code == e.Code
	}
	return false
}

// ErrorCode extracts the code of the first DomainError in the chain.
func ErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}
