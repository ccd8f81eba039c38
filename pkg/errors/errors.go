// Package errors defines the gateway error taxonomy and its mapping to
// HTTP status codes at the route boundary.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error types
const (
	// ErrUnauthorized is returned when a request carries no valid identity
	ErrUnauthorized = "unauthorized"

	// ErrForbidden is returned when an identity is present but lacks rights
	ErrForbidden = "forbidden"

	// ErrNotFound is returned when a requested entity does not exist
	ErrNotFound = "not_found"

	// ErrUnavailable is returned when an entity exists but is unusable,
	// e.g. an inactive connection
	ErrUnavailable = "unavailable"

	// ErrDecryption is returned when vault ciphertext fails authentication.
	// Decryption errors are always fatal and never ignored.
	ErrDecryption = "decryption"

	// ErrInternal is returned when there is an internal error
	ErrInternal = "internal"
)

// Error represents an error in the gateway
type Error struct {
	// Type is the error type
	Type string

	// Message is the error message
	Message string

	// Cause is the underlying error
	Cause error
}

// Error returns the error message
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new error
func NewError(errorType, message string, cause error) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Cause:   cause,
	}
}

// NewUnauthorizedError creates a new unauthorized error
func NewUnauthorizedError(message string, cause error) *Error {
	return NewError(ErrUnauthorized, message, cause)
}

// NewForbiddenError creates a new forbidden error
func NewForbiddenError(message string, cause error) *Error {
	return NewError(ErrForbidden, message, cause)
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(message string, cause error) *Error {
	return NewError(ErrNotFound, message, cause)
}

// NewUnavailableError creates a new unavailable error
func NewUnavailableError(message string, cause error) *Error {
	return NewError(ErrUnavailable, message, cause)
}

// NewDecryptionError creates a new decryption error
func NewDecryptionError(message string, cause error) *Error {
	return NewError(ErrDecryption, message, cause)
}

// NewInternalError creates a new internal error
func NewInternalError(message string, cause error) *Error {
	return NewError(ErrInternal, message, cause)
}

// typeOf extracts the gateway error type from err, unwrapping as needed.
func typeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ""
}

// IsUnauthorized checks if the error is an unauthorized error
func IsUnauthorized(err error) bool {
	return typeOf(err) == ErrUnauthorized
}

// IsForbidden checks if the error is a forbidden error
func IsForbidden(err error) bool {
	return typeOf(err) == ErrForbidden
}

// IsNotFound checks if the error is a not found error
func IsNotFound(err error) bool {
	return typeOf(err) == ErrNotFound
}

// IsUnavailable checks if the error is an unavailable error
func IsUnavailable(err error) bool {
	return typeOf(err) == ErrUnavailable
}

// IsDecryption checks if the error is a decryption error
func IsDecryption(err error) bool {
	return typeOf(err) == ErrDecryption
}

// IsInternal checks if the error is an internal error
func IsInternal(err error) bool {
	return typeOf(err) == ErrInternal
}

// Kind returns the gateway error type for err, or "internal" when err does
// not carry one. Used to tag error metrics.
func Kind(err error) string {
	if t := typeOf(err); t != "" {
		return t
	}
	return ErrInternal
}

// HTTPStatus maps an error to the status code surfaced at the route boundary:
// not found becomes 404, an inactive entity 503, and anything untyped 500.
func HTTPStatus(err error) int {
	switch typeOf(err) {
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrForbidden:
		return http.StatusForbidden
	case ErrNotFound:
		return http.StatusNotFound
	case ErrUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
