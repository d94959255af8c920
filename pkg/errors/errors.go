package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError represents an application error with HTTP status code
type AppError struct {
	Code    int    `json:"code"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	cause   error
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.cause
}

// Error kinds used across the registry and engine
const (
	KindValidation = "validation"
	KindNotFound   = "not_found"
	KindForbidden  = "forbidden"
	KindGeneration = "generation"
	KindStorage    = "storage"
	KindProtocol   = "protocol"
	KindInternal   = "internal"
)

// Common errors
var (
	ErrNotFound       = &AppError{Code: http.StatusNotFound, Kind: KindNotFound, Message: "Resource not found"}
	ErrUnauthorized   = &AppError{Code: http.StatusUnauthorized, Kind: KindForbidden, Message: "Unauthorized"}
	ErrForbidden      = &AppError{Code: http.StatusForbidden, Kind: KindForbidden, Message: "Forbidden"}
	ErrBadRequest     = &AppError{Code: http.StatusBadRequest, Kind: KindValidation, Message: "Bad request"}
	ErrInternalServer = &AppError{Code: http.StatusInternalServerError, Kind: KindInternal, Message: "Internal server error"}
)

// NewValidation creates a validation error (malformed input, bad trigger spec)
func NewValidation(message string) *AppError {
	return &AppError{Code: http.StatusBadRequest, Kind: KindValidation, Message: message}
}

// NewNotFound creates a not-found error for an unknown device or automation id
func NewNotFound(resource, id string) *AppError {
	return &AppError{
		Code:    http.StatusNotFound,
		Kind:    KindNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Details: id,
	}
}

// NewGeneration creates an error for unusable AI collaborator output
func NewGeneration(message string, cause error) *AppError {
	return &AppError{Code: http.StatusBadGateway, Kind: KindGeneration, Message: message, cause: cause}
}

// NewStorage wraps a persistence failure
func NewStorage(op string, cause error) *AppError {
	return &AppError{
		Code:    http.StatusInternalServerError,
		Kind:    KindStorage,
		Message: fmt.Sprintf("storage operation failed: %s", op),
		cause:   cause,
	}
}

// NewProtocol wraps an external adapter failure. Protocol errors only surface
// as action-level failures, never as component-level errors.
func NewProtocol(message string, cause error) *AppError {
	return &AppError{Code: http.StatusBadGateway, Kind: KindProtocol, Message: message, cause: cause}
}

// WithDetails adds details to an error
func WithDetails(err *AppError, details string) *AppError {
	return &AppError{
		Code:    err.Code,
		Kind:    err.Kind,
		Message: err.Message,
		Details: details,
		cause:   err.cause,
	}
}

// IsKind reports whether err is an AppError of the given kind
func IsKind(err error, kind string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind == kind
	}
	return false
}

// IsNotFound reports whether err is a not-found error
func IsNotFound(err error) bool {
	return IsKind(err, KindNotFound)
}

// IsValidation reports whether err is a validation error
func IsValidation(err error) bool {
	return IsKind(err, KindValidation)
}

// GetStatusCode returns the HTTP status code from an error
func GetStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return http.StatusInternalServerError
}
