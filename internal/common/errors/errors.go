// Package errors provides custom error types for the AgentMux application.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes as constants
const (
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeInvalidInput       = "INVALID_INPUT"
	ErrCodeSessionUnavailable = "SESSION_UNAVAILABLE"
	ErrCodeTimeout            = "TIMEOUT"
	ErrCodeMoveFailed         = "MOVE_FAILED"
	ErrCodeDeliveryFailed     = "DELIVERY_FAILED"
	ErrCodeStorageError       = "STORAGE_ERROR"
	ErrCodeInternalError      = "INTERNAL_ERROR"
)

// AppError represents an application-specific error with additional context.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"http_status"`
	Err        error  `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for use with errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound creates a new not found error for a resource.
func NotFound(resource string, id string) *AppError {
	return &AppError{
		Code:       ErrCodeNotFound,
		Message:    fmt.Sprintf("%s with id '%s' not found", resource, id),
		HTTPStatus: http.StatusNotFound,
	}
}

// Conflict creates a new conflict error.
func Conflict(message string) *AppError {
	return &AppError{
		Code:       ErrCodeConflict,
		Message:    message,
		HTTPStatus: http.StatusConflict,
	}
}

// InvalidInput creates a new invalid input error.
func InvalidInput(message string) *AppError {
	return &AppError{
		Code:       ErrCodeInvalidInput,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// ValidationError creates a new invalid input error for a specific field.
func ValidationError(field string, message string) *AppError {
	return &AppError{
		Code:       ErrCodeInvalidInput,
		Message:    fmt.Sprintf("validation failed for field '%s': %s", field, message),
		HTTPStatus: http.StatusBadRequest,
	}
}

// SessionUnavailable creates an error for a session the driver reports dead.
func SessionUnavailable(sessionName string) *AppError {
	return &AppError{
		Code:       ErrCodeSessionUnavailable,
		Message:    fmt.Sprintf("session '%s' is not available", sessionName),
		HTTPStatus: http.StatusServiceUnavailable,
	}
}

// Timeout creates an error for an operation that exhausted its deadline.
func Timeout(message string) *AppError {
	return &AppError{
		Code:       ErrCodeTimeout,
		Message:    message,
		HTTPStatus: http.StatusGatewayTimeout,
	}
}

// MoveFailed creates an error for a failed task folder transition.
func MoveFailed(message string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeMoveFailed,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// DeliveryFailed creates an error for a failed scheduled delivery.
func DeliveryFailed(sessionName string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeDeliveryFailed,
		Message:    fmt.Sprintf("delivery to session '%s' failed", sessionName),
		HTTPStatus: http.StatusBadGateway,
		Err:        err,
	}
}

// StorageError creates an error for a failed snapshot write or read.
func StorageError(message string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeStorageError,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// InternalError creates a new internal server error with a wrapped underlying error.
func InternalError(message string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeInternalError,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// Wrap wraps an existing error with additional context, returning an AppError.
func Wrap(err error, message string) *AppError {
	if err == nil {
		return nil
	}

	// If the error is already an AppError, preserve its code and status
	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{
			Code:       appErr.Code,
			Message:    fmt.Sprintf("%s: %s", message, appErr.Message),
			HTTPStatus: appErr.HTTPStatus,
			Err:        err,
		}
	}

	// Otherwise, wrap as an internal error
	return &AppError{
		Code:       ErrCodeInternalError,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// code extracts the AppError code, or "" for non-AppErrors.
func code(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// IsNotFound checks if the error is a not found error.
func IsNotFound(err error) bool { return code(err) == ErrCodeNotFound }

// IsConflict checks if the error is a conflict error.
func IsConflict(err error) bool { return code(err) == ErrCodeConflict }

// IsInvalidInput checks if the error is an invalid input error.
func IsInvalidInput(err error) bool { return code(err) == ErrCodeInvalidInput }

// IsTimeout checks if the error is a timeout error.
func IsTimeout(err error) bool { return code(err) == ErrCodeTimeout }

// IsSessionUnavailable checks if the error reports a dead session.
func IsSessionUnavailable(err error) bool { return code(err) == ErrCodeSessionUnavailable }

// GetHTTPStatus returns the HTTP status code for an error.
// Returns 500 Internal Server Error if the error is not an AppError.
func GetHTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
