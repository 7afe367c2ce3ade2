package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes returned in HTTP responses.
const (
	CodeInternal     = "INTERNAL_ERROR"
	CodeNotFound     = "NOT_FOUND"
	CodeValidation   = "VALIDATION_ERROR"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeConflict     = "CONFLICT"
	CodeRunStopped   = "RUN_STOPPED"
	CodeUnavailable  = "SERVICE_UNAVAILABLE"
)

// AppError is an error carrying the code and HTTP status the handler
// layer needs to build a response without inspecting the message.
type AppError struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Details    map[string]string `json:"details,omitempty"`
	StatusCode int               `json:"-"`
	Err        error             `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail attaches a key/value pair surfaced in the response body
func (e *AppError) WithDetail(key, value string) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates an AppError with an explicit code and status
func New(code, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// NotFound creates a not found error for the named resource
func NotFound(resource string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

// Validation creates a validation error
func Validation(message string) *AppError {
	return New(CodeValidation, message, http.StatusBadRequest)
}

// Unauthorized creates an unauthorized error
func Unauthorized(message string) *AppError {
	return New(CodeUnauthorized, message, http.StatusUnauthorized)
}

// Conflict creates a conflict error
func Conflict(message string) *AppError {
	return New(CodeConflict, message, http.StatusConflict)
}

// RunStopped creates an error for an event addressed to a stopped run
func RunStopped(runID string) *AppError {
	return New(CodeRunStopped, fmt.Sprintf("run %s is stopped and no longer accepts events", runID), http.StatusConflict)
}

// Unavailable creates an error for a dependency that is temporarily down
func Unavailable(message string) *AppError {
	return New(CodeUnavailable, message, http.StatusServiceUnavailable)
}

// GetAppError extracts an AppError from err's chain, or returns nil
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

func hasCode(err error, code string) bool {
	appErr := GetAppError(err)
	return appErr != nil && appErr.Code == code
}

// IsNotFound reports whether err is a not found error
func IsNotFound(err error) bool { return hasCode(err, CodeNotFound) }

// IsValidation reports whether err is a validation error
func IsValidation(err error) bool { return hasCode(err, CodeValidation) }

// IsUnauthorized reports whether err is an unauthorized error
func IsUnauthorized(err error) bool { return hasCode(err, CodeUnauthorized) }

// IsConflict reports whether err is a conflict error
func IsConflict(err error) bool { return hasCode(err, CodeConflict) }
