package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the experimentation core.
type ErrorCode string

// Caller-fault error codes. None of these are retryable: the request itself
// is wrong and will fail the same way again.
const (
	ErrValidation   ErrorCode = "VALIDATION_FAILED"
	ErrNotFound     ErrorCode = "EXPERIMENT_NOT_FOUND"
	ErrInvalidState ErrorCode = "INVALID_STATE"
	ErrNotAssigned  ErrorCode = "SUBJECT_NOT_ASSIGNED"
)

// Infrastructure error codes
const (
	ErrStorage     ErrorCode = "STORAGE_ERROR"
	ErrInternal    ErrorCode = "INTERNAL_ERROR"
	ErrRateLimited ErrorCode = "RATE_LIMITED"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target carries the same error code, so callers can use
// errors.Is against sentinel instances.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// NewValidationError reports a malformed experiment or variant definition.
func NewValidationError(format string, args ...any) *Error {
	return &Error{
		Code:       ErrValidation,
		Message:    fmt.Sprintf(format, args...),
		HTTPStatus: 400,
	}
}

// NewNotFoundError reports an unknown experiment id.
func NewNotFoundError(experimentID string) *Error {
	return &Error{
		Code:       ErrNotFound,
		Message:    fmt.Sprintf("experiment %q not found", experimentID),
		HTTPStatus: 404,
	}
}

// NewStateError reports an operation that is illegal in the experiment's
// current lifecycle state.
func NewStateError(format string, args ...any) *Error {
	return &Error{
		Code:       ErrInvalidState,
		Message:    fmt.Sprintf(format, args...),
		HTTPStatus: 409,
	}
}

// NewNotAssignedError reports a conversion recorded for a subject that was
// never assigned to the experiment.
func NewNotAssignedError(subjectID, experimentID string) *Error {
	return &Error{
		Code:       ErrNotAssigned,
		Message:    fmt.Sprintf("subject %q has no assignment in experiment %q", subjectID, experimentID),
		HTTPStatus: 409,
	}
}

// NewStorageError wraps a persistence-layer failure.
func NewStorageError(cause error) *Error {
	return &Error{
		Code:       ErrStorage,
		Message:    "storage operation failed",
		HTTPStatus: 500,
		Retryable:  true,
		Cause:      cause,
	}
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
