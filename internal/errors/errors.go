// Package errors provides application-level errors with stable codes.
// Handlers map codes to HTTP statuses in exactly one place; everything
// below the HTTP layer deals in codes only.
package errors

import (
	stderrors "errors"
	"fmt"
)

// AppError represents an application-level error with a code and optional cause.
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// New creates a new AppError.
func New(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Error codes
const (
	ErrCodeValidation        = "VALIDATION_FAILED"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeUpstreamInference = "UPSTREAM_INFERENCE_FAILED"
	ErrCodeToolProvider      = "TOOL_PROVIDER_FAILED"
	ErrCodeStorage           = "STORAGE_UNAVAILABLE"
	ErrCodeConfig            = "CONFIG_INVALID"
	ErrCodeInternal          = "INTERNAL"
)

// CodeOf returns the code of the outermost AppError in err's chain,
// or ErrCodeInternal if err carries no AppError.
func CodeOf(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code string) bool {
	return err != nil && CodeOf(err) == code
}
