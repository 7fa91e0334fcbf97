package kberrors

import (
	"errors"
	"fmt"
)

// Error is the structured error type for kbase.
// It carries a stable code, a classification, and key-value context for
// logging and API responses.
type Error struct {
	// Code is the unique error code (e.g., "ERR_402_NOT_FOUND").
	Code string

	// Message is the human-readable error message.
	Message string

	// Kind is the error classification (Config, Storage, Provider, ...).
	Kind Kind

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error, if any.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors by code, enabling errors.Is with sentinel values
// built from the same code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a new Error with the given code and message.
// Kind, severity, and the retryable flag are derived from the code.
func New(code string, message string, cause error) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Kind:      kindFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Newf creates a new Error with a formatted message and no cause.
func Newf(code string, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// Wrap creates an Error from an existing error.
// The error's message becomes the Error message. If err is already a
// kbase error it is returned unchanged so codes survive layer crossings.
func Wrap(code string, err error) *Error {
	if err == nil {
		return nil
	}
	var ke *Error
	if errors.As(err, &ke) {
		return ke
	}
	return New(code, err.Error(), err)
}

// Validation creates a request validation error.
func Validation(format string, args ...any) *Error {
	return Newf(CodeValidation, format, args...)
}

// NotFound creates a missing-resource error.
func NotFound(format string, args ...any) *Error {
	return Newf(CodeNotFound, format, args...)
}

// Forbidden creates a permission error.
func Forbidden(format string, args ...any) *Error {
	return Newf(CodeForbidden, format, args...)
}

// Precondition creates a state-machine violation error.
func Precondition(format string, args ...any) *Error {
	return Newf(CodePrecondition, format, args...)
}

// Internal creates an internal error wrapping a cause.
func Internal(message string, cause error) *Error {
	return New(CodeInternal, message, cause)
}

// IsRetryable checks if an error is retryable.
// Returns true only for a kbase error with the Retryable flag set.
func IsRetryable(err error) bool {
	var ke *Error
	if errors.As(err, &ke) {
		return ke.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
func IsFatal(err error) bool {
	var ke *Error
	if errors.As(err, &ke) {
		return ke.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code, or "" if err is not a kbase error.
func GetCode(err error) string {
	var ke *Error
	if errors.As(err, &ke) {
		return ke.Code
	}
	return ""
}

// GetKind extracts the kind, or "" if err is not a kbase error.
func GetKind(err error) Kind {
	var ke *Error
	if errors.As(err, &ke) {
		return ke.Kind
	}
	return ""
}
