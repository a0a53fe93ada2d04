// Package errors defines the structured error taxonomy shared by the
// jobwell pipelines, stores, and callers.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a category of application error.
type ErrorCode string

const (
	// ErrCodeNotFound indicates a referenced Job or Application is absent.
	ErrCodeNotFound ErrorCode = "not_found"
	// ErrCodeDuplicateApplication indicates the (user, job) uniqueness invariant was violated.
	ErrCodeDuplicateApplication ErrorCode = "duplicate_application"
	// ErrCodeConflict indicates an optimistic-concurrency mismatch on a status update.
	// The caller must re-read and decide whether to retry.
	ErrCodeConflict ErrorCode = "conflict"
	// ErrCodeInvalidTransition indicates a status change the state machine forbids.
	ErrCodeInvalidTransition ErrorCode = "invalid_transition"
	// ErrCodeAlreadyInFlight indicates a submission lease is already held for the Application.
	ErrCodeAlreadyInFlight ErrorCode = "already_in_flight"
	// ErrCodeTransientUpstream indicates a retryable external failure (timeout, rate limit, 5xx).
	ErrCodeTransientUpstream ErrorCode = "transient_upstream"
	// ErrCodePermanentUpstream indicates a non-retryable external failure.
	ErrCodePermanentUpstream ErrorCode = "permanent_upstream"
	// ErrCodeMalformedSource indicates a single ingestion candidate failed to parse.
	ErrCodeMalformedSource ErrorCode = "malformed_source"
	// ErrCodeValidation indicates invalid input data.
	ErrCodeValidation ErrorCode = "validation"
	// ErrCodeInternal indicates an internal error.
	ErrCodeInternal ErrorCode = "internal"
	// ErrCodeTimeout indicates a timeout occurred.
	ErrCodeTimeout ErrorCode = "timeout"
	// ErrCodeCanceled indicates the operation was canceled.
	ErrCodeCanceled ErrorCode = "canceled"
)

// AppError represents a structured application error with a code, message, and optional cause.
// It supports error wrapping and unwrapping for use with errors.Is and errors.As.
type AppError struct {
	// Code categorizes the error type
	Code ErrorCode
	// Message is a human-readable error message
	Message string
	// Cause is the underlying error that caused this error (optional)
	Cause error
	// Field is the specific field that caused the error (optional, for validation errors)
	Field string
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause, enabling errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NotFound creates a new NotFound error.
func NotFound(message string) *AppError {
	return &AppError{Code: ErrCodeNotFound, Message: message}
}

// NotFoundf creates a new NotFound error with formatted message.
func NotFoundf(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// DuplicateApplication creates a new DuplicateApplication error.
func DuplicateApplication(message string) *AppError {
	return &AppError{Code: ErrCodeDuplicateApplication, Message: message}
}

// Conflict creates a new Conflict error.
func Conflict(message string) *AppError {
	return &AppError{Code: ErrCodeConflict, Message: message}
}

// Conflictf creates a new Conflict error with formatted message.
func Conflictf(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeConflict, Message: fmt.Sprintf(format, args...)}
}

// InvalidTransition creates a new InvalidTransition error.
func InvalidTransition(message string) *AppError {
	return &AppError{Code: ErrCodeInvalidTransition, Message: message}
}

// InvalidTransitionf creates a new InvalidTransition error with formatted message.
func InvalidTransitionf(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeInvalidTransition, Message: fmt.Sprintf(format, args...)}
}

// AlreadyInFlight creates a new AlreadyInFlight error.
func AlreadyInFlight(message string) *AppError {
	return &AppError{Code: ErrCodeAlreadyInFlight, Message: message}
}

// TransientUpstream creates a new TransientUpstream error.
func TransientUpstream(message string) *AppError {
	return &AppError{Code: ErrCodeTransientUpstream, Message: message}
}

// TransientUpstreamf creates a new TransientUpstream error with formatted message.
func TransientUpstreamf(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeTransientUpstream, Message: fmt.Sprintf(format, args...)}
}

// PermanentUpstream creates a new PermanentUpstream error.
func PermanentUpstream(message string) *AppError {
	return &AppError{Code: ErrCodePermanentUpstream, Message: message}
}

// PermanentUpstreamf creates a new PermanentUpstream error with formatted message.
func PermanentUpstreamf(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodePermanentUpstream, Message: fmt.Sprintf(format, args...)}
}

// MalformedSource creates a new MalformedSource error.
func MalformedSource(message string) *AppError {
	return &AppError{Code: ErrCodeMalformedSource, Message: message}
}

// MalformedSourcef creates a new MalformedSource error with formatted message.
func MalformedSourcef(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeMalformedSource, Message: fmt.Sprintf(format, args...)}
}

// Validation creates a new Validation error.
func Validation(message string) *AppError {
	return &AppError{Code: ErrCodeValidation, Message: message}
}

// ValidationField creates a new Validation error for a specific field.
func ValidationField(field, message string) *AppError {
	return &AppError{Code: ErrCodeValidation, Message: message, Field: field}
}

// Internal creates a new Internal error.
func Internal(message string) *AppError {
	return &AppError{Code: ErrCodeInternal, Message: message}
}

// Internalf creates a new Internal error with formatted message.
func Internalf(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeInternal, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with an AppError, preserving the cause.
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{Code: code, Message: message, Cause: err}
}

// Wrapf wraps an existing error with an AppError and formatted message.
func Wrapf(err error, code ErrorCode, format string, args ...any) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// isCode checks if an error has a specific error code.
func isCode(err error, code ErrorCode) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// IsNotFound checks if an error is a NotFound error.
func IsNotFound(err error) bool {
	return isCode(err, ErrCodeNotFound)
}

// IsDuplicateApplication checks if an error is a DuplicateApplication error.
func IsDuplicateApplication(err error) bool {
	return isCode(err, ErrCodeDuplicateApplication)
}

// IsConflict checks if an error is a Conflict error.
func IsConflict(err error) bool {
	return isCode(err, ErrCodeConflict)
}

// IsInvalidTransition checks if an error is an InvalidTransition error.
func IsInvalidTransition(err error) bool {
	return isCode(err, ErrCodeInvalidTransition)
}

// IsAlreadyInFlight checks if an error is an AlreadyInFlight error.
func IsAlreadyInFlight(err error) bool {
	return isCode(err, ErrCodeAlreadyInFlight)
}

// IsTransientUpstream checks if an error is a TransientUpstream error.
func IsTransientUpstream(err error) bool {
	return isCode(err, ErrCodeTransientUpstream)
}

// IsPermanentUpstream checks if an error is a PermanentUpstream error.
func IsPermanentUpstream(err error) bool {
	return isCode(err, ErrCodePermanentUpstream)
}

// IsMalformedSource checks if an error is a MalformedSource error.
func IsMalformedSource(err error) bool {
	return isCode(err, ErrCodeMalformedSource)
}

// IsValidation checks if an error is a Validation error.
func IsValidation(err error) bool {
	return isCode(err, ErrCodeValidation)
}

// IsInternal checks if an error is an Internal error.
func IsInternal(err error) bool {
	return isCode(err, ErrCodeInternal)
}

// IsTimeout checks if an error is a Timeout error.
func IsTimeout(err error) bool {
	return isCode(err, ErrCodeTimeout)
}

// IsCanceled checks if an error is a Canceled error.
func IsCanceled(err error) bool {
	return isCode(err, ErrCodeCanceled)
}

// GetCode returns the ErrorCode from an error, or empty string if not an AppError.
func GetCode(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// GetField returns the Field from an error, or empty string if not an AppError or no field set.
func GetField(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Field
	}
	return ""
}
