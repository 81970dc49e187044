package errors

import (
	"fmt"
)

// DexError is the structured error type for coursedex.
// It provides rich context for error handling, logging, and user presentation.
type DexError struct {
	// Code is the unique error code (e.g., "ERR_401_INVALID_RECORD").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Storage, Backend, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool
}

// Error implements the error interface.
func (e *DexError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *DexError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with DexError.
func (e *DexError) Is(target error) bool {
	if t, ok := target.(*DexError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *DexError) WithDetail(key, value string) *DexError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a new DexError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *DexError {
	return &DexError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a DexError from an existing error.
// The error's message becomes the DexError message.
func Wrap(code string, err error) *DexError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// InvalidRecord creates a validation error for an unmappable raw record.
// These are dropped and logged; the pipeline continues.
func InvalidRecord(message string) *DexError {
	return New(ErrCodeInvalidRecord, message, nil)
}

// AlreadyExists creates a conditional-insert conflict error.
// Surfaced to the caller, never auto-retried.
func AlreadyExists(id string) *DexError {
	return New(ErrCodeAlreadyExists, fmt.Sprintf("course %q already exists", id), nil).
		WithDetail("id", id)
}

// ConditionFailed creates an update-precondition error.
func ConditionFailed(id, condition string) *DexError {
	return New(ErrCodeConditionFailed, fmt.Sprintf("condition not met for course %q", id), nil).
		WithDetail("id", id).
		WithDetail("condition", condition)
}

// IndexNotFound creates an error for a missing secondary lookup path.
// There is no silent fallback to a full scan.
func IndexNotFound(name string) *DexError {
	return New(ErrCodeIndexNotFound, fmt.Sprintf("secondary index %q does not exist", name), nil).
		WithDetail("index", name)
}

// DimensionMismatch creates a fatal embedding-dimension error.
func DimensionMismatch(expected, got int) *DexError {
	return New(ErrCodeDimensionMismatch,
		fmt.Sprintf("embedding dimension mismatch: expected %d, got %d", expected, got), nil)
}

// Throttled creates a retryable transient-backend error.
func Throttled(message string, cause error) *DexError {
	return New(ErrCodeBackendThrottled, message, cause)
}

// Internal creates an internal error.
func Internal(message string, cause error) *DexError {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable checks if an error is retryable.
// Returns true if the error is a DexError with Retryable flag set.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if de, ok := err.(*DexError); ok {
		return de.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
// Fatal errors should abort the current operation.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if de, ok := err.(*DexError); ok {
		return de.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from a DexError.
// Returns empty string if not a DexError.
func GetCode(err error) string {
	if de, ok := err.(*DexError); ok {
		return de.Code
	}
	return ""
}
