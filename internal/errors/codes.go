// Package errors provides structured error handling for coursedex.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Storage/IO errors
//   - 3XX: Backend/network errors
//   - 4XX: Validation and precondition errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryStorage indicates primary-store and disk I/O errors.
	CategoryStorage Category = "STORAGE"
	// CategoryBackend indicates remote-backend and network errors.
	CategoryBackend Category = "BACKEND"
	// CategoryValidation indicates input validation and precondition errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// Storage errors (200-299)
	ErrCodeStoreIO      = "ERR_201_STORE_IO"
	ErrCodeStoreLocked  = "ERR_202_STORE_LOCKED"
	ErrCodeCorruptIndex = "ERR_205_CORRUPT_INDEX"

	// Backend errors (300-399)
	ErrCodeBackendThrottled   = "ERR_301_BACKEND_THROTTLED"
	ErrCodeBackendUnavailable = "ERR_302_BACKEND_UNAVAILABLE"
	ErrCodeEmbeddingFailed    = "ERR_303_EMBEDDING_FAILED"

	// Validation errors (400-499)
	ErrCodeInvalidRecord     = "ERR_401_INVALID_RECORD"
	ErrCodeDimensionMismatch = "ERR_402_DIMENSION_MISMATCH"
	ErrCodeConditionFailed   = "ERR_403_CONDITION_FAILED"
	ErrCodeAlreadyExists     = "ERR_404_ALREADY_EXISTS"
	ErrCodeIndexNotFound     = "ERR_405_INDEX_NOT_FOUND"

	// Internal errors (500-599)
	ErrCodeInternal          = "ERR_501_INTERNAL"
	ErrCodeIndexInconsistent = "ERR_502_INDEX_INCONSISTENT"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Extract numeric portion (e.g., "401" from "ERR_401_INVALID_RECORD")
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStorage
	case '3':
		return CategoryBackend
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	// Fatal conditions: corrupt index, embedding dimension drift against the
	// index schema, and querying a secondary lookup path that does not exist.
	switch code {
	case ErrCodeCorruptIndex, ErrCodeDimensionMismatch, ErrCodeIndexNotFound:
		return SeverityFatal
	}

	// Duplicate documents are repaired procedurally, not treated as failures.
	if code == ErrCodeIndexInconsistent {
		return SeverityWarning
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeBackendThrottled, ErrCodeBackendUnavailable, ErrCodeEmbeddingFailed:
		return true
	}
	return false
}
