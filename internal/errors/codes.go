// Package errors provides structured error handling for Scriptorium.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Store errors (index, metadata)
//   - 3XX: Backend errors (lexical/vector retrieval)
//   - 4XX: Validation errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryStore indicates index and metadata store errors.
	CategoryStore Category = "STORE"
	// CategoryBackend indicates retrieval backend errors.
	CategoryBackend Category = "BACKEND"
	// CategoryValidation indicates input validation errors.
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
	// SeverityInfo indicates informational only.
	SeverityInfo Severity = "INFO"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// Store errors (200-299)
	ErrCodeIndexCorrupt   = "ERR_201_INDEX_CORRUPT"
	ErrCodeMetadataFailed = "ERR_202_METADATA_FAILED"
	ErrCodeStoreClosed    = "ERR_203_STORE_CLOSED"

	// Backend errors (300-399)
	ErrCodeBackendTimeout     = "ERR_301_BACKEND_TIMEOUT"
	ErrCodeBackendUnavailable = "ERR_302_BACKEND_UNAVAILABLE"
	ErrCodeSearchUnavailable  = "ERR_303_SEARCH_UNAVAILABLE"

	// Validation errors (400-499)
	ErrCodeInvalidFilter    = "ERR_401_INVALID_FILTER"
	ErrCodeInvalidDateRange = "ERR_402_INVALID_DATE_RANGE"
	ErrCodeUnknownTradition = "ERR_403_UNKNOWN_TRADITION"
	ErrCodeInvalidWeights   = "ERR_404_INVALID_WEIGHTS"
	ErrCodeQueryEmpty       = "ERR_405_QUERY_EMPTY"
	ErrCodeInvalidAuthority = "ERR_406_INVALID_AUTHORITY"
	ErrCodeInvalidMode      = "ERR_407_INVALID_MODE"

	// Internal errors (500-599)
	ErrCodeInternal     = "ERR_501_INTERNAL"
	ErrCodeEmbedFailed  = "ERR_502_EMBED_FAILED"
	ErrCodeFusionFailed = "ERR_503_FUSION_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Extract the leading digit of the numeric portion (e.g., "1" from "ERR_101_...").
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStore
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
	if code == ErrCodeIndexCorrupt {
		return SeverityFatal
	}

	// Recoverable backend errors degrade search rather than failing it.
	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
// Backend timeouts and unavailability are transient; the next query may
// succeed once the backend recovers or the circuit closes.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeBackendTimeout, ErrCodeBackendUnavailable:
		return true
	}
	return false
}
