package errors

import (
	"fmt"
)

// RetrievalError is the structured error type for Scriptorium.
// It carries the context needed for error handling, logging, and for the
// caller to decide whether a failed query can be surfaced as degraded.
type RetrievalError struct {
	// Code is the unique error code (e.g., "ERR_301_BACKEND_TIMEOUT").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Store, Backend, etc.).
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
func (e *RetrievalError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *RetrievalError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with RetrievalError.
func (e *RetrievalError) Is(target error) bool {
	if t, ok := target.(*RetrievalError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *RetrievalError) WithDetail(key, value string) *RetrievalError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a new RetrievalError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *RetrievalError {
	return &RetrievalError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a RetrievalError from an existing error.
// The error's message becomes the RetrievalError message.
func Wrap(code string, err error) *RetrievalError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ValidationError creates a filter/query validation error.
func ValidationError(message string, cause error) *RetrievalError {
	return New(ErrCodeInvalidFilter, message, cause)
}

// BackendError creates a retrieval backend error.
// Backend errors are recoverable: hybrid search degrades to the surviving
// backend rather than failing the query.
func BackendError(message string, cause error) *RetrievalError {
	return New(ErrCodeBackendUnavailable, message, cause)
}

// SearchUnavailable creates the terminal error used when every consulted
// backend failed and the query cannot produce results.
func SearchUnavailable(cause error) *RetrievalError {
	return New(ErrCodeSearchUnavailable, "search unavailable: all retrieval backends failed", cause)
}

// IsRetryable checks if an error is retryable.
// Returns true if the error is a RetrievalError with Retryable flag set.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if re, ok := err.(*RetrievalError); ok {
		return re.Retryable
	}
	return false
}

// IsValidation reports whether err is a validation-category error.
func IsValidation(err error) bool {
	if re, ok := err.(*RetrievalError); ok {
		return re.Category == CategoryValidation
	}
	return false
}

// GetCode extracts the error code from a RetrievalError.
// Returns empty string if not a RetrievalError.
func GetCode(err error) string {
	if re, ok := err.(*RetrievalError); ok {
		return re.Code
	}
	return ""
}
