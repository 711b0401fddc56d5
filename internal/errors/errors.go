// Package errors provides structured error types for eventarchive.
// Every error carries a category, code, message and retryable flag so that
// the compactor, the index and the outer surfaces can classify failures the
// same way.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by system component.
type ErrorCategory string

const (
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	ErrCategoryStore      ErrorCategory = "STORE"
	ErrCategoryArchive    ErrorCategory = "ARCHIVE"
	ErrCategoryIndex      ErrorCategory = "INDEX"
	ErrCategoryCompaction ErrorCategory = "COMPACTION"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Validation codes
	CodeInvalidEvent    = "INVALID_EVENT"
	CodeMalformedPeriod = "MALFORMED_PERIOD"
	CodeInvalidConfig   = "INVALID_CONFIG"

	// Store codes
	CodeReadFailed  = "READ_FAILED"
	CodeWriteFailed = "WRITE_FAILED"

	// Archive codes
	CodeArchiveUnwritable = "ARCHIVE_UNWRITABLE"
	CodeUploadFailed      = "UPLOAD_FAILED"
	CodeDownloadFailed    = "DOWNLOAD_FAILED"
	CodeCopyMismatch      = "COPY_MISMATCH"

	// Index codes
	CodeIndexUnavailable = "INDEX_UNAVAILABLE"
	CodeIndexWriteFailed = "INDEX_WRITE_FAILED"
	CodeIndexQueryFailed = "INDEX_QUERY_FAILED"

	// Compaction codes
	CodeScanFailed    = "SCAN_FAILED"
	CodeSourceMissing = "SOURCE_MISSING"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// ArchiveError is the structured error type used throughout the system.
type ArchiveError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *ArchiveError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *ArchiveError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *ArchiveError) Is(target error) bool {
	var t *ArchiveError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new ArchiveError.
func New(category ErrorCategory, code, message string) *ArchiveError {
	return &ArchiveError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new ArchiveError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *ArchiveError {
	return &ArchiveError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *ArchiveError) WithDetails(details map[string]interface{}) *ArchiveError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var ae *ArchiveError
	if errors.As(err, &ae) {
		return ae.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not an ArchiveError.
func GetCategory(err error) ErrorCategory {
	var ae *ArchiveError
	if errors.As(err, &ae) {
		return ae.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not an ArchiveError.
func GetCode(err error) string {
	var ae *ArchiveError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

// isRetryable marks transient object-storage and index failures.
func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryArchive && code == CodeUploadFailed:
		return true
	case category == ErrCategoryArchive && code == CodeDownloadFailed:
		return true
	case category == ErrCategoryArchive && code == CodeCopyMismatch:
		return true
	case category == ErrCategoryIndex && code == CodeIndexUnavailable:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewValidationError(code, message string) *ArchiveError {
	return New(ErrCategoryValidation, code, message)
}

func NewStoreError(code, message string, cause error) *ArchiveError {
	return Wrap(ErrCategoryStore, code, message, cause)
}

func NewArchiveError(code, message string, cause error) *ArchiveError {
	return Wrap(ErrCategoryArchive, code, message, cause)
}

func NewIndexError(code, message string, cause error) *ArchiveError {
	return Wrap(ErrCategoryIndex, code, message, cause)
}

func NewCompactionError(code, message string, cause error) *ArchiveError {
	return Wrap(ErrCategoryCompaction, code, message, cause)
}

func NewInternalError(message string, cause error) *ArchiveError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
