// Package errors defines the categorised error type shared by the matching
// engine, its stores and its callers.
//
// Every error that crosses a package boundary is a *MatchError carrying a
// category (what kind of failure), a code (which failure), a user-facing
// message and an optional suggestion. Callers branch on the category:
//
//   - CategoryNotFound: the target record does not exist, fatal for the run
//   - CategoryValidation: malformed input or weight table, fatal
//   - CategoryStore: the backing store is unavailable, retryable by the caller
//   - CategoryConcurrency: another run for the same target holds the guard
//
// The engine itself never retries; IsRetryable tells the caller whether a
// retry with backoff is worthwhile.
package errors

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrorCategory represents different categories of errors
type ErrorCategory string

const (
	CategoryNotFound      ErrorCategory = "not_found"
	CategoryValidation    ErrorCategory = "validation"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryStore         ErrorCategory = "store"
	CategoryConcurrency   ErrorCategory = "concurrency"
	CategoryImport        ErrorCategory = "import"
	CategoryInternal      ErrorCategory = "internal"
)

// ErrorCode represents specific error codes within categories
type ErrorCode string

const (
	// Not found errors
	CodeTargetNotFound ErrorCode = "target_not_found"
	CodeRunNotFound    ErrorCode = "run_not_found"

	// Validation errors
	CodeInvalidWeights ErrorCode = "invalid_weights"
	CodeInvalidRecord  ErrorCode = "invalid_record"
	CodeMissingField   ErrorCode = "missing_field"
	CodeOutOfRange     ErrorCode = "out_of_range"

	// Configuration errors
	CodeInvalidConfig  ErrorCode = "invalid_config"
	CodeMissingConfig  ErrorCode = "missing_config"
	CodeUnknownProfile ErrorCode = "unknown_profile"

	// Store errors
	CodeStoreUnavailable ErrorCode = "store_unavailable"
	CodeQueryFailed      ErrorCode = "query_failed"
	CodeWriteFailed      ErrorCode = "write_failed"

	// Concurrency errors
	CodeRunInProgress ErrorCode = "run_in_progress"

	// Import errors
	CodeInvalidFormat ErrorCode = "invalid_format"
	CodeMissingColumn ErrorCode = "missing_column"
	CodeInvalidData   ErrorCode = "invalid_data"

	// Internal errors
	CodeUnexpectedError ErrorCode = "unexpected_error"
)

// MatchError is the base error type for all application errors
type MatchError struct {
	Category   ErrorCategory     `json:"category"`
	Code       ErrorCode         `json:"code"`
	Message    string            `json:"message"`
	Suggestion string            `json:"suggestion,omitempty"`
	Context    Context           `json:"context,omitempty"`
	Cause      error             `json:"-"`
	StackTrace errors.StackTrace `json:"-"`
}

// Context provides additional information about the error
type Context map[string]interface{}

// Error implements the error interface
func (e *MatchError) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if e.Suggestion != "" {
		return fmt.Sprintf("%s (suggestion: %s)", msg, e.Suggestion)
	}
	return msg
}

// Unwrap returns the underlying cause error
func (e *MatchError) Unwrap() error {
	return e.Cause
}

// GetExitCode returns an appropriate exit code for the error
func (e *MatchError) GetExitCode() int {
	switch e.Category {
	case CategoryNotFound:
		return 2
	case CategoryValidation, CategoryImport:
		return 3
	case CategoryConfiguration:
		return 4
	case CategoryConcurrency, CategoryInternal:
		return 5
	case CategoryStore:
		return 6
	default:
		return 1
	}
}

// WithContext adds context information to the error
func (e *MatchError) WithContext(key string, value interface{}) *MatchError {
	if e.Context == nil {
		e.Context = make(Context)
	}
	e.Context[key] = value
	return e
}

// WithSuggestion adds a suggestion for fixing the error
func (e *MatchError) WithSuggestion(suggestion string) *MatchError {
	e.Suggestion = suggestion
	return e
}

// New creates a new MatchError
func New(category ErrorCategory, code ErrorCode, message string) *MatchError {
	return &MatchError{
		Category:   category,
		Code:       code,
		Message:    message,
		StackTrace: errors.New("").(stackTracer).StackTrace(),
	}
}

// Wrap wraps an existing error with MatchError context
func Wrap(err error, category ErrorCategory, code ErrorCode, message string) *MatchError {
	if err == nil {
		return nil
	}

	return &MatchError{
		Category:   category,
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: errors.WithStack(err).(stackTracer).StackTrace(),
	}
}

// stackTracer interface for extracting stack traces
type stackTracer interface {
	StackTrace() errors.StackTrace
}

// NotFoundError reports a missing target record. It aborts the match run.
func NotFoundError(code ErrorCode, tenantID, id string) *MatchError {
	var message string
	switch code {
	case CodeRunNotFound:
		message = fmt.Sprintf("match run not found: %s", id)
	default:
		message = fmt.Sprintf("record not found: %s", id)
	}

	return New(CategoryNotFound, code, message).
		WithSuggestion("check the identifier and the tenant scope of the request").
		WithContext("tenant_id", tenantID).
		WithContext("id", id)
}

// ValidationError creates a validation-related error
func ValidationError(code ErrorCode, field string, value interface{}, err error) *MatchError {
	var message string
	var suggestion string

	switch code {
	case CodeInvalidWeights:
		message = fmt.Sprintf("invalid weight table '%s': %v", field, value)
		suggestion = "field weights must be positive and sum to exactly 1.0"
	case CodeInvalidRecord:
		message = fmt.Sprintf("invalid record field '%s': %v", field, value)
		suggestion = "check the record attributes before matching"
	case CodeMissingField:
		message = fmt.Sprintf("required field '%s' is missing or empty", field)
		suggestion = "provide a value for this required field"
	case CodeOutOfRange:
		message = fmt.Sprintf("value out of range in field '%s': %v", field, value)
		suggestion = "ensure the value is within the acceptable range"
	default:
		message = fmt.Sprintf("validation error in field '%s': %v", field, value)
		suggestion = "check the field value and format"
	}

	var result *MatchError
	if err != nil {
		result = Wrap(err, CategoryValidation, code, message)
	} else {
		result = New(CategoryValidation, code, message)
	}

	return result.
		WithSuggestion(suggestion).
		WithContext("field", field).
		WithContext("value", value)
}

// ConfigurationError creates a configuration-related error
func ConfigurationError(code ErrorCode, setting string, value interface{}, err error) *MatchError {
	var message string
	var suggestion string

	switch code {
	case CodeInvalidConfig:
		message = fmt.Sprintf("invalid configuration for '%s': %v", setting, value)
		suggestion = "check the configuration documentation for valid values"
	case CodeMissingConfig:
		message = fmt.Sprintf("missing required configuration: %s", setting)
		suggestion = "provide this configuration setting or use a config file"
	case CodeUnknownProfile:
		message = fmt.Sprintf("unknown matching profile: %v", value)
		suggestion = "use one of: duplicate_detection, reconciliation"
	default:
		message = fmt.Sprintf("configuration error: %s", setting)
		suggestion = "check your configuration and try again"
	}

	var result *MatchError
	if err != nil {
		result = Wrap(err, CategoryConfiguration, code, message)
	} else {
		result = New(CategoryConfiguration, code, message)
	}

	return result.
		WithSuggestion(suggestion).
		WithContext("setting", setting).
		WithContext("value", value)
}

// TransientStoreError wraps a store failure that the caller may retry with
// backoff.
func TransientStoreError(code ErrorCode, operation string, err error) *MatchError {
	var message string
	switch code {
	case CodeStoreUnavailable:
		message = fmt.Sprintf("store unavailable during %s", operation)
	case CodeQueryFailed:
		message = fmt.Sprintf("store query failed during %s", operation)
	case CodeWriteFailed:
		message = fmt.Sprintf("store write failed during %s", operation)
	default:
		message = fmt.Sprintf("store error during %s", operation)
	}

	var result *MatchError
	if err != nil {
		result = Wrap(err, CategoryStore, code, message)
	} else {
		result = New(CategoryStore, code, message)
	}

	return result.
		WithSuggestion("retry the request with backoff").
		WithContext("operation", operation)
}

// RunInProgressError reports that another match run for the same target
// currently holds the run guard.
func RunInProgressError(tenantID, targetID string) *MatchError {
	return New(CategoryConcurrency, CodeRunInProgress,
		fmt.Sprintf("a match run for %s is already in progress", targetID)).
		WithSuggestion("wait for the running match to finish and read its decision").
		WithContext("tenant_id", tenantID).
		WithContext("target_id", targetID)
}

// ImportError creates a record-import error for a CSV cell or header.
func ImportError(code ErrorCode, file string, line int, column string, value string, err error) *MatchError {
	var message string
	var suggestion string

	switch code {
	case CodeMissingColumn:
		message = fmt.Sprintf("missing required column '%s' in file %s", column, file)
		suggestion = "verify the file has all required columns with correct headers"
	case CodeInvalidData:
		message = fmt.Sprintf("invalid data in file %s at line %d, column '%s': '%s'", file, line, column, value)
		suggestion = "correct the data format or remove the invalid entry"
	default:
		message = fmt.Sprintf("invalid format in file %s at line %d", file, line)
		suggestion = "check the file format and data integrity"
	}

	var result *MatchError
	if err != nil {
		result = Wrap(err, CategoryImport, code, message)
	} else {
		result = New(CategoryImport, code, message)
	}

	return result.
		WithSuggestion(suggestion).
		WithContext("file", file).
		WithContext("line", line).
		WithContext("column", column)
}

// InternalError creates an internal error
func InternalError(operation string, err error) *MatchError {
	message := fmt.Sprintf("unexpected error during %s", operation)

	var result *MatchError
	if err != nil {
		result = Wrap(err, CategoryInternal, CodeUnexpectedError, message)
	} else {
		result = New(CategoryInternal, CodeUnexpectedError, message)
	}

	return result.
		WithSuggestion("this is likely a bug - please report it with the error details").
		WithContext("operation", operation)
}

// ErrorSummary provides a summary of multiple errors
type ErrorSummary struct {
	Total        int                   `json:"total"`
	ByCategory   map[ErrorCategory]int `json:"by_category"`
	ByCode       map[ErrorCode]int     `json:"by_code"`
	Errors       []*MatchError         `json:"errors"`
	SampleErrors []*MatchError         `json:"sample_errors,omitempty"`
}

// NewErrorSummary creates a new error summary
func NewErrorSummary(errs []*MatchError) *ErrorSummary {
	summary := &ErrorSummary{
		Total:      len(errs),
		ByCategory: make(map[ErrorCategory]int),
		ByCode:     make(map[ErrorCode]int),
		Errors:     errs,
	}
	if len(errs) == 0 {
		summary.Errors = []*MatchError{}
		return summary
	}

	for _, err := range errs {
		summary.ByCategory[err.Category]++
		summary.ByCode[err.Code]++
	}

	maxSamples := 5
	if len(errs) > maxSamples {
		summary.SampleErrors = errs[:maxSamples]
	} else {
		summary.SampleErrors = errs
	}

	return summary
}

// Error returns a formatted error message for the summary
func (es *ErrorSummary) Error() string {
	if es.Total == 0 {
		return "no errors"
	}

	if es.Total == 1 {
		return es.Errors[0].Error()
	}

	var categories []string
	for category, count := range es.ByCategory {
		categories = append(categories, fmt.Sprintf("%s: %d", category, count))
	}

	return fmt.Sprintf("%d errors occurred (%s)", es.Total, strings.Join(categories, ", "))
}

// HasCategory checks if the summary contains errors of the given category
func (es *ErrorSummary) HasCategory(category ErrorCategory) bool {
	return es.ByCategory[category] > 0
}

// AsMatchError extracts a MatchError from an error chain
func AsMatchError(err error) (*MatchError, bool) {
	var matchErr *MatchError
	if errors.As(err, &matchErr) {
		return matchErr, true
	}
	return nil, false
}

// HasCategory reports whether err carries a MatchError of the given category.
func HasCategory(err error, category ErrorCategory) bool {
	matchErr, ok := AsMatchError(err)
	return ok && matchErr.Category == category
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool {
	return HasCategory(err, CategoryNotFound)
}

// IsRetryable reports whether the caller may retry the operation with
// backoff. Only store failures qualify.
func IsRetryable(err error) bool {
	return HasCategory(err, CategoryStore)
}

// WrapIfNeeded wraps an error if it's not already a MatchError
func WrapIfNeeded(err error, category ErrorCategory, code ErrorCode, message string) *MatchError {
	if err == nil {
		return nil
	}

	if matchErr, ok := AsMatchError(err); ok {
		return matchErr
	}

	return Wrap(err, category, code, message)
}
