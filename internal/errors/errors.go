package errors

import (
	"errors"
	"fmt"
)

// CoreError is the structured error type for the retrieval core.
// It carries enough context for logging, cluster degradation decisions, and
// user presentation.
type CoreError struct {
	// Code is the unique error code (e.g., "ERR_403_NOT_FOUND").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, Cluster, etc.).
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
func (e *CoreError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *CoreError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with CoreError.
func (e *CoreError) Is(target error) bool {
	if t, ok := target.(*CoreError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *CoreError) WithDetail(key, value string) *CoreError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a new CoreError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *CoreError {
	return &CoreError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a CoreError from an existing error.
// The error's message becomes the CoreError message.
func Wrap(code string, err error) *CoreError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// Validation creates an input-validation error.
func Validation(message string) *CoreError {
	return New(ErrCodeInvalidInput, message, nil)
}

// NotFound creates a not-found error for the given entity.
// Non-fatal: delete/update paths use it to decide whether to broadcast.
func NotFound(entity string) *CoreError {
	return New(ErrCodeNotFound, entity+" not found", nil)
}

// Quota creates a quota-exceeded error.
func Quota(message string) *CoreError {
	return New(ErrCodeQuotaExceeded, message, nil)
}

// ClusterTimeout creates a cluster RPC expiry error.
// Callers degrade to local-only results.
func ClusterTimeout(topic string, cause error) *CoreError {
	return New(ErrCodeClusterTimeout, "cluster request timed out on "+topic, cause)
}

// Embedding creates an embedding-failure error.
func Embedding(message string, cause error) *CoreError {
	return New(ErrCodeEmbeddingFailed, message, cause)
}

// Inconsistent marks a tenant index as partially mutated.
func Inconsistent(message string, cause error) *CoreError {
	return New(ErrCodeIndexInconsistent, message, cause)
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool {
	return HasCode(err, ErrCodeNotFound)
}

// IsQuota reports whether err is a quota error.
func IsQuota(err error) bool {
	return HasCode(err, ErrCodeQuotaExceeded)
}

// IsClusterTimeout reports whether err is a cluster RPC expiry.
func IsClusterTimeout(err error) bool {
	return HasCode(err, ErrCodeClusterTimeout)
}

// HasCode reports whether any error in the chain carries the given code.
func HasCode(err error, code string) bool {
	var ce *CoreError
	for errors.As(err, &ce) {
		if ce.Code == code {
			return true
		}
		err = ce.Cause
		if err == nil {
			return false
		}
	}
	return false
}

// IsRetryable checks if an error is retryable.
// Returns true if the error is a CoreError with Retryable flag set.
func IsRetryable(err error) bool {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	return false
}
