package errors

import (
	"errors"
	"fmt"
)

// Domain error types for business logic

var (
	// ErrNotFound indicates a resource was not found
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates invalid input parameters
	ErrInvalidInput = errors.New("invalid input")

	// ErrInternal indicates an internal server error
	ErrInternal = errors.New("internal error")

	// ErrTimeout indicates an operation timeout
	ErrTimeout = errors.New("operation timeout")

	// ErrUnavailable indicates a service is unavailable
	ErrUnavailable = errors.New("service unavailable")
)

// Aggregation-specific errors

var (
	// ErrMalformedEvent indicates a result event that cannot be processed
	// (missing task id, unknown slot). Candidate for dead-lettering.
	ErrMalformedEvent = errors.New("malformed result event")

	// ErrUnknownSlot indicates a slot name outside the fixed slot set
	ErrUnknownSlot = errors.New("unknown result slot")

	// ErrStoreUnavailable indicates the task store backend cannot be reached.
	// Events failing with this error must be redelivered, not acknowledged.
	ErrStoreUnavailable = errors.New("task store unavailable")
)

// Data source and LLM errors

var (
	// ErrSourceUnavailable indicates the market data source is unavailable
	ErrSourceUnavailable = errors.New("data source unavailable")

	// ErrProviderUnavailable indicates no matching LLM provider is configured
	ErrProviderUnavailable = errors.New("llm provider unavailable")

	// ErrRateLimitExceeded indicates API rate limit exceeded
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrInvalidTicker indicates an invalid or empty ticker symbol
	ErrInvalidTicker = errors.New("invalid ticker symbol")
)

// ValidationError represents a validation error with field-specific details
type ValidationError struct {
	Field   string
	Message string
	Value   interface{}
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: field '%s': %s (value: %v)", e.Field, e.Message, e.Value)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// Helper functions

// Is checks if err is or wraps target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target type
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Wrap wraps an error with context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

func New(message string) error {
	return errors.New(message)
}

func Newf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}
