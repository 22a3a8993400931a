package domain

import (
	"errors"
	"fmt"
)

// Base error types (sentinel errors).
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnsupported  = errors.New("unsupported operation")
	ErrInternal     = errors.New("internal error")
	ErrUnavailable  = errors.New("service unavailable")
)

// Specific errors.
var (
	ErrInvocationNotFound = fmt.Errorf("invocation: %w", ErrNotFound)
	ErrInvalidLocator     = fmt.Errorf("locator: %w", ErrInvalidInput)
	ErrUnsupportedFormat  = fmt.Errorf("format: %w", ErrUnsupported)
	ErrUnsupportedScheme  = fmt.Errorf("locator scheme: %w", ErrUnsupported)
	ErrInvalidTransition  = fmt.Errorf("state transition: %w", ErrInternal)
	ErrUnexpectedStatus   = fmt.Errorf("unexpected status: %w", ErrUnavailable)
	ErrStorageUnavailable = fmt.Errorf("storage: %w", ErrUnavailable)
)

// Workflow failures. Each one ends an invocation in its own terminal state.
var (
	ErrDownloadIncomplete = fmt.Errorf("download incomplete: %w", ErrUnavailable)
	ErrNotMaterialized    = fmt.Errorf("files not materialized: %w", ErrUnavailable)
	ErrLaunchFailed       = fmt.Errorf("viewer launch: %w", ErrInternal)
)

// ValidationError represents a detailed validation error.
type ValidationError struct {
	Field      string      // Field that failed validation
	Value      interface{} // The invalid value
	Constraint string      // The constraint that was violated
	Message    string      // Human-readable message
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for %s: %s (value: %v, constraint: %s)",
		e.Field, e.Message, e.Value, e.Constraint)
}

// Unwrap returns the underlying error type.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// FetchError represents a failed fetch of a single locator.
type FetchError struct {
	Index      int    // 1-based position in the request, 0 if unknown
	Locator    string // Locator as requested
	StatusCode int    // HTTP status, 0 for transport errors
	Err        error  // Underlying error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch #%d %s: status %d: %v", e.Index, e.Locator, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch #%d %s: %v", e.Index, e.Locator, e.Err)
}

// Unwrap returns the underlying error.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// LaunchError represents a viewer process that could not be started.
type LaunchError struct {
	Executable string // Path of the viewer executable
	Err        error  // Underlying error
}

// Error implements the error interface.
func (e *LaunchError) Error() string {
	return fmt.Sprintf("launching %s: %v", e.Executable, e.Err)
}

// Unwrap returns both the launch sentinel and the cause.
func (e *LaunchError) Unwrap() []error {
	return []error{ErrLaunchFailed, e.Err}
}

// StorageError represents an error during storage operations.
type StorageError struct {
	Operation string // Operation that failed (save, get, list, etc.)
	Key       string // Object key
	Err       error  // Underlying error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("storage error during %s for %s: %v",
			e.Operation, e.Key, e.Err)
	}
	return fmt.Sprintf("storage error during %s: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error.
type ConfigError struct {
	Field   string // Configuration field
	Message string // Error message
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error for %s: %s", e.Field, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return ErrInvalidInput
}
