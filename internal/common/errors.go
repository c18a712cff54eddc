package common

import (
	"errors"
	"fmt"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Run-level error categories. Per-item recognition failures are data, not
// errors; only these two abort a run.
var (
	// ErrConfiguration is fatal before any processing starts.
	ErrConfiguration = errors.New("configuration error")
	// ErrPersistence means a checkpoint or final write failed. The last
	// durable checkpoint stays the recovery point.
	ErrPersistence = errors.New("persistence error")
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func ConfigError(message string) error {
	return NewAppError("CONFIG_ERROR", message, ErrConfiguration)
}

func PersistenceError(message string, cause error) error {
	return NewAppError("PERSISTENCE_ERROR", message, fmt.Errorf("%w: %w", ErrPersistence, cause))
}
