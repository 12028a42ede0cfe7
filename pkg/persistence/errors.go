// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrExecutionNotFound indicates an execution record was not found by the given identifier.
	ErrExecutionNotFound = errors.New("execution record not found")

	// ErrJobDefinitionNotFound indicates a job definition was not found by the given identifier.
	ErrJobDefinitionNotFound = errors.New("job definition not found")

	// ErrInvalidTransition indicates the stored status cannot reach the requested status.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrMissingOwner indicates a record was created without an owner identity.
	ErrMissingOwner = errors.New("owner ID is required")

	// ErrMissingJobDefinition indicates a record was created without a job definition.
	ErrMissingJobDefinition = errors.New("job definition ID is required")

	// ErrInvalidRecord indicates a record failed validation for any other reason.
	ErrInvalidRecord = errors.New("invalid execution record")
)

// StorageError wraps execution store failures with the operation and record involved.
type StorageError struct {
	Op          string // Operation being performed (e.g., "Create", "WriteTerminalData")
	ExecutionID string // Execution record ID if applicable
	Err         error  // Underlying error
	Message     string // Additional context message
}

func (e *StorageError) Error() string {
	target := e.ExecutionID
	if target == "" {
		target = "<new>"
	}

	if e.Message != "" {
		return fmt.Sprintf("%s operation failed for execution %s: %s (%v)", e.Op, target, e.Message, e.Err)
	}

	return fmt.Sprintf("%s operation failed for execution %s: %v", e.Op, target, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for storage errors.
func (e *StorageError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewStorageError creates a new storage error with context.
func NewStorageError(op, executionID string, err error) *StorageError {
	return &StorageError{
		Op:          op,
		ExecutionID: executionID,
		Err:         err,
	}
}

// TransitionError reports a rejected status change.
func TransitionError(op, executionID, from, to string) *StorageError {
	return &StorageError{
		Op:          op,
		ExecutionID: executionID,
		Err:         ErrInvalidTransition,
		Message:     fmt.Sprintf("%s -> %s", from, to),
	}
}

// IsExecutionNotFound checks if an error indicates an execution record was not found.
func IsExecutionNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound)
}

// IsJobDefinitionNotFound checks if an error indicates a job definition was not found.
func IsJobDefinitionNotFound(err error) bool {
	return errors.Is(err, ErrJobDefinitionNotFound)
}

// IsInvalidTransition checks if an error indicates a rejected status transition.
func IsInvalidTransition(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}

// IsValidationError checks if an error indicates a record failed validation on create.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrMissingOwner) ||
		errors.Is(err, ErrMissingJobDefinition) ||
		errors.Is(err, ErrInvalidRecord)
}

// IsStorageError checks if an error came from the execution store.
func IsStorageError(err error) bool {
	var storageErr *StorageError

	return errors.As(err, &storageErr)
}
