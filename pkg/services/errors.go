// Package services provides standardized error types for service layer operations.
package services

import (
	"errors"
	"fmt"

	"github.com/pixelsama/AgentifUI-sub002/pkg/orchestrator"
	"github.com/pixelsama/AgentifUI-sub002/pkg/remote"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest        = errors.New("invalid request")
	ErrEmptyOwnerID          = errors.New("owner ID cannot be empty")
	ErrEmptyJobDefinitionID  = errors.New("job definition ID cannot be empty")
	ErrNoRunForJobDefinition = errors.New("no run for this job definition")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrEmptyOwnerID) ||
		errors.Is(err, ErrEmptyJobDefinitionID) ||
		orchestrator.IsValidationError(err)
}

// IsNotFoundError checks if an error should return HTTP 404.
func IsNotFoundError(err error) bool {
	return orchestrator.IsNotFoundError(err) ||
		errors.Is(err, ErrNoRunForJobDefinition)
}

// IsConflictError checks if an error is a lifecycle conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, orchestrator.ErrRunInProgress) ||
		errors.Is(err, orchestrator.ErrNotStreaming) ||
		errors.Is(err, orchestrator.ErrNotRetryable)
}

// IsUpstreamError checks if an error came from the remote backend and should return HTTP 502.
func IsUpstreamError(err error) bool {
	var connErr *remote.ConnectionError

	return errors.As(err, &connErr)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
