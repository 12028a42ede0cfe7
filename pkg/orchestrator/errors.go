package orchestrator

import (
	"errors"
	"fmt"

	"github.com/pixelsama/AgentifUI-sub002/pkg/persistence"
)

var (
	ErrRunInProgress = errors.New("a run is already in progress")
	ErrNotStreaming  = errors.New("no run is streaming")
	ErrNotRetryable  = errors.New("the last run cannot be retried")
)

// ValidationError reports a request rejected before any record was created.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
	}

	return "invalid request: " + e.Message
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NotFoundError reports a job definition that could not be resolved.
type NotFoundError struct {
	JobDefinitionID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("job definition %q not found", e.JobDefinitionID)
}

func (e *NotFoundError) Unwrap() error {
	return persistence.ErrJobDefinitionNotFound
}

// RunError is a failure of a run that got past validation.
type RunError struct {
	Op       string
	RecordID string
	Err      error
}

func (e *RunError) Error() string {
	if e.RecordID != "" {
		return fmt.Sprintf("%s failed for execution %s: %v", e.Op, e.RecordID, e.Err)
	}

	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// IsValidationError checks if an error is a ValidationError.
func IsValidationError(err error) bool {
	var validationErr *ValidationError

	return errors.As(err, &validationErr)
}

// IsNotFoundError checks if an error is a NotFoundError.
func IsNotFoundError(err error) bool {
	var notFoundErr *NotFoundError

	return errors.As(err, &notFoundErr)
}
