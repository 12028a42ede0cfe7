package persistence

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pixelsama/AgentifUI-sub002/pkg/models"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// PrepareNewRecord validates a record about to be created and fills the
// fields every implementation sets the same way: id, title, pending status
// and timestamps.
func PrepareNewRecord(record *models.ExecutionRecord, now time.Time) error {
	if record == nil {
		return ErrInvalidRecord
	}

	err := validate.Struct(record)
	if err != nil {
		return mapValidationError(err)
	}

	if record.ID == "" {
		record.ID = uuid.New().String()
	}

	if record.Title == "" {
		record.Title = DefaultTitle(record.Kind, now)
	}

	if record.Inputs == nil {
		record.Inputs = make(map[string]any)
	}

	record.Status = models.ExecutionStatusPending
	record.Outputs = nil
	record.ErrorMessage = nil
	record.CompletedAt = nil
	record.CreatedAt = now
	record.UpdatedAt = now

	return nil
}

// DefaultTitle labels a run after its kind and start time.
func DefaultTitle(kind models.ExecutionKind, at time.Time) string {
	label := "Workflow run"
	if kind == models.ExecutionKindTextGeneration {
		label = "Text generation"
	}

	return fmt.Sprintf("%s %s", label, at.Local().Format("2006-01-02 15:04:05"))
}

// ValidateJobDefinition checks the fields a job definition needs to be resolvable.
func ValidateJobDefinition(definition *models.JobDefinition) error {
	if definition == nil {
		return errors.New("job definition cannot be nil")
	}

	return validate.Struct(definition)
}

func mapValidationError(err error) error {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}

	fields := make([]string, 0, len(validationErrors))

	for _, fieldErr := range validationErrors {
		switch fieldErr.Field() {
		case "OwnerID":
			return ErrMissingOwner
		case "JobDefinitionID":
			return ErrMissingJobDefinition
		default:
			fields = append(fields, fieldErr.Field())
		}
	}

	return fmt.Errorf("%w: %s", ErrInvalidRecord, strings.Join(fields, ", "))
}
