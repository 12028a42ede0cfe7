// Package persistence provides the storage abstraction for execution records and job definitions.
package persistence

import (
	"context"
	"time"

	"github.com/pixelsama/AgentifUI-sub002/pkg/models"
)

type Persistence interface {
	ExecutionRepository() ExecutionRepository
	JobDefinitionRepository() JobDefinitionRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// ExecutionRepository is the durable store for execution records.
//
// Implementations enforce the status ordering themselves so that a stale
// writer cannot move a terminal record back to a non-terminal status.
type ExecutionRepository interface {
	// Create inserts a new record with status pending and returns its id.
	Create(ctx context.Context, record *models.ExecutionRecord) (string, error)

	// TransitionStatus moves a record to status. errorMessage and completedAt are
	// optional and only written when non-empty/non-nil.
	TransitionStatus(ctx context.Context, id string, status models.ExecutionStatus, errorMessage string, completedAt *time.Time) error

	// WriteTerminalData writes every terminal field in one atomic update and
	// returns the persisted record. Writing the same terminal status to an
	// already terminal record is a no-op that returns the stored record.
	WriteTerminalData(ctx context.Context, id string, data models.TerminalData) (*models.ExecutionRecord, error)

	// ListByJobDefinition returns the owner's records for a job definition, most recent first.
	ListByJobDefinition(ctx context.Context, jobDefinitionID, ownerID string, limit int) ([]*models.ExecutionRecord, error)

	GetByID(ctx context.Context, id string) (*models.ExecutionRecord, error)

	// ListStale returns records in status created before the given time, oldest first.
	ListStale(ctx context.Context, status models.ExecutionStatus, createdBefore time.Time, limit int) ([]*models.ExecutionRecord, error)
}

// JobDefinitionRepository stores the job definitions runs execute against.
type JobDefinitionRepository interface {
	List(ctx context.Context) ([]*models.JobDefinition, error)
	GetByExternalID(ctx context.Context, externalID string) (*models.JobDefinition, error)
	Save(ctx context.Context, definition *models.JobDefinition) error
}
