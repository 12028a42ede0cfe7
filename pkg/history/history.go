// Package history lists past execution records of a job definition.
package history

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pixelsama/AgentifUI-sub002/pkg/jobdef"
	"github.com/pixelsama/AgentifUI-sub002/pkg/models"
	"github.com/pixelsama/AgentifUI-sub002/pkg/persistence"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

type Loader struct {
	records   persistence.ExecutionRepository
	directory jobdef.Resolver
	logger    *slog.Logger
}

func NewLoader(logger *slog.Logger, records persistence.ExecutionRepository, directory jobdef.Resolver) *Loader {
	return &Loader{
		records:   records,
		directory: directory,
		logger:    logger.With("module", "history_loader"),
	}
}

// List returns the owner's records for the job definition, most recent first.
// A job definition that cannot be resolved yields an empty list.
func (l *Loader) List(ctx context.Context, jobDefinitionID, ownerID string, limit int) ([]*models.ExecutionRecord, error) {
	switch {
	case limit <= 0:
		limit = DefaultLimit
	case limit > MaxLimit:
		limit = MaxLimit
	}

	definition, err := l.directory.Resolve(ctx, jobDefinitionID)
	if err != nil {
		if !jobdef.IsNotFound(err) {
			l.logger.WarnContext(ctx, "Failed to resolve job definition for history",
				"job_definition_id", jobDefinitionID,
				"error", err,
			)
		}

		return []*models.ExecutionRecord{}, nil
	}

	records, err := l.records.ListByJobDefinition(ctx, definition.ID, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions of %s: %w", jobDefinitionID, err)
	}

	if records == nil {
		records = []*models.ExecutionRecord{}
	}

	return records, nil
}
