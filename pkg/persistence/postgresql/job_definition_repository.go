package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pixelsama/AgentifUI-sub002/pkg/models"
	"github.com/pixelsama/AgentifUI-sub002/pkg/persistence"
)

// JobDefinitionRepository handles job definition database operations.
type JobDefinitionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewJobDefinitionRepository creates a new job definition repository.
func NewJobDefinitionRepository(db *sql.DB, logger *slog.Logger) *JobDefinitionRepository {
	return &JobDefinitionRepository{db: db, logger: logger}
}

// List returns every job definition ordered by name.
func (jr *JobDefinitionRepository) List(ctx context.Context) ([]*models.JobDefinition, error) {
	query := `
		SELECT id, external_id, backend_id, name, kind, input_schema, owner_id, created_at, updated_at
		FROM job_definitions
		ORDER BY name ASC
	`

	rows, err := jr.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query job definitions: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			jr.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	definitions := make([]*models.JobDefinition, 0)

	for rows.Next() {
		definition, err := scanJobDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job definition: %w", err)
		}

		definitions = append(definitions, definition)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating job definitions: %w", err)
	}

	return definitions, nil
}

// GetByExternalID retrieves a job definition by its caller-facing ID.
func (jr *JobDefinitionRepository) GetByExternalID(ctx context.Context, externalID string) (*models.JobDefinition, error) {
	query := `
		SELECT id, external_id, backend_id, name, kind, input_schema, owner_id, created_at, updated_at
		FROM job_definitions
		WHERE external_id = $1
	`

	definition, err := scanJobDefinition(jr.db.QueryRowContext(ctx, query, externalID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrJobDefinitionNotFound
		}

		return nil, fmt.Errorf("failed to get job definition %s: %w", externalID, err)
	}

	return definition, nil
}

// Save creates or replaces a job definition keyed by its external ID.
func (jr *JobDefinitionRepository) Save(ctx context.Context, definition *models.JobDefinition) error {
	err := persistence.ValidateJobDefinition(definition)
	if err != nil {
		return fmt.Errorf("invalid job definition: %w", err)
	}

	now := time.Now().UTC()
	if definition.ID == "" {
		definition.ID = uuid.New().String()
	}

	if definition.CreatedAt.IsZero() {
		definition.CreatedAt = now
	}

	definition.UpdatedAt = now

	var schemaJSON []byte
	if definition.InputSchema != nil {
		schemaJSON, err = json.Marshal(definition.InputSchema)
		if err != nil {
			return fmt.Errorf("failed to marshal input schema: %w", err)
		}
	}

	query := `
		INSERT INTO job_definitions (
			id, external_id, backend_id, name, kind, input_schema, owner_id, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (external_id) DO UPDATE SET
			backend_id = EXCLUDED.backend_id,
			name = EXCLUDED.name,
			kind = EXCLUDED.kind,
			input_schema = EXCLUDED.input_schema,
			owner_id = EXCLUDED.owner_id,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`

	err = jr.db.QueryRowContext(ctx, query,
		definition.ID,
		definition.ExternalID,
		definition.BackendID,
		definition.Name,
		definition.Kind,
		schemaJSON,
		models.StringPtr(definition.OwnerID),
		definition.CreatedAt,
		definition.UpdatedAt,
	).Scan(&definition.ID, &definition.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save job definition: %w", err)
	}

	return nil
}

func scanJobDefinition(scanner interface {
	Scan(dest ...any) error
}) (*models.JobDefinition, error) {
	var (
		definition models.JobDefinition
		schemaJSON []byte
		ownerID    sql.NullString
	)

	err := scanner.Scan(
		&definition.ID,
		&definition.ExternalID,
		&definition.BackendID,
		&definition.Name,
		&definition.Kind,
		&schemaJSON,
		&ownerID,
		&definition.CreatedAt,
		&definition.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(schemaJSON) > 0 {
		err = json.Unmarshal(schemaJSON, &definition.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal input schema: %w", err)
		}
	}

	definition.OwnerID = ownerID.String

	return &definition, nil
}
