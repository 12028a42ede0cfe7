package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pixelsama/AgentifUI-sub002/pkg/models"
	"github.com/pixelsama/AgentifUI-sub002/pkg/persistence"
)

const executionColumns = `
	id, job_definition_id, owner_id, kind, title, inputs, status, outputs,
	external_execution_id, task_id, total_steps, total_tokens, elapsed_time,
	error_message, metadata, created_at, updated_at, completed_at
`

// ExecutionRepository handles execution record database operations.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewExecutionRepository creates a new execution record repository.
func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

// Create stores a new pending record.
func (er *ExecutionRepository) Create(ctx context.Context, record *models.ExecutionRecord) (string, error) {
	err := persistence.PrepareNewRecord(record, time.Now().UTC())
	if err != nil {
		return "", persistence.NewStorageError("Create", "", err)
	}

	inputsJSON, err := json.Marshal(record.Inputs)
	if err != nil {
		return "", persistence.NewStorageError("Create", record.ID, fmt.Errorf("failed to marshal inputs: %w", err))
	}

	query := `
		INSERT INTO execution_records (
			id, job_definition_id, owner_id, kind, title, inputs, status,
			external_execution_id, task_id, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err = er.db.ExecContext(ctx, query,
		record.ID,
		record.JobDefinitionID,
		record.OwnerID,
		record.Kind,
		record.Title,
		inputsJSON,
		record.Status,
		record.ExternalExecutionID,
		record.TaskID,
		record.CreatedAt,
		record.UpdatedAt,
	)
	if err != nil {
		return "", persistence.NewStorageError("Create", record.ID, fmt.Errorf("failed to insert execution record: %w", err))
	}

	return record.ID, nil
}

// TransitionStatus moves a record to a new status when the current status allows it.
func (er *ExecutionRepository) TransitionStatus(
	ctx context.Context,
	id string,
	status models.ExecutionStatus,
	errorMessage string,
	completedAt *time.Time,
) error {
	return er.withLockedRecord(ctx, "TransitionStatus", id, func(tx *sql.Tx, current *models.ExecutionRecord) error {
		if !current.Status.CanTransitionTo(status) {
			return persistence.TransitionError("TransitionStatus", id, string(current.Status), string(status))
		}

		query := `
			UPDATE execution_records
			SET status = $2,
				error_message = COALESCE($3, error_message),
				completed_at = COALESCE($4, completed_at),
				updated_at = $5
			WHERE id = $1
		`

		_, err := tx.ExecContext(ctx, query, id, status, models.StringPtr(errorMessage), completedAt, time.Now().UTC())
		if err != nil {
			return persistence.NewStorageError("TransitionStatus", id, fmt.Errorf("failed to update status: %w", err))
		}

		return nil
	})
}

// WriteTerminalData finalizes a record in one statement. A repeat with the
// same terminal status returns the stored record.
func (er *ExecutionRepository) WriteTerminalData(
	ctx context.Context,
	id string,
	data models.TerminalData,
) (*models.ExecutionRecord, error) {
	if !data.Status.IsTerminal() {
		return nil, persistence.TransitionError("WriteTerminalData", id, "terminal write", string(data.Status))
	}

	var result *models.ExecutionRecord

	err := er.withLockedRecord(ctx, "WriteTerminalData", id, func(tx *sql.Tx, current *models.ExecutionRecord) error {
		if current.Status.IsTerminal() && current.Status == data.Status {
			result = current

			return nil
		}

		if !current.Status.CanTransitionTo(data.Status) {
			return persistence.TransitionError("WriteTerminalData", id, string(current.Status), string(data.Status))
		}

		if data.CompletedAt.IsZero() {
			data.CompletedAt = time.Now().UTC()
		}

		data.Apply(current)
		current.UpdatedAt = time.Now().UTC()

		outputsJSON, err := json.Marshal(current.Outputs)
		if err != nil {
			return fmt.Errorf("failed to marshal outputs: %w", err)
		}

		metadataJSON, err := json.Marshal(current.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}

		query := `
			UPDATE execution_records
			SET status = $2,
				outputs = $3,
				total_steps = $4,
				total_tokens = $5,
				elapsed_time = $6,
				error_message = $7,
				completed_at = $8,
				external_execution_id = $9,
				task_id = $10,
				metadata = $11,
				updated_at = $12
			WHERE id = $1
		`

		_, err = tx.ExecContext(ctx, query,
			id,
			current.Status,
			outputsJSON,
			current.TotalSteps,
			current.TotalTokens,
			current.ElapsedTime,
			current.ErrorMessage,
			current.CompletedAt,
			current.ExternalExecutionID,
			current.TaskID,
			metadataJSON,
			current.UpdatedAt,
		)
		if err != nil {
			return persistence.NewStorageError("WriteTerminalData", id, fmt.Errorf("failed to write terminal data: %w", err))
		}

		result = current

		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// ListByJobDefinition lists the owner's records for a job definition, newest first.
func (er *ExecutionRepository) ListByJobDefinition(
	ctx context.Context,
	jobDefinitionID, ownerID string,
	limit int,
) ([]*models.ExecutionRecord, error) {
	query := `SELECT ` + executionColumns + `
		FROM execution_records
		WHERE job_definition_id = $1 AND owner_id = $2
		ORDER BY created_at DESC
		LIMIT $3
	`

	records, err := er.query(ctx, query, jobDefinitionID, ownerID, limitArg(limit))
	if err != nil {
		return nil, persistence.NewStorageError("ListByJobDefinition", "", err)
	}

	return records, nil
}

// GetByID retrieves a record by its ID.
func (er *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.ExecutionRecord, error) {
	query := `SELECT ` + executionColumns + ` FROM execution_records WHERE id = $1`

	record, err := scanExecutionRecord(er.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewStorageError("GetByID", id, persistence.ErrExecutionNotFound)
		}

		return nil, persistence.NewStorageError("GetByID", id, err)
	}

	return record, nil
}

// ListStale returns records still in status that were created before the cutoff, oldest first.
func (er *ExecutionRepository) ListStale(
	ctx context.Context,
	status models.ExecutionStatus,
	createdBefore time.Time,
	limit int,
) ([]*models.ExecutionRecord, error) {
	query := `SELECT ` + executionColumns + `
		FROM execution_records
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at ASC
		LIMIT $3
	`

	records, err := er.query(ctx, query, status, createdBefore, limitArg(limit))
	if err != nil {
		return nil, persistence.NewStorageError("ListStale", "", err)
	}

	return records, nil
}

// limitArg maps a non-positive limit to LIMIT NULL, which PostgreSQL treats as no limit.
func limitArg(limit int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(limit), Valid: limit > 0}
}

// withLockedRecord runs fn inside a transaction holding a row lock on the record.
func (er *ExecutionRepository) withLockedRecord(
	ctx context.Context,
	op, id string,
	fn func(tx *sql.Tx, current *models.ExecutionRecord) error,
) error {
	tx, err := er.db.BeginTx(ctx, nil)
	if err != nil {
		return persistence.NewStorageError(op, id, fmt.Errorf("failed to begin transaction: %w", err))
	}

	query := `SELECT ` + executionColumns + ` FROM execution_records WHERE id = $1 FOR UPDATE`

	current, err := scanExecutionRecord(tx.QueryRowContext(ctx, query, id))
	if err != nil {
		_ = tx.Rollback()

		if errors.Is(err, sql.ErrNoRows) {
			return persistence.NewStorageError(op, id, persistence.ErrExecutionNotFound)
		}

		return persistence.NewStorageError(op, id, err)
	}

	err = fn(tx, current)
	if err != nil {
		_ = tx.Rollback()

		return err
	}

	err = tx.Commit()
	if err != nil {
		return persistence.NewStorageError(op, id, fmt.Errorf("failed to commit transaction: %w", err))
	}

	return nil
}

func (er *ExecutionRepository) query(ctx context.Context, query string, args ...any) ([]*models.ExecutionRecord, error) {
	rows, err := er.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query execution records: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			er.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	records := make([]*models.ExecutionRecord, 0)

	for rows.Next() {
		record, err := scanExecutionRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution record: %w", err)
		}

		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating execution records: %w", err)
	}

	return records, nil
}

// scanExecutionRecord scans an execution record from a database row.
func scanExecutionRecord(scanner interface {
	Scan(dest ...any) error
}) (*models.ExecutionRecord, error) {
	var (
		record                            models.ExecutionRecord
		inputsJSON, outputsJSON, metaJSON []byte
		externalID, taskID, errorMessage  sql.NullString
		completedAt                       sql.NullTime
	)

	err := scanner.Scan(
		&record.ID,
		&record.JobDefinitionID,
		&record.OwnerID,
		&record.Kind,
		&record.Title,
		&inputsJSON,
		&record.Status,
		&outputsJSON,
		&externalID,
		&taskID,
		&record.TotalSteps,
		&record.TotalTokens,
		&record.ElapsedTime,
		&errorMessage,
		&metaJSON,
		&record.CreatedAt,
		&record.UpdatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	for _, field := range []struct {
		raw  []byte
		dest *map[string]any
		name string
	}{
		{inputsJSON, &record.Inputs, "inputs"},
		{outputsJSON, &record.Outputs, "outputs"},
		{metaJSON, &record.Metadata, "metadata"},
	} {
		if len(field.raw) == 0 {
			continue
		}

		err = json.Unmarshal(field.raw, field.dest)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s: %w", field.name, err)
		}
	}

	if externalID.Valid {
		record.ExternalExecutionID = &externalID.String
	}

	if taskID.Valid {
		record.TaskID = &taskID.String
	}

	if errorMessage.Valid {
		record.ErrorMessage = &errorMessage.String
	}

	if completedAt.Valid {
		at := completedAt.Time
		record.CompletedAt = &at
	}

	return &record, nil
}
