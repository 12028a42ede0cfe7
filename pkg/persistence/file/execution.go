package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/pixelsama/AgentifUI-sub002/pkg/models"
	"github.com/pixelsama/AgentifUI-sub002/pkg/persistence"
)

// ExecutionRepository handles execution record file operations.
//
// Every read-modify-write happens under mu, which is what makes status
// transitions and terminal writes atomic for a single process.
type ExecutionRepository struct {
	root string
	mu   sync.Mutex
	now  func() time.Time
}

// NewExecutionRepository creates a new execution record repository.
func NewExecutionRepository(root string) *ExecutionRepository {
	return &ExecutionRepository{
		root: root,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (er *ExecutionRepository) dir() string {
	return filepath.Join(er.root, "executions")
}

func (er *ExecutionRepository) path(id string) string {
	return filepath.Join(er.dir(), id+".json")
}

// Create stores a new pending record.
func (er *ExecutionRepository) Create(_ context.Context, record *models.ExecutionRecord) (string, error) {
	err := persistence.PrepareNewRecord(record, er.now())
	if err != nil {
		return "", persistence.NewStorageError("Create", "", err)
	}

	err = validateID(record.ID)
	if err != nil {
		return "", persistence.NewStorageError("Create", record.ID, err)
	}

	er.mu.Lock()
	defer er.mu.Unlock()

	if _, statErr := os.Stat(er.path(record.ID)); statErr == nil {
		return "", persistence.NewStorageError("Create", record.ID, fmt.Errorf("execution record already exists"))
	}

	err = writeJSON(er.path(record.ID), record)
	if err != nil {
		return "", persistence.NewStorageError("Create", record.ID, err)
	}

	return record.ID, nil
}

// TransitionStatus moves a record to a new status when the current status allows it.
func (er *ExecutionRepository) TransitionStatus(
	_ context.Context,
	id string,
	status models.ExecutionStatus,
	errorMessage string,
	completedAt *time.Time,
) error {
	er.mu.Lock()
	defer er.mu.Unlock()

	record, err := er.load(id)
	if err != nil {
		return persistence.NewStorageError("TransitionStatus", id, err)
	}

	if !record.Status.CanTransitionTo(status) {
		return persistence.TransitionError("TransitionStatus", id, string(record.Status), string(status))
	}

	record.Status = status
	record.UpdatedAt = er.now()

	if errorMessage != "" {
		record.ErrorMessage = &errorMessage
	}

	if completedAt != nil {
		at := *completedAt
		record.CompletedAt = &at
	}

	err = writeJSON(er.path(id), record)
	if err != nil {
		return persistence.NewStorageError("TransitionStatus", id, err)
	}

	return nil
}

// WriteTerminalData finalizes a record. A repeat with the same terminal status returns the stored record.
func (er *ExecutionRepository) WriteTerminalData(
	_ context.Context,
	id string,
	data models.TerminalData,
) (*models.ExecutionRecord, error) {
	if !data.Status.IsTerminal() {
		return nil, persistence.TransitionError("WriteTerminalData", id, "terminal write", string(data.Status))
	}

	er.mu.Lock()
	defer er.mu.Unlock()

	record, err := er.load(id)
	if err != nil {
		return nil, persistence.NewStorageError("WriteTerminalData", id, err)
	}

	if record.Status.IsTerminal() {
		if record.Status == data.Status {
			return record, nil
		}

		return nil, persistence.TransitionError("WriteTerminalData", id, string(record.Status), string(data.Status))
	}

	if !record.Status.CanTransitionTo(data.Status) {
		return nil, persistence.TransitionError("WriteTerminalData", id, string(record.Status), string(data.Status))
	}

	if data.CompletedAt.IsZero() {
		data.CompletedAt = er.now()
	}

	data.Apply(record)
	record.UpdatedAt = er.now()

	err = writeJSON(er.path(id), record)
	if err != nil {
		return nil, persistence.NewStorageError("WriteTerminalData", id, err)
	}

	return record, nil
}

// ListByJobDefinition lists the owner's records for a job definition, newest first.
func (er *ExecutionRepository) ListByJobDefinition(
	_ context.Context,
	jobDefinitionID, ownerID string,
	limit int,
) ([]*models.ExecutionRecord, error) {
	records, err := er.all(func(r *models.ExecutionRecord) bool {
		return r.JobDefinitionID == jobDefinitionID && r.OwnerID == ownerID
	})
	if err != nil {
		return nil, persistence.NewStorageError("ListByJobDefinition", "", err)
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})

	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}

	return records, nil
}

// GetByID retrieves a record by its ID.
func (er *ExecutionRepository) GetByID(_ context.Context, id string) (*models.ExecutionRecord, error) {
	er.mu.Lock()
	defer er.mu.Unlock()

	record, err := er.load(id)
	if err != nil {
		return nil, persistence.NewStorageError("GetByID", id, err)
	}

	return record, nil
}

// ListStale returns records still in status that were created before the cutoff, oldest first.
func (er *ExecutionRepository) ListStale(
	_ context.Context,
	status models.ExecutionStatus,
	createdBefore time.Time,
	limit int,
) ([]*models.ExecutionRecord, error) {
	records, err := er.all(func(r *models.ExecutionRecord) bool {
		return r.Status == status && r.CreatedAt.Before(createdBefore)
	})
	if err != nil {
		return nil, persistence.NewStorageError("ListStale", "", err)
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})

	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}

	return records, nil
}

func (er *ExecutionRepository) all(keep func(*models.ExecutionRecord) bool) ([]*models.ExecutionRecord, error) {
	er.mu.Lock()
	defer er.mu.Unlock()

	ids, err := readDirJSON(er.dir())
	if err != nil {
		return nil, err
	}

	records := make([]*models.ExecutionRecord, 0, len(ids))

	for _, id := range ids {
		record, err := er.load(id)
		if err != nil {
			// Skip invalid files
			continue
		}

		if keep(record) {
			records = append(records, record)
		}
	}

	return records, nil
}

// load reads a record; callers hold mu.
func (er *ExecutionRepository) load(id string) (*models.ExecutionRecord, error) {
	err := validateID(id)
	if err != nil {
		return nil, fmt.Errorf("invalid execution ID: %w", err)
	}

	data, err := os.ReadFile(er.path(id)) // #nosec G304 -- id is validated above
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.ErrExecutionNotFound
		}

		return nil, fmt.Errorf("failed to read execution record %s: %w", id, err)
	}

	var record models.ExecutionRecord

	err = json.Unmarshal(data, &record)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution record %s: %w", id, err)
	}

	return &record, nil
}
