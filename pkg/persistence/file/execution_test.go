package file

import (
	"sync"
	"testing"
	"time"

	"github.com/pixelsama/AgentifUI-sub002/pkg/models"
	"github.com/pixelsama/AgentifUI-sub002/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRecord(owner, jobDefinitionID string) *models.ExecutionRecord {
	return &models.ExecutionRecord{
		JobDefinitionID: jobDefinitionID,
		OwnerID:         owner,
		Kind:            models.ExecutionKindWorkflow,
		Inputs:          map[string]any{"topic": "go"},
	}
}

func TestExecutionRepository_Create(t *testing.T) {
	repo := NewExecutionRepository(t.TempDir())

	id, err := repo.Create(t.Context(), newRecord("user-1", "jd-1"))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	stored, err := repo.GetByID(t.Context(), id)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusPending, stored.Status)
	assert.Equal(t, "go", stored.Inputs["topic"])
	assert.Contains(t, stored.Title, "Workflow run")
	assert.Nil(t, stored.CompletedAt)

	_, err = repo.Create(t.Context(), newRecord("", "jd-1"))
	require.ErrorIs(t, err, persistence.ErrMissingOwner)

	_, err = repo.Create(t.Context(), newRecord("user-1", ""))
	require.ErrorIs(t, err, persistence.ErrMissingJobDefinition)
}

func TestExecutionRepository_GetByID_NotFound(t *testing.T) {
	repo := NewExecutionRepository(t.TempDir())

	_, err := repo.GetByID(t.Context(), "missing")
	require.Error(t, err)
	assert.True(t, persistence.IsExecutionNotFound(err))
}

func TestExecutionRepository_TransitionStatus(t *testing.T) {
	repo := NewExecutionRepository(t.TempDir())

	id, err := repo.Create(t.Context(), newRecord("user-1", "jd-1"))
	require.NoError(t, err)

	require.NoError(t, repo.TransitionStatus(t.Context(), id, models.ExecutionStatusRunning, "", nil))

	err = repo.TransitionStatus(t.Context(), id, models.ExecutionStatusPending, "", nil)
	require.Error(t, err)
	assert.True(t, persistence.IsInvalidTransition(err))

	completedAt := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.TransitionStatus(t.Context(), id, models.ExecutionStatusFailed, "boom", &completedAt))

	stored, err := repo.GetByID(t.Context(), id)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, stored.Status)
	require.NotNil(t, stored.ErrorMessage)
	assert.Equal(t, "boom", *stored.ErrorMessage)
	require.NotNil(t, stored.CompletedAt)
	assert.True(t, completedAt.Equal(*stored.CompletedAt))

	err = repo.TransitionStatus(t.Context(), id, models.ExecutionStatusRunning, "", nil)
	assert.True(t, persistence.IsInvalidTransition(err))

	err = repo.TransitionStatus(t.Context(), "missing", models.ExecutionStatusRunning, "", nil)
	assert.True(t, persistence.IsExecutionNotFound(err))
}

func TestExecutionRepository_WriteTerminalData(t *testing.T) {
	repo := NewExecutionRepository(t.TempDir())

	id, err := repo.Create(t.Context(), newRecord("user-1", "jd-1"))
	require.NoError(t, err)
	require.NoError(t, repo.TransitionStatus(t.Context(), id, models.ExecutionStatusRunning, "", nil))

	data := models.TerminalData{
		Status:              models.ExecutionStatusCompleted,
		Outputs:             map[string]any{"answer": "42"},
		TotalSteps:          3,
		TotalTokens:         120,
		ElapsedTime:         1.5,
		ExternalExecutionID: models.StringPtr("run-9"),
		TaskID:              models.StringPtr("task-9"),
		Metadata:            map[string]any{models.MetadataStatistics: map[string]any{"nodes": 3}},
	}

	record, err := repo.WriteTerminalData(t.Context(), id, data)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, record.Status)
	assert.Equal(t, "42", record.Outputs["answer"])
	assert.Equal(t, 3, record.TotalSteps)
	assert.Equal(t, 120, record.TotalTokens)
	require.NotNil(t, record.CompletedAt)
	require.NotNil(t, record.ExternalExecutionID)
	assert.Equal(t, "run-9", *record.ExternalExecutionID)

	again, err := repo.WriteTerminalData(t.Context(), id, data)
	require.NoError(t, err)
	assert.Equal(t, record.CompletedAt.Unix(), again.CompletedAt.Unix())

	_, err = repo.WriteTerminalData(t.Context(), id, models.TerminalData{Status: models.ExecutionStatusFailed})
	assert.True(t, persistence.IsInvalidTransition(err))

	_, err = repo.WriteTerminalData(t.Context(), id, models.TerminalData{Status: models.ExecutionStatusRunning})
	assert.True(t, persistence.IsInvalidTransition(err))
}

func TestExecutionRepository_WriteTerminalData_FromPending(t *testing.T) {
	repo := NewExecutionRepository(t.TempDir())

	id, err := repo.Create(t.Context(), newRecord("user-1", "jd-1"))
	require.NoError(t, err)

	_, err = repo.WriteTerminalData(t.Context(), id, models.TerminalData{Status: models.ExecutionStatusCompleted})
	assert.True(t, persistence.IsInvalidTransition(err))

	record, err := repo.WriteTerminalData(t.Context(), id, models.TerminalData{
		Status:       models.ExecutionStatusFailed,
		ErrorMessage: models.StringPtr("connection refused"),
	})
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, record.Status)
	assert.NotNil(t, record.Outputs)
	assert.NotNil(t, record.Metadata)
}

func TestExecutionRepository_WriteTerminalData_Concurrent(t *testing.T) {
	repo := NewExecutionRepository(t.TempDir())

	id, err := repo.Create(t.Context(), newRecord("user-1", "jd-1"))
	require.NoError(t, err)
	require.NoError(t, repo.TransitionStatus(t.Context(), id, models.ExecutionStatusRunning, "", nil))

	statuses := []models.ExecutionStatus{
		models.ExecutionStatusCompleted,
		models.ExecutionStatusStopped,
		models.ExecutionStatusFailed,
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)

	for _, status := range statuses {
		wg.Add(1)

		go func(status models.ExecutionStatus) {
			defer wg.Done()

			_, err := repo.WriteTerminalData(t.Context(), id, models.TerminalData{Status: status})
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}(status)
	}

	wg.Wait()
	assert.Equal(t, 1, successes)
}

func TestExecutionRepository_ListByJobDefinition(t *testing.T) {
	repo := NewExecutionRepository(t.TempDir())
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	repo.now = func() time.Time {
		tick++

		return base.Add(time.Duration(tick) * time.Minute)
	}

	var ids []string

	for range 3 {
		id, err := repo.Create(t.Context(), newRecord("user-1", "jd-1"))
		require.NoError(t, err)

		ids = append(ids, id)
	}

	_, err := repo.Create(t.Context(), newRecord("user-2", "jd-1"))
	require.NoError(t, err)
	_, err = repo.Create(t.Context(), newRecord("user-1", "jd-2"))
	require.NoError(t, err)

	records, err := repo.ListByJobDefinition(t.Context(), "jd-1", "user-1", 10)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, ids[2], records[0].ID)
	assert.Equal(t, ids[0], records[2].ID)

	limited, err := repo.ListByJobDefinition(t.Context(), "jd-1", "user-1", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	none, err := repo.ListByJobDefinition(t.Context(), "jd-9", "user-1", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestExecutionRepository_ListStale(t *testing.T) {
	repo := NewExecutionRepository(t.TempDir())
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	current := base
	repo.now = func() time.Time { return current }

	oldID, err := repo.Create(t.Context(), newRecord("user-1", "jd-1"))
	require.NoError(t, err)

	runningID, err := repo.Create(t.Context(), newRecord("user-1", "jd-1"))
	require.NoError(t, err)
	require.NoError(t, repo.TransitionStatus(t.Context(), runningID, models.ExecutionStatusRunning, "", nil))

	current = base.Add(time.Hour)
	_, err = repo.Create(t.Context(), newRecord("user-1", "jd-1"))
	require.NoError(t, err)

	stale, err := repo.ListStale(t.Context(), models.ExecutionStatusPending, base.Add(30*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, oldID, stale[0].ID)
}
