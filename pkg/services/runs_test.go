package services_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/pixelsama/AgentifUI-sub002/pkg/jobdef"
	"github.com/pixelsama/AgentifUI-sub002/pkg/mocks"
	"github.com/pixelsama/AgentifUI-sub002/pkg/models"
	"github.com/pixelsama/AgentifUI-sub002/pkg/orchestrator"
	"github.com/pixelsama/AgentifUI-sub002/pkg/persistence/file"
	"github.com/pixelsama/AgentifUI-sub002/pkg/remote"
	"github.com/pixelsama/AgentifUI-sub002/pkg/runstate"
	"github.com/pixelsama/AgentifUI-sub002/pkg/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupRuns(t *testing.T) (*services.Runs, *mocks.MockRemoteClient, *mocks.MockEventBus) {
	t.Helper()

	logger := testLogger()
	store := file.NewPersistence(t.TempDir())

	require.NoError(t, store.JobDefinitionRepository().Save(context.Background(), &models.JobDefinition{
		ExternalID: "writer",
		BackendID:  "app-writer",
		Name:       "Writer",
		Kind:       models.ExecutionKindTextGeneration,
	}))

	client := &mocks.MockRemoteClient{}
	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	directory := jobdef.NewDirectory(logger, store.JobDefinitionRepository())

	return services.NewRuns(logger, store, client, directory, services.WithPublisher(bus)), client, bus
}

func waitRecord(t *testing.T, runs *services.Runs, ownerID string) runstate.State {
	t.Helper()

	var state runstate.State

	require.Eventually(t, func() bool {
		var err error

		state, err = runs.State(ownerID, "writer")
		require.NoError(t, err)

		return !state.Active() && state.Record != nil
	}, 5*time.Second, 10*time.Millisecond)

	return state
}

func TestRuns_StartAndHistory(t *testing.T) {
	t.Parallel()

	runs, client, bus := setupRuns(t)
	stream := mocks.NewStreamStub()
	client.On("Open", mock.Anything, mock.Anything).Return(stream, nil).Once()

	ctx := context.Background()

	response, err := runs.Start(ctx, services.StartRunRequest{
		OwnerID:         "user-1",
		JobDefinitionID: "writer",
		Inputs:          map[string]any{"prompt": "hi"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, response.ExecutionID)
	assert.Equal(t, runstate.StatusExecuting, response.State.Status)

	require.True(t, stream.Emit(models.NewTextEvent("Hello")))
	stream.Finish(&models.FinalResult{Status: models.RemoteStatusSucceeded}, nil)

	state := waitRecord(t, runs, "user-1")
	assert.Equal(t, models.ExecutionStatusCompleted, state.Record.Status)

	records, err := runs.History(ctx, "writer", "user-1", 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, response.ExecutionID, records[0].ID)

	others, err := runs.History(ctx, "writer", "user-2", 0)
	require.NoError(t, err)
	assert.Empty(t, others)

	bus.AssertCalled(t, "Publish", mock.Anything, "writer", mock.Anything)
}

func TestRuns_OwnersAreIsolated(t *testing.T) {
	t.Parallel()

	runs, client, _ := setupRuns(t)
	first := mocks.NewStreamStub()
	second := mocks.NewStreamStub()
	client.On("Open", mock.Anything, mock.Anything).Return(first, nil).Once()
	client.On("Open", mock.Anything, mock.Anything).Return(second, nil).Once()

	ctx := context.Background()

	_, err := runs.Start(ctx, services.StartRunRequest{OwnerID: "user-1", JobDefinitionID: "writer"})
	require.NoError(t, err)

	_, err = runs.Start(ctx, services.StartRunRequest{OwnerID: "user-1", JobDefinitionID: "writer"})
	require.ErrorIs(t, err, orchestrator.ErrRunInProgress)
	assert.True(t, services.IsConflictError(err))

	_, err = runs.Start(ctx, services.StartRunRequest{OwnerID: "user-2", JobDefinitionID: "writer"})
	require.NoError(t, err)

	first.Finish(&models.FinalResult{Status: models.RemoteStatusSucceeded}, nil)
	second.Finish(&models.FinalResult{Status: models.RemoteStatusSucceeded}, nil)

	waitRecord(t, runs, "user-1")
	waitRecord(t, runs, "user-2")
}

func TestRuns_StopRetryReset(t *testing.T) {
	t.Parallel()

	runs, client, _ := setupRuns(t)
	client.On("Open", mock.Anything, mock.Anything).
		Return(nil, &remote.ConnectionError{Op: "Open", StatusCode: 503, Message: "unavailable"}).Once()

	ctx := context.Background()

	_, err := runs.Stop(ctx, "user-1", "writer")
	require.ErrorIs(t, err, services.ErrNoRunForJobDefinition)
	assert.True(t, services.IsNotFoundError(err))

	response, err := runs.Start(ctx, services.StartRunRequest{OwnerID: "user-1", JobDefinitionID: "writer"})
	require.Error(t, err)
	assert.True(t, services.IsUpstreamError(err))
	assert.Equal(t, runstate.StatusErrored, response.State.Status)
	assert.True(t, response.State.Retryable)

	stream := mocks.NewStreamStub()
	client.On("Open", mock.Anything, mock.Anything).Return(stream, nil).Once()
	client.On("StopRemoteJob", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()

	retried, err := runs.Retry(ctx, "user-1", "writer")
	require.NoError(t, err)
	assert.NotEqual(t, response.ExecutionID, retried.ExecutionID)

	stopped, err := runs.Stop(ctx, "user-1", "writer")
	require.NoError(t, err)
	require.NotNil(t, stopped.State.Record)
	assert.Equal(t, models.ExecutionStatusStopped, stopped.State.Record.Status)

	reset, err := runs.Reset(ctx, "user-1", "writer")
	require.NoError(t, err)
	assert.Equal(t, runstate.StatusIdle, reset.State.Status)
	assert.Nil(t, reset.State.Record)
}

func TestRuns_Validation(t *testing.T) {
	t.Parallel()

	runs, _, _ := setupRuns(t)
	ctx := context.Background()

	_, err := runs.Start(ctx, services.StartRunRequest{JobDefinitionID: "writer"})
	require.ErrorIs(t, err, services.ErrEmptyOwnerID)
	assert.True(t, services.IsValidationError(err))

	_, err = runs.State("user-1", "")
	require.ErrorIs(t, err, services.ErrEmptyJobDefinitionID)

	response, err := runs.Start(ctx, services.StartRunRequest{OwnerID: "user-1", JobDefinitionID: "missing"})
	require.Error(t, err)
	assert.True(t, services.IsNotFoundError(err))
	assert.Nil(t, response)

	state, err := runs.State("user-3", "writer")
	require.NoError(t, err)
	assert.Equal(t, runstate.StatusIdle, state.Status)
}

func TestRuns_RejectedStartsAreNotTracked(t *testing.T) {
	t.Parallel()

	runs, client, _ := setupRuns(t)
	ctx := context.Background()

	for i := range 20 {
		_, err := runs.Start(ctx, services.StartRunRequest{
			OwnerID:         "user-1",
			JobDefinitionID: fmt.Sprintf("made-up-%d", i),
		})
		require.Error(t, err)
		assert.True(t, services.IsNotFoundError(err))
	}

	assert.Equal(t, 0, services.TrackedRuns(runs))

	client.On("Open", mock.Anything, mock.Anything).
		Return(nil, &remote.ConnectionError{Op: "Open", StatusCode: 503}).Once()

	response, err := runs.Start(ctx, services.StartRunRequest{OwnerID: "user-1", JobDefinitionID: "writer"})
	require.Error(t, err)
	assert.True(t, services.IsUpstreamError(err))
	require.NotNil(t, response)
	assert.True(t, response.State.Retryable)

	assert.Equal(t, 1, services.TrackedRuns(runs))
}

func TestRuns_HealthCheck(t *testing.T) {
	t.Parallel()

	runs, _, _ := setupRuns(t)

	message, ok := runs.HealthCheck(context.Background())
	assert.True(t, ok)
	assert.Contains(t, message, "healthy")
}

func TestRuns_HealthCheckUnhealthy(t *testing.T) {
	t.Parallel()

	p := mocks.NewMockPersistence()
	p.On("HealthCheck", mock.Anything).Return(errors.New("connection refused"))

	directory := jobdef.NewDirectory(testLogger(), p.GetMockJobDefinitionRepository())
	runs := services.NewRuns(testLogger(), p, &mocks.MockRemoteClient{}, directory)

	message, ok := runs.HealthCheck(context.Background())
	assert.False(t, ok)
	assert.Contains(t, message, "connection refused")
}

func TestRuns_HistoryStoreError(t *testing.T) {
	t.Parallel()

	p := mocks.NewMockPersistence()
	p.GetMockJobDefinitionRepository().On("List", mock.Anything).Return([]*models.JobDefinition{{
		ID:         "0b5f0c7e-7c1e-4d59-9d3f-5b1b8f1a0001",
		ExternalID: "writer",
		BackendID:  "app-writer",
		Kind:       models.ExecutionKindTextGeneration,
	}}, nil)
	p.GetMockExecutionRepository().On("ListByJobDefinition", mock.Anything, mock.Anything, "user-1", 20).
		Return(nil, errors.New("timeout"))

	directory := jobdef.NewDirectory(testLogger(), p.GetMockJobDefinitionRepository())
	runs := services.NewRuns(testLogger(), p, &mocks.MockRemoteClient{}, directory)

	_, err := runs.History(context.Background(), "writer", "user-1", 0)
	require.Error(t, err)
}
