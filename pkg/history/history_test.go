package history_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/pixelsama/AgentifUI-sub002/pkg/history"
	"github.com/pixelsama/AgentifUI-sub002/pkg/jobdef"
	"github.com/pixelsama/AgentifUI-sub002/pkg/mocks"
	"github.com/pixelsama/AgentifUI-sub002/pkg/models"
	"github.com/pixelsama/AgentifUI-sub002/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newLoader(t *testing.T) (*history.Loader, *mocks.MockExecutionRepository, *mocks.MockJobDefinitionRepository) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	records := &mocks.MockExecutionRepository{}
	definitions := &mocks.MockJobDefinitionRepository{}
	directory := jobdef.NewDirectory(logger, definitions)

	return history.NewLoader(logger, records, directory), records, definitions
}

func TestLoader_List(t *testing.T) {
	t.Parallel()

	writer := &models.JobDefinition{
		ID:         "0b5f0c7e-7c1e-4d59-9d3f-5b1b8f1a0001",
		ExternalID: "writer",
		BackendID:  "app-writer",
		Kind:       models.ExecutionKindTextGeneration,
	}

	tests := []struct {
		name          string
		limit         int
		expectedLimit int
	}{
		{name: "default limit", limit: 0, expectedLimit: history.DefaultLimit},
		{name: "explicit limit", limit: 5, expectedLimit: 5},
		{name: "capped limit", limit: 1000, expectedLimit: history.MaxLimit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			loader, records, definitions := newLoader(t)
			definitions.On("List", mock.Anything).Return([]*models.JobDefinition{writer}, nil).Once()

			expected := []*models.ExecutionRecord{{ID: "exec-2"}, {ID: "exec-1"}}
			records.On("ListByJobDefinition", mock.Anything, writer.ID, "user-1", tt.expectedLimit).Return(expected, nil).Once()

			result, err := loader.List(context.Background(), "writer", "user-1", tt.limit)
			require.NoError(t, err)
			assert.Equal(t, expected, result)

			records.AssertExpectations(t)
		})
	}
}

func TestLoader_ListUnresolvable(t *testing.T) {
	t.Parallel()

	t.Run("unknown job definition", func(t *testing.T) {
		t.Parallel()

		loader, records, definitions := newLoader(t)
		definitions.On("List", mock.Anything).Return([]*models.JobDefinition{}, nil)

		result, err := loader.List(context.Background(), "missing", "user-1", 0)
		require.NoError(t, err)
		assert.NotNil(t, result)
		assert.Empty(t, result)
		records.AssertNotCalled(t, "ListByJobDefinition", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("directory unavailable", func(t *testing.T) {
		t.Parallel()

		loader, _, definitions := newLoader(t)
		definitions.On("List", mock.Anything).Return(nil, errors.New("connection refused"))

		result, err := loader.List(context.Background(), "writer", "user-1", 0)
		require.NoError(t, err)
		assert.Empty(t, result)
	})
}

func TestLoader_ListStoreError(t *testing.T) {
	t.Parallel()

	loader, records, definitions := newLoader(t)
	definitions.On("List", mock.Anything).Return([]*models.JobDefinition{{
		ID:         "0b5f0c7e-7c1e-4d59-9d3f-5b1b8f1a0001",
		ExternalID: "writer",
		BackendID:  "app-writer",
		Kind:       models.ExecutionKindTextGeneration,
	}}, nil)
	records.On("ListByJobDefinition", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, persistence.NewStorageError("ListByJobDefinition", "", errors.New("timeout")))

	_, err := loader.List(context.Background(), "writer", "user-1", 10)
	require.Error(t, err)
	assert.True(t, persistence.IsStorageError(err))
}
