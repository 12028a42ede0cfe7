package file

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pixelsama/AgentifUI-sub002/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPersistence(t *testing.T) {
	fp := NewPersistence("/tmp/test")
	assert.Equal(t, "/tmp/test", fp.root)

	fp = NewPersistence("file:///tmp/test")
	assert.Equal(t, "/tmp/test", fp.root)
}

func TestPersistence_HealthCheck(t *testing.T) {
	fp := NewPersistence(t.TempDir())
	require.NoError(t, fp.HealthCheck(t.Context()))
	require.NoError(t, fp.Close(t.Context()))

	missing := NewPersistence(filepath.Join(t.TempDir(), "missing"))
	require.ErrorIs(t, missing.HealthCheck(t.Context()), os.ErrNotExist)
}

func TestValidateID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{name: "uuid", id: "0b8f7c52-2a43-4f5c-9df0-5f3a3c4c2a11"},
		{name: "empty", id: "", wantErr: true},
		{name: "parent traversal", id: "../etc", wantErr: true},
		{name: "slash", id: "a/b", wantErr: true},
		{name: "backslash", id: "a\\b", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateID(tt.id)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestJobDefinitionRepository(t *testing.T) {
	fp := NewPersistence(t.TempDir())
	repo := fp.JobDefinitionRepository()

	_, err := repo.GetByExternalID(t.Context(), "summarize")
	require.Error(t, err)

	definition := &models.JobDefinition{
		ExternalID: "summarize",
		BackendID:  "app-123",
		Name:       "Summarize",
		Kind:       models.ExecutionKindTextGeneration,
	}
	require.NoError(t, repo.Save(t.Context(), definition))
	assert.NotEmpty(t, definition.ID)

	require.NoError(t, repo.Save(t.Context(), &models.JobDefinition{
		ExternalID: "translate",
		BackendID:  "app-456",
		Name:       "Another",
		Kind:       models.ExecutionKindWorkflow,
	}))

	loaded, err := repo.GetByExternalID(t.Context(), "summarize")
	require.NoError(t, err)
	assert.Equal(t, definition.ID, loaded.ID)
	assert.Equal(t, "app-123", loaded.BackendID)

	all, err := repo.List(t.Context())
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Another", all[0].Name)

	err = repo.Save(t.Context(), &models.JobDefinition{ExternalID: "bad", Kind: models.ExecutionKindWorkflow})
	assert.Error(t, err)
}
