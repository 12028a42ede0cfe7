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

	"github.com/google/uuid"
	"github.com/pixelsama/AgentifUI-sub002/pkg/models"
	"github.com/pixelsama/AgentifUI-sub002/pkg/persistence"
)

// JobDefinitionRepository stores job definitions as one JSON file per external ID.
type JobDefinitionRepository struct {
	root string
	mu   sync.RWMutex
}

// NewJobDefinitionRepository creates a new job definition repository.
func NewJobDefinitionRepository(root string) *JobDefinitionRepository {
	return &JobDefinitionRepository{root: root}
}

func (jr *JobDefinitionRepository) dir() string {
	return filepath.Join(jr.root, "job_definitions")
}

// List returns every stored job definition ordered by name.
func (jr *JobDefinitionRepository) List(_ context.Context) ([]*models.JobDefinition, error) {
	jr.mu.RLock()
	defer jr.mu.RUnlock()

	ids, err := readDirJSON(jr.dir())
	if err != nil {
		return nil, err
	}

	definitions := make([]*models.JobDefinition, 0, len(ids))

	for _, id := range ids {
		definition, err := jr.load(id)
		if err != nil {
			continue
		}

		definitions = append(definitions, definition)
	}

	sort.Slice(definitions, func(i, j int) bool {
		return definitions[i].Name < definitions[j].Name
	})

	return definitions, nil
}

// GetByExternalID retrieves a job definition by its caller-facing ID.
func (jr *JobDefinitionRepository) GetByExternalID(_ context.Context, externalID string) (*models.JobDefinition, error) {
	jr.mu.RLock()
	defer jr.mu.RUnlock()

	return jr.load(externalID)
}

// Save creates or replaces a job definition.
func (jr *JobDefinitionRepository) Save(_ context.Context, definition *models.JobDefinition) error {
	err := persistence.ValidateJobDefinition(definition)
	if err != nil {
		return fmt.Errorf("invalid job definition: %w", err)
	}

	err = validateID(definition.ExternalID)
	if err != nil {
		return fmt.Errorf("invalid job definition ID: %w", err)
	}

	now := time.Now().UTC()
	if definition.ID == "" {
		definition.ID = uuid.New().String()
	}

	if definition.CreatedAt.IsZero() {
		definition.CreatedAt = now
	}

	definition.UpdatedAt = now

	jr.mu.Lock()
	defer jr.mu.Unlock()

	return writeJSON(filepath.Join(jr.dir(), definition.ExternalID+".json"), definition)
}

func (jr *JobDefinitionRepository) load(externalID string) (*models.JobDefinition, error) {
	err := validateID(externalID)
	if err != nil {
		return nil, fmt.Errorf("invalid job definition ID: %w", err)
	}

	data, err := os.ReadFile(filepath.Join(jr.dir(), externalID+".json")) // #nosec G304 -- id is validated above
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.ErrJobDefinitionNotFound
		}

		return nil, fmt.Errorf("failed to read job definition %s: %w", externalID, err)
	}

	var definition models.JobDefinition

	err = json.Unmarshal(data, &definition)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal job definition %s: %w", externalID, err)
	}

	return &definition, nil
}
