// Package jobdef resolves caller-facing job definition IDs to stored job definitions.
package jobdef

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pixelsama/AgentifUI-sub002/pkg/models"
	"github.com/pixelsama/AgentifUI-sub002/pkg/persistence"
)

// DefaultTTL is how long a loaded directory is considered fresh.
const DefaultTTL = 5 * time.Minute

// Cache is a shared second-level cache in front of the repository.
type Cache interface {
	Get(ctx context.Context, externalID string) (*models.JobDefinition, bool, error)
	Set(ctx context.Context, definition *models.JobDefinition) error
}

// Resolver resolves a caller-facing ID to its job definition.
type Resolver interface {
	Resolve(ctx context.Context, externalID string) (*models.JobDefinition, error)
}

// Directory caches the job definition list in memory and refreshes it from
// the repository when it is empty, stale or missing the requested ID.
type Directory struct {
	repo   persistence.JobDefinitionRepository
	cache  Cache
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu       sync.RWMutex
	entries  map[string]*models.JobDefinition
	loadedAt time.Time
}

// Option configures a Directory.
type Option func(*Directory)

// WithCache adds a shared cache consulted before the repository.
func WithCache(cache Cache) Option {
	return func(d *Directory) {
		d.cache = cache
	}
}

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(d *Directory) {
		if ttl > 0 {
			d.ttl = ttl
		}
	}
}

// NewDirectory creates a directory backed by repo.
func NewDirectory(logger *slog.Logger, repo persistence.JobDefinitionRepository, opts ...Option) *Directory {
	d := &Directory{
		repo:    repo,
		ttl:     DefaultTTL,
		logger:  logger.With("module", "jobdef_directory"),
		now:     time.Now,
		entries: make(map[string]*models.JobDefinition),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Resolve returns the job definition for externalID or persistence.ErrJobDefinitionNotFound.
func (d *Directory) Resolve(ctx context.Context, externalID string) (*models.JobDefinition, error) {
	if externalID == "" {
		return nil, persistence.ErrJobDefinitionNotFound
	}

	if definition, ok := d.lookup(externalID); ok {
		return definition, nil
	}

	if d.cache != nil {
		definition, found, err := d.cache.Get(ctx, externalID)
		if err != nil {
			d.logger.WarnContext(ctx, "Job definition cache read failed", "external_id", externalID, "error", err)
		} else if found {
			d.store(definition)

			return copyDefinition(definition), nil
		}
	}

	err := d.Refresh(ctx)
	if err != nil {
		return nil, err
	}

	d.mu.RLock()
	definition, ok := d.entries[externalID]
	d.mu.RUnlock()

	if !ok {
		return nil, persistence.ErrJobDefinitionNotFound
	}

	return copyDefinition(definition), nil
}

// Refresh reloads every job definition from the repository.
func (d *Directory) Refresh(ctx context.Context) error {
	definitions, err := d.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list job definitions: %w", err)
	}

	entries := make(map[string]*models.JobDefinition, len(definitions))
	for _, definition := range definitions {
		entries[definition.ExternalID] = definition
	}

	d.mu.Lock()
	d.entries = entries
	d.loadedAt = d.now()
	d.mu.Unlock()

	d.logger.DebugContext(ctx, "Job definition directory refreshed", "count", len(entries))

	if d.cache != nil {
		for _, definition := range definitions {
			if err := d.cache.Set(ctx, definition); err != nil {
				d.logger.WarnContext(ctx, "Job definition cache write failed", "external_id", definition.ExternalID, "error", err)

				break
			}
		}
	}

	return nil
}

// Invalidate drops the in-memory entries so the next Resolve reloads them.
func (d *Directory) Invalidate() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.entries = make(map[string]*models.JobDefinition)
	d.loadedAt = time.Time{}
}

func (d *Directory) lookup(externalID string) (*models.JobDefinition, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if len(d.entries) == 0 || d.now().Sub(d.loadedAt) > d.ttl {
		return nil, false
	}

	definition, ok := d.entries[externalID]
	if !ok {
		return nil, false
	}

	return copyDefinition(definition), true
}

func (d *Directory) store(definition *models.JobDefinition) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.entries) == 0 {
		// A single cached entry must not make the whole directory look fresh.
		d.loadedAt = time.Time{}
	}

	d.entries[definition.ExternalID] = definition
}

func copyDefinition(definition *models.JobDefinition) *models.JobDefinition {
	clone := *definition

	return &clone
}

// IsNotFound reports whether err means the job definition does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, persistence.ErrJobDefinitionNotFound)
}
