package services

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/pixelsama/AgentifUI-sub002/pkg/eventbus"
	"github.com/pixelsama/AgentifUI-sub002/pkg/events"
)

const defaultRecentLimit = 10

// RecentlyUsed tracks, per owner, the job definitions of the latest
// successful runs, most recent first.
type RecentlyUsed struct {
	limit int

	mu      sync.RWMutex
	byOwner map[string][]string
}

func NewRecentlyUsed(limit int) *RecentlyUsed {
	if limit <= 0 {
		limit = defaultRecentLimit
	}

	return &RecentlyUsed{
		limit:   limit,
		byOwner: make(map[string][]string),
	}
}

// Register consumes JobDefinitionUsed events from the subscriber.
func (r *RecentlyUsed) Register(subscriber eventbus.EventSubscriber) error {
	err := subscriber.Handle(events.JobDefinitionUsedEvent, r.handle)
	if err != nil {
		return fmt.Errorf("failed to register recently used handler: %w", err)
	}

	return nil
}

func (r *RecentlyUsed) handle(_ context.Context, event any) error {
	used, ok := event.(*events.JobDefinitionUsed)
	if !ok {
		return fmt.Errorf("unexpected event %T", event)
	}

	r.Mark(used.OwnerID, used.JobDefinitionID)

	return nil
}

// Mark moves the job definition to the front of the owner's list.
func (r *RecentlyUsed) Mark(ownerID, jobDefinitionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := slices.DeleteFunc(r.byOwner[ownerID], func(id string) bool { return id == jobDefinitionID })
	list = slices.Insert(list, 0, jobDefinitionID)

	if len(list) > r.limit {
		list = list[:r.limit]
	}

	r.byOwner[ownerID] = list
}

// List returns the owner's recently used job definitions.
func (r *RecentlyUsed) List(ownerID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := slices.Clone(r.byOwner[ownerID])
	if list == nil {
		list = []string{}
	}

	return list
}
