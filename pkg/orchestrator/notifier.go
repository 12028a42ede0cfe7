package orchestrator

import (
	"context"
	"log/slog"

	"github.com/pixelsama/AgentifUI-sub002/pkg/eventbus"
	"github.com/pixelsama/AgentifUI-sub002/pkg/events"
)

// EventNotifier publishes a JobDefinitionUsed event for every successful run.
type EventNotifier struct {
	publisher eventbus.EventPublisher
	ownerID   string
	logger    *slog.Logger
}

// NewEventNotifier creates a notifier publishing on behalf of ownerID.
func NewEventNotifier(logger *slog.Logger, publisher eventbus.EventPublisher, ownerID string) *EventNotifier {
	return &EventNotifier{
		publisher: publisher,
		ownerID:   ownerID,
		logger:    logger.With("module", "recently_used_notifier"),
	}
}

func (n *EventNotifier) MarkRecentlyUsed(ctx context.Context, jobDefinitionID string) {
	event := events.JobDefinitionUsed{
		BaseEvent: events.NewBaseEvent(events.JobDefinitionUsedEvent, jobDefinitionID, n.ownerID),
	}

	err := n.publisher.Publish(ctx, jobDefinitionID, event)
	if err != nil {
		n.logger.WarnContext(ctx, "Failed to mark job definition as recently used",
			"job_definition_id", jobDefinitionID,
			"error", err,
		)
	}
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, jobDefinitionID string)

func (f NotifierFunc) MarkRecentlyUsed(ctx context.Context, jobDefinitionID string) {
	f(ctx, jobDefinitionID)
}
