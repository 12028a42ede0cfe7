// Package eventbus provides the publish/subscribe infrastructure for run lifecycle events.
package eventbus

import (
	"context"

	"github.com/pixelsama/AgentifUI-sub002/pkg/events"
)

// Event is a run lifecycle event, such as a job definition being used or an
// execution reaching its terminal status.
type Event interface {
	GetType() events.EventType
}

// EventPublisher publishes lifecycle events. The key is the owner ID, so the
// events of one owner stay ordered on partitioned transports.
type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

// EventSubscriber dispatches received events to the handler registered for their type.
type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

// EventHandler receives a pointer to the decoded event, e.g. *events.JobDefinitionUsed.
type EventHandler func(ctx context.Context, event any) error

// EventBus is implemented by the Watermill bus (gochannel or Kafka) and by the kafka-go bus.
type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}
