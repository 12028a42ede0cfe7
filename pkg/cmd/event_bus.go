package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/pixelsama/AgentifUI-sub002/pkg/channels/gochannel"
	"github.com/pixelsama/AgentifUI-sub002/pkg/channels/kafka"
	"github.com/pixelsama/AgentifUI-sub002/pkg/eventbus"
	eventbuskafka "github.com/pixelsama/AgentifUI-sub002/pkg/eventbus/kafka"
	"go.opentelemetry.io/otel/trace"
)

const serviceName = "agentifui"

// NewEventBus creates the lifecycle event bus for the given provider:
// "gochannel" (in process), "kafka" (Watermill over sarama) or "kafka-go".
func NewEventBus(provider string, logger *slog.Logger, brokers []string, tracer trace.Tracer) (eventbus.EventBus, error) {
	switch provider {
	case "", "gochannel":
		pub, sub := gochannel.CreateChannel(watermill.NewSlogLogger(logger), false)

		return eventbus.NewWatermillEventBus(pub, sub), nil
	case "kafka":
		pub, sub, err := kafka.CreateChannel(watermill.NewSlogLogger(logger), brokers, serviceName)
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(pub, sub), nil
	case "kafka-go":
		bus, err := eventbuskafka.NewEventBus(logger, tracer, eventbuskafka.Config{Brokers: brokers})
		if err != nil {
			return nil, fmt.Errorf("failed to create kafka-go event bus: %w", err)
		}

		return bus, nil
	default:
		return nil, fmt.Errorf("unsupported event bus provider: %s", provider)
	}
}
