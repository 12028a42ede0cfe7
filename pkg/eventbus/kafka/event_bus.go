// Package kafka provides a native Apache Kafka event bus built on segmentio/kafka-go.
package kafka

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/pixelsama/AgentifUI-sub002/pkg/eventbus"
	"github.com/pixelsama/AgentifUI-sub002/pkg/events"
	"github.com/pixelsama/AgentifUI-sub002/pkg/otelhelper"
	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/trace"
)

const defaultGroupID = "cg-agentifui-event-bus"

// Config selects the brokers and consumer group of the bus.
type Config struct {
	Brokers []string
	GroupID string
}

type EventBus struct {
	logger   *slog.Logger
	tracer   trace.Tracer
	writer   *kafkago.Writer
	reader   *kafkago.Reader
	mu       sync.RWMutex
	handlers map[events.EventType]eventbus.EventHandler
}

func NewEventBus(logger *slog.Logger, tracer trace.Tracer, config Config) (*EventBus, error) {
	if len(config.Brokers) == 0 || config.Brokers[0] == "" {
		return nil, errors.New("no Kafka brokers configured")
	}

	if config.GroupID == "" {
		config.GroupID = defaultGroupID
	}

	if tracer == nil {
		tracer = otelhelper.NoopTracer()
	}

	writer := &kafkago.Writer{
		Addr:                   kafkago.TCP(config.Brokers...),
		Topic:                  events.Topic,
		Balancer:               &kafkago.Hash{},
		AllowAutoTopicCreation: true,
	}

	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers: config.Brokers,
		Topic:   events.Topic,
		GroupID: config.GroupID,
	})

	return &EventBus{
		logger:   logger.With("module", "kafka_event_bus"),
		tracer:   tracer,
		writer:   writer,
		reader:   reader,
		handlers: make(map[events.EventType]eventbus.EventHandler),
	}, nil
}

func (k *EventBus) Publish(ctx context.Context, key string, event eventbus.Event) error {
	return publishEvent(ctx, k.logger, k.writer, key, event)
}

func (k *EventBus) Subscribe(ctx context.Context) error {
	k.logger.InfoContext(ctx, "Subscribing to events")

	go consumeEvents(ctx, k.logger, k.reader, k.tracer, k.handler)

	return nil
}

func (k *EventBus) Close() error {
	if err := k.writer.Close(); err != nil {
		k.logger.Error("Failed to close Kafka writer", "error", err)

		return err
	}

	if err := k.reader.Close(); err != nil {
		k.logger.Error("Failed to close Kafka reader", "error", err)

		return err
	}

	return nil
}

func (k *EventBus) GenerateID() string {
	id, err := uuid.NewV7()
	if err != nil {
		k.logger.Error("Failed to generate V7 uuid", "error", err)

		return uuid.NewString()
	}

	return id.String()
}

func (k *EventBus) Handle(eventType events.EventType, handler eventbus.EventHandler) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.handlers[eventType] = handler

	return nil
}

func (k *EventBus) handler(eventType events.EventType) (eventbus.EventHandler, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	handler, ok := k.handlers[eventType]

	return handler, ok
}
