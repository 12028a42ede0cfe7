package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/pixelsama/AgentifUI-sub002/pkg/eventbus"
	"github.com/pixelsama/AgentifUI-sub002/pkg/events"
	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// publishEvent writes one lifecycle event to the run events topic. The owner
// key becomes the message key, so one owner's events land on one partition in
// order. The event type header lets the consumer decode the payload, and the
// trace context of the run travels in the remaining headers.
func publishEvent(
	ctx context.Context,
	logger *slog.Logger,
	writer *kafkago.Writer,
	key string,
	event eventbus.Event,
) error {
	eventType := event.GetType()

	logger.DebugContext(ctx, "Publishing run event", "key", key, "event_type", eventType)

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", eventType, err)
	}

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	headers := []kafkago.Header{
		{Key: events.EventMetadataKey, Value: []byte(key)},
		{Key: events.EventTypeMetadataKey, Value: []byte(eventType)},
	}

	for k, v := range carrier {
		headers = append(headers, kafkago.Header{Key: k, Value: []byte(v)})
	}

	// The terminal event of a stopped run is published after its context was cancelled.
	err = writer.WriteMessages(context.WithoutCancel(ctx), kafkago.Message{
		Key:     []byte(key),
		Value:   payload,
		Headers: headers,
		Time:    time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to publish %s event for %s: %w", eventType, key, err)
	}

	return nil
}
