package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/pixelsama/AgentifUI-sub002/pkg/eventbus"
	"github.com/pixelsama/AgentifUI-sub002/pkg/events"
	"github.com/pixelsama/AgentifUI-sub002/pkg/otelhelper"
	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

type handlerLookup func(events.EventType) (eventbus.EventHandler, bool)

func consumeEvents(
	ctx context.Context,
	logger *slog.Logger,
	reader *kafkago.Reader,
	tracer trace.Tracer,
	lookup handlerLookup,
) {
	for {
		message, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				logger.InfoContext(ctx, "Stopping consumer due to context cancellation or deadline exceeded")

				return
			}

			logger.ErrorContext(ctx, "failed to fetch message", "error", err)

			continue
		}

		handleMessage(ctx, logger, tracer, lookup, message)

		err = reader.CommitMessages(ctx, message)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to commit message", "error", err)
		}
	}
}

func handleMessage(
	ctx context.Context,
	logger *slog.Logger,
	tracer trace.Tracer,
	lookup handlerLookup,
	message kafkago.Message,
) {
	var eventType events.EventType

	carrier := propagation.MapCarrier{}

	for _, header := range message.Headers {
		if header.Key == events.EventTypeMetadataKey {
			eventType = events.EventType(header.Value)
		} else {
			carrier[header.Key] = string(header.Value)
		}
	}

	msgCtx := otel.GetTextMapPropagator().Extract(ctx, carrier)

	traceCtx, span := otelhelper.StartSpan(msgCtx, tracer, "event_bus.consumer consume",
		attribute.String("kafka.key", string(message.Key)),
		attribute.String("kafka.topic", message.Topic),
		attribute.String("event.type", string(eventType)),
	)
	defer span.End()

	handler, exists := lookup(eventType)
	if !exists {
		logger.DebugContext(msgCtx, "No handler registered for event type", "event_type", eventType)

		return
	}

	event, known := events.New(eventType)
	if !known {
		logger.ErrorContext(msgCtx, "Unknown event type", "event_type", eventType)
		otelhelper.SetError(span, errors.New("unknown event type"))

		return
	}

	err := json.Unmarshal(message.Value, event)
	if err != nil {
		logger.ErrorContext(msgCtx, "Failed to unmarshal event", "error", err, "event_type", eventType)
		otelhelper.SetError(span, err)

		return
	}

	err = handler(traceCtx, event)
	if err != nil {
		logger.ErrorContext(msgCtx, "Failed to handle event", "error", err, "event_type", eventType)
		otelhelper.SetError(span, err)

		return
	}

	span.AddEvent("event_handled")
	logger.DebugContext(msgCtx, "Successfully handled event", "event_type", eventType)
}
