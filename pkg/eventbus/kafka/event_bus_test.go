package kafka

import (
	"context"
	"log/slog"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/pixelsama/AgentifUI-sub002/pkg/eventbus"
	"github.com/pixelsama/AgentifUI-sub002/pkg/events"
	"github.com/pixelsama/AgentifUI-sub002/pkg/models"
	"github.com/pixelsama/AgentifUI-sub002/pkg/otelhelper"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	kafkaTc "github.com/testcontainers/testcontainers-go/modules/kafka"
)

var (
	kafkaContainer *kafkaTc.KafkaContainer
	brokers        string
	logger         *slog.Logger
)

func TestMain(m *testing.M) {
	logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	ctx := context.Background()

	var err error

	kafkaContainer, err = kafkaTc.Run(ctx, "confluentinc/confluent-local:7.7.0", testcontainers.WithEnv(map[string]string{
		"KAFKA_CREATE_TOPICS": "true",
	}))
	if err != nil {
		panic("Failed to start Kafka container: " + err.Error())
	}

	kafkaBrokers, err := kafkaContainer.Brokers(ctx)
	if err != nil {
		panic("Failed to get Kafka brokers: " + err.Error())
	}

	brokers = kafkaBrokers[0]

	createTopics(brokers)

	code := m.Run()

	if err := kafkaContainer.Terminate(ctx); err != nil {
		panic("Failed to terminate Kafka container: " + err.Error())
	}

	os.Exit(code)
}

func newBus(t *testing.T, groupID string) *EventBus {
	t.Helper()

	bus, err := NewEventBus(logger, nil, Config{Brokers: []string{brokers}, GroupID: groupID})
	require.NoError(t, err)

	t.Cleanup(func() {
		assert.NoError(t, bus.Close())
	})

	return bus
}

func TestNewEventBus(t *testing.T) {
	tests := []struct {
		name        string
		brokers     []string
		expectError bool
	}{
		{name: "valid brokers", brokers: []string{"localhost:9092"}},
		{name: "no brokers", brokers: nil, expectError: true},
		{name: "empty broker", brokers: []string{""}, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus, err := NewEventBus(logger, nil, Config{Brokers: tt.brokers})

			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, bus)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, defaultGroupID, bus.reader.Config().GroupID)
			assert.NoError(t, bus.Close())
		})
	}
}

func TestEventBus_GenerateID(t *testing.T) {
	bus := newBus(t, "cg-generate-id")

	id1 := bus.GenerateID()
	id2 := bus.GenerateID()

	assert.NotEmpty(t, id1)
	assert.NotEqual(t, id1, id2)
}

func TestEventBus_PublishAndSubscribe(t *testing.T) {
	bus := newBus(t, "cg-publish-subscribe")

	received := make(chan eventbus.Event, 2)
	handler := func(_ context.Context, event any) error {
		if e, ok := event.(eventbus.Event); ok {
			received <- e
		}

		return nil
	}

	require.NoError(t, bus.Handle(events.RunCompletedEvent, handler))
	require.NoError(t, bus.Handle(events.JobDefinitionUsedEvent, handler))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, bus.Subscribe(ctx))

	time.Sleep(2 * time.Second)

	completed := &events.RunCompleted{
		BaseEvent:   events.NewBaseEvent(events.RunCompletedEvent, "jd-1", "user-1"),
		ExecutionID: "exec-1",
		TotalTokens: 10,
	}
	used := &events.JobDefinitionUsed{BaseEvent: events.NewBaseEvent(events.JobDefinitionUsedEvent, "jd-1", "user-1")}

	require.NoError(t, bus.Publish(ctx, "jd-1", completed))
	require.NoError(t, bus.Publish(ctx, "jd-1", used))

	types := make(map[events.EventType]bool)

	for range 2 {
		select {
		case event := <-received:
			types[event.GetType()] = true

			if runCompleted, ok := event.(*events.RunCompleted); ok {
				assert.Equal(t, "exec-1", runCompleted.ExecutionID)
				assert.Equal(t, 10, runCompleted.TotalTokens)
			}
		case <-time.After(10 * time.Second):
			t.Fatal("Did not receive all events within timeout")
		}
	}

	assert.True(t, types[events.RunCompletedEvent])
	assert.True(t, types[events.JobDefinitionUsedEvent])
}

func TestHandleMessage_SkipsUnknownAndUnhandled(t *testing.T) {
	called := false
	lookup := func(eventType events.EventType) (eventbus.EventHandler, bool) {
		if eventType != events.RunStartedEvent {
			return nil, false
		}

		return func(_ context.Context, event any) error {
			called = true

			started, ok := event.(*events.RunStarted)
			require.True(t, ok)
			assert.Equal(t, models.ExecutionKindWorkflow, started.Kind)

			return nil
		}, true
	}

	handleMessage(context.Background(), logger, otelhelper.NoopTracer(), lookup, kafkago.Message{
		Headers: []kafkago.Header{{Key: events.EventTypeMetadataKey, Value: []byte("run.unknown")}},
	})
	assert.False(t, called)

	handleMessage(context.Background(), logger, otelhelper.NoopTracer(), lookup, kafkago.Message{
		Value:   []byte(`{"type":"run.started","kind":"workflow","execution_id":"exec-1"}`),
		Headers: []kafkago.Header{{Key: events.EventTypeMetadataKey, Value: []byte(events.RunStartedEvent)}},
	})
	assert.True(t, called)
}

func createTopics(brokers string) {
	conn, err := kafkago.Dial("tcp", brokers)
	if err != nil {
		panic(err.Error())
	}

	defer func() {
		if err := conn.Close(); err != nil {
			panic(err.Error())
		}
	}()

	controller, err := conn.Controller()
	if err != nil {
		panic(err.Error())
	}

	controllerConn, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		panic(err.Error())
	}

	defer func() {
		if err := controllerConn.Close(); err != nil {
			panic(err.Error())
		}
	}()

	err = controllerConn.CreateTopics(kafkago.TopicConfig{
		Topic:             events.Topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	})
	if err != nil {
		panic(err.Error())
	}
}
