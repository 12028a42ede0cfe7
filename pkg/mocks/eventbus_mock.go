package mocks

import (
	"context"

	"github.com/pixelsama/AgentifUI-sub002/pkg/eventbus"
	"github.com/pixelsama/AgentifUI-sub002/pkg/events"
	"github.com/stretchr/testify/mock"
)

// MockEventBus is a mock implementation of eventbus.EventBus interface.
type MockEventBus struct {
	mock.Mock
}

func (m *MockEventBus) Publish(ctx context.Context, key string, event eventbus.Event) error {
	args := m.Called(ctx, key, event)

	return args.Error(0)
}

func (m *MockEventBus) Handle(eventType events.EventType, handler eventbus.EventHandler) error {
	args := m.Called(eventType, handler)

	return args.Error(0)
}

func (m *MockEventBus) Subscribe(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockEventBus) Close() error {
	args := m.Called()

	return args.Error(0)
}

func (m *MockEventBus) GenerateID() string {
	args := m.Called()

	return args.String(0)
}

// MockNotifier records MarkRecentlyUsed calls.
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) MarkRecentlyUsed(ctx context.Context, jobDefinitionID string) {
	m.Called(ctx, jobDefinitionID)
}
