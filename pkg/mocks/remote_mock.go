package mocks

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pixelsama/AgentifUI-sub002/pkg/models"
	"github.com/pixelsama/AgentifUI-sub002/pkg/remote"
	"github.com/stretchr/testify/mock"
)

// MockRemoteClient is a mock implementation of remote.Client interface.
type MockRemoteClient struct {
	mock.Mock
}

func (m *MockRemoteClient) Open(ctx context.Context, req remote.OpenRequest) (remote.Stream, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(remote.Stream), args.Error(1)
}

func (m *MockRemoteClient) StopRemoteJob(ctx context.Context, taskID, ownerID string) error {
	args := m.Called(ctx, taskID, ownerID)

	return args.Error(0)
}

type streamStep struct {
	event  *models.ProgressEvent
	result *models.FinalResult
	err    error
}

// StreamStub is a remote.Stream driven step by step from a test.
type StreamStub struct {
	*remote.PumpStream

	script chan streamStep
	aborts atomic.Int32
}

// NewStreamStub creates a stream whose events and result are supplied with Emit and Finish.
func NewStreamStub() *StreamStub {
	stub := &StreamStub{script: make(chan streamStep)}

	stub.PumpStream = remote.NewPumpStream(context.Background(), 200*time.Millisecond,
		func(ctx context.Context, emit remote.Emit) (*models.FinalResult, error) {
			for {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case step := <-stub.script:
					if step.event == nil {
						return step.result, step.err
					}

					if !emit(*step.event) {
						return nil, ctx.Err()
					}
				}
			}
		})

	return stub
}

// Emit sends events to the consumer. It returns false once the stream has ended.
func (s *StreamStub) Emit(events ...models.ProgressEvent) bool {
	for _, event := range events {
		select {
		case s.script <- streamStep{event: &event}:
		case <-s.Done():
			return false
		}
	}

	return true
}

// Finish ends the stream with the given result or error.
func (s *StreamStub) Finish(result *models.FinalResult, err error) {
	select {
	case s.script <- streamStep{result: result, err: err}:
	case <-s.Done():
	}
}

func (s *StreamStub) Abort() {
	s.aborts.Add(1)
	s.PumpStream.Abort()
}

// Aborts returns how many times Abort was called.
func (s *StreamStub) Aborts() int {
	return int(s.aborts.Load())
}
