// Package remote defines the contract between the orchestrator and a remote
// execution backend that reports progress as a finite event stream.
package remote

import (
	"context"
	"time"

	"github.com/pixelsama/AgentifUI-sub002/pkg/models"
)

const (
	// DefaultConnectTimeout bounds connection establishment. Open streams have no overall timeout.
	DefaultConnectTimeout = 10 * time.Second

	// DefaultAbortGrace is how long an aborted stream may take to close its event channel.
	DefaultAbortGrace = 2 * time.Second

	// ResponseModeStreaming asks the backend for incremental progress events.
	ResponseModeStreaming = "streaming"
)

// OpenRequest describes the job a backend should start.
type OpenRequest struct {
	// JobDefinitionID is the backend-addressable identifier of the job definition.
	JobDefinitionID string
	Kind            models.ExecutionKind
	Inputs          map[string]any
	OwnerID         string
	ResponseMode    string
}

// Client starts remote jobs and asks the backend to stop them.
type Client interface {
	// Open submits the job and returns once the backend accepted it.
	// Failures are reported as *ConnectionError.
	Open(ctx context.Context, req OpenRequest) (Stream, error)

	// StopRemoteJob asks the backend to stop the task. Best effort.
	StopRemoteJob(ctx context.Context, taskID, ownerID string) error
}

// Stream is one open progress stream.
type Stream interface {
	// Events yields progress events in backend order. The channel is closed
	// on natural completion, error or abort.
	Events() <-chan models.ProgressEvent

	// Result waits for the stream to end and returns the backend's final
	// report. It fails with *StreamError on a mid-stream failure and with
	// ErrAborted when the stream was aborted before a result arrived.
	Result(ctx context.Context) (*models.FinalResult, error)

	// Abort cancels the stream. Safe to call more than once and after the stream finished.
	Abort()
}
