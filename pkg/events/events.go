// Package events defines the run lifecycle notifications published on the event bus.
package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/pixelsama/AgentifUI-sub002/pkg/models"
)

type EventType string

// Topic carries every run lifecycle event.
const Topic = "agentifui.runs"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	RunStartedEvent        EventType = "run.started"
	RunCompletedEvent      EventType = "run.completed"
	RunFailedEvent         EventType = "run.failed"
	RunStoppedEvent        EventType = "run.stopped"
	JobDefinitionUsedEvent EventType = "job_definition.used"
)

type BaseEvent struct {
	ID              string         `json:"id"`
	Type            EventType      `json:"type"`
	Timestamp       time.Time      `json:"timestamp"`
	JobDefinitionID string         `json:"job_definition_id"`
	OwnerID         string         `json:"owner_id,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

type RunStarted struct {
	BaseEvent

	ExecutionID string               `json:"execution_id"`
	Kind        models.ExecutionKind `json:"kind"`
	Title       string               `json:"title"`
}

func (e RunStarted) GetType() EventType {
	return RunStartedEvent
}

type RunCompleted struct {
	BaseEvent

	ExecutionID string         `json:"execution_id"`
	TotalSteps  int            `json:"total_steps"`
	TotalTokens int            `json:"total_tokens"`
	Duration    time.Duration  `json:"duration"`
	Outputs     map[string]any `json:"outputs,omitempty"`
	Reconciled  bool           `json:"reconciled,omitempty"`
}

func (e RunCompleted) GetType() EventType {
	return RunCompletedEvent
}

type RunFailed struct {
	BaseEvent

	ExecutionID string        `json:"execution_id"`
	Error       string        `json:"error"`
	Retryable   bool          `json:"retryable"`
	Duration    time.Duration `json:"duration"`
}

func (e RunFailed) GetType() EventType {
	return RunFailedEvent
}

type RunStopped struct {
	BaseEvent

	ExecutionID string        `json:"execution_id"`
	Reason      string        `json:"reason"`
	Duration    time.Duration `json:"duration"`
}

func (e RunStopped) GetType() EventType {
	return RunStoppedEvent
}

// JobDefinitionUsed marks a job definition as recently used after a successful run.
type JobDefinitionUsed struct {
	BaseEvent
}

func (e JobDefinitionUsed) GetType() EventType {
	return JobDefinitionUsedEvent
}

// New returns an empty event of the given type, ready to be decoded into.
func New(eventType EventType) (any, bool) {
	switch eventType {
	case RunStartedEvent:
		return &RunStarted{}, true
	case RunCompletedEvent:
		return &RunCompleted{}, true
	case RunFailedEvent:
		return &RunFailed{}, true
	case RunStoppedEvent:
		return &RunStopped{}, true
	case JobDefinitionUsedEvent:
		return &JobDefinitionUsed{}, true
	default:
		return nil, false
	}
}

func NewBaseEvent(eventType EventType, jobDefinitionID, ownerID string) BaseEvent {
	return BaseEvent{
		ID:              uuid.New().String(),
		Type:            eventType,
		Timestamp:       time.Now().UTC(),
		JobDefinitionID: jobDefinitionID,
		OwnerID:         ownerID,
		Metadata:        make(map[string]any),
	}
}
