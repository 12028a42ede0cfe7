package models

import "time"

// ExecutionStatus is the durable status of an execution record.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusStopped   ExecutionStatus = "stopped"
)

// Valid reports whether the status is one of the recognized values.
func (s ExecutionStatus) Valid() bool {
	switch s {
	case ExecutionStatusPending, ExecutionStatusRunning,
		ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusStopped:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transitions are possible from s.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusStopped:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether a record in status s may move to next.
//
// Allowed: pending -> running, pending -> failed, pending -> stopped and
// running -> completed|failed|stopped. A run that never reached running
// cannot complete.
func (s ExecutionStatus) CanTransitionTo(next ExecutionStatus) bool {
	switch s {
	case ExecutionStatusPending:
		return next == ExecutionStatusRunning ||
			next == ExecutionStatusFailed ||
			next == ExecutionStatusStopped
	case ExecutionStatusRunning:
		return next.IsTerminal()
	default:
		return false
	}
}

// ExecutionKind selects the accumulation strategy for a run.
type ExecutionKind string

const (
	ExecutionKindWorkflow       ExecutionKind = "workflow"
	ExecutionKindTextGeneration ExecutionKind = "text-generation"
)

// ExecutionRecord is the durable unit of truth for one run.
type ExecutionRecord struct {
	ID                  string          `json:"id"`
	JobDefinitionID     string          `json:"job_definition_id"               validate:"required"`
	OwnerID             string          `json:"owner_id"                        validate:"required"`
	Kind                ExecutionKind   `json:"kind"                            validate:"required,oneof=workflow text-generation"`
	Title               string          `json:"title"`
	Inputs              map[string]any  `json:"inputs"`
	Status              ExecutionStatus `json:"status"`
	Outputs             map[string]any  `json:"outputs,omitempty"`
	ExternalExecutionID *string         `json:"external_execution_id,omitempty"`
	TaskID              *string         `json:"task_id,omitempty"`
	TotalSteps          int             `json:"total_steps"`
	TotalTokens         int             `json:"total_tokens"`
	ElapsedTime         float64         `json:"elapsed_time"`
	ErrorMessage        *string         `json:"error_message,omitempty"`
	Metadata            map[string]any  `json:"metadata,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
	CompletedAt         *time.Time      `json:"completed_at,omitempty"`
}

// TerminalData holds every field written by the single terminal update of a record.
type TerminalData struct {
	Status              ExecutionStatus `json:"status"`
	Outputs             map[string]any  `json:"outputs"`
	TotalSteps          int             `json:"total_steps"`
	TotalTokens         int             `json:"total_tokens"`
	ElapsedTime         float64         `json:"elapsed_time"`
	ErrorMessage        *string         `json:"error_message,omitempty"`
	CompletedAt         time.Time       `json:"completed_at"`
	ExternalExecutionID *string         `json:"external_execution_id,omitempty"`
	TaskID              *string         `json:"task_id,omitempty"`
	Metadata            map[string]any  `json:"metadata"`
}

// Apply copies the terminal fields onto the record.
func (t TerminalData) Apply(record *ExecutionRecord) {
	completedAt := t.CompletedAt

	record.Status = t.Status
	record.Outputs = t.Outputs
	record.TotalSteps = t.TotalSteps
	record.TotalTokens = t.TotalTokens
	record.ElapsedTime = t.ElapsedTime
	record.ErrorMessage = t.ErrorMessage
	record.CompletedAt = &completedAt
	record.Metadata = t.Metadata

	if t.ExternalExecutionID != nil {
		record.ExternalExecutionID = t.ExternalExecutionID
	}

	if t.TaskID != nil {
		record.TaskID = t.TaskID
	}

	if record.Outputs == nil {
		record.Outputs = make(map[string]any)
	}

	if record.Metadata == nil {
		record.Metadata = make(map[string]any)
	}
}

// Metadata keys written at the terminal transition.
const (
	MetadataNodeExecutions   = "node_executions"
	MetadataExecutionContext = "execution_context"
	MetadataStatistics       = "statistics"
	MetadataEnvironment      = "environment"
	MetadataStopReason       = "stop_reason"
)

// Output keys.
const (
	OutputGeneratedText = "generated_text"
	OutputNodeOutputs   = "node_outputs"
)

// StopReasonUser marks a run finalized because the caller asked it to stop.
const StopReasonUser = "user_stopped"

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}

	return &s
}
