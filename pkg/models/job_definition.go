package models

import "time"

// JobDefinition is the reusable configuration a run executes against.
//
// ExternalID is the identifier callers use, ID is the storage identifier that
// execution records reference and BackendID is what the remote execution
// backend addresses.
type JobDefinition struct {
	ID          string         `json:"id"`
	ExternalID  string         `json:"external_id"            validate:"required"`
	BackendID   string         `json:"backend_id"             validate:"required"`
	Name        string         `json:"name"`
	Kind        ExecutionKind  `json:"kind"                   validate:"required,oneof=workflow text-generation"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
	OwnerID     string         `json:"owner_id,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}
