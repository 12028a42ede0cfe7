// Package web provides HTTP request and response types for the run API.
package web

// OwnerHeader carries the identity of the caller.
const OwnerHeader = "X-User-ID"

// ErrorResponse represents a standardized API error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// StartRunRequest represents the request body for starting a run.
type StartRunRequest struct {
	JobDefinitionID string         `json:"job_definition_id" validate:"required"`
	Inputs          map[string]any `json:"inputs"`
}

// RunTargetRequest names the job definition whose run a lifecycle call acts on.
type RunTargetRequest struct {
	JobDefinitionID string `json:"job_definition_id" validate:"required"`
}
