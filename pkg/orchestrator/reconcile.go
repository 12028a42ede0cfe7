package orchestrator

import (
	"context"
	"errors"
	"maps"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pixelsama/AgentifUI-sub002/pkg/eventbus"
	"github.com/pixelsama/AgentifUI-sub002/pkg/events"
	"github.com/pixelsama/AgentifUI-sub002/pkg/models"
	"github.com/pixelsama/AgentifUI-sub002/pkg/remote"
	"github.com/pixelsama/AgentifUI-sub002/pkg/runstate"
	"github.com/xeipuuv/gojsonschema"
)

const (
	stageStarting  = "starting"
	stageStreaming = "streaming"

	stopMessage = "Execution stopped by user"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// outcome is the reconciled end of a run.
type outcome struct {
	status      models.ExecutionStatus
	err         error
	retryable   bool
	reconciled  bool
	finalStatus string
	stage       string
	result      *models.FinalResult
	resultErr   error
}

func (out outcome) phase() runstate.Phase {
	switch out.status {
	case models.ExecutionStatusCompleted:
		return runstate.PhaseFinalizingSuccess
	case models.ExecutionStatusStopped:
		return runstate.PhaseFinalizingStopped
	default:
		return runstate.PhaseFinalizingFailure
	}
}

// reconcile decides the terminal status of a streamed run.
//
// Accumulated output is never discarded: a stop keeps it, a failed backend
// result keeps it, and a missing or rejected result with output present is
// finalized as completed from the local accumulation.
func reconcile(state *runstate.State, result *models.FinalResult, resultErr error, stopped bool) outcome {
	out := outcome{stage: stageStreaming, result: result, resultErr: resultErr}

	switch {
	case stopped:
		out.status = models.ExecutionStatusStopped
		out.result = nil
	case resultErr == nil && result != nil && result.Status == models.RemoteStatusSucceeded:
		out.status = models.ExecutionStatusCompleted
	case resultErr == nil && result != nil:
		message := result.Error
		if message == "" {
			message = "remote execution reported " + string(result.Status)
		}

		out.status = models.ExecutionStatusFailed
		out.err = &remote.StreamError{Code: string(result.Status), Message: message}
		out.retryable = true
	default:
		if resultErr == nil {
			out.resultErr = &remote.StreamError{Err: remote.ErrIncompleteStream}
		}

		if state.HasOutput() {
			out.status = models.ExecutionStatusCompleted
			out.reconciled = true
		} else {
			out.status = models.ExecutionStatusFailed
			out.err = out.resultErr
			out.retryable = true
		}
	}

	out.finalStatus = string(out.status)

	return out
}

// terminalDataLocked builds the terminal write from the current state; callers hold mu.
func (o *Orchestrator) terminalDataLocked(r *run, out outcome) models.TerminalData {
	state := o.state
	finishedAt := o.now()

	outputs := state.LocalOutputs()
	totalSteps, totalTokens := nodeTotals(state)
	elapsed := finishedAt.Sub(r.startedAt).Seconds()

	if finished := state.Finished; finished != nil {
		totalSteps, totalTokens, elapsed = preferNonZero(totalSteps, totalTokens, elapsed, finished.TotalSteps, finished.TotalTokens, finished.ElapsedTime)
	}

	taskID := state.TaskID
	externalID := state.ExternalExecutionID

	if result := out.result; result != nil {
		maps.Copy(outputs, result.Outputs)
		totalSteps, totalTokens, elapsed = preferNonZero(totalSteps, totalTokens, elapsed, result.TotalSteps, result.TotalTokens, result.ElapsedTime)

		if taskID == "" {
			taskID = result.TaskID
		}

		if externalID == "" {
			externalID = result.ExternalExecutionID
		}
	}

	data := models.TerminalData{
		Status:              out.status,
		Outputs:             outputs,
		TotalSteps:          totalSteps,
		TotalTokens:         totalTokens,
		ElapsedTime:         elapsed,
		CompletedAt:         finishedAt,
		ExternalExecutionID: models.StringPtr(externalID),
		TaskID:              models.StringPtr(taskID),
		Metadata:            buildMetadata(state, r, out, taskID, externalID, finishedAt),
	}

	switch out.status {
	case models.ExecutionStatusFailed:
		if out.err != nil {
			data.ErrorMessage = models.StringPtr(out.err.Error())
		}
	case models.ExecutionStatusStopped:
		data.ErrorMessage = models.StringPtr(stopMessage)
	}

	return data
}

func buildMetadata(state *runstate.State, r *run, out outcome, taskID, externalID string, finishedAt time.Time) map[string]any {
	executionContext := map[string]any{
		"kind":                  string(r.definition.Kind),
		"stage":                 out.stage,
		"final_status":          out.finalStatus,
		"reconciled":            out.reconciled,
		"task_id":               taskID,
		"external_execution_id": externalID,
		"event_count":           state.EventCount,
		"progress_percent":      state.ProgressPercent,
	}

	if out.result != nil {
		executionContext["remote_status"] = string(out.result.Status)
	}

	if out.resultErr != nil {
		executionContext["remote_error"] = out.resultErr.Error()
	}

	if inFlight := inFlightNodes(state); len(inFlight) > 0 {
		executionContext["in_flight_nodes"] = inFlight
	}

	nodes := nodeExecutions(state)
	succeeded, failed := 0, 0

	for _, node := range nodes {
		if node["status"] == string(models.NodeStatusFailed) {
			failed++
		} else {
			succeeded++
		}
	}

	metadata := map[string]any{
		models.MetadataNodeExecutions:   nodes,
		models.MetadataExecutionContext: executionContext,
		models.MetadataStatistics: map[string]any{
			"event_count":     state.EventCount,
			"node_count":      len(state.NodeOrder),
			"succeeded_nodes": succeeded,
			"failed_nodes":    failed,
			"text_length":     len(state.Text),
		},
		models.MetadataEnvironment: map[string]any{
			"job_definition_id": r.request.JobDefinitionID,
			"backend_id":        r.definition.BackendID,
			"response_mode":     remote.ResponseModeStreaming,
			"started_at":        r.startedAt.Format(time.RFC3339Nano),
			"finished_at":       finishedAt.Format(time.RFC3339Nano),
		},
	}

	if out.status == models.ExecutionStatusStopped {
		metadata[models.MetadataStopReason] = models.StopReasonUser
	}

	return metadata
}

// nodeExecutions lists the nodes that reported an outcome, in first-seen order.
func nodeExecutions(state *runstate.State) []map[string]any {
	nodes := make([]map[string]any, 0, len(state.NodeOrder))

	for _, node := range state.OrderedNodes() {
		if !node.Finished() {
			continue
		}

		eventTypes := make([]string, 0, len(node.Events))
		for _, event := range node.Events {
			eventTypes = append(eventTypes, string(event.Type))
		}

		latest := node.Latest
		nodes = append(nodes, map[string]any{
			"node_id":      latest.NodeID,
			"node_type":    latest.NodeType,
			"title":        latest.Title,
			"index":        latest.Index,
			"status":       string(latest.Status),
			"inputs":       maps.Clone(latest.Inputs),
			"outputs":      maps.Clone(latest.Outputs),
			"error":        latest.Error,
			"elapsed_time": latest.ElapsedTime,
			"total_tokens": latest.TotalTokens,
			"event_types":  eventTypes,
			"first_seen":   node.FirstSeen.Format(time.RFC3339Nano),
		})
	}

	return nodes
}

func inFlightNodes(state *runstate.State) []string {
	var ids []string

	for _, id := range state.NodeOrder {
		if !state.Nodes[id].Finished() {
			ids = append(ids, id)
		}
	}

	return ids
}

func nodeTotals(state *runstate.State) (int, int) {
	steps, tokens := 0, 0

	for _, node := range state.Nodes {
		if node.Finished() {
			steps++
		}

		tokens += node.Latest.TotalTokens
	}

	return steps, tokens
}

func preferNonZero(steps, tokens int, elapsed float64, newSteps, newTokens int, newElapsed float64) (int, int, float64) {
	if newSteps > 0 {
		steps = newSteps
	}

	if newTokens > 0 {
		tokens = newTokens
	}

	if newElapsed > 0 {
		elapsed = newElapsed
	}

	return steps, tokens, elapsed
}

func validateRequest(req runstate.Request) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) || len(validationErrors) == 0 {
		return &ValidationError{Message: err.Error(), Err: err}
	}

	switch field := validationErrors[0].Field(); field {
	case "OwnerID":
		return &ValidationError{Field: "owner_id", Message: "caller identity is required", Err: err}
	case "JobDefinitionID":
		return &ValidationError{Field: "job_definition_id", Message: "job definition is required", Err: err}
	default:
		return &ValidationError{Field: field, Message: validationErrors[0].Tag(), Err: err}
	}
}

// validateInputs checks inputs against the job definition's input schema, if it has one.
func validateInputs(definition *models.JobDefinition, inputs map[string]any) error {
	if len(definition.InputSchema) == 0 {
		return nil
	}

	if inputs == nil {
		inputs = make(map[string]any)
	}

	schemaLoader := gojsonschema.NewGoLoader(definition.InputSchema)
	dataLoader := gojsonschema.NewGoLoader(inputs)

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return &ValidationError{Field: "input_schema", Message: "job definition input schema is invalid", Err: err}
	}

	if !result.Valid() {
		var problems []string
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}

		return &ValidationError{Field: "inputs", Message: strings.Join(problems, "; ")}
	}

	return nil
}

func (o *Orchestrator) publish(ctx context.Context, event eventbus.Event) {
	if o.publisher == nil {
		return
	}

	var key string
	switch e := event.(type) {
	case events.RunStarted:
		key = e.JobDefinitionID
	case events.RunCompleted:
		key = e.JobDefinitionID
	case events.RunFailed:
		key = e.JobDefinitionID
	case events.RunStopped:
		key = e.JobDefinitionID
	}

	err := o.publisher.Publish(ctx, key, event)
	if err != nil {
		o.logger.WarnContext(ctx, "Failed to publish run event", "event_type", event.GetType(), "error", err)
	}
}

func (o *Orchestrator) publishOutcome(ctx context.Context, r *run, record *models.ExecutionRecord, out outcome) {
	base := func(eventType events.EventType) events.BaseEvent {
		return events.NewBaseEvent(eventType, r.request.JobDefinitionID, r.request.OwnerID)
	}

	duration := time.Duration(record.ElapsedTime * float64(time.Second))

	switch record.Status {
	case models.ExecutionStatusCompleted:
		o.publish(ctx, events.RunCompleted{
			BaseEvent:   base(events.RunCompletedEvent),
			ExecutionID: record.ID,
			TotalSteps:  record.TotalSteps,
			TotalTokens: record.TotalTokens,
			Duration:    duration,
			Outputs:     record.Outputs,
			Reconciled:  out.reconciled,
		})
	case models.ExecutionStatusStopped:
		o.publish(ctx, events.RunStopped{
			BaseEvent:   base(events.RunStoppedEvent),
			ExecutionID: record.ID,
			Reason:      models.StopReasonUser,
			Duration:    duration,
		})
	default:
		message := ""
		if record.ErrorMessage != nil {
			message = *record.ErrorMessage
		}

		o.publish(ctx, events.RunFailed{
			BaseEvent:   base(events.RunFailedEvent),
			ExecutionID: record.ID,
			Error:       message,
			Retryable:   out.retryable,
			Duration:    duration,
		})
	}
}
