package sse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/openai/openai-go/packages/ssestream"
	"github.com/pixelsama/AgentifUI-sub002/pkg/models"
	"github.com/pixelsama/AgentifUI-sub002/pkg/remote"
)

// envelope is the JSON document carried by every data frame.
type envelope struct {
	Event         string          `json:"event"`
	TaskID        string          `json:"task_id"`
	WorkflowRunID string          `json:"workflow_run_id"`
	MessageID     string          `json:"message_id"`
	Answer        string          `json:"answer"`
	Status        int             `json:"status"`
	Code          string          `json:"code"`
	Message       string          `json:"message"`
	Data          json.RawMessage `json:"data"`
	Metadata      struct {
		Usage struct {
			TotalTokens int     `json:"total_tokens"`
			Latency     float64 `json:"latency"`
		} `json:"usage"`
	} `json:"metadata"`
}

type nodeData struct {
	NodeID            string         `json:"node_id"`
	NodeType          string         `json:"node_type"`
	Title             string         `json:"title"`
	Index             int            `json:"index"`
	Inputs            map[string]any `json:"inputs"`
	Outputs           map[string]any `json:"outputs"`
	Status            string         `json:"status"`
	Error             string         `json:"error"`
	ElapsedTime       float64        `json:"elapsed_time"`
	ExecutionMetadata struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"execution_metadata"`
}

type workflowData struct {
	ID          string         `json:"id"`
	Status      string         `json:"status"`
	Outputs     map[string]any `json:"outputs"`
	Error       string         `json:"error"`
	ElapsedTime float64        `json:"elapsed_time"`
	TotalTokens int            `json:"total_tokens"`
	TotalSteps  int            `json:"total_steps"`
}

type textData struct {
	Text string `json:"text"`
}

// decoder maps text/event-stream frames to progress events.
type decoder struct {
	frames ssestream.Decoder
	logger *slog.Logger

	taskID      string
	executionID string
	startedAt   time.Time
}

func newDecoder(resp *http.Response, logger *slog.Logger) *decoder {
	return &decoder{frames: ssestream.NewDecoder(resp), logger: logger, startedAt: time.Now()}
}

// Run reads frames until a terminal event, an error event or the end of the body.
func (d *decoder) Run(ctx context.Context, emit remote.Emit) (*models.FinalResult, error) {
	defer func() { _ = d.frames.Close() }()

	for d.frames.Next() {
		frame := d.frames.Event()
		if len(bytes.TrimSpace(frame.Data)) == 0 {
			continue
		}

		result, done, err := d.dispatch(frame.Type, frame.Data, emit)
		if err != nil || done {
			return result, err
		}
	}

	if err := d.frames.Err(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		return nil, &remote.StreamError{Err: fmt.Errorf("failed to read stream: %w", err)}
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	return nil, &remote.StreamError{Err: remote.ErrIncompleteStream}
}

// dispatch maps one frame. done is true once the stream reached its terminal event.
func (d *decoder) dispatch(eventName string, payload []byte, emit remote.Emit) (*models.FinalResult, bool, error) {
	var env envelope

	err := json.Unmarshal(payload, &env)
	if err != nil {
		d.logger.Warn("skipping malformed stream frame", "error", err)

		return nil, false, nil
	}

	if env.Event == "" {
		env.Event = eventName
	}

	if d.taskID == "" && env.TaskID != "" {
		d.taskID = env.TaskID
	}

	if d.executionID == "" {
		switch {
		case env.WorkflowRunID != "":
			d.executionID = env.WorkflowRunID
		case env.MessageID != "":
			d.executionID = env.MessageID
		}
	}

	switch env.Event {
	case "ping", "":
		return nil, false, nil
	case "workflow_started":
		return nil, !emit(d.stamp(models.ProgressEvent{Type: models.ProgressEventStarted})), nil
	case "node_started", "node_finished":
		return d.node(env, emit)
	case "text_chunk":
		var text textData
		if err := json.Unmarshal(env.Data, &text); err != nil || text.Text == "" {
			return nil, false, nil
		}

		return nil, !emit(d.stamp(models.ProgressEvent{Type: models.ProgressEventData, Text: text.Text})), nil
	case "message":
		if env.Answer == "" {
			return nil, false, nil
		}

		return nil, !emit(d.stamp(models.ProgressEvent{Type: models.ProgressEventData, Text: env.Answer})), nil
	case "workflow_finished":
		return d.workflowFinished(env, emit)
	case "message_end":
		return d.messageEnd(env, emit)
	case "error":
		return nil, true, &remote.StreamError{Code: env.Code, Message: env.Message}
	default:
		d.logger.Debug("ignoring unknown stream event", "event", env.Event)

		return nil, false, nil
	}
}

func (d *decoder) node(env envelope, emit remote.Emit) (*models.FinalResult, bool, error) {
	var data nodeData

	err := json.Unmarshal(env.Data, &data)
	if err != nil || data.NodeID == "" {
		d.logger.Warn("skipping node event without node id", "event", env.Event)

		return nil, false, nil
	}

	snapshot := models.NodeSnapshot{
		NodeID:      data.NodeID,
		NodeType:    data.NodeType,
		Title:       data.Title,
		Index:       data.Index,
		Status:      models.NodeStatusRunning,
		Inputs:      data.Inputs,
		Outputs:     data.Outputs,
		Error:       data.Error,
		ElapsedTime: data.ElapsedTime,
		TotalTokens: data.ExecutionMetadata.TotalTokens,
	}

	eventType := models.ProgressEventNodeStarted

	if env.Event == "node_finished" {
		eventType = models.ProgressEventNodeFinished
		snapshot.Status = models.NodeStatusSucceeded

		if data.Status != "succeeded" {
			eventType = models.ProgressEventNodeFailed
			snapshot.Status = models.NodeStatusFailed
		}
	}

	return nil, !emit(d.stamp(models.NewNodeEvent(eventType, snapshot))), nil
}

func (d *decoder) workflowFinished(env envelope, emit remote.Emit) (*models.FinalResult, bool, error) {
	var data workflowData

	err := json.Unmarshal(env.Data, &data)
	if err != nil {
		return nil, true, &remote.StreamError{Err: fmt.Errorf("malformed workflow_finished event: %w", err)}
	}

	if d.executionID == "" {
		d.executionID = data.ID
	}

	status := models.RemoteStatusSucceeded
	if data.Status != "succeeded" {
		status = models.RemoteStatusFailed
	}

	payload := &models.FinishedPayload{
		Status:      status,
		Outputs:     data.Outputs,
		TotalSteps:  data.TotalSteps,
		TotalTokens: data.TotalTokens,
		ElapsedTime: data.ElapsedTime,
		Error:       data.Error,
	}

	emit(d.stamp(models.ProgressEvent{Type: models.ProgressEventFinished, Finished: payload}))

	return d.result(payload), true, nil
}

func (d *decoder) messageEnd(env envelope, emit remote.Emit) (*models.FinalResult, bool, error) {
	elapsed := env.Metadata.Usage.Latency
	if elapsed == 0 {
		elapsed = time.Since(d.startedAt).Seconds()
	}

	payload := &models.FinishedPayload{
		Status:      models.RemoteStatusSucceeded,
		TotalSteps:  1,
		TotalTokens: env.Metadata.Usage.TotalTokens,
		ElapsedTime: elapsed,
	}

	emit(d.stamp(models.ProgressEvent{Type: models.ProgressEventFinished, Finished: payload}))

	return d.result(payload), true, nil
}

func (d *decoder) result(payload *models.FinishedPayload) *models.FinalResult {
	return &models.FinalResult{
		Status:              payload.Status,
		Outputs:             payload.Outputs,
		TotalSteps:          payload.TotalSteps,
		TotalTokens:         payload.TotalTokens,
		ElapsedTime:         payload.ElapsedTime,
		Error:               payload.Error,
		ExternalExecutionID: d.executionID,
		TaskID:              d.taskID,
	}
}

func (d *decoder) stamp(event models.ProgressEvent) models.ProgressEvent {
	event.TaskID = d.taskID
	event.ExternalExecutionID = d.executionID

	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now().UTC()
	}

	return event
}
