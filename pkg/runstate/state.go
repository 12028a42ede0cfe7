// Package runstate holds the observable state of one orchestrated run.
//
// A State is plain data. The orchestrator owns the single mutable instance,
// mutates it from its consumer goroutine and hands out copies made by Clone.
package runstate

import (
	"maps"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pixelsama/AgentifUI-sub002/pkg/models"
)

// Status is the coarse state a caller reacts to.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusExecuting Status = "executing"
	StatusErrored   Status = "errored"
)

// Phase is the position of the run in its lifecycle.
type Phase string

const (
	PhaseIdle              Phase = "idle"
	PhaseStarting          Phase = "starting"
	PhaseStreaming         Phase = "streaming"
	PhaseFinalizingSuccess Phase = "finalizing-success"
	PhaseFinalizingFailure Phase = "finalizing-failure"
	PhaseFinalizingStopped Phase = "finalizing-stopped"
)

const (
	// textProgressScale is the number of characters at which text progress reaches ~63% of its cap.
	textProgressScale = 400.0
	textProgressCap   = 90.0
	nodeProgressCap   = 99.0
)

// Request is the caller input captured for a run, kept for Retry.
type Request struct {
	OwnerID         string         `json:"owner_id"          validate:"required"`
	JobDefinitionID string         `json:"job_definition_id" validate:"required"`
	Inputs          map[string]any `json:"inputs"`
}

// Clone returns a copy with its own inputs map.
func (r Request) Clone() Request {
	r.Inputs = maps.Clone(r.Inputs)

	return r
}

// NodeProgress is the accumulated progress of one workflow node.
type NodeProgress struct {
	Latest    models.NodeSnapshot    `json:"latest"`
	Events    []models.ProgressEvent `json:"events"`
	FirstSeen time.Time              `json:"first_seen"`
}

// Finished reports whether the latest snapshot is terminal.
func (n NodeProgress) Finished() bool {
	return n.Latest.Status == models.NodeStatusSucceeded || n.Latest.Status == models.NodeStatusFailed
}

// State is the observable state of a run.
type State struct {
	Status          Status               `json:"status"`
	Phase           Phase                `json:"phase"`
	Kind            models.ExecutionKind `json:"kind,omitempty"`
	ProgressPercent float64              `json:"progress_percent"`

	Text      string                  `json:"text,omitempty"`
	Nodes     map[string]NodeProgress `json:"nodes,omitempty"`
	NodeOrder []string                `json:"node_order,omitempty"`
	Finished  *models.FinishedPayload `json:"finished,omitempty"`

	TaskID              string `json:"task_id,omitempty"`
	ExternalExecutionID string `json:"external_execution_id,omitempty"`
	RecordID            string `json:"record_id,omitempty"`

	Request      *Request                `json:"request,omitempty"`
	Err          error                   `json:"-"`
	ErrorMessage string                  `json:"error_message,omitempty"`
	Retryable    bool                    `json:"retryable"`
	Record       *models.ExecutionRecord `json:"record,omitempty"`
	EventCount   int                     `json:"event_count"`
	StartedAt    time.Time               `json:"started_at"`

	text strings.Builder
}

// New returns an idle state.
func New() *State {
	return &State{Status: StatusIdle, Phase: PhaseIdle}
}

// Reset returns the state to idle, discarding everything accumulated.
func (s *State) Reset() {
	*s = State{Status: StatusIdle, Phase: PhaseIdle}
}

// Begin resets the state for a new run of the given kind.
func (s *State) Begin(req Request, kind models.ExecutionKind, at time.Time) {
	s.Reset()

	captured := req.Clone()

	s.Status = StatusExecuting
	s.Phase = PhaseStarting
	s.Kind = kind
	s.Request = &captured
	s.StartedAt = at
}

// Active reports whether a run is in progress.
func (s *State) Active() bool {
	return s.Status == StatusExecuting
}

// Apply folds one progress event into the state.
func (s *State) Apply(event models.ProgressEvent) {
	s.EventCount++

	if s.TaskID == "" && event.TaskID != "" {
		s.TaskID = event.TaskID
	}

	if s.ExternalExecutionID == "" && event.ExternalExecutionID != "" {
		s.ExternalExecutionID = event.ExternalExecutionID
	}

	switch {
	case event.Type == models.ProgressEventData:
		s.text.WriteString(event.Text)
		s.Text = s.text.String()
	case event.Type.IsNodeEvent() && event.Node != nil:
		s.applyNode(event)
	case event.Type == models.ProgressEventFinished && event.Finished != nil:
		finished := *event.Finished
		s.Finished = &finished
	}

	s.raiseProgress(s.estimate())
}

func (s *State) applyNode(event models.ProgressEvent) {
	if s.Nodes == nil {
		s.Nodes = make(map[string]NodeProgress)
	}

	id := event.Node.NodeID
	if id == "" {
		id = event.NodeID
	}

	progress, seen := s.Nodes[id]
	if !seen {
		progress.FirstSeen = event.ReceivedAt
		s.NodeOrder = append(s.NodeOrder, id)
	}

	progress.Latest = *event.Node
	progress.Events = append(progress.Events, event)
	s.Nodes[id] = progress
}

// estimate computes the heuristic progress for the events seen so far.
func (s *State) estimate() float64 {
	if s.Kind == models.ExecutionKindWorkflow {
		if len(s.Nodes) == 0 {
			return 0
		}

		done := 0

		for _, node := range s.Nodes {
			if node.Finished() {
				done++
			}
		}

		return math.Min(nodeProgressCap, 100*float64(done)/float64(len(s.Nodes)))
	}

	chars := float64(utf8.RuneCountInString(s.Text))

	return math.Min(textProgressCap, textProgressCap*(1-math.Exp(-chars/textProgressScale)))
}

func (s *State) raiseProgress(pct float64) {
	if pct > s.ProgressPercent {
		s.ProgressPercent = pct
	}
}

// SetPhase moves the run to another phase.
func (s *State) SetPhase(phase Phase) {
	s.Phase = phase
}

// Fail marks the run errored.
func (s *State) Fail(err error, retryable bool) {
	s.Status = StatusErrored
	s.Phase = PhaseIdle
	s.Err = err
	s.Retryable = retryable

	if err != nil {
		s.ErrorMessage = err.Error()
	}
}

// Complete records the persisted terminal record and returns the run to idle.
func (s *State) Complete(record *models.ExecutionRecord) {
	s.Status = StatusIdle
	s.Phase = PhaseIdle
	s.Record = record

	if record != nil && record.Status == models.ExecutionStatusCompleted {
		s.ProgressPercent = 100
	}
}

// HasOutput reports whether anything worth persisting was accumulated:
// streamed text or at least one node outcome, with or without outputs.
func (s *State) HasOutput() bool {
	if s.Text != "" {
		return true
	}

	for _, node := range s.Nodes {
		if node.Finished() {
			return true
		}
	}

	return false
}

// LocalOutputs builds outputs from what the stream delivered.
func (s *State) LocalOutputs() map[string]any {
	outputs := make(map[string]any)

	if s.Text != "" {
		outputs[models.OutputGeneratedText] = s.Text
	}

	if s.Kind == models.ExecutionKindWorkflow {
		nodeOutputs := make(map[string]any)

		for _, id := range s.NodeOrder {
			if latest := s.Nodes[id].Latest; len(latest.Outputs) > 0 {
				nodeOutputs[id] = maps.Clone(latest.Outputs)
			}
		}

		if len(nodeOutputs) > 0 {
			outputs[models.OutputNodeOutputs] = nodeOutputs
		}
	}

	return outputs
}

// OrderedNodes returns node progress in first-seen order.
func (s *State) OrderedNodes() []NodeProgress {
	nodes := make([]NodeProgress, 0, len(s.NodeOrder))

	for _, id := range s.NodeOrder {
		nodes = append(nodes, s.Nodes[id])
	}

	return nodes
}

// Clone returns an independent copy safe to hand to other goroutines.
func (s *State) Clone() State {
	clone := State{
		Status:              s.Status,
		Phase:               s.Phase,
		Kind:                s.Kind,
		ProgressPercent:     s.ProgressPercent,
		Text:                s.Text,
		NodeOrder:           append([]string(nil), s.NodeOrder...),
		TaskID:              s.TaskID,
		ExternalExecutionID: s.ExternalExecutionID,
		RecordID:            s.RecordID,
		Err:                 s.Err,
		ErrorMessage:        s.ErrorMessage,
		Retryable:           s.Retryable,
		EventCount:          s.EventCount,
		StartedAt:           s.StartedAt,
	}

	if s.Nodes != nil {
		clone.Nodes = make(map[string]NodeProgress, len(s.Nodes))

		for id, node := range s.Nodes {
			node.Events = append([]models.ProgressEvent(nil), node.Events...)
			clone.Nodes[id] = node
		}
	}

	if s.Finished != nil {
		finished := *s.Finished
		clone.Finished = &finished
	}

	if s.Request != nil {
		request := s.Request.Clone()
		clone.Request = &request
	}

	if s.Record != nil {
		record := *s.Record
		clone.Record = &record
	}

	return clone
}
