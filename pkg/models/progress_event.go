package models

import "time"

// ProgressEventType identifies the variant of a ProgressEvent.
type ProgressEventType string

const (
	ProgressEventStarted      ProgressEventType = "started"
	ProgressEventData         ProgressEventType = "data"
	ProgressEventNodeStarted  ProgressEventType = "node-started"
	ProgressEventNodeFinished ProgressEventType = "node-finished"
	ProgressEventNodeFailed   ProgressEventType = "node-failed"
	ProgressEventFinished     ProgressEventType = "finished"
)

// IsNodeEvent reports whether the event carries a node snapshot.
func (t ProgressEventType) IsNodeEvent() bool {
	return t == ProgressEventNodeStarted || t == ProgressEventNodeFinished || t == ProgressEventNodeFailed
}

// NodeStatus is the status a node reports in its snapshot.
type NodeStatus string

const (
	NodeStatusRunning   NodeStatus = "running"
	NodeStatusSucceeded NodeStatus = "succeeded"
	NodeStatusFailed    NodeStatus = "failed"
)

// NodeSnapshot is the state of one workflow node as reported by the backend.
type NodeSnapshot struct {
	NodeID      string         `json:"node_id"`
	NodeType    string         `json:"node_type,omitempty"`
	Title       string         `json:"title,omitempty"`
	Index       int            `json:"index"`
	Status      NodeStatus     `json:"status"`
	Inputs      map[string]any `json:"inputs,omitempty"`
	Outputs     map[string]any `json:"outputs,omitempty"`
	Error       string         `json:"error,omitempty"`
	ElapsedTime float64        `json:"elapsed_time"`
	TotalTokens int            `json:"total_tokens"`
}

// FinishedPayload is attached to a finished event.
type FinishedPayload struct {
	Status      RemoteStatus   `json:"status"`
	Outputs     map[string]any `json:"outputs,omitempty"`
	TotalSteps  int            `json:"total_steps"`
	TotalTokens int            `json:"total_tokens"`
	ElapsedTime float64        `json:"elapsed_time"`
	Error       string         `json:"error,omitempty"`
}

// ProgressEvent is one unit of the streaming protocol.
//
// Exactly one payload is set, according to Type: Text for data events, Node
// for node events and Finished for finished events. Started events carry only
// identifiers.
type ProgressEvent struct {
	Type                ProgressEventType `json:"event_type"`
	NodeID              string            `json:"node_id,omitempty"`
	TaskID              string            `json:"task_id,omitempty"`
	ExternalExecutionID string            `json:"external_execution_id,omitempty"`
	Text                string            `json:"text,omitempty"`
	Node                *NodeSnapshot     `json:"node,omitempty"`
	Finished            *FinishedPayload  `json:"finished,omitempty"`
	ReceivedAt          time.Time         `json:"received_at"`
}

// NewTextEvent builds a data event carrying a text fragment.
func NewTextEvent(text string) ProgressEvent {
	return ProgressEvent{Type: ProgressEventData, Text: text, ReceivedAt: time.Now().UTC()}
}

// NewNodeEvent builds a node event; the node id is taken from the snapshot.
func NewNodeEvent(eventType ProgressEventType, node NodeSnapshot) ProgressEvent {
	return ProgressEvent{
		Type:       eventType,
		NodeID:     node.NodeID,
		Node:       &node,
		ReceivedAt: time.Now().UTC(),
	}
}

// RemoteStatus is the terminal status reported by the backend itself.
type RemoteStatus string

const (
	RemoteStatusSucceeded RemoteStatus = "succeeded"
	RemoteStatusFailed    RemoteStatus = "failed"
)

// FinalResult is the summary the backend resolves once the event stream is drained.
type FinalResult struct {
	Status              RemoteStatus   `json:"status"`
	Outputs             map[string]any `json:"outputs,omitempty"`
	TotalSteps          int            `json:"total_steps"`
	TotalTokens         int            `json:"total_tokens"`
	ElapsedTime         float64        `json:"elapsed_time"`
	Error               string         `json:"error,omitempty"`
	ExternalExecutionID string         `json:"external_execution_id,omitempty"`
	TaskID              string         `json:"task_id,omitempty"`
}
