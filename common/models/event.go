package models

import "time"

// EventType enumerates execution progress events streamed to the gateway
type EventType string

const (
	EventExecutionStarted   EventType = "execution_started"
	EventNodeRunning        EventType = "node_running"
	EventNodeSuccess        EventType = "node_success"
	EventNodeError          EventType = "node_error"
	EventNodeSkipped        EventType = "node_skipped"
	EventExecutionCompleted EventType = "execution_completed"
	EventExecutionFailed    EventType = "execution_failed"
	EventExecutionCanceled  EventType = "execution_canceled"
	EventWaiting            EventType = "waiting"
	EventResumed            EventType = "resumed"
	EventLog                EventType = "log"
)

// Event is one entry of the per-execution event stream. Sequence is
// monotonically increasing within an execution; events for a single node
// are strictly ordered.
type Event struct {
	Type        EventType      `json:"type"`
	ExecutionID string         `json:"execution_id"`
	Sequence    uint64         `json:"sequence"`
	NodeID      string         `json:"node_id,omitempty"`
	Status      string         `json:"status,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}
