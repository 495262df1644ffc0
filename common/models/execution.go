package models

import (
	"time"

	"github.com/google/uuid"
)

// ExecutionStatus represents the status of one workflow run
type ExecutionStatus string

const (
	ExecutionNew      ExecutionStatus = "new"
	ExecutionRunning  ExecutionStatus = "running"
	ExecutionSuccess  ExecutionStatus = "success"
	ExecutionError    ExecutionStatus = "error"
	ExecutionCanceled ExecutionStatus = "canceled"
	ExecutionWaiting  ExecutionStatus = "waiting"
)

// Terminal reports whether no further transitions are possible
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionSuccess, ExecutionError, ExecutionCanceled:
		return true
	}
	return false
}

// CanTransition validates an execution state machine edge
func (s ExecutionStatus) CanTransition(to ExecutionStatus) bool {
	switch s {
	case ExecutionNew:
		return to == ExecutionRunning || to == ExecutionCanceled
	case ExecutionRunning:
		return to == ExecutionSuccess || to == ExecutionError || to == ExecutionCanceled || to == ExecutionWaiting
	case ExecutionWaiting:
		return to == ExecutionRunning || to == ExecutionError || to == ExecutionCanceled
	}
	return false
}

// ExecutionMode describes how a run was started
type ExecutionMode string

const (
	ModeManual  ExecutionMode = "manual"
	ModeTrigger ExecutionMode = "trigger"
	ModeWebhook ExecutionMode = "webhook"
	ModeRetry   ExecutionMode = "retry"
)

// Execution is one run of a workflow
type Execution struct {
	ID                    uuid.UUID       `db:"id" json:"id"`
	WorkflowID            uuid.UUID       `db:"workflow_id" json:"workflow_id"`
	Status                ExecutionStatus `db:"status" json:"status"`
	Mode                  ExecutionMode   `db:"mode" json:"mode"`
	TriggeredBy           string          `db:"triggered_by" json:"triggered_by,omitempty"`
	StartFromNode         string          `db:"start_from_node" json:"start_from_node,omitempty"`
	SkipTriggerValidation bool            `db:"skip_trigger_validation" json:"skip_trigger_validation,omitempty"`
	Inputs                map[string]any  `json:"inputs,omitempty"`
	RunData               map[string]any  `json:"run_data,omitempty"`
	Errors                []NodeError     `json:"errors,omitempty"`
	StartedAt             *time.Time      `db:"started_at" json:"started_at,omitempty"`
	EndedAt               *time.Time      `db:"ended_at" json:"ended_at,omitempty"`
	Metadata              map[string]any  `json:"metadata,omitempty"`
}

// NodeError is a per-node error surfaced on the execution row
type NodeError struct {
	NodeID  string `json:"node_id"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Attempt int    `json:"attempt"`
}

// NodeStatus represents the status of one node execution
type NodeStatus string

const (
	NodePending  NodeStatus = "pending"
	NodeRunning  NodeStatus = "running"
	NodeSuccess  NodeStatus = "success"
	NodeFailed   NodeStatus = "error"
	NodeSkipped  NodeStatus = "skipped"
	NodeCanceled NodeStatus = "canceled"
)

// Terminal reports whether this node status is final
func (s NodeStatus) Terminal() bool {
	switch s {
	case NodeSuccess, NodeFailed, NodeSkipped, NodeCanceled:
		return true
	}
	return false
}

// NodeExecution is one node's run within an execution. Retries reuse the
// same row: Attempt increments, the input snapshot stays fixed.
type NodeExecution struct {
	ExecutionID uuid.UUID      `db:"execution_id" json:"execution_id"`
	NodeID      string         `db:"node_id" json:"node_id"`
	Status      NodeStatus     `db:"status" json:"status"`
	Attempt     int            `db:"attempt" json:"attempt"`
	Input       map[string]any `json:"input,omitempty"`
	Output      map[string]any `json:"output,omitempty"`
	Error       *NodeError     `json:"error,omitempty"`
	StartedAt   *time.Time     `db:"started_at" json:"started_at,omitempty"`
	EndedAt     *time.Time     `db:"ended_at" json:"ended_at,omitempty"`
}

// ExecuteRequest is the gateway's execute payload
type ExecuteRequest struct {
	Inputs                map[string]any    `json:"inputs,omitempty"`
	StartFromNode         string            `json:"start_from_node,omitempty"`
	SkipTriggerValidation bool              `json:"skip_trigger_validation,omitempty"`
	Mode                  ExecutionMode     `json:"mode,omitempty"`
	Settings              *WorkflowSettings `json:"settings,omitempty"`
	Metadata              map[string]any    `json:"metadata,omitempty"`
}
