package models

import (
	"time"

	"github.com/google/uuid"
)

// NodeKind classifies what a node does
type NodeKind string

const (
	KindTrigger        NodeKind = "trigger"
	KindAIAgent        NodeKind = "ai_agent"
	KindExternalAction NodeKind = "external_action"
	KindAction         NodeKind = "action"
	KindFlow           NodeKind = "flow"
	KindHuman          NodeKind = "human"
	KindTool           NodeKind = "tool"
	KindMemory         NodeKind = "memory"
)

// ErrorPolicy controls what happens when a node fails after retries
type ErrorPolicy string

const (
	ErrorPolicyStop            ErrorPolicy = "stop"
	ErrorPolicyContinueRegular ErrorPolicy = "continue_regular"
	ErrorPolicyContinueError   ErrorPolicy = "continue_error"
)

// DefaultOutputKey is the connection output key when none is set
const DefaultOutputKey = "result"

// RetryPolicy controls per-node retry behavior. WaitBetweenTries is
// interpreted literally in seconds with no jitter.
type RetryPolicy struct {
	MaxTries         int `json:"max_tries"`
	WaitBetweenTries int `json:"wait_between_tries"`
}

// CredentialRef points a node at a stored credential
type CredentialRef struct {
	UserID   string `json:"user_id"`
	Provider string `json:"provider"`
}

// Node is one vertex of the workflow graph. Attached nodes are referenced by
// id, never by pointer, so the graph stays acyclic at the ownership level.
type Node struct {
	ID            string         `json:"id"`
	Kind          NodeKind       `json:"kind"`
	Subtype       string         `json:"subtype"`
	Name          string         `json:"name,omitempty"`
	Position      Position       `json:"position"`
	Configurations map[string]any `json:"configurations,omitempty"`
	InputParams   map[string]any `json:"input_params,omitempty"`
	OutputParams  map[string]any `json:"output_params,omitempty"`
	Credential    *CredentialRef `json:"credential,omitempty"`
	RetryPolicy   *RetryPolicy   `json:"retry_policy,omitempty"`
	ErrorPolicy   ErrorPolicy    `json:"error_policy,omitempty"`
	Disabled      bool           `json:"disabled,omitempty"`
	AttachedNodes []string       `json:"attached_nodes,omitempty"`
	TimeoutSec    int            `json:"timeout_seconds,omitempty"`

	// Unknown holds forward-compatible extension fields
	Unknown map[string]any `json:"unknown,omitempty"`
}

// Position is UI placement only; the engine ignores it
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// EffectiveRetryPolicy returns the node policy or the workflow default
func (n *Node) EffectiveRetryPolicy(settings *WorkflowSettings) RetryPolicy {
	if n.RetryPolicy != nil {
		return *n.RetryPolicy
	}
	if settings != nil && settings.DefaultRetryPolicy != nil {
		return *settings.DefaultRetryPolicy
	}
	return RetryPolicy{MaxTries: 1}
}

// EffectiveErrorPolicy returns the node policy, defaulting to stop
func (n *Node) EffectiveErrorPolicy() ErrorPolicy {
	if n.ErrorPolicy == "" {
		return ErrorPolicyStop
	}
	return n.ErrorPolicy
}

// Connection is one directed edge. ConversionFunction is always present in
// storage; an empty string means the identity passthrough.
type Connection struct {
	FromNode           string `json:"from_node"`
	ToNode             string `json:"to_node"`
	OutputKey          string `json:"output_key,omitempty"`
	ConversionFunction string `json:"conversion_function,omitempty"`
}

// Key returns the output key, defaulting to "result"
func (c *Connection) Key() string {
	if c.OutputKey == "" {
		return DefaultOutputKey
	}
	return c.OutputKey
}

// WorkflowSettings holds workflow-level execution settings
type WorkflowSettings struct {
	TimeoutSec         int          `json:"timeout_seconds,omitempty"`
	DefaultRetryPolicy *RetryPolicy `json:"default_retry_policy,omitempty"`
	Timezone           string       `json:"timezone,omitempty"`
}

// Workflow is the persisted workflow definition
type Workflow struct {
	ID          uuid.UUID         `db:"id" json:"id"`
	OwnerID     string            `db:"owner_id" json:"owner_id"`
	Name        string            `db:"name" json:"name"`
	Description string            `db:"description" json:"description,omitempty"`
	Tags        []string          `db:"tags" json:"tags,omitempty"`
	Nodes       []Node            `json:"nodes"`
	Connections []Connection      `json:"connections"`
	Settings    *WorkflowSettings `json:"settings,omitempty"`
	CreatedAt   time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time         `db:"updated_at" json:"updated_at"`
}

// NodeByID finds a node by id, nil if absent
func (w *Workflow) NodeByID(id string) *Node {
	for i := range w.Nodes {
		if w.Nodes[i].ID == id {
			return &w.Nodes[i]
		}
	}
	return nil
}

// TriggerNodes returns all enabled trigger-kind nodes
func (w *Workflow) TriggerNodes() []string {
	var triggers []string
	for i := range w.Nodes {
		if w.Nodes[i].Kind == KindTrigger && !w.Nodes[i].Disabled {
			triggers = append(triggers, w.Nodes[i].ID)
		}
	}
	return triggers
}

// AttachedSet returns the ids of all nodes attached to some ai_agent.
// Attached nodes are driven by their parent, never by graph edges.
func (w *Workflow) AttachedSet() map[string]bool {
	attached := make(map[string]bool)
	for i := range w.Nodes {
		for _, id := range w.Nodes[i].AttachedNodes {
			attached[id] = true
		}
	}
	return attached
}
