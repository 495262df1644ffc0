package executors

import (
	"context"

	"github.com/google/uuid"

	"github.com/lumenflow/orchestrator/cmd/engine/adapters"
	"github.com/lumenflow/orchestrator/cmd/engine/sandbox"
	"github.com/lumenflow/orchestrator/common/logger"
	"github.com/lumenflow/orchestrator/common/models"
)

// CredentialFn resolves a credential handle for an adapter call
type CredentialFn func(userID, provider string) adapters.CredentialHandle

// MemoryStore is the persistence surface for memory nodes
type MemoryStore interface {
	Set(ctx context.Context, key string, value map[string]any) error
	Get(ctx context.Context, key string) (map[string]any, error)
	Append(ctx context.Context, key string, value map[string]any) error
	Read(ctx context.Context, key string, limit int64) ([]map[string]any, error)
}

// LoopDriver runs a loop node's body sub-DAG once per item. Wired by the
// scheduler when the workflow graph carries a back-edge into the loop; a
// loop with no body falls back to its expression parameter.
type LoopDriver interface {
	HasBody(loopID string) bool
	RunBody(ctx context.Context, loopID string, item any, index int) (any, error)
}

// Context carries everything one node execution may touch. Built by the
// scheduler per attempt; the input snapshot does not change across retries.
type Context struct {
	ExecutionID uuid.UUID
	Workflow    *models.Workflow
	Node        *models.Node

	// Params is the effective parameter map after the merge rule
	Params map[string]any

	// Input is the fan-in merged mapping from resolved incoming edges
	Input map[string]any

	// ExecutionInputs are the initial inputs of the whole execution,
	// consumed by trigger nodes and start_from_node entry points.
	ExecutionInputs map[string]any

	Attempt int

	Adapters    *adapters.Registry
	Sandbox     *sandbox.Sandbox
	Credentials CredentialFn
	Memory      MemoryStore
	Model       ModelInvoker
	Loop        LoopDriver

	Log *logger.Logger
}

// CredentialHandle resolves the node's own credential reference, nil when
// the node carries none.
func (c *Context) CredentialHandle() adapters.CredentialHandle {
	if c.Node.Credential == nil || c.Credentials == nil {
		return nil
	}
	return c.Credentials(c.Node.Credential.UserID, c.Node.Credential.Provider)
}

// Suspension asks the scheduler to park the execution in waiting until an
// external callback carrying the correlation id resumes it.
type Suspension struct {
	CorrelationID string         `json:"correlation_id"`
	Prompt        map[string]any `json:"prompt,omitempty"`
}

// Result is what a node execution produces
type Result struct {
	Output map[string]any

	// SelectedKeys restricts which outgoing output keys deliver. Nil means
	// all edges deliver; flow nodes (if, switch) narrow this and the
	// scheduler marks the unchosen branches skipped.
	SelectedKeys []string

	// Suspend, when set, parks the execution instead of completing the node
	Suspend *Suspension
}

// Executor runs nodes of one kind
type Executor interface {
	Kind() models.NodeKind
	Execute(ctx context.Context, nc *Context) (*Result, error)
}
