package executors

import (
	"context"

	"github.com/lumenflow/orchestrator/cmd/engine/params"
	"github.com/lumenflow/orchestrator/common/errs"
	"github.com/lumenflow/orchestrator/common/models"
)

// ExternalActionExecutor calls a provider operation through the adapter
// registry. The node subtype selects the provider; the operation comes from
// the effective parameters.
type ExternalActionExecutor struct{}

// NewExternalActionExecutor creates the external action executor
func NewExternalActionExecutor() *ExternalActionExecutor {
	return &ExternalActionExecutor{}
}

func (e *ExternalActionExecutor) Kind() models.NodeKind { return models.KindExternalAction }

func (e *ExternalActionExecutor) Execute(ctx context.Context, nc *Context) (*Result, error) {
	return callAdapter(ctx, nc)
}

// ToolExecutor runs standalone tool nodes, which behave like external
// actions when scheduled by graph edges. Tool nodes attached to an ai_agent
// never reach here; the agent drives them directly.
type ToolExecutor struct{}

// NewToolExecutor creates the tool executor
func NewToolExecutor() *ToolExecutor {
	return &ToolExecutor{}
}

func (e *ToolExecutor) Kind() models.NodeKind { return models.KindTool }

func (e *ToolExecutor) Execute(ctx context.Context, nc *Context) (*Result, error) {
	return callAdapter(ctx, nc)
}

func callAdapter(ctx context.Context, nc *Context) (*Result, error) {
	provider := nc.Node.Subtype
	if override := params.String(nc.Params, "provider"); override != "" {
		provider = override
	}
	operation := params.String(nc.Params, "operation")
	if operation == "" {
		return nil, errs.New(errs.KindInvalidInput, "node %s has no operation", nc.Node.ID)
	}

	if nc.Node.Credential == nil && provider != "http" {
		return nil, errs.New(errs.KindCredentialMissing, "node %s calls %s without a credential reference", nc.Node.ID, provider)
	}

	callParams := make(map[string]any, len(nc.Params)+len(nc.Input)+1)
	for k, v := range nc.Input {
		callParams[k] = v
	}
	for k, v := range nc.Params {
		callParams[k] = v
	}
	if nc.Node.Credential != nil {
		callParams["user_id"] = nc.Node.Credential.UserID
	}

	res, err := nc.Adapters.Call(ctx, provider, operation, callParams, nc.CredentialHandle())
	if err != nil {
		return nil, err
	}

	output := res.Data
	if output == nil {
		output = make(map[string]any)
	}
	return &Result{Output: output}, nil
}
