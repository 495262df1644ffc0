package executors

import (
	"context"

	"github.com/lumenflow/orchestrator/cmd/engine/params"
	"github.com/lumenflow/orchestrator/common/errs"
	"github.com/lumenflow/orchestrator/common/models"
)

// ToolHandle exposes one attached node as a callable tool to the model.
// Calls resolve through the engine's adapter registry under the attached
// node's own credential handle.
type ToolHandle struct {
	Name      string
	Provider  string
	Operation string
	Call      func(ctx context.Context, callParams map[string]any) (map[string]any, error)
}

// ModelRequest is what the agent executor hands to the model backend
type ModelRequest struct {
	SystemPrompt string
	Input        map[string]any
	Tools        []ToolHandle
}

// ModelInvoker runs the model loop: prompt in, tool calls in between, final
// output out. The engine mandates only this contract; the backing model is
// pluggable.
type ModelInvoker interface {
	Invoke(ctx context.Context, req *ModelRequest) (map[string]any, error)
}

// AgentExecutor runs ai_agent nodes. Attached tool and memory nodes are not
// scheduled by graph edges; they become ToolHandles the model may call any
// number of times within this one node execution.
type AgentExecutor struct {
	model ModelInvoker
}

// NewAgentExecutor creates the agent executor; a nil invoker makes every
// agent node fail with NotImplemented.
func NewAgentExecutor(model ModelInvoker) *AgentExecutor {
	return &AgentExecutor{model: model}
}

func (e *AgentExecutor) Kind() models.NodeKind { return models.KindAIAgent }

func (e *AgentExecutor) Execute(ctx context.Context, nc *Context) (*Result, error) {
	model := e.model
	if nc.Model != nil {
		model = nc.Model
	}
	if model == nil {
		return nil, errs.New(errs.KindNotImplemented, "no model backend configured for ai_agent node %s", nc.Node.ID)
	}

	tools, err := e.attachedTools(nc)
	if err != nil {
		return nil, err
	}

	output, err := model.Invoke(ctx, &ModelRequest{
		SystemPrompt: params.String(nc.Params, "system_prompt"),
		Input:        nc.Input,
		Tools:        tools,
	})
	if err != nil {
		return nil, err
	}
	if output == nil {
		output = make(map[string]any)
	}
	return &Result{Output: output}, nil
}

func (e *AgentExecutor) attachedTools(nc *Context) ([]ToolHandle, error) {
	var tools []ToolHandle
	for _, nodeID := range nc.Node.AttachedNodes {
		attached := nc.Workflow.NodeByID(nodeID)
		if attached == nil {
			return nil, errs.New(errs.KindInvalidWorkflow, "agent node %s references missing attached node %s", nc.Node.ID, nodeID)
		}
		if attached.Kind != models.KindTool && attached.Kind != models.KindMemory {
			return nil, errs.New(errs.KindInvalidWorkflow, "attached node %s must be a tool or memory node, got %s", nodeID, attached.Kind)
		}

		toolParams := params.Merge(nil, attached.Configurations, attached.InputParams)

		if attached.Kind == models.KindMemory {
			tools = append(tools, memoryTool(nc, attached, toolParams))
			continue
		}

		provider := attached.Subtype
		operation := params.String(toolParams, "operation")

		cred := nc.CredentialHandle()
		if attached.Credential != nil && nc.Credentials != nil {
			cred = nc.Credentials(attached.Credential.UserID, attached.Credential.Provider)
		}

		tools = append(tools, ToolHandle{
			Name:      attached.ID,
			Provider:  provider,
			Operation: operation,
			Call: func(ctx context.Context, callParams map[string]any) (map[string]any, error) {
				merged := make(map[string]any, len(toolParams)+len(callParams))
				for k, v := range toolParams {
					merged[k] = v
				}
				for k, v := range callParams {
					merged[k] = v
				}
				res, err := nc.Adapters.Call(ctx, provider, operation, merged, cred)
				if err != nil {
					return nil, err
				}
				return res.Data, nil
			},
		})
	}
	return tools, nil
}

// memoryTool exposes an attached memory node as a callable tool. Memory
// nodes have no adapter; calls run through the memory executor against the
// same scoped store the scheduler would use.
func memoryTool(nc *Context, attached *models.Node, toolParams map[string]any) ToolHandle {
	return ToolHandle{
		Name:      attached.ID,
		Provider:  "memory",
		Operation: attached.Subtype,
		Call: func(ctx context.Context, callParams map[string]any) (map[string]any, error) {
			merged := make(map[string]any, len(toolParams)+len(callParams))
			for k, v := range toolParams {
				merged[k] = v
			}
			for k, v := range callParams {
				merged[k] = v
			}

			sub := *nc
			sub.Node = attached
			sub.Params = merged
			sub.Input = callParams

			res, err := NewMemoryExecutor(nc.Memory).Execute(ctx, &sub)
			if err != nil {
				return nil, err
			}
			return res.Output, nil
		},
	}
}
