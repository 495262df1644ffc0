package executors

import (
	"context"
	"encoding/json"

	"github.com/tidwall/gjson"

	"github.com/lumenflow/orchestrator/cmd/engine/params"
	"github.com/lumenflow/orchestrator/common/errs"
	"github.com/lumenflow/orchestrator/common/models"
)

// ActionExecutor runs generic action nodes. HTTP and data transformation
// are implemented; the remaining subtypes (code, file, db) return
// NotImplemented.
type ActionExecutor struct{}

// NewActionExecutor creates the action executor
func NewActionExecutor() *ActionExecutor {
	return &ActionExecutor{}
}

func (e *ActionExecutor) Kind() models.NodeKind { return models.KindAction }

func (e *ActionExecutor) Execute(ctx context.Context, nc *Context) (*Result, error) {
	switch nc.Node.Subtype {
	case "http", "http_request":
		return e.executeHTTP(ctx, nc)
	case "transform", "data_transformation":
		return e.executeTransform(nc)
	default:
		return nil, errs.New(errs.KindNotImplemented, "action subtype %q is not implemented", nc.Node.Subtype)
	}
}

func (e *ActionExecutor) executeHTTP(ctx context.Context, nc *Context) (*Result, error) {
	callParams := make(map[string]any, len(nc.Params)+1)
	for k, v := range nc.Params {
		callParams[k] = v
	}
	if nc.Node.Credential != nil {
		callParams["user_id"] = nc.Node.Credential.UserID
	}

	res, err := nc.Adapters.Call(ctx, "http", "request", callParams, nc.CredentialHandle())
	if err != nil {
		return nil, err
	}
	return &Result{Output: res.Data}, nil
}

// executeTransform evaluates the configured expression against the node's
// input, or extracts a field when only a "path" is configured. Unlike edge
// conversions, a broken transform fails the node.
func (e *ActionExecutor) executeTransform(nc *Context) (*Result, error) {
	expression := params.String(nc.Params, "expression")
	if expression == "" {
		expression = params.String(nc.Params, "function")
	}
	if expression == "" {
		if path := params.String(nc.Params, "path"); path != "" {
			return e.extractPath(nc, path)
		}
		return nil, errs.New(errs.KindInvalidInput, "transform node %s has no expression", nc.Node.ID)
	}

	out, err := nc.Sandbox.Eval(expression, nc.Input)
	if err != nil {
		return nil, errs.Wrap(errs.KindSandboxError, err, "transform failed in node %s", nc.Node.ID)
	}

	if m, ok := out.(map[string]any); ok {
		return &Result{Output: m}, nil
	}
	return &Result{Output: map[string]any{models.DefaultOutputKey: out}}, nil
}

// extractPath pulls a value out of the input by gjson path, e.g.
// "items.0.name" or "commits.#.sha".
func (e *ActionExecutor) extractPath(nc *Context, path string) (*Result, error) {
	raw, err := json.Marshal(nc.Input)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "failed to serialize input in node %s", nc.Node.ID)
	}

	value := gjson.GetBytes(raw, path)
	if !value.Exists() {
		return nil, errs.New(errs.KindInvalidInput, "path %q not found in input of node %s", path, nc.Node.ID)
	}
	return &Result{Output: map[string]any{models.DefaultOutputKey: value.Value()}}, nil
}
