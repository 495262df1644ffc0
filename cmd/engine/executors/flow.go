package executors

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lumenflow/orchestrator/cmd/engine/params"
	"github.com/lumenflow/orchestrator/common/errs"
	"github.com/lumenflow/orchestrator/common/models"
)

// FlowExecutor implements control-flow nodes: if, switch, filter, loop,
// merge, and wait.
type FlowExecutor struct{}

// NewFlowExecutor creates the flow executor
func NewFlowExecutor() *FlowExecutor {
	return &FlowExecutor{}
}

func (e *FlowExecutor) Kind() models.NodeKind { return models.KindFlow }

func (e *FlowExecutor) Execute(ctx context.Context, nc *Context) (*Result, error) {
	switch nc.Node.Subtype {
	case "if":
		return e.executeIf(nc)
	case "switch":
		return e.executeSwitch(nc)
	case "filter":
		return e.executeFilter(nc)
	case "loop":
		return e.executeLoop(ctx, nc)
	case "merge":
		return e.executeMerge(nc)
	case "wait":
		return e.executeWait(ctx, nc)
	default:
		return nil, errs.New(errs.KindNotImplemented, "flow subtype %q is not implemented", nc.Node.Subtype)
	}
}

// executeIf selects the "true" or "false" outgoing edge set. The unchosen
// branch is marked skipped by the scheduler.
func (e *FlowExecutor) executeIf(nc *Context) (*Result, error) {
	condition := params.String(nc.Params, "condition")
	if condition == "" {
		return nil, errs.New(errs.KindInvalidInput, "if node %s has no condition", nc.Node.ID)
	}

	out, err := nc.Sandbox.Eval(condition, nc.Input)
	if err != nil {
		return nil, errs.Wrap(errs.KindSandboxError, err, "condition failed in node %s", nc.Node.ID)
	}

	chosen := "false"
	if truthy(out) {
		chosen = "true"
	}

	output := copyInput(nc.Input)
	output["condition"] = truthy(out)
	return &Result{Output: output, SelectedKeys: []string{chosen}}, nil
}

// executeSwitch evaluates the expression and selects the outgoing edge set
// whose output key equals the result, falling back to "default".
func (e *FlowExecutor) executeSwitch(nc *Context) (*Result, error) {
	expression := params.String(nc.Params, "expression")
	if expression == "" {
		return nil, errs.New(errs.KindInvalidInput, "switch node %s has no expression", nc.Node.ID)
	}

	out, err := nc.Sandbox.Eval(expression, nc.Input)
	if err != nil {
		return nil, errs.Wrap(errs.KindSandboxError, err, "switch expression failed in node %s", nc.Node.ID)
	}

	selected := fmt.Sprintf("%v", out)
	if !nc.hasOutputKey(selected) {
		selected = "default"
	}

	output := copyInput(nc.Input)
	output["selected"] = selected
	return &Result{Output: output, SelectedKeys: []string{selected}}, nil
}

// executeFilter evaluates the predicate per item and emits the filtered
// collection. The predicate sees {"item": v, "index": i}.
func (e *FlowExecutor) executeFilter(nc *Context) (*Result, error) {
	condition := params.String(nc.Params, "condition")
	if condition == "" {
		return nil, errs.New(errs.KindInvalidInput, "filter node %s has no condition", nc.Node.ID)
	}

	items, err := collectionOf(nc)
	if err != nil {
		return nil, err
	}

	kept := make([]any, 0, len(items))
	for i, item := range items {
		out, err := nc.Sandbox.Eval(condition, map[string]any{"item": item, "index": i})
		if err != nil {
			return nil, errs.Wrap(errs.KindSandboxError, err, "filter predicate failed in node %s at item %d", nc.Node.ID, i)
		}
		if truthy(out) {
			kept = append(kept, item)
		}
	}

	return &Result{Output: map[string]any{models.DefaultOutputKey: kept}}, nil
}

// executeLoop iterates the item collection and collects the per-item
// results. A loop whose workflow wires body nodes through a back-edge runs
// that sub-DAG per item; otherwise the body is the configured expression.
// Under continue_regular a failing item is skipped and the others are kept;
// any other error policy fails the node on the first bad item.
func (e *FlowExecutor) executeLoop(ctx context.Context, nc *Context) (*Result, error) {
	items, err := collectionOf(nc)
	if err != nil {
		return nil, err
	}

	skipFailing := nc.Node.EffectiveErrorPolicy() == models.ErrorPolicyContinueRegular
	runBody := loopBodyFunc(nc)

	results := make([]any, 0, len(items))
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, errs.Wrap(errs.KindCanceled, err, "loop canceled in node %s at item %d", nc.Node.ID, i)
		}

		out, err := runBody(ctx, item, i)
		if err != nil {
			if skipFailing {
				nc.Log.Warn("loop item skipped", "node_id", nc.Node.ID, "index", i, "error", err)
				continue
			}
			return nil, err
		}
		results = append(results, out)
	}

	return &Result{Output: map[string]any{models.DefaultOutputKey: results}}, nil
}

// loopBodyFunc picks the per-item body: the wired sub-DAG when the graph
// has one, else the configured expression, else identity.
func loopBodyFunc(nc *Context) func(context.Context, any, int) (any, error) {
	if nc.Loop != nil && nc.Loop.HasBody(nc.Node.ID) {
		return func(ctx context.Context, item any, index int) (any, error) {
			return nc.Loop.RunBody(ctx, nc.Node.ID, item, index)
		}
	}

	expression := params.String(nc.Params, "expression")
	if expression == "" {
		expression = params.String(nc.Params, "body")
	}
	if expression == "" {
		return func(_ context.Context, item any, _ int) (any, error) {
			return item, nil
		}
	}

	return func(_ context.Context, item any, index int) (any, error) {
		out, err := nc.Sandbox.Eval(expression, map[string]any{"item": item, "index": index})
		if err != nil {
			return nil, errs.Wrap(errs.KindSandboxError, err, "loop body failed in node %s at item %d", nc.Node.ID, index)
		}
		return out, nil
	}
}

// executeMerge passes the fan-in merged input through as the output
func (e *FlowExecutor) executeMerge(nc *Context) (*Result, error) {
	return &Result{Output: copyInput(nc.Input)}, nil
}

// executeWait sleeps for a configured duration or suspends until an
// external signal resumes the execution.
func (e *FlowExecutor) executeWait(ctx context.Context, nc *Context) (*Result, error) {
	if params.Bool(nc.Params, "until_signal") {
		return &Result{Suspend: &Suspension{CorrelationID: uuid.New().String()}}, nil
	}

	seconds := params.Int(nc.Params, "duration_seconds", 0)
	if seconds <= 0 {
		return nil, errs.New(errs.KindInvalidInput, "wait node %s needs duration_seconds or until_signal", nc.Node.ID)
	}

	timer := time.NewTimer(time.Duration(seconds) * time.Second)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return nil, errs.Wrap(errs.KindCanceled, ctx.Err(), "wait canceled in node %s", nc.Node.ID)
	}

	return &Result{Output: copyInput(nc.Input)}, nil
}

// hasOutputKey reports whether any outgoing connection of this node carries
// the given output key.
func (c *Context) hasOutputKey(key string) bool {
	if c.Workflow == nil {
		return false
	}
	for _, conn := range c.Workflow.Connections {
		if conn.FromNode == c.Node.ID && conn.Key() == key {
			return true
		}
	}
	return false
}

// collectionOf resolves the node's item collection: the "items" parameter
// first, then the default slot of the merged input.
func collectionOf(nc *Context) ([]any, error) {
	if items := params.Slice(nc.Params, "items"); items != nil {
		return items, nil
	}
	if items, ok := nc.Input[models.DefaultOutputKey].([]any); ok {
		return items, nil
	}
	if items := params.Slice(nc.Input, "items"); items != nil {
		return items, nil
	}
	return nil, errs.New(errs.KindInvalidInput, "node %s has no item collection", nc.Node.ID)
}

func truthy(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		return val != ""
	case int64:
		return val != 0
	case float64:
		return val != 0
	case nil:
		return false
	default:
		return true
	}
}

func copyInput(input map[string]any) map[string]any {
	out := make(map[string]any, len(input))
	for k, v := range input {
		out[k] = v
	}
	return out
}
