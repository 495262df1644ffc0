package scheduler

import (
	"context"

	"github.com/lumenflow/orchestrator/common/errs"
	"github.com/lumenflow/orchestrator/common/models"
)

// loopDriver runs loop-body sub-DAGs synchronously inside the loop node's
// own task. Body node runs are single-attempt and are not persisted as node
// executions; the loop node owns their outcome.
type loopDriver struct {
	r *run
}

func (d *loopDriver) HasBody(loopID string) bool {
	_, ok := d.r.graph.Body(loopID)
	return ok
}

// RunBody executes the body once for one item. Entry edges deliver
// {"item": v, "index": i} through the usual conversion path; the exit edges
// assemble the per-item result.
func (d *loopDriver) RunBody(ctx context.Context, loopID string, item any, index int) (any, error) {
	body, ok := d.r.graph.Body(loopID)
	if !ok {
		return nil, errs.New(errs.KindInvalidWorkflow, "loop %s has no body", loopID)
	}

	inputs := make(map[string]map[string]any, len(body.members))
	writes := make(map[string]map[string]int, len(body.members))
	outputs := make(map[string]map[string]any, len(body.members))

	expect := make(map[string]int, len(body.members))
	for id := range body.members {
		expect[id] = len(body.incoming[id])
	}
	for _, conn := range body.entries {
		expect[conn.ToNode]++
	}

	contribute := func(to, key string, value any) {
		in := inputs[to]
		if in == nil {
			in = make(map[string]any)
			inputs[to] = in
		}
		w := writes[to]
		if w == nil {
			w = make(map[string]int)
			writes[to] = w
		}
		switch w[key] {
		case 0:
			in[key] = value
		case 1:
			in[key] = []any{in[key], value}
		default:
			in[key] = append(in[key].([]any), value)
		}
		w[key]++
	}

	var ready []string
	arrive := func(to string) {
		expect[to]--
		if expect[to] == 0 {
			ready = append(ready, to)
		}
	}

	itemInput := map[string]any{"item": item, "index": index}
	for _, conn := range body.entries {
		contribute(conn.ToNode, conn.Key(), d.r.convertEdge(conn, itemInput))
		arrive(conn.ToNode)
	}

	executed := 0
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		executed++

		output, err := d.execute(ctx, body.members[id], inputs[id])
		if err != nil {
			return nil, err
		}
		outputs[id] = output

		for _, conn := range body.outgoing[id] {
			contribute(conn.ToNode, conn.Key(), d.r.convertEdge(conn, output))
			arrive(conn.ToNode)
		}
	}
	if executed != len(body.members) {
		return nil, errs.New(errs.KindInternal, "loop %s body left %d nodes unresolved", loopID, len(body.members)-executed)
	}

	return d.result(body, outputs), nil
}

// execute runs one body node with the standard per-node deadline
func (d *loopDriver) execute(ctx context.Context, node *models.Node, input map[string]any) (map[string]any, error) {
	if input == nil {
		input = make(map[string]any)
	}
	nc := d.r.nodeContext(node, input, 1)

	nodeCtx, cancel := context.WithTimeout(ctx, d.r.engine.nodeTimeout(node))
	res, err := d.r.engine.deps.Executors.Execute(nodeCtx, nc)
	cancel()
	if err != nil {
		return nil, err
	}
	if res.Suspend != nil {
		return nil, errs.New(errs.KindInvalidWorkflow, "node %s cannot suspend inside a loop body", node.ID)
	}
	if res.Output == nil {
		return map[string]any{}, nil
	}
	return res.Output, nil
}

// result assembles the per-item value from the exit edges: a single exit
// contributes its slot directly, multiple exits build a map keyed by their
// output keys.
func (d *loopDriver) result(body *loopBody, outputs map[string]map[string]any) any {
	if len(body.exits) == 1 {
		conn := body.exits[0]
		return d.r.convertEdge(conn, outputs[conn.FromNode])
	}

	result := make(map[string]any, len(body.exits))
	for _, conn := range body.exits {
		result[conn.Key()] = d.r.convertEdge(conn, outputs[conn.FromNode])
	}
	return result
}
