package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/lumenflow/orchestrator/cmd/engine/executors"
	"github.com/lumenflow/orchestrator/cmd/engine/params"
	"github.com/lumenflow/orchestrator/common/errs"
	"github.com/lumenflow/orchestrator/common/logger"
	"github.com/lumenflow/orchestrator/common/models"
)

// run is one execution's scheduler. All mutable state below the channels is
// owned by the coordinator goroutine in loop(); node tasks communicate
// exclusively through doneCh.
type run struct {
	engine   *Engine
	graph    *Graph
	wf       *models.Workflow
	settings *models.WorkflowSettings
	exec     *models.Execution
	log      *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	doneCh   chan nodeDone
	resumeCh chan resumeMsg
	done     chan struct{}

	pending   map[string]int
	totalIn   map[string]int
	voidIn    map[string]int
	inputs    map[string]map[string]any
	writes    map[string]map[string]int
	completed map[string]map[string]any
	skipped   map[string]bool
	failed    map[string]models.NodeError
	started   map[string]bool
	runningN  int
	suspended map[string]*executors.Suspension

	cancelRequested atomic.Bool
	stopOnError     bool
}

type nodeDone struct {
	nodeID  string
	attempt int
	result  *executors.Result
	err     error
}

type resumeMsg struct {
	correlationID string
	payload       map[string]any
	reply         chan error
}

func newRun(engine *Engine, graph *Graph, wf *models.Workflow, settings *models.WorkflowSettings, exec *models.Execution) *run {
	ctx, cancel := context.WithTimeout(context.Background(), engine.workflowTimeout(settings))
	return &run{
		engine:    engine,
		graph:     graph,
		wf:        wf,
		settings:  settings,
		exec:      exec,
		log:       engine.log.WithExecutionID(exec.ID.String()),
		ctx:       ctx,
		cancel:    cancel,
		doneCh:    make(chan nodeDone),
		resumeCh:  make(chan resumeMsg),
		done:      make(chan struct{}),
		pending:   make(map[string]int),
		totalIn:   make(map[string]int),
		voidIn:    make(map[string]int),
		inputs:    make(map[string]map[string]any),
		writes:    make(map[string]map[string]int),
		completed: make(map[string]map[string]any),
		skipped:   make(map[string]bool),
		failed:    make(map[string]models.NodeError),
		started:   make(map[string]bool),
		suspended: make(map[string]*executors.Suspension),
	}
}

func (r *run) requestCancel() {
	r.cancelRequested.Store(true)
	r.cancel()
}

func (r *run) resume(ctx context.Context, correlationID string, payload map[string]any) error {
	msg := resumeMsg{correlationID: correlationID, payload: payload, reply: make(chan error, 1)}
	select {
	case r.resumeCh <- msg:
		return <-msg.reply
	case <-r.done:
		return errs.New(errs.KindInvalidState, "execution already finished")
	case <-ctx.Done():
		return errs.Wrap(errs.KindCanceled, ctx.Err(), "resume abandoned")
	}
}

// loop is the coordinator: it seeds the ready set, then reacts to node
// completions and resume callbacks until nothing is running or suspended.
func (r *run) loop() {
	defer close(r.done)
	defer r.cancel()

	now := time.Now().UTC()
	r.exec.StartedAt = &now
	r.setStatus(models.ExecutionRunning)
	r.persistExecution()
	r.publish(models.Event{Type: models.EventExecutionStarted})

	r.seed()

	for r.runningN > 0 || len(r.suspended) > 0 {
		select {
		case msg := <-r.doneCh:
			r.handleDone(msg)
		case msg := <-r.resumeCh:
			r.handleResume(msg)
		case <-r.ctx.Done():
			r.drainCanceled()
		}
	}

	r.finalize()
}

// seed computes initial edge counters and launches the entry nodes
func (r *run) seed() {
	for _, id := range r.graph.NodeIDs() {
		r.totalIn[id] = len(r.graph.Incoming(id))
		r.pending[id] = r.totalIn[id]
	}

	if r.exec.StartFromNode != "" {
		start := r.exec.StartFromNode
		reachable := r.graph.ReachableFrom(start)

		for _, id := range r.graph.NodeIDs() {
			if !reachable[id] {
				r.markSkipped(id, false)
			}
		}
		// in-edges from outside the reachable set resolve as void
		for id := range reachable {
			for _, conn := range r.graph.Incoming(id) {
				if !reachable[conn.FromNode] {
					r.voidIn[id]++
					r.pending[id]--
				}
			}
		}

		r.inputs[start] = r.exec.Inputs
		r.pending[start] = 0
		r.startNode(start)
		return
	}

	triggers := make(map[string]bool)
	for _, id := range r.graph.Triggers() {
		triggers[id] = true
	}
	for _, id := range r.graph.NodeIDs() {
		if triggers[id] {
			r.startNode(id)
		} else if r.totalIn[id] == 0 {
			// unreachable from any trigger
			r.markSkipped(id, true)
		}
	}
}

func (r *run) handleDone(msg nodeDone) {
	r.runningN--
	node, _ := r.graph.Node(msg.nodeID)

	if msg.err != nil {
		kind := errs.KindOf(msg.err)
		if kind == errs.KindCanceled {
			r.persistNode(msg.nodeID, models.NodeCanceled, msg.attempt, nil, nil)
			return
		}

		nodeErr := toNodeError(msg.nodeID, msg.attempt, msg.err)
		r.failed[msg.nodeID] = nodeErr
		r.exec.Errors = append(r.exec.Errors, nodeErr)
		r.persistNode(msg.nodeID, models.NodeFailed, msg.attempt, nil, &nodeErr)
		r.publish(models.Event{
			Type: models.EventNodeError, NodeID: msg.nodeID, Status: string(models.NodeFailed),
			Data: map[string]any{"kind": nodeErr.Kind, "message": nodeErr.Message, "attempt": msg.attempt},
		})

		switch node.EffectiveErrorPolicy() {
		case models.ErrorPolicyContinueRegular:
			r.resolveWithSlot(msg.nodeID, map[string]any{})
		case models.ErrorPolicyContinueError:
			errSlot := map[string]any{"error": map[string]any{
				"kind": nodeErr.Kind, "message": nodeErr.Message, "node_id": nodeErr.NodeID,
			}}
			r.completed[msg.nodeID] = errSlot
			r.exec.RunData[msg.nodeID] = errSlot
			// downstream sees the whole {"error": {...}} wrapper in its slot
			r.resolveWithSlot(msg.nodeID, errSlot)
		default: // stop
			r.stopOnError = true
			r.cancel()
		}
		return
	}

	if msg.result.Suspend != nil {
		r.suspended[msg.nodeID] = msg.result.Suspend
		r.setStatus(models.ExecutionWaiting)
		r.persistExecution()
		r.publish(models.Event{
			Type: models.EventWaiting, NodeID: msg.nodeID,
			Data: map[string]any{"correlation_id": msg.result.Suspend.CorrelationID, "prompt": msg.result.Suspend.Prompt},
		})
		return
	}

	output := msg.result.Output
	if output == nil {
		output = make(map[string]any)
	}
	r.completed[msg.nodeID] = output
	r.exec.RunData[msg.nodeID] = output
	r.persistNode(msg.nodeID, models.NodeSuccess, msg.attempt, output, nil)
	r.publish(models.Event{Type: models.EventNodeSuccess, NodeID: msg.nodeID, Status: string(models.NodeSuccess)})

	r.resolveEdges(msg.nodeID, output, msg.result.SelectedKeys)
}

func (r *run) handleResume(msg resumeMsg) {
	var nodeID string
	for id, susp := range r.suspended {
		if susp.CorrelationID == msg.correlationID {
			nodeID = id
			break
		}
	}
	if nodeID == "" {
		msg.reply <- errs.New(errs.KindInvalidState, "no suspended node matches the correlation id")
		return
	}
	delete(r.suspended, nodeID)

	if len(r.suspended) == 0 {
		r.setStatus(models.ExecutionRunning)
		r.persistExecution()
	}
	r.publish(models.Event{Type: models.EventResumed, NodeID: nodeID})

	output := msg.payload
	if output == nil {
		output = make(map[string]any)
	}
	r.completed[nodeID] = output
	r.exec.RunData[nodeID] = output
	r.persistNode(nodeID, models.NodeSuccess, 1, output, nil)
	r.publish(models.Event{Type: models.EventNodeSuccess, NodeID: nodeID, Status: string(models.NodeSuccess)})
	r.resolveEdges(nodeID, output, nil)

	msg.reply <- nil
}

// drainCanceled waits out the grace period for in-flight tasks, then
// force-marks whatever is still running.
func (r *run) drainCanceled() {
	for id := range r.suspended {
		r.persistNode(id, models.NodeCanceled, 1, nil, nil)
		delete(r.suspended, id)
	}

	grace := time.NewTimer(r.engine.cfg.CancelGracePeriod)
	defer grace.Stop()

	drained := make(map[string]bool)
	for r.runningN > 0 {
		select {
		case msg := <-r.doneCh:
			r.runningN--
			drained[msg.nodeID] = true
			r.persistNode(msg.nodeID, models.NodeCanceled, msg.attempt, nil, nil)
		case <-grace.C:
			r.log.Warn("grace period elapsed with node tasks still running", "count", r.runningN)
			for id := range r.started {
				if drained[id] || r.skipped[id] {
					continue
				}
				if _, ok := r.completed[id]; ok {
					continue
				}
				if _, ok := r.failed[id]; ok {
					continue
				}
				r.persistNode(id, models.NodeCanceled, 1, nil, nil)
			}
			r.runningN = 0
		}
	}
}

func (r *run) finalize() {
	now := time.Now().UTC()
	r.exec.EndedAt = &now

	var eventType models.EventType
	switch {
	case r.stopOnError:
		r.setStatus(models.ExecutionError)
		eventType = models.EventExecutionFailed
	case r.cancelRequested.Load():
		r.setStatus(models.ExecutionCanceled)
		eventType = models.EventExecutionCanceled
	case errors.Is(r.ctx.Err(), context.DeadlineExceeded):
		r.exec.Errors = append(r.exec.Errors, models.NodeError{
			Kind: string(errs.KindTimeout), Message: "workflow timeout exceeded",
		})
		r.setStatus(models.ExecutionCanceled)
		eventType = models.EventExecutionCanceled
	case len(r.failed) > 0:
		r.setStatus(models.ExecutionError)
		eventType = models.EventExecutionFailed
	default:
		r.setStatus(models.ExecutionSuccess)
		eventType = models.EventExecutionCompleted
	}

	r.persistExecution()
	r.publish(models.Event{Type: eventType, Status: string(r.exec.Status), Data: errorData(r.exec.Errors)})
	r.engine.deps.Bus.Close(r.exec.ID)

	r.log.Info("execution finished", "status", r.exec.Status, "nodes_completed", len(r.completed), "nodes_failed", len(r.failed))
}

// startNode snapshots the node's input and launches its task
func (r *run) startNode(id string) {
	if r.started[id] || r.skipped[id] {
		return
	}
	r.started[id] = true

	node, ok := r.graph.Node(id)
	if !ok {
		return
	}

	input := r.inputs[id]
	if input == nil {
		input = make(map[string]any)
	}

	r.persistNode(id, models.NodeRunning, 1, nil, nil)
	r.runningN++
	go r.task(node, input)
}

// task runs one node with retries. The input snapshot is fixed across
// attempts; each attempt gets a fresh per-node deadline.
func (r *run) task(node *models.Node, input map[string]any) {
	if err := r.engine.taskSem.Acquire(r.ctx, 1); err != nil {
		r.doneCh <- nodeDone{nodeID: node.ID, attempt: 1, err: errs.Wrap(errs.KindCanceled, err, "node task admission")}
		return
	}
	defer r.engine.taskSem.Release(1)

	policy := node.EffectiveRetryPolicy(r.settings)
	maxTries := policy.MaxTries
	if maxTries < 1 {
		maxTries = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxTries; attempt++ {
		r.publish(models.Event{
			Type: models.EventNodeRunning, NodeID: node.ID, Status: string(models.NodeRunning),
			Data: map[string]any{"attempt": attempt},
		})

		nc := r.nodeContext(node, input, attempt)

		nodeCtx, cancel := context.WithTimeout(r.ctx, r.engine.nodeTimeout(node))
		res, err := r.engine.deps.Executors.Execute(nodeCtx, nc)
		cancel()

		if err == nil {
			r.doneCh <- nodeDone{nodeID: node.ID, attempt: attempt, result: res}
			return
		}

		if r.ctx.Err() != nil {
			r.doneCh <- nodeDone{nodeID: node.ID, attempt: attempt, err: errs.Wrap(errs.KindCanceled, r.ctx.Err(), "node canceled")}
			return
		}
		if errors.Is(err, context.DeadlineExceeded) && errs.KindOf(err) != errs.KindTimeout {
			err = errs.Wrap(errs.KindTimeout, err, "node %s exceeded its deadline", node.ID)
		}
		lastErr = err

		if attempt < maxTries {
			wait := time.Duration(policy.WaitBetweenTries) * time.Second
			if sleepErr := r.engine.sleep(r.ctx, wait); sleepErr != nil {
				r.doneCh <- nodeDone{nodeID: node.ID, attempt: attempt, err: errs.Wrap(errs.KindCanceled, sleepErr, "retry wait canceled")}
				return
			}
		}
	}

	r.doneCh <- nodeDone{nodeID: node.ID, attempt: maxTries, err: lastErr}
}

// nodeContext assembles the execution context for one node attempt
func (r *run) nodeContext(node *models.Node, input map[string]any, attempt int) *executors.Context {
	return &executors.Context{
		ExecutionID:     r.exec.ID,
		Workflow:        r.wf,
		Node:            node,
		Params:          params.Merge(nil, node.Configurations, node.InputParams),
		Input:           input,
		ExecutionInputs: r.exec.Inputs,
		Attempt:         attempt,
		Adapters:        r.engine.deps.Adapters,
		Sandbox:         r.engine.deps.Sandbox,
		Credentials:     r.engine.deps.Credentials,
		Memory:          r.engine.deps.Memory,
		Model:           r.engine.deps.Model,
		Loop:            &loopDriver{r: r},
		Log:             r.log.WithNodeID(node.ID),
	}
}

// resolveEdges delivers a completed node's output along its outgoing
// connections. Edges whose output key is not in the selected set resolve as
// void; a node whose inputs are all void is skipped.
func (r *run) resolveEdges(fromID string, output map[string]any, selectedKeys []string) {
	selected := map[string]bool{}
	for _, k := range selectedKeys {
		selected[k] = true
	}

	for _, conn := range r.graph.Outgoing(fromID) {
		key := conn.Key()
		if selectedKeys != nil && !selected[key] {
			r.resolveVoid(conn.ToNode)
			continue
		}

		r.contribute(conn.ToNode, key, r.convertEdge(conn, output))
		r.resolveEdge(conn.ToNode)
	}
}

// convertEdge applies one connection's output-key extraction and conversion
// function to the sending node's output, returning the slot value for the
// receiving side.
func (r *run) convertEdge(conn models.Connection, output map[string]any) any {
	key := conn.Key()
	value, ok := output[key]
	if !ok {
		// no slot under this key: the whole mapping is the value
		value = output
	}

	wrapped := map[string]any{
		key: value,
		"meta": map[string]any{
			"from_node":    conn.FromNode,
			"to_node":      conn.ToNode,
			"execution_id": r.exec.ID.String(),
		},
	}
	converted := r.engine.deps.Sandbox.Convert(conn.ConversionFunction, wrapped)

	slot, ok := converted[key]
	if !ok {
		delete(converted, "meta")
		slot = converted
	}
	return slot
}

// resolveWithSlot delivers the same slot value along every outgoing edge.
// Used for skipped nodes (empty mapping) and continue_error payloads.
func (r *run) resolveWithSlot(fromID string, slot any) {
	for _, conn := range r.graph.Outgoing(fromID) {
		r.contribute(conn.ToNode, conn.Key(), slot)
		r.resolveEdge(conn.ToNode)
	}
}

// contribute merges a value into a node's accumulated input. A second write
// to the same key concatenates into a list preserving completion order.
func (r *run) contribute(to, key string, value any) {
	in := r.inputs[to]
	if in == nil {
		in = make(map[string]any)
		r.inputs[to] = in
	}
	w := r.writes[to]
	if w == nil {
		w = make(map[string]int)
		r.writes[to] = w
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

func (r *run) resolveEdge(to string) {
	r.pending[to]--
	if r.pending[to] > 0 {
		return
	}
	if r.voidIn[to] == r.totalIn[to] && r.totalIn[to] > 0 {
		r.markSkipped(to, true)
		return
	}
	r.startNode(to)
}

func (r *run) resolveVoid(to string) {
	r.voidIn[to]++
	r.resolveEdge(to)
}

// markSkipped marks a node skipped and propagates void along its edges
func (r *run) markSkipped(id string, propagate bool) {
	if r.skipped[id] || r.started[id] {
		return
	}
	r.skipped[id] = true
	r.persistNode(id, models.NodeSkipped, 0, nil, nil)
	r.publish(models.Event{Type: models.EventNodeSkipped, NodeID: id, Status: string(models.NodeSkipped)})

	if propagate {
		for _, conn := range r.graph.Outgoing(id) {
			r.resolveVoid(conn.ToNode)
		}
	}
}

func (r *run) setStatus(to models.ExecutionStatus) {
	if r.exec.Status == to || !r.exec.Status.CanTransition(to) {
		if r.exec.Status != to {
			r.log.Warn("suppressed invalid status transition", "from", r.exec.Status, "to", to)
		}
		return
	}
	r.exec.Status = to
}

func (r *run) publish(event models.Event) {
	r.engine.deps.Bus.Publish(context.Background(), r.exec.ID, event)
}

func (r *run) persistExecution() {
	if err := r.engine.deps.Store.UpdateState(context.Background(), r.exec); err != nil {
		r.log.Error("failed to persist execution state", "error", err)
	}
}

func (r *run) persistNode(nodeID string, status models.NodeStatus, attempt int, output map[string]any, nodeErr *models.NodeError) {
	ne := &models.NodeExecution{
		ExecutionID: r.exec.ID,
		NodeID:      nodeID,
		Status:      status,
		Attempt:     attempt,
		Output:      output,
		Error:       nodeErr,
	}
	now := time.Now().UTC()
	if status == models.NodeRunning {
		ne.StartedAt = &now
		ne.Input = r.inputs[nodeID]
	} else {
		ne.EndedAt = &now
	}
	if err := r.engine.deps.Store.UpsertNode(context.Background(), ne); err != nil {
		r.log.Error("failed to persist node execution", "node_id", nodeID, "error", err)
	}
}

func toNodeError(nodeID string, attempt int, err error) models.NodeError {
	kind := errs.KindOf(err)
	message := err.Error()
	var classified *errs.Error
	if errors.As(err, &classified) && classified.Message != "" {
		message = classified.Message
	}
	return models.NodeError{NodeID: nodeID, Kind: string(kind), Message: message, Attempt: attempt}
}

func errorData(nodeErrors []models.NodeError) map[string]any {
	if len(nodeErrors) == 0 {
		return nil
	}
	last := nodeErrors[len(nodeErrors)-1]
	return map[string]any{"kind": last.Kind, "message": last.Message, "node_id": last.NodeID}
}
