package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"

	"github.com/lumenflow/orchestrator/cmd/engine/events"
	"github.com/lumenflow/orchestrator/cmd/engine/executors"
	"github.com/lumenflow/orchestrator/cmd/engine/sandbox"
	"github.com/lumenflow/orchestrator/common/config"
	"github.com/lumenflow/orchestrator/common/errs"
	"github.com/lumenflow/orchestrator/common/logger"
	"github.com/lumenflow/orchestrator/common/models"
)

type fakeStore struct {
	mu       sync.Mutex
	statuses map[uuid.UUID][]models.ExecutionStatus
	nodes    map[string]models.NodeExecution
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		statuses: make(map[uuid.UUID][]models.ExecutionStatus),
		nodes:    make(map[string]models.NodeExecution),
	}
}

func (s *fakeStore) Create(ctx context.Context, exec *models.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[exec.ID] = append(s.statuses[exec.ID], exec.Status)
	return nil
}

func (s *fakeStore) UpdateState(ctx context.Context, exec *models.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[exec.ID] = append(s.statuses[exec.ID], exec.Status)
	return nil
}

func (s *fakeStore) UpsertNode(ctx context.Context, ne *models.NodeExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.nodes[ne.NodeID]
	if ok && ne.Input == nil {
		ne.Input = existing.Input
	}
	s.nodes[ne.NodeID] = *ne
	return nil
}

func (s *fakeStore) node(t *testing.T, id string) models.NodeExecution {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	ne, ok := s.nodes[id]
	require.True(t, ok, "no node execution recorded for %q", id)
	return ne
}

func (s *fakeStore) statusHistory(execID uuid.UUID) []models.ExecutionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ExecutionStatus{}, s.statuses[execID]...)
}

// stubExecutor stands in for the external_action kind so tests can script
// failures without a live adapter.
type stubExecutor struct {
	fn func(ctx context.Context, nc *executors.Context) (*executors.Result, error)
}

func (s *stubExecutor) Kind() models.NodeKind { return models.KindExternalAction }

func (s *stubExecutor) Execute(ctx context.Context, nc *executors.Context) (*executors.Result, error) {
	return s.fn(ctx, nc)
}

func testEngineConfig() config.EngineConfig {
	return config.EngineConfig{
		MaxWorkflowTimeout:      30 * time.Second,
		DefaultNodeTimeout:      5 * time.Second,
		MaxConcurrentExecutions: 8,
		MaxConcurrentNodeTasks:  64,
		CancelGracePeriod:       500 * time.Millisecond,
	}
}

func newTestEngine(t *testing.T, store *fakeStore, extra ...executors.Executor) *Engine {
	t.Helper()
	log := logger.New("error", "json")
	sb, err := sandbox.New(log)
	require.NoError(t, err)

	execs := []executors.Executor{
		executors.NewTriggerExecutor(),
		executors.NewActionExecutor(),
		executors.NewFlowExecutor(),
	}
	execs = append(execs, extra...)

	return NewEngine(testEngineConfig(), Deps{
		Store:     store,
		Executors: executors.NewRegistry(execs...),
		Sandbox:   sb,
		Bus:       events.NewBus(nil, log),
		Logger:    log,
	})
}

func trigger() models.Node {
	return models.Node{ID: "start", Kind: models.KindTrigger, Subtype: "manual"}
}

func transform(id, expression string) models.Node {
	return models.Node{
		ID: id, Kind: models.KindAction, Subtype: "transform",
		Configurations: map[string]any{"expression": expression},
	}
}

func merge(id string) models.Node {
	return models.Node{ID: id, Kind: models.KindFlow, Subtype: "merge"}
}

func conn(from, to string) models.Connection {
	return models.Connection{FromNode: from, ToNode: to}
}

func workflow(nodes []models.Node, conns []models.Connection) *models.Workflow {
	return &models.Workflow{
		ID: uuid.New(), OwnerID: "u1", Name: "test",
		Nodes: nodes, Connections: conns,
	}
}

func runToEnd(t *testing.T, e *Engine, wf *models.Workflow, req *models.ExecuteRequest) *models.Execution {
	t.Helper()
	exec, err := e.Execute(context.Background(), wf, req)
	require.NoError(t, err)
	e.Wait(exec.ID)
	return exec
}

func TestExecute_LinearWorkflow(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(t, store)

	wf := workflow(
		[]models.Node{trigger(), transform("double", `{"result": input.result.n * 2}`)},
		[]models.Connection{conn("start", "double")},
	)

	exec := runToEnd(t, e, wf, &models.ExecuteRequest{Inputs: map[string]any{"n": int64(21)}})

	assert.Equal(t, models.ExecutionSuccess, exec.Status)
	assert.Empty(t, exec.Errors)
	require.NotNil(t, exec.StartedAt)
	require.NotNil(t, exec.EndedAt)

	double := store.node(t, "double")
	assert.Equal(t, models.NodeSuccess, double.Status)
	assert.Equal(t, int64(42), double.Output["result"])
	assert.Equal(t, map[string]any{"result": map[string]any{"n": int64(21)}}, double.Input)
}

func TestExecute_EventsCoverLifecycle(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(t, store)

	wf := workflow(
		[]models.Node{trigger(), transform("noop", `input`)},
		[]models.Connection{conn("start", "noop")},
	)

	exec, err := e.Execute(context.Background(), wf, nil)
	require.NoError(t, err)

	replay, live, cancel := e.deps.Bus.Subscribe(exec.ID)
	defer cancel()

	collected := append([]models.Event{}, replay...)
	for ev := range live {
		collected = append(collected, ev)
	}

	require.NotEmpty(t, collected)
	assert.Equal(t, models.EventExecutionStarted, collected[0].Type)
	assert.Equal(t, models.EventExecutionCompleted, collected[len(collected)-1].Type)
	for i := 1; i < len(collected); i++ {
		assert.Greater(t, collected[i].Sequence, collected[i-1].Sequence)
	}
}

func TestExecute_FanInConcatenatesOnSharedKey(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(t, store)

	wf := workflow(
		[]models.Node{
			trigger(),
			transform("a", `{"result": "from_a"}`),
			transform("b", `{"result": "from_b"}`),
			merge("join"),
		},
		[]models.Connection{
			conn("start", "a"), conn("start", "b"),
			conn("a", "join"), conn("b", "join"),
		},
	)

	exec := runToEnd(t, e, wf, nil)
	require.Equal(t, models.ExecutionSuccess, exec.Status)

	join := store.node(t, "join")
	merged, ok := join.Output["result"].([]any)
	require.True(t, ok, "both branch outputs should concatenate under the shared key")
	assert.ElementsMatch(t, []any{"from_a", "from_b"}, merged)
}

func TestExecute_RetryThenSucceed(t *testing.T) {
	store := newFakeStore()
	var calls atomic.Int32
	stub := &stubExecutor{fn: func(ctx context.Context, nc *executors.Context) (*executors.Result, error) {
		if calls.Add(1) < 3 {
			return nil, errs.New(errs.KindUpstreamTransient, "upstream hiccup")
		}
		return &executors.Result{Output: map[string]any{"ok": true}}, nil
	}}
	e := newTestEngine(t, store, stub)

	var mu sync.Mutex
	var slept []time.Duration
	e.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		slept = append(slept, d)
		mu.Unlock()
		return nil
	}

	flaky := models.Node{
		ID: "flaky", Kind: models.KindExternalAction, Subtype: "github",
		RetryPolicy: &models.RetryPolicy{MaxTries: 3, WaitBetweenTries: 2},
	}
	wf := workflow([]models.Node{trigger(), flaky}, []models.Connection{conn("start", "flaky")})

	exec := runToEnd(t, e, wf, nil)

	assert.Equal(t, models.ExecutionSuccess, exec.Status)
	assert.EqualValues(t, 3, calls.Load())
	mu.Lock()
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, slept)
	mu.Unlock()

	ne := store.node(t, "flaky")
	assert.Equal(t, models.NodeSuccess, ne.Status)
	assert.Equal(t, 3, ne.Attempt)
}

func TestExecute_RetriesExhausted(t *testing.T) {
	store := newFakeStore()
	stub := &stubExecutor{fn: func(ctx context.Context, nc *executors.Context) (*executors.Result, error) {
		return nil, errs.New(errs.KindUpstreamTransient, "still down")
	}}
	e := newTestEngine(t, store, stub)
	e.sleep = func(ctx context.Context, d time.Duration) error { return nil }

	flaky := models.Node{
		ID: "flaky", Kind: models.KindExternalAction, Subtype: "github",
		RetryPolicy: &models.RetryPolicy{MaxTries: 2, WaitBetweenTries: 1},
	}
	wf := workflow([]models.Node{trigger(), flaky}, []models.Connection{conn("start", "flaky")})

	exec := runToEnd(t, e, wf, nil)

	assert.Equal(t, models.ExecutionError, exec.Status)
	require.Len(t, exec.Errors, 1)
	assert.Equal(t, "flaky", exec.Errors[0].NodeID)
	assert.Equal(t, string(errs.KindUpstreamTransient), exec.Errors[0].Kind)
	assert.Equal(t, 2, exec.Errors[0].Attempt)

	ne := store.node(t, "flaky")
	assert.Equal(t, models.NodeFailed, ne.Status)
}

func TestExecute_ContinueRegularFeedsEmptyMapping(t *testing.T) {
	store := newFakeStore()
	stub := &stubExecutor{fn: func(ctx context.Context, nc *executors.Context) (*executors.Result, error) {
		return nil, errs.New(errs.KindUpstreamPermanent, "rejected")
	}}
	e := newTestEngine(t, store, stub)

	flaky := models.Node{
		ID: "flaky", Kind: models.KindExternalAction, Subtype: "github",
		ErrorPolicy: models.ErrorPolicyContinueRegular,
	}
	wf := workflow(
		[]models.Node{trigger(), flaky, merge("after")},
		[]models.Connection{conn("start", "flaky"), conn("flaky", "after")},
	)

	exec := runToEnd(t, e, wf, nil)

	// the node failure is still recorded on the execution
	assert.Equal(t, models.ExecutionError, exec.Status)
	require.Len(t, exec.Errors, 1)

	after := store.node(t, "after")
	assert.Equal(t, models.NodeSuccess, after.Status)
	assert.Equal(t, map[string]any{"result": map[string]any{}}, after.Output)
}

func TestExecute_ContinueErrorForwardsErrorPayload(t *testing.T) {
	store := newFakeStore()
	stub := &stubExecutor{fn: func(ctx context.Context, nc *executors.Context) (*executors.Result, error) {
		return nil, errs.New(errs.KindUpstreamPermanent, "rejected")
	}}
	e := newTestEngine(t, store, stub)

	flaky := models.Node{
		ID: "flaky", Kind: models.KindExternalAction, Subtype: "github",
		ErrorPolicy: models.ErrorPolicyContinueError,
	}
	wf := workflow(
		[]models.Node{trigger(), flaky, merge("after")},
		[]models.Connection{conn("start", "flaky"), conn("flaky", "after")},
	)

	exec := runToEnd(t, e, wf, nil)
	assert.Equal(t, models.ExecutionError, exec.Status)

	after := store.node(t, "after")
	require.Equal(t, models.NodeSuccess, after.Status)
	payload, ok := after.Output["result"].(map[string]any)
	require.True(t, ok)
	inner, ok := payload["error"].(map[string]any)
	require.True(t, ok, "downstream input must keep the error wrapper")
	assert.Equal(t, "flaky", inner["node_id"])
	assert.Equal(t, string(errs.KindUpstreamPermanent), inner["kind"])
	assert.NotEmpty(t, inner["message"])
}

func TestExecute_LoopBodyRunsPerItem(t *testing.T) {
	store := newFakeStore()
	var bodyRuns atomic.Int32
	stub := &stubExecutor{fn: func(ctx context.Context, nc *executors.Context) (*executors.Result, error) {
		bodyRuns.Add(1)
		entry, ok := nc.Input["result"].(map[string]any)
		if !ok {
			return nil, errs.New(errs.KindInvalidInput, "missing item wrapper")
		}
		n, ok := entry["item"].(int)
		if !ok {
			return nil, errs.New(errs.KindInvalidInput, "missing item")
		}
		return &executors.Result{Output: map[string]any{"result": n * 2}}, nil
	}}
	e := newTestEngine(t, store, stub)

	loop := models.Node{
		ID: "each", Kind: models.KindFlow, Subtype: "loop",
		Configurations: map[string]any{"items": []any{1, 2, 3}},
	}
	double := models.Node{ID: "double", Kind: models.KindExternalAction, Subtype: "github"}
	wf := workflow(
		[]models.Node{trigger(), loop, double, merge("sink")},
		[]models.Connection{
			conn("start", "each"),
			conn("each", "double"), conn("double", "each"),
			conn("each", "sink"),
		},
	)

	exec := runToEnd(t, e, wf, nil)

	require.Equal(t, models.ExecutionSuccess, exec.Status)
	assert.EqualValues(t, 3, bodyRuns.Load(), "the body runs once per item")

	sink := store.node(t, "sink")
	assert.Equal(t, []any{2, 4, 6}, sink.Output["result"])
}

func TestExecute_LoopBodyContinueRegularSkipsFailingItem(t *testing.T) {
	store := newFakeStore()
	stub := &stubExecutor{fn: func(ctx context.Context, nc *executors.Context) (*executors.Result, error) {
		entry, ok := nc.Input["result"].(map[string]any)
		if !ok {
			return nil, errs.New(errs.KindInvalidInput, "missing item wrapper")
		}
		n, ok := entry["item"].(int)
		if !ok {
			return nil, errs.New(errs.KindInvalidInput, "missing item")
		}
		if n == 2 {
			return nil, errs.New(errs.KindUpstreamPermanent, "rejected")
		}
		return &executors.Result{Output: map[string]any{"result": n * 2}}, nil
	}}
	e := newTestEngine(t, store, stub)

	loop := models.Node{
		ID: "each", Kind: models.KindFlow, Subtype: "loop",
		ErrorPolicy:    models.ErrorPolicyContinueRegular,
		Configurations: map[string]any{"items": []any{1, 2, 3}},
	}
	double := models.Node{ID: "double", Kind: models.KindExternalAction, Subtype: "github"}
	wf := workflow(
		[]models.Node{trigger(), loop, double, merge("sink")},
		[]models.Connection{
			conn("start", "each"),
			conn("each", "double"), conn("double", "each"),
			conn("each", "sink"),
		},
	)

	exec := runToEnd(t, e, wf, nil)

	require.Equal(t, models.ExecutionSuccess, exec.Status)
	sink := store.node(t, "sink")
	assert.Equal(t, []any{2, 6}, sink.Output["result"], "the failing item is dropped, the others kept")
}

func TestBuildGraph_LoopBackEdgeAllowed(t *testing.T) {
	wf := workflow(
		[]models.Node{
			trigger(),
			{ID: "each", Kind: models.KindFlow, Subtype: "loop"},
			transform("body", `input`),
		},
		[]models.Connection{
			conn("start", "each"),
			conn("each", "body"), conn("body", "each"),
		},
	)

	g, err := BuildGraph(wf)
	require.NoError(t, err)

	_, schedulable := g.Node("body")
	assert.False(t, schedulable, "body nodes belong to the loop, not the main graph")
	body, ok := g.Body("each")
	require.True(t, ok)
	assert.Len(t, body.members, 1)
	assert.Len(t, body.entries, 1)
	assert.Len(t, body.exits, 1)
}

func TestBuildGraph_EdgeIntoLoopBodyRejected(t *testing.T) {
	wf := workflow(
		[]models.Node{
			trigger(),
			{ID: "each", Kind: models.KindFlow, Subtype: "loop"},
			transform("body", `input`),
			transform("side", `input`),
		},
		[]models.Connection{
			conn("start", "each"), conn("start", "side"),
			conn("each", "body"), conn("body", "each"),
			conn("side", "body"),
		},
	)

	_, err := BuildGraph(wf)
	require.Error(t, err)
	assert.Equal(t, errs.KindInvalidWorkflow, errs.KindOf(err))
}

func TestExecute_StopPolicyCancelsSiblings(t *testing.T) {
	store := newFakeStore()
	stub := &stubExecutor{fn: func(ctx context.Context, nc *executors.Context) (*executors.Result, error) {
		return nil, errs.New(errs.KindUpstreamPermanent, "rejected")
	}}
	e := newTestEngine(t, store, stub)

	failing := models.Node{ID: "failing", Kind: models.KindExternalAction, Subtype: "github"}
	slow := models.Node{
		ID: "slow", Kind: models.KindFlow, Subtype: "wait",
		Configurations: map[string]any{"duration_seconds": int64(30)},
	}
	wf := workflow(
		[]models.Node{trigger(), failing, slow},
		[]models.Connection{conn("start", "failing"), conn("start", "slow")},
	)

	started := time.Now()
	exec := runToEnd(t, e, wf, nil)

	assert.Equal(t, models.ExecutionError, exec.Status)
	assert.Less(t, time.Since(started), 5*time.Second, "siblings must stop within the grace period, not run out the clock")
	assert.Equal(t, models.NodeCanceled, store.node(t, "slow").Status)
	assert.Equal(t, models.NodeFailed, store.node(t, "failing").Status)
}

func TestExecute_UnselectedBranchIsSkipped(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(t, store)

	gate := models.Node{
		ID: "gate", Kind: models.KindFlow, Subtype: "if",
		Configurations: map[string]any{"condition": `input.result.go_left`},
	}
	wf := workflow(
		[]models.Node{trigger(), gate, merge("left"), merge("right"), merge("tail")},
		[]models.Connection{
			conn("start", "gate"),
			{FromNode: "gate", ToNode: "left", OutputKey: "true"},
			{FromNode: "gate", ToNode: "right", OutputKey: "false"},
			conn("right", "tail"),
		},
	)

	exec := runToEnd(t, e, wf, &models.ExecuteRequest{Inputs: map[string]any{"go_left": true}})

	assert.Equal(t, models.ExecutionSuccess, exec.Status)
	assert.Equal(t, models.NodeSuccess, store.node(t, "left").Status)
	assert.Equal(t, models.NodeSkipped, store.node(t, "right").Status)
	// skipping propagates through the dead branch
	assert.Equal(t, models.NodeSkipped, store.node(t, "tail").Status)
}

func TestExecute_StartFromNode(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(t, store)

	wf := workflow(
		[]models.Node{trigger(), transform("n1", `input`), transform("n2", `{"result": input.n * 2}`)},
		[]models.Connection{conn("start", "n1"), conn("n1", "n2")},
	)

	exec := runToEnd(t, e, wf, &models.ExecuteRequest{
		StartFromNode: "n2",
		Inputs:        map[string]any{"n": int64(21)},
	})

	assert.Equal(t, models.ExecutionSuccess, exec.Status)
	assert.Equal(t, models.NodeSkipped, store.node(t, "start").Status)
	assert.Equal(t, models.NodeSkipped, store.node(t, "n1").Status)

	n2 := store.node(t, "n2")
	assert.Equal(t, models.NodeSuccess, n2.Status)
	assert.Equal(t, int64(42), n2.Output["result"])
}

func TestExecute_StartFromUnknownNode(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(t, store)

	wf := workflow([]models.Node{trigger()}, nil)

	_, err := e.Execute(context.Background(), wf, &models.ExecuteRequest{StartFromNode: "ghost"})
	require.Error(t, err)
	assert.Equal(t, errs.KindInvalidInput, errs.KindOf(err))
}

func TestExecute_Cancel(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(t, store)

	slow := models.Node{
		ID: "slow", Kind: models.KindFlow, Subtype: "wait",
		Configurations: map[string]any{"duration_seconds": int64(30)},
	}
	wf := workflow([]models.Node{trigger(), slow}, []models.Connection{conn("start", "slow")})

	exec, err := e.Execute(context.Background(), wf, nil)
	require.NoError(t, err)

	// let the slow node get going before canceling
	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		ne, ok := store.nodes["slow"]
		return ok && ne.Status == models.NodeRunning
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, e.Cancel(context.Background(), exec.ID))
	e.Wait(exec.ID)

	assert.Equal(t, models.ExecutionCanceled, exec.Status)
	assert.Equal(t, models.NodeCanceled, store.node(t, "slow").Status)
}

func TestCancel_UnknownExecution(t *testing.T) {
	e := newTestEngine(t, newFakeStore())
	err := e.Cancel(context.Background(), uuid.New())
	require.Error(t, err)
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
}

func TestExecute_NodeTimeout(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(t, store)
	e.cfg.DefaultNodeTimeout = 50 * time.Millisecond

	slow := models.Node{
		ID: "slow", Kind: models.KindFlow, Subtype: "wait",
		Configurations: map[string]any{"duration_seconds": int64(30)},
	}
	wf := workflow([]models.Node{trigger(), slow}, []models.Connection{conn("start", "slow")})

	exec := runToEnd(t, e, wf, nil)

	assert.Equal(t, models.ExecutionError, exec.Status)
	require.Len(t, exec.Errors, 1)
	assert.Equal(t, string(errs.KindTimeout), exec.Errors[0].Kind)
}

func TestExecute_NoTriggerRejected(t *testing.T) {
	e := newTestEngine(t, newFakeStore())

	wf := workflow([]models.Node{transform("only", `input`)}, nil)

	_, err := e.Execute(context.Background(), wf, nil)
	require.Error(t, err)
	assert.Equal(t, errs.KindInvalidWorkflow, errs.KindOf(err))
}

func TestExecute_CycleRejected(t *testing.T) {
	e := newTestEngine(t, newFakeStore())

	wf := workflow(
		[]models.Node{trigger(), transform("a", `input`), transform("b", `input`)},
		[]models.Connection{conn("start", "a"), conn("a", "b"), conn("b", "a")},
	)

	_, err := e.Execute(context.Background(), wf, nil)
	require.Error(t, err)
	assert.Equal(t, errs.KindInvalidWorkflow, errs.KindOf(err))
}

func TestExecute_ConcurrentExecutionCap(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(t, store)
	e.execSem = semaphore.NewWeighted(1)

	slow := models.Node{
		ID: "slow", Kind: models.KindFlow, Subtype: "wait",
		Configurations: map[string]any{"duration_seconds": int64(30)},
	}
	wf := workflow([]models.Node{trigger(), slow}, []models.Connection{conn("start", "slow")})

	first, err := e.Execute(context.Background(), wf, nil)
	require.NoError(t, err)

	_, err = e.Execute(context.Background(), wf, nil)
	require.Error(t, err)
	assert.Equal(t, errs.KindRateLimited, errs.KindOf(err))

	require.NoError(t, e.Cancel(context.Background(), first.ID))
	e.Wait(first.ID)
}

func TestResume_WaitingExecution(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(t, store)

	hold := models.Node{
		ID: "hold", Kind: models.KindFlow, Subtype: "wait",
		Configurations: map[string]any{"until_signal": true},
	}
	wf := workflow(
		[]models.Node{trigger(), hold, merge("after")},
		[]models.Connection{conn("start", "hold"), conn("hold", "after")},
	)

	exec, err := e.Execute(context.Background(), wf, nil)
	require.NoError(t, err)

	replay, live, cancel := e.deps.Bus.Subscribe(exec.ID)
	defer cancel()

	correlationID := awaitCorrelationID(t, replay, live)

	err = e.Resume(context.Background(), exec.ID, "not-a-real-correlation-id", nil)
	require.Error(t, err)
	assert.Equal(t, errs.KindInvalidState, errs.KindOf(err))

	err = e.Resume(context.Background(), exec.ID, correlationID, map[string]any{"approved": true})
	require.NoError(t, err)
	e.Wait(exec.ID)

	assert.Equal(t, models.ExecutionSuccess, exec.Status)
	assert.Contains(t, store.statusHistory(exec.ID), models.ExecutionWaiting)

	after := store.node(t, "after")
	assert.Equal(t, models.NodeSuccess, after.Status)
	assert.Equal(t, map[string]any{"result": map[string]any{"approved": true}}, after.Output)
}

func TestResume_UnknownExecution(t *testing.T) {
	e := newTestEngine(t, newFakeStore())
	err := e.Resume(context.Background(), uuid.New(), "anything", nil)
	require.Error(t, err)
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
}

func awaitCorrelationID(t *testing.T, replay []models.Event, live <-chan models.Event) string {
	t.Helper()
	for _, ev := range replay {
		if ev.Type == models.EventWaiting {
			return ev.Data["correlation_id"].(string)
		}
	}
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-live:
			if !ok {
				t.Fatal("event stream closed before the waiting event arrived")
			}
			if ev.Type == models.EventWaiting {
				return ev.Data["correlation_id"].(string)
			}
		case <-deadline:
			t.Fatal("timed out waiting for the waiting event")
		}
	}
}
