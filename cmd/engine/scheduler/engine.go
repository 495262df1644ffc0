package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/lumenflow/orchestrator/cmd/engine/adapters"
	"github.com/lumenflow/orchestrator/cmd/engine/events"
	"github.com/lumenflow/orchestrator/cmd/engine/executors"
	"github.com/lumenflow/orchestrator/cmd/engine/sandbox"
	"github.com/lumenflow/orchestrator/common/config"
	"github.com/lumenflow/orchestrator/common/errs"
	"github.com/lumenflow/orchestrator/common/logger"
	"github.com/lumenflow/orchestrator/common/models"
)

// ExecutionStore persists execution and node state. Implemented by
// repository.ExecutionRepository; faked in tests.
type ExecutionStore interface {
	Create(ctx context.Context, exec *models.Execution) error
	UpdateState(ctx context.Context, exec *models.Execution) error
	UpsertNode(ctx context.Context, ne *models.NodeExecution) error
}

// Deps bundles the engine's collaborators
type Deps struct {
	Store       ExecutionStore
	Executors   *executors.Registry
	Sandbox     *sandbox.Sandbox
	Bus         *events.Bus
	Adapters    *adapters.Registry
	Credentials executors.CredentialFn
	Memory      executors.MemoryStore
	Model       executors.ModelInvoker
	Logger      *logger.Logger
}

// Engine runs workflow executions. Each execution owns one scheduler
// goroutine; the engine enforces the global execution and node-task caps.
type Engine struct {
	cfg  config.EngineConfig
	deps Deps
	log  *logger.Logger

	execSem *semaphore.Weighted
	taskSem *semaphore.Weighted

	mu   sync.Mutex
	runs map[uuid.UUID]*run

	// sleep is injectable so retry waits are observable in tests
	sleep func(ctx context.Context, d time.Duration) error
}

// NewEngine creates the execution engine
func NewEngine(cfg config.EngineConfig, deps Deps) *Engine {
	return &Engine{
		cfg:     cfg,
		deps:    deps,
		log:     deps.Logger,
		execSem: semaphore.NewWeighted(int64(cfg.MaxConcurrentExecutions)),
		taskSem: semaphore.NewWeighted(int64(cfg.MaxConcurrentNodeTasks)),
		runs:    make(map[uuid.UUID]*run),
		sleep:   sleepContext,
	}
}

// Execute validates the workflow, persists a new execution, and starts its
// scheduler. It returns as soon as the execution is admitted; progress
// streams through the event bus.
func (e *Engine) Execute(ctx context.Context, wf *models.Workflow, req *models.ExecuteRequest) (*models.Execution, error) {
	graph, err := BuildGraph(wf)
	if err != nil {
		return nil, err
	}

	if req == nil {
		req = &models.ExecuteRequest{}
	}

	if req.StartFromNode != "" {
		if _, ok := graph.Node(req.StartFromNode); !ok {
			return nil, errs.New(errs.KindInvalidInput, "start node %q does not exist or is not schedulable", req.StartFromNode)
		}
	} else if len(graph.Triggers()) == 0 && !req.SkipTriggerValidation {
		return nil, errs.New(errs.KindInvalidWorkflow, "workflow has no trigger node")
	}

	mode := req.Mode
	if mode == "" {
		mode = models.ModeManual
	}

	exec := &models.Execution{
		ID:                    uuid.New(),
		WorkflowID:            wf.ID,
		Status:                models.ExecutionNew,
		Mode:                  mode,
		StartFromNode:         req.StartFromNode,
		SkipTriggerValidation: req.SkipTriggerValidation,
		Inputs:                req.Inputs,
		RunData:               make(map[string]any),
		Metadata:              req.Metadata,
	}
	if err := e.deps.Store.Create(ctx, exec); err != nil {
		return nil, err
	}

	if !e.execSem.TryAcquire(1) {
		return nil, errs.New(errs.KindRateLimited, "concurrent execution limit reached")
	}

	settings := wf.Settings
	if req.Settings != nil {
		settings = req.Settings
	}

	r := newRun(e, graph, wf, settings, exec)
	e.mu.Lock()
	e.runs[exec.ID] = r
	e.mu.Unlock()

	go func() {
		defer func() {
			e.mu.Lock()
			delete(e.runs, exec.ID)
			e.mu.Unlock()
			e.execSem.Release(1)
		}()
		r.loop()
	}()

	return exec, nil
}

// Cancel requests cooperative cancellation of a live execution
func (e *Engine) Cancel(ctx context.Context, executionID uuid.UUID) error {
	e.mu.Lock()
	r, ok := e.runs[executionID]
	e.mu.Unlock()
	if !ok {
		return errs.New(errs.KindNotFound, "execution %s is not running", executionID)
	}
	r.requestCancel()
	return nil
}

// Resume delivers an external callback to a suspended execution
func (e *Engine) Resume(ctx context.Context, executionID uuid.UUID, correlationID string, payload map[string]any) error {
	e.mu.Lock()
	r, ok := e.runs[executionID]
	e.mu.Unlock()
	if !ok {
		return errs.New(errs.KindNotFound, "execution %s is not running", executionID)
	}
	return r.resume(ctx, correlationID, payload)
}

// Wait blocks until the execution's scheduler finishes. Used by tests and
// graceful shutdown.
func (e *Engine) Wait(executionID uuid.UUID) {
	e.mu.Lock()
	r, ok := e.runs[executionID]
	e.mu.Unlock()
	if ok {
		<-r.done
	}
}

// Active returns the number of live executions
func (e *Engine) Active() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.runs)
}

// workflowTimeout resolves the effective workflow deadline
func (e *Engine) workflowTimeout(settings *models.WorkflowSettings) time.Duration {
	timeout := e.cfg.MaxWorkflowTimeout
	if settings != nil && settings.TimeoutSec > 0 {
		requested := time.Duration(settings.TimeoutSec) * time.Second
		if requested < timeout {
			timeout = requested
		}
	}
	return timeout
}

// nodeTimeout resolves the effective per-node deadline
func (e *Engine) nodeTimeout(node *models.Node) time.Duration {
	if node.TimeoutSec > 0 {
		return time.Duration(node.TimeoutSec) * time.Second
	}
	return e.cfg.DefaultNodeTimeout
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
