package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/lumenflow/orchestrator/cmd/engine/events"
	"github.com/lumenflow/orchestrator/cmd/engine/repository"
	"github.com/lumenflow/orchestrator/cmd/engine/scheduler"
	"github.com/lumenflow/orchestrator/common/errs"
	"github.com/lumenflow/orchestrator/common/logger"
	"github.com/lumenflow/orchestrator/common/models"
	"github.com/lumenflow/orchestrator/common/ratelimit"
)

// ExecutionService fronts the execution engine for the HTTP layer
type ExecutionService struct {
	workflows  *repository.WorkflowRepository
	executions *repository.ExecutionRepository
	engine     *scheduler.Engine
	bus        *events.Bus
	limiter    *ratelimit.RateLimiter
	log        *logger.Logger
}

// NewExecutionService creates the execution service. The limiter is optional;
// without one, execution starts are not throttled.
func NewExecutionService(
	workflows *repository.WorkflowRepository,
	executions *repository.ExecutionRepository,
	engine *scheduler.Engine,
	bus *events.Bus,
	limiter *ratelimit.RateLimiter,
	log *logger.Logger,
) *ExecutionService {
	return &ExecutionService{
		workflows:  workflows,
		executions: executions,
		engine:     engine,
		bus:        bus,
		limiter:    limiter,
		log:        log,
	}
}

// ExecutionDetail is an execution row plus its per-node records
type ExecutionDetail struct {
	Execution *models.Execution       `json:"execution"`
	Nodes     []*models.NodeExecution `json:"nodes"`
}

// Execute starts a run of the given workflow on behalf of its owner
func (s *ExecutionService) Execute(ctx context.Context, userID string, workflowID uuid.UUID, req *models.ExecuteRequest) (*models.Execution, error) {
	wf, err := s.workflows.GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if err := authorizeOwner(wf.OwnerID, userID); err != nil {
		return nil, err
	}

	if s.limiter != nil {
		tier := ratelimit.InspectWorkflow(wf).Tier
		res, limitErr := s.limiter.CheckTieredLimit(ctx, wf.OwnerID, tier)
		if limitErr != nil {
			// Redis being down should not block runs
			s.log.Warn("rate limit check unavailable", "error", limitErr)
		} else if !res.Allowed {
			return nil, errs.New(errs.KindRateLimited,
				"rate limit for %s workflows exceeded, retry in %ds", tier, res.RetryAfterSeconds)
		}
	}

	exec, err := s.engine.Execute(ctx, wf, req)
	if err != nil {
		return nil, err
	}

	s.log.Info("execution started", "execution_id", exec.ID, "workflow_id", workflowID, "mode", exec.Mode)
	return exec, nil
}

// Get returns an execution with its node records
func (s *ExecutionService) Get(ctx context.Context, userID string, id uuid.UUID) (*ExecutionDetail, error) {
	exec, err := s.authorizeExecution(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	nodes, err := s.executions.ListNodes(ctx, id)
	if err != nil {
		return nil, err
	}
	return &ExecutionDetail{Execution: exec, Nodes: nodes}, nil
}

// Cancel requests cancellation of a live execution. Canceling an execution
// that already finished is an invalid state transition, not a 404.
func (s *ExecutionService) Cancel(ctx context.Context, userID string, id uuid.UUID) error {
	if _, err := s.authorizeExecution(ctx, userID, id); err != nil {
		return err
	}

	err := s.engine.Cancel(ctx, id)
	if errs.KindOf(err) != errs.KindNotFound {
		return err
	}

	exec, getErr := s.executions.GetByID(ctx, id)
	if getErr != nil {
		return getErr
	}
	return errs.New(errs.KindInvalidState, "execution %s is already %s", id, exec.Status)
}

// Resume delivers an external callback to a waiting execution
func (s *ExecutionService) Resume(ctx context.Context, userID string, id uuid.UUID, correlationID string, payload map[string]any) error {
	if correlationID == "" {
		return errs.New(errs.KindInvalidInput, "correlation_id is required")
	}
	if _, err := s.authorizeExecution(ctx, userID, id); err != nil {
		return err
	}

	err := s.engine.Resume(ctx, id, correlationID, payload)
	if errs.KindOf(err) != errs.KindNotFound {
		return err
	}

	exec, getErr := s.executions.GetByID(ctx, id)
	if getErr != nil {
		return getErr
	}
	return errs.New(errs.KindInvalidState, "execution %s is %s, not waiting", id, exec.Status)
}

// History lists executions of a workflow, newest first
func (s *ExecutionService) History(ctx context.Context, userID string, workflowID uuid.UUID, limit, offset int) ([]*models.Execution, error) {
	wf, err := s.workflows.GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if err := authorizeOwner(wf.OwnerID, userID); err != nil {
		return nil, err
	}
	return s.executions.ListByWorkflow(ctx, workflowID, limit, offset)
}

// Subscribe attaches to an execution's event stream. For a finished
// execution the replay covers the whole run and the live channel is closed.
func (s *ExecutionService) Subscribe(ctx context.Context, userID string, id uuid.UUID) ([]models.Event, <-chan models.Event, func(), error) {
	if _, err := s.authorizeExecution(ctx, userID, id); err != nil {
		return nil, nil, nil, err
	}
	replay, live, cancel := s.bus.Subscribe(id)
	return replay, live, cancel, nil
}

// authorizeExecution loads an execution and checks the caller owns the
// workflow it belongs to.
func (s *ExecutionService) authorizeExecution(ctx context.Context, userID string, id uuid.UUID) (*models.Execution, error) {
	exec, err := s.executions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	wf, err := s.workflows.GetByID(ctx, exec.WorkflowID)
	if err != nil {
		return nil, err
	}
	if err := authorizeOwner(wf.OwnerID, userID); err != nil {
		return nil, err
	}
	return exec, nil
}
