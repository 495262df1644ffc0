package executors

import (
	"context"

	"github.com/lumenflow/orchestrator/common/errs"
	"github.com/lumenflow/orchestrator/common/logger"
	"github.com/lumenflow/orchestrator/common/models"
)

// Registry dispatches node executions by kind
type Registry struct {
	byKind map[models.NodeKind]Executor
}

// NewRegistry creates a registry from the given executors
func NewRegistry(executors ...Executor) *Registry {
	reg := &Registry{byKind: make(map[models.NodeKind]Executor)}
	for _, e := range executors {
		reg.byKind[e.Kind()] = e
	}
	return reg
}

// DefaultRegistry wires the full executor set
func DefaultRegistry(memory MemoryStore, model ModelInvoker, log *logger.Logger) *Registry {
	return NewRegistry(
		NewTriggerExecutor(),
		NewActionExecutor(),
		NewExternalActionExecutor(),
		NewToolExecutor(),
		NewFlowExecutor(),
		NewHumanExecutor(),
		NewAgentExecutor(model),
		NewMemoryExecutor(memory),
	)
}

// Execute runs one node through its kind's executor
func (r *Registry) Execute(ctx context.Context, nc *Context) (*Result, error) {
	e, ok := r.byKind[nc.Node.Kind]
	if !ok {
		return nil, errs.New(errs.KindInvalidWorkflow, "no executor for node kind %q", nc.Node.Kind)
	}
	return e.Execute(ctx, nc)
}

// Supports reports whether a node kind has an executor
func (r *Registry) Supports(kind models.NodeKind) bool {
	_, ok := r.byKind[kind]
	return ok
}
