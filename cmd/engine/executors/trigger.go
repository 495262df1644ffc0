package executors

import (
	"context"

	"github.com/lumenflow/orchestrator/common/models"
)

// TriggerExecutor starts an execution. Manual and webhook triggers carry the
// initial inputs through unchanged; ingress-driven subtypes (cron, calendar,
// email, form, chat) arrive with pre-populated inputs and only validate.
type TriggerExecutor struct{}

// NewTriggerExecutor creates the trigger executor
func NewTriggerExecutor() *TriggerExecutor {
	return &TriggerExecutor{}
}

func (e *TriggerExecutor) Kind() models.NodeKind { return models.KindTrigger }

func (e *TriggerExecutor) Execute(ctx context.Context, nc *Context) (*Result, error) {
	output := nc.ExecutionInputs
	if output == nil {
		output = make(map[string]any)
	}
	return &Result{Output: output}, nil
}
