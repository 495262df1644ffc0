package executors

import (
	"context"

	"github.com/google/uuid"

	"github.com/lumenflow/orchestrator/cmd/engine/params"
	"github.com/lumenflow/orchestrator/common/models"
)

// HumanExecutor parks the execution until an external callback resumes it.
// The prompt is delivered out of band (Slack, email, in-app) keyed on the
// correlation id; delivery happens best-effort through the node's channel
// adapter when one is configured.
type HumanExecutor struct{}

// NewHumanExecutor creates the human-in-the-loop executor
func NewHumanExecutor() *HumanExecutor {
	return &HumanExecutor{}
}

func (e *HumanExecutor) Kind() models.NodeKind { return models.KindHuman }

func (e *HumanExecutor) Execute(ctx context.Context, nc *Context) (*Result, error) {
	correlationID := uuid.New().String()

	prompt := map[string]any{
		"correlation_id": correlationID,
		"message":        params.String(nc.Params, "message"),
		"channel":        params.String(nc.Params, "channel"),
	}

	// Best-effort prompt delivery through Slack when configured; a failed
	// notification still suspends, the prompt stays pollable via the API.
	if params.String(nc.Params, "channel") == "slack" && nc.Node.Credential != nil {
		callParams := map[string]any{
			"channel": params.String(nc.Params, "slack_channel"),
			"text":    params.String(nc.Params, "message"),
			"user_id": nc.Node.Credential.UserID,
		}
		if _, err := nc.Adapters.Call(ctx, "slack", "send_message", callParams, nc.CredentialHandle()); err != nil {
			nc.Log.Warn("human prompt delivery failed", "node_id", nc.Node.ID, "error", err)
		}
	}

	return &Result{Suspend: &Suspension{CorrelationID: correlationID, Prompt: prompt}}, nil
}
