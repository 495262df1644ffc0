package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenflow/orchestrator/cmd/engine/sandbox"
	"github.com/lumenflow/orchestrator/common/cache"
	"github.com/lumenflow/orchestrator/common/errs"
	"github.com/lumenflow/orchestrator/common/logger"
	"github.com/lumenflow/orchestrator/common/models"
)

// Validation runs before the repository is touched, so these tests get away
// with a nil repo.
func newValidationService(t *testing.T) *WorkflowService {
	t.Helper()
	log := logger.New("error", "json")
	sb, err := sandbox.New(log)
	require.NoError(t, err)
	return NewWorkflowService(nil, sb, nil, log)
}

func validWorkflow() *models.Workflow {
	return &models.Workflow{
		Name:    "order-sync",
		OwnerID: "u1",
		Nodes: []models.Node{
			{ID: "start", Kind: models.KindTrigger, Subtype: "manual"},
			{ID: "shape", Kind: models.KindAction, Subtype: "transform",
				Configurations: map[string]any{"expression": "input"}},
		},
		Connections: []models.Connection{
			{FromNode: "start", ToNode: "shape"},
		},
	}
}

func TestCreate_RequiresNameAndOwner(t *testing.T) {
	svc := newValidationService(t)

	wf := validWorkflow()
	wf.Name = ""
	_, err := svc.Create(context.Background(), wf)
	require.Error(t, err)
	assert.Equal(t, errs.KindInvalidInput, errs.KindOf(err))

	wf = validWorkflow()
	wf.OwnerID = ""
	_, err = svc.Create(context.Background(), wf)
	require.Error(t, err)
	assert.Equal(t, errs.KindInvalidInput, errs.KindOf(err))
}

func TestCreate_RejectsEmptyGraph(t *testing.T) {
	svc := newValidationService(t)

	wf := validWorkflow()
	wf.Nodes = nil
	wf.Connections = nil

	_, err := svc.Create(context.Background(), wf)
	require.Error(t, err)
	assert.Equal(t, errs.KindInvalidWorkflow, errs.KindOf(err))
}

func TestCreate_RejectsCycle(t *testing.T) {
	svc := newValidationService(t)

	wf := validWorkflow()
	wf.Nodes = append(wf.Nodes, models.Node{ID: "loop", Kind: models.KindAction, Subtype: "transform",
		Configurations: map[string]any{"expression": "input"}})
	wf.Connections = append(wf.Connections,
		models.Connection{FromNode: "shape", ToNode: "loop"},
		models.Connection{FromNode: "loop", ToNode: "shape"},
	)

	_, err := svc.Create(context.Background(), wf)
	require.Error(t, err)
	assert.Equal(t, errs.KindInvalidWorkflow, errs.KindOf(err))
}

func TestCreate_RejectsMissingAttachedNode(t *testing.T) {
	svc := newValidationService(t)

	wf := validWorkflow()
	wf.Nodes[1].AttachedNodes = []string{"ghost"}

	_, err := svc.Create(context.Background(), wf)
	require.Error(t, err)
	assert.Equal(t, errs.KindInvalidWorkflow, errs.KindOf(err))
	assert.Contains(t, err.Error(), "ghost")
}

func TestCreate_RejectsWrongAttachedKind(t *testing.T) {
	svc := newValidationService(t)

	wf := validWorkflow()
	// Attaching another action node; only tool and memory attach
	wf.Nodes = append(wf.Nodes, models.Node{ID: "extra", Kind: models.KindAction, Subtype: "transform",
		Configurations: map[string]any{"expression": "input"}})
	wf.Connections = append(wf.Connections, models.Connection{FromNode: "shape", ToNode: "extra"})
	wf.Nodes[1].AttachedNodes = []string{"extra"}

	_, err := svc.Create(context.Background(), wf)
	require.Error(t, err)
	assert.Equal(t, errs.KindInvalidWorkflow, errs.KindOf(err))
}

func TestGet_DeniesForeignWorkflow(t *testing.T) {
	log := logger.New("error", "json")
	sb, err := sandbox.New(log)
	require.NoError(t, err)
	c := cache.NewMemoryCache(log)
	defer c.Close()
	svc := NewWorkflowService(nil, sb, c, log)

	// Seed the read cache so Get never reaches the nil repo
	wf := validWorkflow()
	wf.ID = uuid.New()
	raw, err := json.Marshal(wf)
	require.NoError(t, err)
	require.NoError(t, c.Set(context.Background(), workflowCacheKey(wf.ID), raw, time.Minute))

	_, err = svc.Get(context.Background(), "someone-else", wf.ID)
	require.Error(t, err)
	assert.Equal(t, errs.KindUnauthorized, errs.KindOf(err))

	got, err := svc.Get(context.Background(), "u1", wf.ID)
	require.NoError(t, err)
	assert.Equal(t, wf.ID, got.ID)
}

func TestCreate_RejectsBrokenConversionFunction(t *testing.T) {
	svc := newValidationService(t)

	wf := validWorkflow()
	wf.Connections[0].ConversionFunction = "input..broken"

	_, err := svc.Create(context.Background(), wf)
	require.Error(t, err)
	assert.Equal(t, errs.KindInvalidWorkflow, errs.KindOf(err))
}
