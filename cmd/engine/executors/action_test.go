package executors

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenflow/orchestrator/cmd/engine/sandbox"
	"github.com/lumenflow/orchestrator/common/errs"
	"github.com/lumenflow/orchestrator/common/logger"
	"github.com/lumenflow/orchestrator/common/models"
)

func newActionContext(t *testing.T, node *models.Node, input map[string]any) *Context {
	t.Helper()
	log := logger.New("error", "json")
	sb, err := sandbox.New(log)
	require.NoError(t, err)

	return &Context{
		ExecutionID: uuid.New(),
		Workflow:    &models.Workflow{ID: uuid.New(), Nodes: []models.Node{*node}},
		Node:        node,
		Params:      node.Configurations,
		Input:       input,
		Sandbox:     sb,
		Log:         log,
	}
}

func TestTransform_ReshapesInput(t *testing.T) {
	node := &models.Node{
		ID: "shape", Kind: models.KindAction, Subtype: "transform",
		Configurations: map[string]any{"expression": `{"doubled": input.n * 2, "name": input.name}`},
	}
	nc := newActionContext(t, node, map[string]any{"n": int64(21), "name": "a"})

	res, err := NewActionExecutor().Execute(context.Background(), nc)
	require.NoError(t, err)
	assert.Equal(t, int64(42), res.Output["doubled"])
	assert.Equal(t, "a", res.Output["name"])
}

func TestTransform_ScalarResultWrapped(t *testing.T) {
	node := &models.Node{
		ID: "shape", Kind: models.KindAction, Subtype: "transform",
		Configurations: map[string]any{"expression": `input.n + 1`},
	}
	nc := newActionContext(t, node, map[string]any{"n": int64(1)})

	res, err := NewActionExecutor().Execute(context.Background(), nc)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Output[models.DefaultOutputKey])
}

func TestTransform_PathExtraction(t *testing.T) {
	node := &models.Node{
		ID: "pick", Kind: models.KindAction, Subtype: "transform",
		Configurations: map[string]any{"path": "items.1.name"},
	}
	input := map[string]any{
		"items": []any{
			map[string]any{"name": "first"},
			map[string]any{"name": "second"},
		},
	}
	nc := newActionContext(t, node, input)

	res, err := NewActionExecutor().Execute(context.Background(), nc)
	require.NoError(t, err)
	assert.Equal(t, "second", res.Output[models.DefaultOutputKey])
}

func TestTransform_PathNotFound(t *testing.T) {
	node := &models.Node{
		ID: "pick", Kind: models.KindAction, Subtype: "transform",
		Configurations: map[string]any{"path": "missing.field"},
	}
	nc := newActionContext(t, node, map[string]any{"items": []any{}})

	_, err := NewActionExecutor().Execute(context.Background(), nc)
	require.Error(t, err)
	assert.Equal(t, errs.KindInvalidInput, errs.KindOf(err))
}

func TestTransform_MissingExpression(t *testing.T) {
	node := &models.Node{ID: "shape", Kind: models.KindAction, Subtype: "transform"}
	nc := newActionContext(t, node, nil)

	_, err := NewActionExecutor().Execute(context.Background(), nc)
	require.Error(t, err)
	assert.Equal(t, errs.KindInvalidInput, errs.KindOf(err))
}

func TestAction_UnimplementedSubtype(t *testing.T) {
	node := &models.Node{ID: "db", Kind: models.KindAction, Subtype: "db_op"}
	nc := newActionContext(t, node, nil)

	_, err := NewActionExecutor().Execute(context.Background(), nc)
	require.Error(t, err)
	assert.Equal(t, errs.KindNotImplemented, errs.KindOf(err))
}

func TestTrigger_PassesExecutionInputs(t *testing.T) {
	node := &models.Node{ID: "start", Kind: models.KindTrigger, Subtype: "manual"}
	nc := newActionContext(t, node, nil)
	nc.ExecutionInputs = map[string]any{"order_id": "o-1"}

	res, err := NewTriggerExecutor().Execute(context.Background(), nc)
	require.NoError(t, err)
	assert.Equal(t, "o-1", res.Output["order_id"])
}

type fakeModel struct {
	lastReq *ModelRequest
	output  map[string]any
}

func (f *fakeModel) Invoke(ctx context.Context, req *ModelRequest) (map[string]any, error) {
	f.lastReq = req
	return f.output, nil
}

func TestAgent_ExposesAttachedTools(t *testing.T) {
	agent := models.Node{
		ID: "agent", Kind: models.KindAIAgent,
		Configurations: map[string]any{"system_prompt": "be helpful"},
		AttachedNodes:  []string{"lookup"},
	}
	tool := models.Node{
		ID: "lookup", Kind: models.KindTool, Subtype: "github",
		Configurations: map[string]any{"operation": "get_repository"},
		Credential:     &models.CredentialRef{UserID: "u1", Provider: "github"},
	}

	model := &fakeModel{output: map[string]any{"answer": "done"}}
	nc := newActionContext(t, &agent, map[string]any{"question": "q"})
	nc.Workflow.Nodes = []models.Node{agent, tool}
	nc.Model = model

	res, err := NewAgentExecutor(nil).Execute(context.Background(), nc)
	require.NoError(t, err)
	assert.Equal(t, "done", res.Output["answer"])

	require.Len(t, model.lastReq.Tools, 1)
	assert.Equal(t, "lookup", model.lastReq.Tools[0].Name)
	assert.Equal(t, "github", model.lastReq.Tools[0].Provider)
	assert.Equal(t, "get_repository", model.lastReq.Tools[0].Operation)
	assert.Equal(t, "be helpful", model.lastReq.SystemPrompt)
}

func TestAgent_NoModelBackend(t *testing.T) {
	agent := models.Node{ID: "agent", Kind: models.KindAIAgent}
	nc := newActionContext(t, &agent, nil)

	_, err := NewAgentExecutor(nil).Execute(context.Background(), nc)
	require.Error(t, err)
	assert.Equal(t, errs.KindNotImplemented, errs.KindOf(err))
}

func TestAgent_MissingAttachedNode(t *testing.T) {
	agent := models.Node{ID: "agent", Kind: models.KindAIAgent, AttachedNodes: []string{"ghost"}}
	nc := newActionContext(t, &agent, nil)
	nc.Model = &fakeModel{}

	_, err := NewAgentExecutor(nil).Execute(context.Background(), nc)
	require.Error(t, err)
	assert.Equal(t, errs.KindInvalidWorkflow, errs.KindOf(err))
}

func TestAgent_MemoryAttachmentUsesMemoryStore(t *testing.T) {
	agent := models.Node{ID: "agent", Kind: models.KindAIAgent, AttachedNodes: []string{"notes"}}
	memNode := models.Node{
		ID: "notes", Kind: models.KindMemory, Subtype: "set",
		Configurations: map[string]any{"key": "scratch"},
	}

	store := newMapMemory()
	model := &fakeModel{output: map[string]any{"answer": "ok"}}
	nc := newActionContext(t, &agent, nil)
	nc.Workflow.Nodes = []models.Node{agent, memNode}
	nc.Model = model
	nc.Memory = store

	_, err := NewAgentExecutor(nil).Execute(context.Background(), nc)
	require.NoError(t, err)

	require.Len(t, model.lastReq.Tools, 1)
	tool := model.lastReq.Tools[0]
	assert.Equal(t, "notes", tool.Name)
	assert.Equal(t, "memory", tool.Provider)
	assert.Equal(t, "set", tool.Operation)

	// the handle writes through the scoped store, not the adapter registry
	_, err = tool.Call(context.Background(), map[string]any{"value": map[string]any{"text": "hi"}})
	require.NoError(t, err)
	key := fmt.Sprintf("mem:%s:scratch", nc.ExecutionID)
	assert.Equal(t, map[string]any{"text": "hi"}, store.kv[key])
}

type mapMemory struct {
	kv      map[string]map[string]any
	buffers map[string][]map[string]any
}

func newMapMemory() *mapMemory {
	return &mapMemory{kv: map[string]map[string]any{}, buffers: map[string][]map[string]any{}}
}

func (m *mapMemory) Set(ctx context.Context, key string, value map[string]any) error {
	m.kv[key] = value
	return nil
}

func (m *mapMemory) Get(ctx context.Context, key string) (map[string]any, error) {
	if v, ok := m.kv[key]; ok {
		return v, nil
	}
	return map[string]any{}, nil
}

func (m *mapMemory) Append(ctx context.Context, key string, value map[string]any) error {
	m.buffers[key] = append(m.buffers[key], value)
	return nil
}

func (m *mapMemory) Read(ctx context.Context, key string, limit int64) ([]map[string]any, error) {
	return m.buffers[key], nil
}

func TestMemory_SetAndGetAreScoped(t *testing.T) {
	store := newMapMemory()
	exec := NewMemoryExecutor(store)

	set := &models.Node{
		ID: "remember", Kind: models.KindMemory, Subtype: "set",
		Configurations: map[string]any{"key": "notes", "value": map[string]any{"text": "hi"}},
	}
	nc := newActionContext(t, set, nil)
	nc.Memory = store

	_, err := exec.Execute(context.Background(), nc)
	require.NoError(t, err)

	get := &models.Node{
		ID: "recall", Kind: models.KindMemory, Subtype: "get",
		Configurations: map[string]any{"key": "notes"},
	}
	nc2 := newActionContext(t, get, nil)
	nc2.ExecutionID = nc.ExecutionID
	nc2.Workflow = nc.Workflow

	res, err := exec.Execute(context.Background(), nc2)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"text": "hi"}, res.Output[models.DefaultOutputKey])
}
