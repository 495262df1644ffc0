package executors

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenflow/orchestrator/cmd/engine/sandbox"
	"github.com/lumenflow/orchestrator/common/errs"
	"github.com/lumenflow/orchestrator/common/logger"
	"github.com/lumenflow/orchestrator/common/models"
)

func newFlowContext(t *testing.T, node *models.Node, input map[string]any) *Context {
	t.Helper()
	log := logger.New("error", "json")
	sb, err := sandbox.New(log)
	require.NoError(t, err)

	return &Context{
		ExecutionID: uuid.New(),
		Workflow: &models.Workflow{
			ID:    uuid.New(),
			Nodes: []models.Node{*node},
			Connections: []models.Connection{
				{FromNode: node.ID, ToNode: "t", OutputKey: "true"},
				{FromNode: node.ID, ToNode: "f", OutputKey: "false"},
				{FromNode: node.ID, ToNode: "a", OutputKey: "case_a"},
				{FromNode: node.ID, ToNode: "d", OutputKey: "default"},
			},
		},
		Node:    node,
		Params:  node.Configurations,
		Input:   input,
		Sandbox: sb,
		Log:     log,
	}
}

func TestIf_SelectsTrueBranch(t *testing.T) {
	node := &models.Node{
		ID: "gate", Kind: models.KindFlow, Subtype: "if",
		Configurations: map[string]any{"condition": `input.count > 3`},
	}
	nc := newFlowContext(t, node, map[string]any{"count": 5})

	res, err := NewFlowExecutor().Execute(context.Background(), nc)
	require.NoError(t, err)
	assert.Equal(t, []string{"true"}, res.SelectedKeys)
	assert.Equal(t, true, res.Output["condition"])
}

func TestIf_SelectsFalseBranch(t *testing.T) {
	node := &models.Node{
		ID: "gate", Kind: models.KindFlow, Subtype: "if",
		Configurations: map[string]any{"condition": `input.count > 3`},
	}
	nc := newFlowContext(t, node, map[string]any{"count": 1})

	res, err := NewFlowExecutor().Execute(context.Background(), nc)
	require.NoError(t, err)
	assert.Equal(t, []string{"false"}, res.SelectedKeys)
}

func TestIf_BrokenConditionFailsNode(t *testing.T) {
	node := &models.Node{
		ID: "gate", Kind: models.KindFlow, Subtype: "if",
		Configurations: map[string]any{"condition": `input.count >`},
	}
	nc := newFlowContext(t, node, map[string]any{"count": 1})

	_, err := NewFlowExecutor().Execute(context.Background(), nc)
	require.Error(t, err)
	assert.Equal(t, errs.KindSandboxError, errs.KindOf(err))
}

func TestSwitch_SelectsMatchingCase(t *testing.T) {
	node := &models.Node{
		ID: "route", Kind: models.KindFlow, Subtype: "switch",
		Configurations: map[string]any{"expression": `input.kind`},
	}
	nc := newFlowContext(t, node, map[string]any{"kind": "case_a"})

	res, err := NewFlowExecutor().Execute(context.Background(), nc)
	require.NoError(t, err)
	assert.Equal(t, []string{"case_a"}, res.SelectedKeys)
}

func TestSwitch_FallsBackToDefault(t *testing.T) {
	node := &models.Node{
		ID: "route", Kind: models.KindFlow, Subtype: "switch",
		Configurations: map[string]any{"expression": `input.kind`},
	}
	nc := newFlowContext(t, node, map[string]any{"kind": "nothing_matches"})

	res, err := NewFlowExecutor().Execute(context.Background(), nc)
	require.NoError(t, err)
	assert.Equal(t, []string{"default"}, res.SelectedKeys)
}

func TestFilter_KeepsMatchingItems(t *testing.T) {
	node := &models.Node{
		ID: "pick", Kind: models.KindFlow, Subtype: "filter",
		Configurations: map[string]any{"condition": `input.item > 2`},
	}
	nc := newFlowContext(t, node, map[string]any{
		models.DefaultOutputKey: []any{1, 2, 3, 4},
	})

	res, err := NewFlowExecutor().Execute(context.Background(), nc)
	require.NoError(t, err)
	assert.Equal(t, []any{3, 4}, res.Output[models.DefaultOutputKey])
}

func TestLoop_MapsItems(t *testing.T) {
	node := &models.Node{
		ID: "each", Kind: models.KindFlow, Subtype: "loop",
		Configurations: map[string]any{
			"items":      []any{int64(1), int64(2), int64(3)},
			"expression": `input.item * 2`,
		},
	}
	nc := newFlowContext(t, node, nil)

	res, err := NewFlowExecutor().Execute(context.Background(), nc)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(2), int64(4), int64(6)}, res.Output[models.DefaultOutputKey])
}

func TestLoop_ContinueRegularSkipsFailingItem(t *testing.T) {
	node := &models.Node{
		ID: "each", Kind: models.KindFlow, Subtype: "loop",
		ErrorPolicy: models.ErrorPolicyContinueRegular,
		Configurations: map[string]any{
			"items":      []any{map[string]any{"n": int64(1)}, map[string]any{"x": int64(9)}, map[string]any{"n": int64(3)}},
			"expression": `input.item.n * 2`,
		},
	}
	nc := newFlowContext(t, node, nil)

	res, err := NewFlowExecutor().Execute(context.Background(), nc)
	require.NoError(t, err)

	results, ok := res.Output[models.DefaultOutputKey].([]any)
	require.True(t, ok)
	assert.Equal(t, []any{int64(2), int64(6)}, results, "the failing item is skipped, the rest kept")
}

func TestLoop_StopPolicyFailsOnBadItem(t *testing.T) {
	node := &models.Node{
		ID: "each", Kind: models.KindFlow, Subtype: "loop",
		Configurations: map[string]any{
			"items":      []any{map[string]any{"x": int64(9)}},
			"expression": `input.item.n * 2`,
		},
	}
	nc := newFlowContext(t, node, nil)

	_, err := NewFlowExecutor().Execute(context.Background(), nc)
	require.Error(t, err)
	assert.Equal(t, errs.KindSandboxError, errs.KindOf(err))
}

func TestWait_UntilSignalSuspends(t *testing.T) {
	node := &models.Node{
		ID: "hold", Kind: models.KindFlow, Subtype: "wait",
		Configurations: map[string]any{"until_signal": true},
	}
	nc := newFlowContext(t, node, nil)

	res, err := NewFlowExecutor().Execute(context.Background(), nc)
	require.NoError(t, err)
	require.NotNil(t, res.Suspend)
	assert.NotEmpty(t, res.Suspend.CorrelationID)
}

func TestMerge_PassesInputThrough(t *testing.T) {
	node := &models.Node{ID: "join", Kind: models.KindFlow, Subtype: "merge"}
	input := map[string]any{"a": 1, "b": 2}
	nc := newFlowContext(t, node, input)

	res, err := NewFlowExecutor().Execute(context.Background(), nc)
	require.NoError(t, err)
	assert.Equal(t, input, res.Output)
}

func TestUnknownSubtype(t *testing.T) {
	node := &models.Node{ID: "x", Kind: models.KindFlow, Subtype: "teleport"}
	nc := newFlowContext(t, node, nil)

	_, err := NewFlowExecutor().Execute(context.Background(), nc)
	require.Error(t, err)
	assert.Equal(t, errs.KindNotImplemented, errs.KindOf(err))
}
