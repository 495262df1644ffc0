package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lumenflow/orchestrator/common/models"
)

func wfWithAgents(n int) *models.Workflow {
	wf := &models.Workflow{
		Nodes: []models.Node{{ID: "start", Kind: models.KindTrigger}},
	}
	for i := 0; i < n; i++ {
		wf.Nodes = append(wf.Nodes, models.Node{ID: string(rune('a' + i)), Kind: models.KindAIAgent})
	}
	return wf
}

func TestInspectWorkflow_Tiers(t *testing.T) {
	assert.Equal(t, TierSimple, InspectWorkflow(wfWithAgents(0)).Tier)
	assert.Equal(t, TierStandard, InspectWorkflow(wfWithAgents(1)).Tier)
	assert.Equal(t, TierStandard, InspectWorkflow(wfWithAgents(2)).Tier)
	assert.Equal(t, TierHeavy, InspectWorkflow(wfWithAgents(3)).Tier)
}

func TestInspectWorkflow_Counts(t *testing.T) {
	profile := InspectWorkflow(wfWithAgents(2))
	assert.Equal(t, 2, profile.AgentCount)
	assert.Equal(t, 3, profile.TotalNodes)
}

func TestConfigForTier_UnknownFallsBackToHeavy(t *testing.T) {
	cfg := ConfigForTier(WorkflowTier("mystery"))
	assert.Equal(t, TierHeavy, cfg.Tier)
}
