package ratelimit

import "github.com/lumenflow/orchestrator/common/models"

// WorkflowTier represents the rate limit tier based on workflow complexity
type WorkflowTier string

const (
	TierSimple   WorkflowTier = "simple"   // No agent nodes
	TierStandard WorkflowTier = "standard" // 1-2 agent nodes
	TierHeavy    WorkflowTier = "heavy"    // 3+ agent nodes
)

// WorkflowProfile contains analysis of a workflow's complexity
type WorkflowProfile struct {
	Tier       WorkflowTier
	AgentCount int
	TotalNodes int
}

// InspectWorkflow determines the complexity tier of a workflow. Agent nodes
// dominate the cost of a run, so the tier follows their count.
func InspectWorkflow(wf *models.Workflow) WorkflowProfile {
	profile := WorkflowProfile{Tier: TierSimple, TotalNodes: len(wf.Nodes)}

	for _, node := range wf.Nodes {
		if node.Kind == models.KindAIAgent {
			profile.AgentCount++
		}
	}

	profile.Tier = determineTier(profile.AgentCount)
	return profile
}

func determineTier(agentCount int) WorkflowTier {
	switch {
	case agentCount == 0:
		return TierSimple
	case agentCount <= 2:
		return TierStandard
	default:
		return TierHeavy
	}
}
