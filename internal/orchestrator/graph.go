package orchestrator

import (
	"math"
	"sort"
	"time"

	"github.com/counselgraph/counselgraph/internal/capability"
	"github.com/google/uuid"
)

// dependencyTable is the static capability dependency relation. It is
// acyclic by construction and read-only after init, so plan builds can
// share it without locking.
var dependencyTable = map[capability.Kind][]capability.Kind{
	capability.Research:         {},
	capability.Discovery:        {},
	capability.Analysis:         {capability.Research},
	capability.ContractAnalysis: {capability.Research},
	capability.Writing:          {capability.Research, capability.Analysis},
}

// baseDurations are per-capability baseline estimates in seconds.
var baseDurations = map[capability.Kind]float64{
	capability.Research:         45,
	capability.Discovery:        60,
	capability.Analysis:         30,
	capability.ContractAnalysis: 40,
	capability.Writing:          35,
}

func depthMultiplier(depth string) float64 {
	switch depth {
	case "summary":
		return 0.6
	case "comprehensive":
		return 1.6
	default:
		return 1.0
	}
}

func urgencyMultiplier(urgency string) float64 {
	switch urgency {
	case "high":
		return 0.8
	case "low":
		return 1.2
	default:
		return 1.0
	}
}

// Dependencies returns the static dependency set for a capability,
// restricted to capabilities actually present in the plan.
func Dependencies(kind capability.Kind, selected map[capability.Kind]bool) []capability.Kind {
	var deps []capability.Kind
	for _, d := range dependencyTable[kind] {
		if selected[d] {
			deps = append(deps, d)
		}
	}
	return deps
}

func estimateDuration(kind capability.Kind, intent Intent) int {
	base := baseDurations[kind]
	return int(math.Round(base * depthMultiplier(intent.AnalysisDepth) * urgencyMultiplier(intent.Urgency)))
}

// BuildPlan attaches dependencies and duration estimates to the selected
// capabilities and orders them so independent work comes first.
func BuildPlan(matterID, userQuery string, intent Intent, kinds []capability.Kind) OrchestrationPlan {
	selected := make(map[capability.Kind]bool, len(kinds))
	for _, k := range kinds {
		selected[k] = true
	}

	agents := make([]CapabilityConfig, 0, len(kinds))
	for i, k := range kinds {
		agents = append(agents, CapabilityConfig{
			Capability:        k,
			Dependencies:      Dependencies(k, selected),
			Priority:          i,
			EstimatedDuration: estimateDuration(k, intent),
		})
	}

	// Stable sort by dependency count, so zero-dependency capabilities
	// precede anything gated on them.
	sort.SliceStable(agents, func(i, j int) bool {
		return len(agents[i].Dependencies) < len(agents[j].Dependencies)
	})

	// Independent work overlaps, dependent work is additive.
	total := 0
	maxIndependent := 0
	for _, a := range agents {
		if len(a.Dependencies) == 0 {
			if a.EstimatedDuration > maxIndependent {
				maxIndependent = a.EstimatedDuration
			}
		} else {
			total += a.EstimatedDuration
		}
	}
	total += maxIndependent

	return OrchestrationPlan{
		ID:                     uuid.NewString(),
		MatterID:               matterID,
		UserQuery:              userQuery,
		Intent:                 intent,
		Agents:                 agents,
		TotalEstimatedDuration: total,
		Status:                 PlanPlanned,
		CreatedAt:              time.Now(),
	}
}
