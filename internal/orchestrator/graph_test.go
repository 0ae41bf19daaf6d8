package orchestrator

import (
	"testing"

	"github.com/counselgraph/counselgraph/internal/capability"
)

func TestBuildPlanOrdersIndependentFirst(t *testing.T) {
	intent := Intent{PrimaryAction: "writing", AnalysisDepth: "standard", Urgency: "normal"}
	plan := BuildPlan("m-1", "draft a memo on indemnification caps", intent,
		[]capability.Kind{capability.Writing, capability.Analysis, capability.Research})

	seenDependent := false
	for _, a := range plan.Agents {
		if len(a.Dependencies) > 0 {
			seenDependent = true
		} else if seenDependent {
			t.Fatalf("zero-dependency capability %s ordered after a dependent one", a.Capability)
		}
	}
	if plan.Agents[0].Capability != capability.Research {
		t.Fatalf("expected research first, got %s", plan.Agents[0].Capability)
	}
	if plan.Status != PlanPlanned {
		t.Fatalf("expected planned status, got %s", plan.Status)
	}
}

func TestBuildPlanDependenciesRestrictedToSelection(t *testing.T) {
	intent := Intent{AnalysisDepth: "standard", Urgency: "normal"}
	plan := BuildPlan("m-1", "analyze this", intent, []capability.Kind{capability.Analysis})

	for _, a := range plan.Agents {
		for _, d := range a.Dependencies {
			t.Fatalf("dependency %s of %s is not part of the plan", d, a.Capability)
		}
	}
}

func TestEstimateDurationMultipliers(t *testing.T) {
	cases := []struct {
		depth   string
		urgency string
		want    int
	}{
		{"standard", "normal", 45},
		{"summary", "normal", 27},       // 45 * 0.6
		{"comprehensive", "high", 58},   // 45 * 1.6 * 0.8 = 57.6
		{"summary", "low", 32},          // 45 * 0.6 * 1.2 = 32.4
		{"comprehensive", "normal", 72}, // 45 * 1.6
	}
	for _, c := range cases {
		intent := Intent{AnalysisDepth: c.depth, Urgency: c.urgency}
		got := estimateDuration(capability.Research, intent)
		if got != c.want {
			t.Fatalf("research depth=%s urgency=%s: got %d, want %d", c.depth, c.urgency, got, c.want)
		}
	}
}

func TestBuildPlanTotalDuration(t *testing.T) {
	intent := Intent{AnalysisDepth: "standard", Urgency: "normal"}
	plan := BuildPlan("m-1", "q", intent,
		[]capability.Kind{capability.Research, capability.Discovery, capability.Analysis})

	// Independent work overlaps: max(research 45, discovery 60) = 60.
	// Dependent work is additive: analysis 30.
	if plan.TotalEstimatedDuration != 90 {
		t.Fatalf("expected total 90, got %d", plan.TotalEstimatedDuration)
	}
}
