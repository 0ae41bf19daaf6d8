package orchestrator

import (
	"time"

	"github.com/counselgraph/counselgraph/internal/capability"
)

// Intent is the structured classification of a free-text request.
// Produced once per request and never mutated.
type Intent struct {
	PrimaryAction     string   `json:"primary_action"` // research, writing, analysis, discovery, contract_analysis, unknown
	DocumentTypes     []string `json:"document_types"`
	AnalysisDepth     string   `json:"analysis_depth"` // summary, standard, comprehensive
	Urgency           string   `json:"urgency"`        // low, normal, high
	Complexity        string   `json:"complexity"`
	EstimatedDuration int      `json:"estimated_duration_seconds"`
}

// CapabilityConfig is one node of an orchestration plan.
type CapabilityConfig struct {
	Capability        capability.Kind   `json:"capability"`
	Dependencies      []capability.Kind `json:"dependencies"`
	Priority          int               `json:"priority"`
	EstimatedDuration int               `json:"estimated_duration_seconds"`
}

// OrchestrationPlan is the ordered, dependency-annotated capability list
// for one request. Status only advances planned -> executing ->
// completed|failed, never backwards.
type OrchestrationPlan struct {
	ID                     string             `json:"id"`
	MatterID               string             `json:"matter_id"`
	UserQuery              string             `json:"user_query"`
	Intent                 Intent             `json:"intent"`
	Agents                 []CapabilityConfig `json:"agents"`
	Context                map[string]string  `json:"context,omitempty"`
	TotalEstimatedDuration int                `json:"total_estimated_duration_seconds"`
	Status                 PlanStatus         `json:"status"`
	CreatedAt              time.Time          `json:"created_at"`
}

type PlanStatus string

const (
	PlanPlanned   PlanStatus = "planned"
	PlanExecuting PlanStatus = "executing"
	PlanCompleted PlanStatus = "completed"
	PlanFailed    PlanStatus = "failed"
)

type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// Task tracks one capability execution inside a plan. Persistence is a
// collaborator concern; this is the in-core contract.
type Task struct {
	ID         string            `json:"id"`
	PlanID     string            `json:"plan_id"`
	Capability capability.Kind   `json:"capability"`
	Status     TaskStatus        `json:"status"`
	Input      capability.Input  `json:"-"`
	Output     capability.Result `json:"output,omitempty"`
	Error      string            `json:"error,omitempty"`
	StartedAt  time.Time         `json:"started_at,omitempty"`
	FinishedAt time.Time         `json:"finished_at,omitempty"`
}

// ExecutionResult is the per-capability output map returned by Execute.
type ExecutionResult struct {
	PlanID  string
	Outputs map[capability.Kind]capability.Result
	Status  PlanStatus
}
