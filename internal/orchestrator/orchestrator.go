package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/counselgraph/counselgraph/config"
	"github.com/counselgraph/counselgraph/internal/capability"
	"github.com/counselgraph/counselgraph/internal/telemetry"
	"github.com/counselgraph/counselgraph/provider"
	"github.com/google/uuid"
)

// ErrNotCancellable is reported when cancelling a plan that already
// reached a terminal status.
var ErrNotCancellable = errors.New("plan is not cancellable")

// ErrPlanCancelled marks a plan aborted by an explicit cancel request.
var ErrPlanCancelled = errors.New("plan cancelled")

// TaskStore is the persistence collaborator for task state. The engine
// calls it as a side effect and does not own durability.
type TaskStore interface {
	CreateTask(ctx context.Context, task Task) error
	UpdateTaskStatus(ctx context.Context, id string, status TaskStatus, output *capability.Result, errMsg string) error
	GetTask(ctx context.Context, id string) (Task, error)
}

// ContextStore resolves the background facts of a matter so every
// capability in a plan runs with the same subject context.
type ContextStore interface {
	MatterContext(ctx context.Context, matterID string) (map[string]string, error)
}

// Engine plans and executes capability graphs for research requests.
type Engine struct {
	cfg        *config.Config
	registry   *capability.Registry
	classifier *Classifier
	selector   *Selector
	store      TaskStore
	contexts   ContextStore
	telemetry  *telemetry.Telemetry
	logger     *log.Logger

	mu   sync.Mutex
	runs map[string]*planRun
}

type planRun struct {
	cancel    context.CancelFunc
	cancelled bool
	finished  bool
}

func NewEngine(cfg *config.Config, registry *capability.Registry, prov provider.Provider, store TaskStore, contexts ContextStore, tel *telemetry.Telemetry) *Engine {
	return &Engine{
		cfg:        cfg,
		registry:   registry,
		classifier: NewClassifier(cfg, prov),
		selector:   NewSelector(cfg, prov),
		store:      store,
		contexts:   contexts,
		telemetry:  tel,
		logger:     log.New(log.Writer(), "[ORCH] ", log.LstdFlags),
		runs:       make(map[string]*planRun),
	}
}

// Plan classifies the request, selects capabilities and builds the
// dependency-ordered plan. callerContext carries per-request overrides
// layered over the matter's own facts at execution time. It never fails
// on classifier or selector trouble; both have deterministic fallbacks.
func (e *Engine) Plan(ctx context.Context, matterID, userQuery string, callerContext map[string]string) OrchestrationPlan {
	intent := e.classifier.Classify(ctx, userQuery)
	kinds := e.selector.Select(ctx, userQuery, intent)
	plan := BuildPlan(matterID, userQuery, intent, kinds)
	plan.Context = callerContext
	e.logger.Printf("plan %s: intent=%s capabilities=%v total=%ds",
		plan.ID, intent.PrimaryAction, kinds, plan.TotalEstimatedDuration)
	return plan
}

// Orchestrate is the combined plan-then-execute entry point.
func (e *Engine) Orchestrate(ctx context.Context, matterID, userQuery string, callerContext map[string]string) (OrchestrationPlan, ExecutionResult, error) {
	plan := e.Plan(ctx, matterID, userQuery, callerContext)
	result, err := e.Execute(ctx, &plan)
	return plan, result, err
}

// subjectContext resolves the matter's facts once per plan and layers
// the caller's overrides on top.
func (e *Engine) subjectContext(ctx context.Context, plan *OrchestrationPlan) map[string]string {
	merged := make(map[string]string)
	if e.contexts != nil && plan.MatterID != "" {
		facts, err := e.contexts.MatterContext(ctx, plan.MatterID)
		if err != nil {
			e.logger.Printf("plan %s: matter context lookup failed: %v", plan.ID, err)
		}
		for k, v := range facts {
			merged[k] = v
		}
	}
	for k, v := range plan.Context {
		merged[k] = v
	}
	if len(merged) == 0 {
		return nil
	}
	return merged
}

// Execute runs every capability in the plan. All currently-ready
// capabilities run concurrently; each waits on its dependencies through
// close-on-complete channels rather than polling. Any failure aborts the
// remaining plan (fail-fast).
func (e *Engine) Execute(ctx context.Context, plan *OrchestrationPlan) (ExecutionResult, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	run := &planRun{cancel: cancel}
	e.mu.Lock()
	e.runs[plan.ID] = run
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		run.finished = true
		e.mu.Unlock()
	}()

	plan.Status = PlanExecuting
	subject := e.subjectContext(runCtx, plan)

	// Close-on-complete gate per capability. Closed only on success, so
	// dependents of a failed capability never dispatch.
	doneCh := make(map[capability.Kind]chan struct{}, len(plan.Agents))
	for _, agent := range plan.Agents {
		doneCh[agent.Capability] = make(chan struct{})
	}

	var (
		resMu   sync.Mutex
		outputs = make(map[capability.Kind]capability.Result, len(plan.Agents))

		errOnce  sync.Once
		firstErr error
	)
	fail := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}

	var wg sync.WaitGroup
	for _, agent := range plan.Agents {
		wg.Add(1)
		go func(agent CapabilityConfig) {
			defer wg.Done()

			for _, dep := range agent.Dependencies {
				select {
				case <-doneCh[dep]:
				case <-runCtx.Done():
					return
				}
			}

			impl, ok := e.registry.Implementation(agent.Capability)
			if !ok {
				fail(fmt.Errorf("no implementation bound for capability %s", agent.Capability))
				return
			}

			resMu.Lock()
			deps := make(map[capability.Kind]capability.Result, len(agent.Dependencies))
			for _, dep := range agent.Dependencies {
				deps[dep] = outputs[dep]
			}
			resMu.Unlock()

			input := capability.Input{
				PlanID:            plan.ID,
				MatterID:          plan.MatterID,
				Query:             plan.UserQuery,
				Intent:            plan.Intent.PrimaryAction,
				Depth:             plan.Intent.AnalysisDepth,
				Context:           subject,
				DependencyResults: deps,
			}

			task := Task{
				ID:         uuid.NewString(),
				PlanID:     plan.ID,
				Capability: agent.Capability,
				Status:     TaskPending,
				Input:      input,
			}
			e.recordCreate(runCtx, task)

			start := time.Now()
			e.recordStatus(runCtx, task.ID, TaskRunning, nil, "")

			usage := &provider.UsageCollector{}
			result, err := impl.Execute(provider.WithUsageCollector(runCtx, usage), input)
			elapsed := time.Since(start)
			if err != nil {
				status := TaskFailed
				if runCtx.Err() != nil && errors.Is(err, context.Canceled) {
					status = TaskCancelled
				}
				e.recordStatus(context.WithoutCancel(runCtx), task.ID, status, nil, err.Error())
				if e.telemetry != nil {
					e.telemetry.RecordTask(string(agent.Capability), string(status), elapsed)
				}
				fail(fmt.Errorf("capability %s failed: %w", agent.Capability, err))
				return
			}
			result.Duration = elapsed
			in, out, cost := usage.Totals()
			result.TokensUsed = in + out
			result.Cost = cost

			resMu.Lock()
			outputs[agent.Capability] = result
			resMu.Unlock()

			e.recordStatus(runCtx, task.ID, TaskCompleted, &result, "")
			if e.telemetry != nil {
				e.telemetry.RecordTask(string(agent.Capability), string(TaskCompleted), elapsed)
			}
			close(doneCh[agent.Capability])
		}(agent)
	}
	wg.Wait()

	e.mu.Lock()
	cancelled := run.cancelled
	e.mu.Unlock()

	if cancelled {
		plan.Status = PlanFailed
		return ExecutionResult{PlanID: plan.ID, Outputs: outputs, Status: PlanFailed},
			fmt.Errorf("plan %s: %w", plan.ID, ErrPlanCancelled)
	}
	if firstErr != nil {
		plan.Status = PlanFailed
		return ExecutionResult{PlanID: plan.ID, Outputs: outputs, Status: PlanFailed}, firstErr
	}
	if err := ctx.Err(); err != nil {
		plan.Status = PlanFailed
		return ExecutionResult{PlanID: plan.ID, Outputs: outputs, Status: PlanFailed}, err
	}

	plan.Status = PlanCompleted
	return ExecutionResult{PlanID: plan.ID, Outputs: outputs, Status: PlanCompleted}, nil
}

// Cancel aborts a running plan. It is idempotent for a running plan and
// reports ErrNotCancellable for unknown or finished plans instead of
// mutating terminal state.
func (e *Engine) Cancel(planID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	run, ok := e.runs[planID]
	if !ok || run.finished {
		return fmt.Errorf("plan %s: %w", planID, ErrNotCancellable)
	}
	if !run.cancelled {
		run.cancelled = true
		run.cancel()
		e.logger.Printf("plan %s cancelled", planID)
	}
	return nil
}

func (e *Engine) recordCreate(ctx context.Context, task Task) {
	if e.store == nil {
		return
	}
	if err := e.store.CreateTask(ctx, task); err != nil {
		e.logger.Printf("failed to persist task %s: %v", task.ID, err)
	}
}

func (e *Engine) recordStatus(ctx context.Context, id string, status TaskStatus, output *capability.Result, errMsg string) {
	if e.store == nil {
		return
	}
	if err := e.store.UpdateTaskStatus(ctx, id, status, output, errMsg); err != nil {
		e.logger.Printf("failed to update task %s: %v", id, err)
	}
}
