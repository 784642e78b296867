// Package converge implements the CONVERGE phase: driving one task
// through the convergence loop (internal/iterator) to success, failure,
// or its iteration limit.
package converge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"forge.dev/forge/internal/domain"
	"forge.dev/forge/internal/iterator"
	"forge.dev/forge/internal/phase"
)

// Phase runs a single task's convergence loop. It holds the result of its
// one Execute call, consistent with the rest of the pipeline treating a
// Phase instance as scoped to one unit of work.
type Phase struct {
	task   domain.Task
	deps   iterator.IterationDeps
	it     *iterator.Iterator
	result *domain.TaskExecutionResult
}

// New constructs a Phase for task. A nil it falls back to
// iterator.DefaultConfig().
func New(task domain.Task, deps iterator.IterationDeps, it *iterator.Iterator) *Phase {
	if it == nil {
		it = iterator.New(iterator.DefaultConfig())
	}
	return &Phase{task: task, deps: deps, it: it}
}

// Name identifies this phase.
func (p *Phase) Name() string { return "CONVERGE" }

// CanStart reports whether task is well-formed enough to run.
func (p *Phase) CanStart(context.Context) (bool, error) {
	return p.task.ID != "", nil
}

// Execute drives the task to convergence and records its outcome.
func (p *Phase) Execute(ctx context.Context) (domain.PhaseResult, error) {
	start := time.Now()
	result, err := p.it.Run(ctx, p.task, p.deps)
	metrics := domain.PhaseMetrics{StartTime: start, EndTime: time.Now()}
	metrics.DurationMs = metrics.EndTime.Sub(metrics.StartTime).Milliseconds()
	if result != nil {
		// An approximation, not a counter: one generate call up front,
		// plus a review and an improve call per iteration. A converged
		// run makes no improve call after its final review, so for it
		// this is one more than the calls actually made.
		metrics.LLMCalls = 1 + 2*result.Iterations
	}
	if err != nil {
		return domain.PhaseResult{PhaseName: p.Name(), Success: false, Error: err.Error(), Metrics: metrics}, err
	}
	p.result = result
	return domain.PhaseResult{
		PhaseName: p.Name(),
		Success:   result.Success,
		Artifacts: []string{p.task.ID},
		Metrics:   metrics,
	}, nil
}

// CanComplete reports whether Execute has produced a result.
func (p *Phase) CanComplete(context.Context) (bool, error) {
	return p.result != nil, nil
}

// Checkpoint captures the task's execution result so a restart can skip
// re-running a task that already finished.
func (p *Phase) Checkpoint(context.Context) (phase.Checkpoint, error) {
	if p.result == nil {
		return phase.Checkpoint{PhaseName: p.Name()}, nil
	}
	data, err := json.Marshal(p.result)
	if err != nil {
		return phase.Checkpoint{}, fmt.Errorf("converge: marshal checkpoint: %w", err)
	}
	return phase.Checkpoint{PhaseName: p.Name(), Data: data}, nil
}

// Restore reloads a previously checkpointed result.
func (p *Phase) Restore(_ context.Context, cp phase.Checkpoint) error {
	if len(cp.Data) == 0 {
		return nil
	}
	var result domain.TaskExecutionResult
	if err := json.Unmarshal(cp.Data, &result); err != nil {
		return fmt.Errorf("converge: restore checkpoint: %w", err)
	}
	p.result = &result
	return nil
}

// Result returns the task's execution result after Execute or Restore.
func (p *Phase) Result() *domain.TaskExecutionResult { return p.result }

var _ phase.Phase = (*Phase)(nil)
