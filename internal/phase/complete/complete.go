// Package complete implements the COMPLETE phase: running a sprint's full
// task backlog to completion through internal/scheduler and writing the
// final results document. This is the only phase with substantive
// scheduling logic; CONVERGE and ORCHESTRATE are thin glue by comparison.
package complete

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"forge.dev/forge/internal/domain"
	"forge.dev/forge/internal/phase"
	"forge.dev/forge/internal/scheduler"
	"forge.dev/forge/internal/store"
)

// Phase drives scheduler.Scheduler.Run for one sprint's tasks and
// persists the aggregate results.
type Phase struct {
	sprintID string
	tasks    []domain.Task
	sched    *scheduler.Scheduler
	store    store.Store
	cp       *domain.CheckpointState
}

// New constructs a Phase for sprintID's tasks, driven by sched and
// persisted through st.
func New(sprintID string, tasks []domain.Task, sched *scheduler.Scheduler, st store.Store) *Phase {
	return &Phase{sprintID: sprintID, tasks: tasks, sched: sched, store: st}
}

func (p *Phase) Name() string { return "COMPLETE" }

// CanStart reports whether there is a sprint and at least one task to run.
func (p *Phase) CanStart(context.Context) (bool, error) {
	return p.sprintID != "" && len(p.tasks) > 0, nil
}

// Execute runs the sprint's tasks to completion and writes the results
// document.
func (p *Phase) Execute(ctx context.Context) (domain.PhaseResult, error) {
	start := time.Now()
	cp, err := p.sched.Run(ctx, p.sprintID, p.tasks)
	metrics := domain.PhaseMetrics{StartTime: start, EndTime: time.Now()}
	metrics.DurationMs = metrics.EndTime.Sub(metrics.StartTime).Milliseconds()
	// LLMCalls is approximated per task as 1 + 2*iterations (see
	// converge.Phase.Execute); converged tasks are counted one call high.
	for _, r := range cpResults(cp) {
		metrics.LLMCalls += 1 + 2*r.Iterations
	}
	if err != nil {
		return domain.PhaseResult{PhaseName: p.Name(), Success: false, Error: err.Error(), Metrics: metrics}, err
	}
	p.cp = cp

	allSucceeded := len(cp.CompletedTaskIDs) == len(p.tasks)
	if p.store != nil {
		results := store.Results{SprintID: p.sprintID, Results: cp.TaskResults}
		if err := p.store.SaveResults(ctx, results); err != nil {
			return domain.PhaseResult{PhaseName: p.Name(), Success: false, Error: err.Error(), Metrics: metrics}, err
		}
	}

	return domain.PhaseResult{
		PhaseName: p.Name(),
		Success:   allSucceeded,
		Artifacts: []string{"results/" + p.sprintID + "-results.json"},
		Metrics:   metrics,
	}, nil
}

func cpResults(cp *domain.CheckpointState) []domain.TaskExecutionResult {
	if cp == nil {
		return nil
	}
	return cp.TaskResults
}

// CanComplete reports whether every task in the sprint has a recorded
// result (successful, blocked, or failed).
func (p *Phase) CanComplete(context.Context) (bool, error) {
	if p.cp == nil {
		return false, nil
	}
	return len(p.cp.TaskResults) >= len(p.tasks), nil
}

// Checkpoint delegates to the scheduler's own checkpoint, which is already
// persisted through the store after every task or batch; this method
// exists to satisfy phase.Phase and to let a caller inspect it directly.
func (p *Phase) Checkpoint(context.Context) (phase.Checkpoint, error) {
	if p.cp == nil {
		return phase.Checkpoint{PhaseName: p.Name()}, nil
	}
	data, err := json.Marshal(p.cp)
	if err != nil {
		return phase.Checkpoint{}, fmt.Errorf("complete: marshal checkpoint: %w", err)
	}
	return phase.Checkpoint{PhaseName: p.Name(), Data: data}, nil
}

// Restore reloads a previously checkpointed scheduler state. In practice
// the scheduler reloads its own checkpoint from the store on Run, so this
// is only needed when restoring a Phase snapshot independent of a live
// Scheduler.
func (p *Phase) Restore(_ context.Context, cp phase.Checkpoint) error {
	if len(cp.Data) == 0 {
		return nil
	}
	var state domain.CheckpointState
	if err := json.Unmarshal(cp.Data, &state); err != nil {
		return fmt.Errorf("complete: restore checkpoint: %w", err)
	}
	p.cp = &state
	return nil
}

var _ phase.Phase = (*Phase)(nil)
