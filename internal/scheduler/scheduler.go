// Package scheduler orders a sprint's tasks by their dependency DAG and
// runs them to completion, in either sequential or bounded-parallel
// batches, checkpointing after every unit of progress so a crash mid-sprint
// resumes without redoing completed work.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"forge.dev/forge/internal/domain"
	"forge.dev/forge/internal/store"
	"forge.dev/forge/internal/telemetry"
)

// ExecutionMode selects how the scheduler walks the ready set.
type ExecutionMode string

// Recognised execution modes.
const (
	Sequential      ExecutionMode = "sequential"
	ParallelBatched ExecutionMode = "parallel_batched"
)

// Config tunes one scheduler run.
type Config struct {
	Mode             ExecutionMode
	MaxParallelTasks int
}

// DefaultConfig returns the scheduler's default mode and batch size.
func DefaultConfig() Config {
	return Config{Mode: Sequential, MaxParallelTasks: 3}
}

// TaskRunner executes a single task to convergence (or failure) and
// reports its outcome. Supplied by whatever owns the per-task
// dependencies (oracle client, file saver, test runner, evaluator) — the
// scheduler itself is agnostic to how a task is run, only to the order
// and concurrency it runs in.
type TaskRunner interface {
	RunTask(ctx context.Context, task domain.Task) (*domain.TaskExecutionResult, error)
}

// ProgressSink receives progress events as the scheduler advances through
// a sprint.
type ProgressSink interface {
	Emit(domain.ProgressEvent)
}

type noopSink struct{}

func (noopSink) Emit(domain.ProgressEvent) {}

// Scheduler runs one sprint's tasks against a Store-backed checkpoint.
type Scheduler struct {
	cfg    Config
	store  store.Store
	runner TaskRunner
	sink   ProgressSink
	logger telemetry.Logger
}

// New constructs a Scheduler. A nil sink or logger falls back to a no-op
// implementation.
func New(cfg Config, st store.Store, runner TaskRunner, sink ProgressSink, logger telemetry.Logger) *Scheduler {
	def := DefaultConfig()
	if cfg.MaxParallelTasks <= 0 {
		cfg.MaxParallelTasks = def.MaxParallelTasks
	}
	if cfg.Mode == "" {
		cfg.Mode = def.Mode
	}
	if sink == nil {
		sink = noopSink{}
	}
	if logger == nil {
		logger = telemetry.NewNoopLogger("scheduler")
	}
	return &Scheduler{cfg: cfg, store: st, runner: runner, sink: sink, logger: logger}
}

// blockedDependency reports the first dependency of task that is not
// completed (whether or not it belongs to the task set), so a blocked
// result can name what it is waiting on.
func blockedDependency(task domain.Task, completed map[string]struct{}) string {
	for _, dep := range task.Dependencies {
		if _, ok := completed[dep]; !ok {
			return dep
		}
	}
	return ""
}

func dependenciesSatisfied(task domain.Task, completed map[string]struct{}) bool {
	for _, dep := range task.Dependencies {
		if _, ok := completed[dep]; !ok {
			return false
		}
	}
	return true
}

// Run executes sprintID's tasks, resuming from a stored checkpoint when
// one matches the sprint. It returns the final checkpoint state, which
// callers can inspect for per-task results; the returned error is non-nil
// for a store I/O failure or an error returned by the TaskRunner, never for
// a blocked task or one whose result reports no success, both of which are
// recorded in the checkpoint instead.
func (s *Scheduler) Run(ctx context.Context, sprintID string, tasks []domain.Task) (*domain.CheckpointState, error) {
	cp, err := s.store.LoadCheckpoint(ctx, sprintID)
	if err != nil {
		return nil, fmt.Errorf("scheduler: load checkpoint for sprint %s: %w", sprintID, err)
	}
	if cp == nil || cp.SprintID != sprintID {
		cp = domain.NewCheckpointState(sprintID, now())
	}

	ordered := topoSort(ctx, tasks, s.logger)
	remaining := make([]domain.Task, 0, len(ordered))
	for _, t := range ordered {
		if !cp.IsCompleted(t.ID) {
			remaining = append(remaining, t)
		}
	}

	var runErr error
	switch s.cfg.Mode {
	case ParallelBatched:
		runErr = s.runParallel(ctx, sprintID, remaining, len(ordered), cp)
	default:
		runErr = s.runSequential(ctx, sprintID, remaining, len(ordered), cp)
	}
	if runErr != nil {
		return cp, runErr
	}

	s.sink.Emit(domain.ProgressEvent{
		Phase:          domain.ProgressComplete,
		SprintID:       sprintID,
		TasksCompleted: len(cp.CompletedTaskIDs),
		TasksTotal:     len(ordered),
	})
	return cp, nil
}

func (s *Scheduler) runSequential(ctx context.Context, sprintID string, tasks []domain.Task, total int, cp *domain.CheckpointState) error {
	for _, task := range tasks {
		if ctx.Err() != nil {
			return nil
		}

		if !dependenciesSatisfied(task, cp.CompletedTaskIDs) {
			result := domain.TaskExecutionResult{
				TaskID: task.ID,
				Error:  fmt.Sprintf("blocked: unsatisfied dependency %s", blockedDependency(task, cp.CompletedTaskIDs)),
			}
			cp.RecordResult(result)
			s.sink.Emit(domain.ProgressEvent{
				Phase: domain.ProgressBlocked, SprintID: sprintID, TaskID: task.ID,
				TasksCompleted: len(cp.CompletedTaskIDs), TasksTotal: total, Message: result.Error,
			})
			if err := s.checkpoint(ctx, cp); err != nil {
				return err
			}
			continue
		}

		s.sink.Emit(domain.ProgressEvent{
			Phase: domain.ProgressExecuting, SprintID: sprintID, TaskID: task.ID,
			TasksCompleted: len(cp.CompletedTaskIDs), TasksTotal: total,
		})
		result, err := s.runner.RunTask(ctx, task)
		if err != nil {
			return fmt.Errorf("scheduler: run task %s: %w", task.ID, err)
		}
		cp.RecordResult(*result)
		cp.CurrentTaskIndex++
		if err := s.checkpoint(ctx, cp); err != nil {
			return err
		}
	}
	return nil
}

// runParallel repeatedly selects the ready subset of the remaining tasks
// and runs up to cfg.MaxParallelTasks of them concurrently, checkpointing
// after every batch. A round with no ready tasks marks everything left as
// blocked and stops: this is the only exit condition besides the
// remaining set running dry.
func (s *Scheduler) runParallel(ctx context.Context, sprintID string, tasks []domain.Task, total int, cp *domain.CheckpointState) error {
	pending := make(map[string]domain.Task, len(tasks))
	order := make([]string, 0, len(tasks))
	for _, t := range tasks {
		pending[t.ID] = t
		order = append(order, t.ID)
	}

	for len(pending) > 0 {
		if ctx.Err() != nil {
			return nil
		}

		var ready []domain.Task
		for _, id := range order {
			t, ok := pending[id]
			if !ok {
				continue
			}
			if dependenciesSatisfied(t, cp.CompletedTaskIDs) {
				ready = append(ready, t)
			}
		}

		if len(ready) == 0 {
			for _, id := range order {
				t, ok := pending[id]
				if !ok {
					continue
				}
				result := domain.TaskExecutionResult{
					TaskID: t.ID,
					Error:  fmt.Sprintf("blocked: unsatisfied dependency %s", blockedDependency(t, cp.CompletedTaskIDs)),
				}
				cp.RecordResult(result)
				s.sink.Emit(domain.ProgressEvent{
					Phase: domain.ProgressBlocked, SprintID: sprintID, TaskID: t.ID,
					TasksCompleted: len(cp.CompletedTaskIDs), TasksTotal: total, Message: result.Error,
				})
			}
			return s.checkpoint(ctx, cp)
		}

		results, err := s.runBatch(ctx, sprintID, ready, total, cp)
		if err != nil {
			return err
		}
		for _, r := range results {
			cp.RecordResult(r)
			delete(pending, r.TaskID)
		}
		if err := s.checkpoint(ctx, cp); err != nil {
			return err
		}
	}
	return nil
}

// runBatch runs ready concurrently, bounded by cfg.MaxParallelTasks,
// mutating no shared state: each goroutine writes into its own result
// slot, and cp is only read (for CompletedTaskIDs) and never written
// until every goroutine in the batch has returned.
func (s *Scheduler) runBatch(ctx context.Context, sprintID string, ready []domain.Task, total int, cp *domain.CheckpointState) ([]domain.TaskExecutionResult, error) {
	results := make([]domain.TaskExecutionResult, len(ready))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxParallelTasks)

	for i, task := range ready {
		i, task := i, task
		g.Go(func() error {
			s.sink.Emit(domain.ProgressEvent{
				Phase: domain.ProgressExecuting, SprintID: sprintID, TaskID: task.ID,
				TasksCompleted: len(cp.CompletedTaskIDs), TasksTotal: total,
			})
			result, err := s.runner.RunTask(gctx, task)
			if err != nil {
				return fmt.Errorf("scheduler: run task %s: %w", task.ID, err)
			}
			results[i] = *result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Scheduler) checkpoint(ctx context.Context, cp *domain.CheckpointState) error {
	if err := s.store.SaveCheckpoint(ctx, *cp); err != nil {
		return fmt.Errorf("scheduler: save checkpoint for sprint %s: %w", cp.SprintID, err)
	}
	return nil
}

// now is overridable in tests that need deterministic timestamps.
var now = time.Now
