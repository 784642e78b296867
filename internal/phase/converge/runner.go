package converge

import (
	"context"

	"forge.dev/forge/internal/domain"
	"forge.dev/forge/internal/iterator"
)

// DepsFactory supplies the per-task oracle/file-saver/test-runner/evaluator
// bundle a convergence run needs. Most callers close over a shared oracle
// client and project root and vary only the file saver's task scope.
type DepsFactory func(domain.Task) iterator.IterationDeps

// Runner adapts CONVERGE phases to scheduler.TaskRunner: every call
// constructs a fresh Phase scoped to the given task, so concurrent calls
// from a parallel batch never share mutable state.
type Runner struct {
	Deps DepsFactory
	It   *iterator.Iterator
}

// RunTask runs task's convergence loop to completion.
func (r *Runner) RunTask(ctx context.Context, task domain.Task) (*domain.TaskExecutionResult, error) {
	p := New(task, r.Deps(task), r.It)
	if _, err := p.Execute(ctx); err != nil {
		return nil, err
	}
	return p.Result(), nil
}
