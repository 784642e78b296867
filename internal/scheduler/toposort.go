package scheduler

import (
	"context"

	"forge.dev/forge/internal/domain"
	"forge.dev/forge/internal/telemetry"
)

// topoSort orders tasks so that every task follows all of its
// dependencies, using Kahn's algorithm. If the dependency graph contains a
// cycle, the sorted prefix is shorter than tasks: rather than blocking
// execution, topoSort logs a warning and returns tasks in their original
// order unchanged.
func topoSort(ctx context.Context, tasks []domain.Task, logger telemetry.Logger) []domain.Task {
	byID := make(map[string]domain.Task, len(tasks))
	indegree := make(map[string]int, len(tasks))
	dependents := make(map[string][]string, len(tasks))

	for _, t := range tasks {
		byID[t.ID] = t
		if _, ok := indegree[t.ID]; !ok {
			indegree[t.ID] = 0
		}
	}
	for _, t := range tasks {
		for _, dep := range t.Dependencies {
			if _, ok := byID[dep]; !ok {
				// A dependency outside this task set contributes no edge to
				// sort on; the scheduler later reports the task as blocked
				// unless that dependency is already completed.
				continue
			}
			indegree[t.ID]++
			dependents[dep] = append(dependents[dep], t.ID)
		}
	}

	var queue []string
	for _, t := range tasks {
		if indegree[t.ID] == 0 {
			queue = append(queue, t.ID)
		}
	}

	sorted := make([]domain.Task, 0, len(tasks))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		sorted = append(sorted, byID[id])
		for _, dep := range dependents[id] {
			indegree[dep]--
			if indegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if len(sorted) != len(tasks) {
		if logger != nil {
			logger.Warn(ctx, "scheduler: task dependency graph contains a cycle, proceeding in input order",
				"tasksTotal", len(tasks), "sorted", len(sorted))
		}
		return tasks
	}
	return sorted
}
