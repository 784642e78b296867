// Package domain defines the entities shared across the phase executor,
// scheduler, and iterator: tasks, sprints, iteration snapshots, quality
// scores, and the convergence/checkpoint state each owning component
// mutates. Types are plain structs; invariants are enforced by the
// constructors and by package boundaries elsewhere in the module, not by
// field visibility tricks.
package domain

import "time"

// TaskType classifies the kind of work a Task represents.
type TaskType string

// Recognised task types.
const (
	TaskFeature  TaskType = "feature"
	TaskTest     TaskType = "test"
	TaskRefactor TaskType = "refactor"
	TaskDocs     TaskType = "docs"
	TaskInfra    TaskType = "infra"
	TaskConfig   TaskType = "config"
)

// TaskComplexity estimates the effort a Task requires.
type TaskComplexity string

// Recognised complexity levels.
const (
	ComplexityTrivial  TaskComplexity = "trivial"
	ComplexitySimple   TaskComplexity = "simple"
	ComplexityModerate TaskComplexity = "moderate"
	ComplexityComplex  TaskComplexity = "complex"
)

// TaskStatus is the lifecycle state of a Task. Mutable only by the
// scheduler and task commands.
type TaskStatus string

// Recognised task statuses.
const (
	StatusPending    TaskStatus = "pending"
	StatusInProgress TaskStatus = "in_progress"
	StatusCompleted  TaskStatus = "completed"
	StatusBlocked    TaskStatus = "blocked"
	StatusRolledBack TaskStatus = "rolled_back"
)

// Task is a unit of backlog work. Dependencies must form a DAG across the
// backlog; the scheduler's topological sort (internal/scheduler) is the
// only component that relies on that invariant holding.
type Task struct {
	ID                  string         `json:"id"`
	StoryID             string         `json:"storyId"`
	Title               string         `json:"title"`
	Description         string         `json:"description"`
	Type                TaskType       `json:"type"`
	Dependencies        []string       `json:"dependencies"`
	EstimatedComplexity TaskComplexity `json:"estimatedComplexity"`
	Status              TaskStatus     `json:"status"`
}

// SprintStatus is the lifecycle state of a Sprint.
type SprintStatus string

// Recognised sprint statuses.
const (
	SprintPlanning SprintStatus = "planning"
	SprintActive   SprintStatus = "active"
	SprintComplete SprintStatus = "complete"
)

// Sprint groups an ordered list of stories under one goal. Created by the
// orchestrator phase and frozen once execution starts, except for Status.
type Sprint struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Goal      string       `json:"goal"`
	Stories   []string     `json:"stories"`
	StartDate time.Time    `json:"startDate"`
	Status    SprintStatus `json:"status"`
}
