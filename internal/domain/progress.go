package domain

// ProgressPhase names the scheduler's current activity for one progress
// event.
type ProgressPhase string

// Recognised progress phases.
const (
	ProgressExecuting ProgressPhase = "executing"
	ProgressIterating ProgressPhase = "iterating"
	ProgressBlocked   ProgressPhase = "blocked"
	ProgressComplete  ProgressPhase = "complete"
)

// ProgressEvent is emitted through an injected sink as the scheduler moves
// through a sprint's tasks. Optional fields are zero-valued when not
// applicable to Phase.
type ProgressEvent struct {
	Phase          ProgressPhase `json:"phase"`
	SprintID       string        `json:"sprintId"`
	TaskID         string        `json:"taskId,omitempty"`
	Iteration      int           `json:"iteration,omitempty"`
	CurrentScore   float64       `json:"currentScore,omitempty"`
	TasksCompleted int           `json:"tasksCompleted"`
	TasksTotal     int           `json:"tasksTotal"`
	Message        string        `json:"message,omitempty"`
}
