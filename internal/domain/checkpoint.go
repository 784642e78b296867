package domain

import (
	"encoding/json"
	"sort"
	"time"
)

// CircuitBreakerState is the three-state machine state of one oracle's
// circuit breaker.
type CircuitBreakerState string

// Recognised circuit breaker states.
const (
	CircuitClosed   CircuitBreakerState = "closed"
	CircuitOpen     CircuitBreakerState = "open"
	CircuitHalfOpen CircuitBreakerState = "half_open"
)

// CircuitState is the durable shape of one oracle's breaker; owned
// exclusively by internal/breaker.
type CircuitState struct {
	State         CircuitBreakerState `json:"state"`
	FailureCount  int                 `json:"failureCount"`
	LastFailureAt time.Time           `json:"lastFailureAt"`
	OpenedAt      time.Time           `json:"openedAt"`
}

// TaskExecutionResult is the scheduler's record of one task's outcome,
// whether it ran to convergence, was blocked by unsatisfied dependencies,
// or failed.
type TaskExecutionResult struct {
	TaskID     string        `json:"taskId"`
	Success    bool          `json:"success"`
	Converged  bool          `json:"converged"`
	FinalScore float64       `json:"finalScore"`
	Iterations int           `json:"iterations"`
	Error      string        `json:"error,omitempty"`
	Versions   []TaskVersion `json:"versions,omitempty"`
}

// CheckpointState is the scheduler's durable cursor, persisted atomically
// after each completed batch. Invariant: CompletedTaskIDs must equal the
// set of TaskResults entries whose Success is true, an invariant tested
// by internal/scheduler's checkpoint property tests.
type CheckpointState struct {
	// SchemaVersion identifies the on-disk encoding of this checkpoint.
	// Populated by the store on write and checked, not enforced, on read.
	SchemaVersion    int                   `json:"schemaVersion"`
	SprintID         string                `json:"sprintId"`
	CurrentTaskIndex int                   `json:"currentTaskIndex"`
	CompletedTaskIDs map[string]struct{}   `json:"-"`
	TaskResults      []TaskExecutionResult `json:"taskResults"`
	StartTime        time.Time             `json:"startTime"`
}

// CurrentSchemaVersion is the schema version written by this module's
// store implementations.
const CurrentSchemaVersion = 1

// NewCheckpointState returns a zero-value checkpoint for sprintID, stamped
// with the current schema version and start time.
func NewCheckpointState(sprintID string, now time.Time) *CheckpointState {
	return &CheckpointState{
		SchemaVersion:    CurrentSchemaVersion,
		SprintID:         sprintID,
		CompletedTaskIDs: make(map[string]struct{}),
		StartTime:        now,
	}
}

// RecordResult appends r to TaskResults and, if r.Success, adds r.TaskID to
// CompletedTaskIDs. This is the only mutator permitted to grow TaskResults
// (append-only) or CompletedTaskIDs.
func (c *CheckpointState) RecordResult(r TaskExecutionResult) {
	c.TaskResults = append(c.TaskResults, r)
	if r.Success {
		c.CompletedTaskIDs[r.TaskID] = struct{}{}
	}
}

// IsCompleted reports whether taskID is in CompletedTaskIDs.
func (c *CheckpointState) IsCompleted(taskID string) bool {
	_, ok := c.CompletedTaskIDs[taskID]
	return ok
}

// checkpointWire is the on-disk JSON form of CheckpointState: CompletedTaskIDs
// is a set (map[string]struct{}) written as a sorted string array, so
// MarshalJSON/UnmarshalJSON go through this shape instead (kept here,
// beside the struct it mirrors, rather than duplicated per backend).
type checkpointWire struct {
	SchemaVersion    int                   `json:"schemaVersion"`
	SprintID         string                `json:"sprintId"`
	CurrentTaskIndex int                   `json:"currentTaskIndex"`
	CompletedTaskIDs []string              `json:"completedTaskIds"`
	TaskResults      []TaskExecutionResult `json:"taskResults"`
	StartTime        time.Time             `json:"startTime"`
}

// MarshalJSON encodes CompletedTaskIDs as a sorted string slice rather than
// the JSON object encoding/json would produce for a map[string]struct{}.
func (c CheckpointState) MarshalJSON() ([]byte, error) {
	ids := make([]string, 0, len(c.CompletedTaskIDs))
	for id := range c.CompletedTaskIDs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return json.Marshal(checkpointWire{
		SchemaVersion:    c.SchemaVersion,
		SprintID:         c.SprintID,
		CurrentTaskIndex: c.CurrentTaskIndex,
		CompletedTaskIDs: ids,
		TaskResults:      c.TaskResults,
		StartTime:        c.StartTime,
	})
}

// UnmarshalJSON decodes the wire form produced by MarshalJSON back into a
// CheckpointState, rebuilding CompletedTaskIDs as a set.
func (c *CheckpointState) UnmarshalJSON(data []byte) error {
	var w checkpointWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	c.SchemaVersion = w.SchemaVersion
	c.SprintID = w.SprintID
	c.CurrentTaskIndex = w.CurrentTaskIndex
	c.TaskResults = w.TaskResults
	c.StartTime = w.StartTime
	c.CompletedTaskIDs = make(map[string]struct{}, len(w.CompletedTaskIDs))
	for _, id := range w.CompletedTaskIDs {
		c.CompletedTaskIDs[id] = struct{}{}
	}
	return nil
}
