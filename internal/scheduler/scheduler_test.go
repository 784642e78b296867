package scheduler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"forge.dev/forge/internal/domain"
	"forge.dev/forge/internal/store"
)

// memStore is an in-memory store.Store sufficient for scheduler tests:
// only LoadCheckpoint/SaveCheckpoint are exercised.
type memStore struct {
	checkpoint *domain.CheckpointState
}

func (m *memStore) LoadBacklog(context.Context) (store.Backlog, error)     { return store.Backlog{}, nil }
func (m *memStore) SaveBacklog(context.Context, store.Backlog) error       { return nil }
func (m *memStore) LoadSprint(context.Context, string) (domain.Sprint, error) {
	return domain.Sprint{}, nil
}
func (m *memStore) SaveSprint(context.Context, domain.Sprint) error { return nil }

func (m *memStore) LoadCheckpoint(_ context.Context, sprintID string) (*domain.CheckpointState, error) {
	if m.checkpoint == nil || m.checkpoint.SprintID != sprintID {
		return nil, nil
	}
	return m.checkpoint, nil
}

func (m *memStore) SaveCheckpoint(_ context.Context, cp domain.CheckpointState) error {
	m.checkpoint = &cp
	return nil
}

func (m *memStore) SaveResults(context.Context, store.Results) error { return nil }

var _ store.Store = (*memStore)(nil)

// scriptedRunner returns a fixed result per task ID and records call order.
type scriptedRunner struct {
	results map[string]domain.TaskExecutionResult
	calls   []string
}

func (r *scriptedRunner) RunTask(_ context.Context, task domain.Task) (*domain.TaskExecutionResult, error) {
	r.calls = append(r.calls, task.ID)
	result := r.results[task.ID]
	if result.TaskID == "" {
		result.TaskID = task.ID
	}
	return &result, nil
}

type recordingSink struct {
	events []domain.ProgressEvent
}

func (r *recordingSink) Emit(e domain.ProgressEvent) { r.events = append(r.events, e) }

func TestScheduler_SequentialRespectsDependencyOrder(t *testing.T) {
	tasks := []domain.Task{
		{ID: "b", Dependencies: []string{"a"}},
		{ID: "a"},
		{ID: "c", Dependencies: []string{"b"}},
	}
	runner := &scriptedRunner{results: map[string]domain.TaskExecutionResult{
		"a": {Success: true},
		"b": {Success: true},
		"c": {Success: true},
	}}
	st := &memStore{}
	sched := New(Config{Mode: Sequential}, st, runner, nil, nil)

	cp, err := sched.Run(context.Background(), "s1", tasks)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, runner.calls)
	require.True(t, cp.IsCompleted("a"))
	require.True(t, cp.IsCompleted("b"))
	require.True(t, cp.IsCompleted("c"))
}

func TestScheduler_SequentialBlocksOnUnsatisfiedDependency(t *testing.T) {
	tasks := []domain.Task{
		{ID: "a", Dependencies: []string{"missing"}},
	}
	runner := &scriptedRunner{results: map[string]domain.TaskExecutionResult{}}
	st := &memStore{}
	sink := &recordingSink{}
	sched := New(Config{Mode: Sequential}, st, runner, sink, nil)

	cp, err := sched.Run(context.Background(), "s2", tasks)
	require.NoError(t, err)
	require.Empty(t, runner.calls)
	require.False(t, cp.IsCompleted("a"))
	require.Len(t, cp.TaskResults, 1)
	require.Contains(t, cp.TaskResults[0].Error, "missing")

	var sawBlocked bool
	for _, e := range sink.events {
		if e.Phase == domain.ProgressBlocked {
			sawBlocked = true
		}
	}
	require.True(t, sawBlocked)
}

func TestScheduler_ResumeSkipsCompletedTasks(t *testing.T) {
	tasks := []domain.Task{{ID: "a"}, {ID: "b"}}
	runner := &scriptedRunner{results: map[string]domain.TaskExecutionResult{
		"b": {Success: true},
	}}
	existing := domain.NewCheckpointState("s3", now())
	existing.RecordResult(domain.TaskExecutionResult{TaskID: "a", Success: true})
	st := &memStore{checkpoint: existing}

	sched := New(Config{Mode: Sequential}, st, runner, nil, nil)
	cp, err := sched.Run(context.Background(), "s3", tasks)
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, runner.calls)
	require.True(t, cp.IsCompleted("a"))
	require.True(t, cp.IsCompleted("b"))
}

func TestScheduler_ParallelBatchedRunsIndependentTasksTogether(t *testing.T) {
	tasks := []domain.Task{
		{ID: "a"},
		{ID: "b"},
		{ID: "c", Dependencies: []string{"a", "b"}},
	}
	runner := &scriptedRunner{results: map[string]domain.TaskExecutionResult{
		"a": {Success: true},
		"b": {Success: true},
		"c": {Success: true},
	}}
	st := &memStore{}
	sched := New(Config{Mode: ParallelBatched, MaxParallelTasks: 2}, st, runner, nil, nil)

	cp, err := sched.Run(context.Background(), "s4", tasks)
	require.NoError(t, err)
	require.True(t, cp.IsCompleted("a"))
	require.True(t, cp.IsCompleted("b"))
	require.True(t, cp.IsCompleted("c"))
	// c must have run after both a and b regardless of their relative order.
	cIndex, aIndex, bIndex := -1, -1, -1
	for i, id := range runner.calls {
		switch id {
		case "a":
			aIndex = i
		case "b":
			bIndex = i
		case "c":
			cIndex = i
		}
	}
	require.Greater(t, cIndex, aIndex)
	require.Greater(t, cIndex, bIndex)
}

func TestScheduler_ParallelBatchedMarksRemainingBlockedWhenNoneReady(t *testing.T) {
	tasks := []domain.Task{
		{ID: "a", Dependencies: []string{"ghost"}},
		{ID: "b", Dependencies: []string{"ghost"}},
	}
	runner := &scriptedRunner{results: map[string]domain.TaskExecutionResult{}}
	st := &memStore{}
	sched := New(Config{Mode: ParallelBatched}, st, runner, nil, nil)

	cp, err := sched.Run(context.Background(), "s5", tasks)
	require.NoError(t, err)
	require.Empty(t, runner.calls)
	require.Len(t, cp.TaskResults, 2)
	require.False(t, cp.IsCompleted("a"))
	require.False(t, cp.IsCompleted("b"))
}
