package orchestrate

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"forge.dev/forge/internal/domain"
	"forge.dev/forge/internal/oracle"
	"forge.dev/forge/internal/store"
)

type scriptedOracle struct {
	response *oracle.Response
}

func (s *scriptedOracle) Complete(context.Context, *oracle.Request) (*oracle.Response, error) {
	return s.response, nil
}
func (s *scriptedOracle) Stream(context.Context, *oracle.Request) (oracle.Streamer, error) {
	panic("not used")
}
func (s *scriptedOracle) CountTokens(string) int { return 0 }
func (s *scriptedOracle) ContextWindow() int     { return 100000 }
func (s *scriptedOracle) IsAvailable() bool      { return true }

type memStore struct {
	backlog store.Backlog
	sprints map[string]domain.Sprint
}

func newMemStore() *memStore { return &memStore{sprints: map[string]domain.Sprint{}} }

func (m *memStore) LoadBacklog(context.Context) (store.Backlog, error) { return m.backlog, nil }
func (m *memStore) SaveBacklog(_ context.Context, b store.Backlog) error {
	m.backlog = b
	return nil
}
func (m *memStore) LoadSprint(_ context.Context, id string) (domain.Sprint, error) {
	return m.sprints[id], nil
}
func (m *memStore) SaveSprint(_ context.Context, s domain.Sprint) error {
	m.sprints[s.ID] = s
	return nil
}
func (m *memStore) LoadCheckpoint(context.Context, string) (*domain.CheckpointState, error) {
	return nil, nil
}
func (m *memStore) SaveCheckpoint(context.Context, domain.CheckpointState) error { return nil }
func (m *memStore) SaveResults(context.Context, store.Results) error             { return nil }

var _ store.Store = (*memStore)(nil)

func planResponse(tasks []domain.Task) *oracle.Response {
	input, _ := json.Marshal(map[string]any{"tasks": tasks})
	return &oracle.Response{ToolCalls: []oracle.ToolCall{{Name: submitPlanTool, Input: input}}}
}

func TestPhase_ExecutePersistsPlannedTasks(t *testing.T) {
	sprint := domain.Sprint{ID: "sprint-1", Name: "Widgets", Goal: "Ship the widget feature"}
	tasks := []domain.Task{
		{ID: "t1", StoryID: "s1", Title: "scaffold widget package", Type: domain.TaskFeature},
		{ID: "t2", StoryID: "s1", Title: "add widget tests", Type: domain.TaskTest, Dependencies: []string{"t1"}},
	}
	oc := &scriptedOracle{response: planResponse(tasks)}
	st := newMemStore()

	p := New(sprint, oc, st)
	canStart, err := p.CanStart(context.Background())
	require.NoError(t, err)
	require.True(t, canStart)

	result, err := p.Execute(context.Background())
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, "ORCHESTRATE", result.PhaseName)
	require.Len(t, p.Tasks(), 2)
	require.Len(t, st.backlog.Tasks, 2)
	require.Equal(t, sprint.ID, st.sprints[sprint.ID].ID)
	require.Equal(t, []string{"s1"}, st.sprints[sprint.ID].Stories)
}

func TestPhase_CanStartFalseWithoutGoal(t *testing.T) {
	p := New(domain.Sprint{ID: "sprint-2"}, &scriptedOracle{}, newMemStore())
	canStart, err := p.CanStart(context.Background())
	require.NoError(t, err)
	require.False(t, canStart)
}

func TestPhase_CheckpointRestoreRoundTrips(t *testing.T) {
	sprint := domain.Sprint{ID: "sprint-3", Goal: "Ship something"}
	tasks := []domain.Task{{ID: "t1", Title: "do the thing"}}
	oc := &scriptedOracle{response: planResponse(tasks)}
	st := newMemStore()

	p := New(sprint, oc, st)
	_, err := p.Execute(context.Background())
	require.NoError(t, err)

	cp, err := p.Checkpoint(context.Background())
	require.NoError(t, err)

	restored := New(sprint, oc, st)
	require.NoError(t, restored.Restore(context.Background(), cp))
	require.Equal(t, p.Tasks(), restored.Tasks())
}
