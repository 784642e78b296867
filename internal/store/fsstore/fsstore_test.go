package fsstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"forge.dev/forge/internal/domain"
	"forge.dev/forge/internal/store"
)

func TestLoadBacklog_ReturnsEmptyWhenNoFileExists(t *testing.T) {
	s := New(t.TempDir())
	b, err := s.LoadBacklog(context.Background())
	require.NoError(t, err)
	require.Empty(t, b.Tasks)
}

func TestSaveAndLoadBacklog_RoundTrips(t *testing.T) {
	s := New(t.TempDir())
	ctx := context.Background()
	want := store.Backlog{Tasks: []domain.Task{{ID: "t1", Title: "first task"}, {ID: "t2", Title: "second task"}}}

	require.NoError(t, s.SaveBacklog(ctx, want))
	got, err := s.LoadBacklog(ctx)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestSaveBacklog_OverwritesPreviousContent(t *testing.T) {
	s := New(t.TempDir())
	ctx := context.Background()

	require.NoError(t, s.SaveBacklog(ctx, store.Backlog{Tasks: []domain.Task{{ID: "old"}}}))
	require.NoError(t, s.SaveBacklog(ctx, store.Backlog{Tasks: []domain.Task{{ID: "new"}}}))

	got, err := s.LoadBacklog(ctx)
	require.NoError(t, err)
	require.Len(t, got.Tasks, 1)
	require.Equal(t, "new", got.Tasks[0].ID)
}

func TestLoadSprint_ReturnsZeroValueWhenMissing(t *testing.T) {
	s := New(t.TempDir())
	sp, err := s.LoadSprint(context.Background(), "sprint-1")
	require.NoError(t, err)
	require.Equal(t, domain.Sprint{}, sp)
}

func TestSaveAndLoadSprint_RoundTrips(t *testing.T) {
	s := New(t.TempDir())
	ctx := context.Background()
	want := domain.Sprint{
		ID:        "sprint-1",
		Name:      "Sprint One",
		Goal:      "ship the thing",
		Stories:   []string{"story-1", "story-2"},
		StartDate: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Status:    domain.SprintPlanning,
	}

	require.NoError(t, s.SaveSprint(ctx, want))
	got, err := s.LoadSprint(ctx, "sprint-1")
	require.NoError(t, err)
	require.True(t, want.StartDate.Equal(got.StartDate))
	got.StartDate = want.StartDate
	require.Equal(t, want, got)
}

func TestLoadCheckpoint_ReturnsNilWhenMissing(t *testing.T) {
	s := New(t.TempDir())
	cp, err := s.LoadCheckpoint(context.Background(), "sprint-1")
	require.NoError(t, err)
	require.Nil(t, cp)
}

func TestSaveAndLoadCheckpoint_RoundTripsCompletedTaskIDs(t *testing.T) {
	s := New(t.TempDir())
	ctx := context.Background()
	cp := domain.NewCheckpointState("sprint-1", time.Now())
	cp.RecordResult(domain.TaskExecutionResult{TaskID: "t1", Success: true, FinalScore: 0.9})
	cp.RecordResult(domain.TaskExecutionResult{TaskID: "t2", Success: false, Error: "boom"})

	require.NoError(t, s.SaveCheckpoint(ctx, *cp))
	got, err := s.LoadCheckpoint(ctx, "sprint-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.True(t, got.IsCompleted("t1"))
	require.False(t, got.IsCompleted("t2"))
	require.Len(t, got.TaskResults, 2)
	require.Equal(t, domain.CurrentSchemaVersion, got.SchemaVersion)
}

func TestLoadCheckpoint_CorruptFileRestartsFromScratchInsteadOfFailing(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "checkpoints", "complete-sprint-1.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	s := New(root)
	cp, err := s.LoadCheckpoint(context.Background(), "sprint-1")
	require.NoError(t, err)
	require.Nil(t, cp)
}

func TestSaveResults_WritesToResultsDirectory(t *testing.T) {
	root := t.TempDir()
	s := New(root)
	r := store.Results{SprintID: "sprint-1", Results: []domain.TaskExecutionResult{{TaskID: "t1", Success: true}}}

	require.NoError(t, s.SaveResults(context.Background(), r))

	path := filepath.Join(root, "results", "sprint-1-results.json")
	_, err := os.Stat(path)
	require.NoError(t, err)
}

func TestAtomicWriteJSON_LeavesNoTempFileBehindOnSuccess(t *testing.T) {
	root := t.TempDir()
	s := New(root)
	require.NoError(t, s.SaveBacklog(context.Background(), store.Backlog{}))

	entries, err := os.ReadDir(filepath.Join(root, "planning"))
	require.NoError(t, err)
	for _, e := range entries {
		require.NotContains(t, e.Name(), ".tmp-")
	}
}
