package converge

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"forge.dev/forge/internal/domain"
	"forge.dev/forge/internal/iterator"
	"forge.dev/forge/internal/oracle"
)

type scriptedOracle struct {
	responses []*oracle.Response
	calls     int
}

func (s *scriptedOracle) Complete(_ context.Context, _ *oracle.Request) (*oracle.Response, error) {
	r := s.responses[s.calls]
	s.calls++
	return r, nil
}
func (s *scriptedOracle) Stream(context.Context, *oracle.Request) (oracle.Streamer, error) {
	panic("not used")
}
func (s *scriptedOracle) CountTokens(string) int { return 0 }
func (s *scriptedOracle) ContextWindow() int     { return 100000 }
func (s *scriptedOracle) IsAvailable() bool      { return true }

type noopSaver struct{}

func (noopSaver) SaveFiles(_ context.Context, _ domain.Task, files iterator.FileSet) (domain.FileChangeSet, string, error) {
	out := make([]string, 0, len(files))
	for p := range files {
		out = append(out, p)
	}
	return domain.FileChangeSet{Modified: out}, "", nil
}

func filesResponse(files map[string]string) *oracle.Response {
	input, _ := json.Marshal(map[string]any{"files": files})
	return &oracle.Response{ToolCalls: []oracle.ToolCall{{Name: "submit_files", Input: input}}}
}

func reviewResponse(dims map[string]float64) *oracle.Response {
	input, _ := json.Marshal(map[string]any{"dimensions": dims, "issues": []domain.Issue{}})
	return &oracle.Response{ToolCalls: []oracle.ToolCall{{Name: "submit_review", Input: input}}}
}

func highDimensions() map[string]float64 {
	return map[string]float64{
		"correctness": 95, "completeness": 95, "robustness": 95, "readability": 95,
		"maintainability": 95, "complexity": 95, "duplication": 95, "testCoverage": 90,
		"testQuality": 95, "security": 95, "documentation": 95, "style": 95,
	}
}

func TestPhase_ExecuteRunsConvergenceLoopAndRecordsResult(t *testing.T) {
	task := domain.Task{ID: "t1", Title: "add widget"}
	oc := &scriptedOracle{responses: []*oracle.Response{
		filesResponse(map[string]string{"widget.go": "package widget"}),
		reviewResponse(highDimensions()),
		filesResponse(map[string]string{"widget.go": "package widget // v2"}),
		reviewResponse(highDimensions()),
	}}
	deps := iterator.IterationDeps{Oracle: oc, SaveFiles: noopSaver{}}

	p := New(task, deps, nil)
	started, err := p.CanStart(context.Background())
	require.NoError(t, err)
	require.True(t, started)

	result, err := p.Execute(context.Background())
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, "CONVERGE", result.PhaseName)
	require.Equal(t, []string{"t1"}, result.Artifacts)

	canComplete, err := p.CanComplete(context.Background())
	require.NoError(t, err)
	require.True(t, canComplete)
	require.NotNil(t, p.Result())
}

func TestPhase_CheckpointRestoreRoundTrips(t *testing.T) {
	task := domain.Task{ID: "t2"}
	oc := &scriptedOracle{responses: []*oracle.Response{
		filesResponse(map[string]string{"a.go": "package a"}),
		reviewResponse(highDimensions()),
		filesResponse(map[string]string{"a.go": "package a // v2"}),
		reviewResponse(highDimensions()),
	}}
	deps := iterator.IterationDeps{Oracle: oc, SaveFiles: noopSaver{}}

	p := New(task, deps, nil)
	_, err := p.Execute(context.Background())
	require.NoError(t, err)

	cp, err := p.Checkpoint(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, cp.Data)

	restored := New(task, deps, nil)
	require.NoError(t, restored.Restore(context.Background(), cp))
	require.Equal(t, p.Result().Success, restored.Result().Success)
}
