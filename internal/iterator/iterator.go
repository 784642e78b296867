// Package iterator implements the per-task convergence loop: generate,
// review, improve, repeat until the task's quality score and test
// coverage stabilize or a maximum iteration count is reached.
package iterator

import (
	"context"
	"fmt"
	"time"

	"forge.dev/forge/internal/domain"
	"forge.dev/forge/internal/oracle"
)

// Config tunes the convergence loop's stop conditions.
type Config struct {
	MinScore                 float64
	MinCoverage              float64
	MaxIterations            int
	MinConvergenceIterations int
	ConvergenceThreshold     float64
}

// DefaultConfig returns the loop's default thresholds.
func DefaultConfig() Config {
	return Config{
		MinScore:                 85,
		MinCoverage:              80,
		MaxIterations:            10,
		MinConvergenceIterations: 2,
		ConvergenceThreshold:     2,
	}
}

// FileSet maps a relative file path to its full content.
type FileSet map[string]string

// FileSaver persists a FileSet to the project's working tree, returning the
// set of created/modified/deleted paths and a unified diff of the change.
type FileSaver interface {
	SaveFiles(ctx context.Context, task domain.Task, files FileSet) (domain.FileChangeSet, string, error)
}

// TestRunner executes a task's test suite against the current working
// tree. A nil TestRunner is treated as zero tests, zero coverage.
type TestRunner interface {
	Run(ctx context.Context) (domain.TestResults, error)
	Coverage(ctx context.Context) (CoverageReport, error)
}

// CoverageReport holds the four coverage percentages an evaluator or test
// runner may report, each in [0,100].
type CoverageReport struct {
	Lines      float64
	Branches   float64
	Functions  float64
	Statements float64
}

// Evaluator optionally replaces the oracle's self-reported dimensional
// scores with scores computed by a real static analyzer.
type Evaluator interface {
	Evaluate(ctx context.Context, filePaths []string) (domain.Dimensions, []domain.Issue, error)
}

// IterationDeps bundles everything one Run call needs beyond the task
// itself.
type IterationDeps struct {
	Oracle    oracle.Client
	SaveFiles FileSaver
	Tests     TestRunner
	Evaluator Evaluator
}

// Iterator runs the convergence loop for one task at a time. It holds no
// per-task state: all state lives in the loop's local variables and the
// domain.TaskExecutionResult it returns.
type Iterator struct {
	cfg Config
}

// New constructs an Iterator with cfg. Zero-value fields in cfg fall back
// to DefaultConfig's values.
func New(cfg Config) *Iterator {
	def := DefaultConfig()
	if cfg.MinScore <= 0 {
		cfg.MinScore = def.MinScore
	}
	if cfg.MinCoverage <= 0 {
		cfg.MinCoverage = def.MinCoverage
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = def.MaxIterations
	}
	if cfg.MinConvergenceIterations <= 0 {
		cfg.MinConvergenceIterations = def.MinConvergenceIterations
	}
	if cfg.ConvergenceThreshold <= 0 {
		cfg.ConvergenceThreshold = def.ConvergenceThreshold
	}
	return &Iterator{cfg: cfg}
}

// Run drives task through the convergence loop: generate an initial
// version, then repeatedly test, review, and improve it until the stop
// conditions converge or MaxIterations is reached.
func (it *Iterator) Run(ctx context.Context, task domain.Task, deps IterationDeps) (*domain.TaskExecutionResult, error) {
	files, err := it.generateInitial(ctx, task, deps.Oracle)
	if err != nil {
		return nil, fmt.Errorf("iterator: generate initial files for task %s: %w", task.ID, err)
	}
	changes, diffs, err := deps.SaveFiles.SaveFiles(ctx, task, files)
	if err != nil {
		return nil, fmt.Errorf("iterator: save initial files for task %s: %w", task.ID, err)
	}

	state := &domain.ConvergenceState{CurrentFiles: filePaths(files)}
	var versions []domain.TaskVersion
	var lastOverall, lastCoverage float64
	var lastAnalysisIssues []domain.Issue

	for iteration := 1; iteration <= it.cfg.MaxIterations; iteration++ {
		testResults, err := runTests(ctx, deps.Tests)
		if err != nil {
			return nil, fmt.Errorf("iterator: run tests for task %s iteration %d: %w", task.ID, iteration, err)
		}
		coverage, err := coverageOf(ctx, deps.Tests)
		if err != nil {
			return nil, fmt.Errorf("iterator: compute coverage for task %s iteration %d: %w", task.ID, iteration, err)
		}

		scores, issues, err := it.review(ctx, deps, task, files, testResults, coverage)
		if err != nil {
			return nil, fmt.Errorf("iterator: review task %s iteration %d: %w", task.ID, iteration, err)
		}

		iterNum := state.PushScore(scores.Overall)
		improvements := detectImprovements(lastAnalysisIssues, issues)
		confidence := computeConfidence(scores.Overall, iterNum, it.cfg.MinConvergenceIterations, issues)

		analysis := domain.Analysis{Issues: issues, Improvements: improvements, Confidence: confidence}
		state.LastReview = analysis
		versions = append(versions, domain.TaskVersion{
			Version:     iterNum,
			Timestamp:   now(),
			Changes:     changes,
			Diffs:       diffs,
			Scores:      scores,
			TestResults: testResults,
			Analysis:    analysis,
		})

		converged, shouldStop := it.evaluateStop(state.ScoreHistory, lastOverall, scores.Overall, coverage.Lines, issues)
		lastOverall = scores.Overall
		lastCoverage = coverage.Lines
		lastAnalysisIssues = issues

		if shouldStop {
			return &domain.TaskExecutionResult{
				TaskID:     task.ID,
				Success:    scores.Overall >= it.cfg.MinScore,
				Converged:  converged,
				FinalScore: scores.Overall,
				Iterations: iterNum,
				Versions:   versions,
			}, nil
		}

		improved, err := it.generateImprovement(ctx, deps.Oracle, task, files, analysis)
		if err != nil {
			return nil, fmt.Errorf("iterator: generate improvement for task %s iteration %d: %w", task.ID, iteration, err)
		}
		files = improved
		changes, diffs, err = deps.SaveFiles.SaveFiles(ctx, task, files)
		if err != nil {
			return nil, fmt.Errorf("iterator: save improved files for task %s iteration %d: %w", task.ID, iteration, err)
		}
		state.CurrentFiles = filePaths(files)
	}

	return &domain.TaskExecutionResult{
		TaskID:     task.ID,
		Success:    lastOverall >= it.cfg.MinScore && lastCoverage >= it.cfg.MinCoverage,
		Converged:  false,
		FinalScore: lastOverall,
		Iterations: len(versions),
		Error:      "Max iterations reached",
		Versions:   versions,
	}, nil
}

// evaluateStop implements the convergence loop's stop-condition ladder,
// first match wins.
func (it *Iterator) evaluateStop(history []float64, previous, overall, coverage float64, issues []domain.Issue) (converged, stop bool) {
	iteration := len(history)

	if iteration < it.cfg.MinConvergenceIterations {
		return false, false
	}
	if overall < it.cfg.MinScore {
		return false, false
	}
	if hasCriticalIssue(issues) {
		return false, false
	}

	delta := overall - previous
	if iteration > 1 {
		if abs(delta) < it.cfg.ConvergenceThreshold {
			return true, true
		}
		if delta < -5 {
			return false, false
		}
	}
	if overall >= it.cfg.MinScore && coverage >= it.cfg.MinCoverage {
		return true, true
	}
	return false, false
}

func hasCriticalIssue(issues []domain.Issue) bool {
	for _, i := range issues {
		if i.Severity == domain.SeverityCritical {
			return true
		}
	}
	return false
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// detectImprovements reports issues present in previous but absent from
// current, keyed by (category, message).
func detectImprovements(previous, current []domain.Issue) []domain.Improvement {
	remaining := make(map[[2]string]struct{}, len(current))
	for _, i := range current {
		remaining[[2]string{i.Category, i.Message}] = struct{}{}
	}
	var out []domain.Improvement
	for _, i := range previous {
		key := [2]string{i.Category, i.Message}
		if _, stillPresent := remaining[key]; stillPresent {
			continue
		}
		out = append(out, domain.Improvement{
			Category: i.Category,
			Message:  i.Message,
			Impact:   domain.ImpactForSeverity(i.Severity),
			Weight:   domain.ScoreImpactWeight(i.Severity),
		})
	}
	return out
}

// computeConfidence clamps score/2 + 25·(iteration ≥ minConvergence) +
// 25·(no critical/major issues remain) to [0,100].
func computeConfidence(overall float64, iteration, minConvergenceIterations int, issues []domain.Issue) float64 {
	confidence := overall / 2
	if iteration >= minConvergenceIterations {
		confidence += 25
	}
	if !hasCriticalOrMajor(issues) {
		confidence += 25
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 100 {
		confidence = 100
	}
	return confidence
}

func hasCriticalOrMajor(issues []domain.Issue) bool {
	for _, i := range issues {
		if i.Severity == domain.SeverityCritical || i.Severity == domain.SeverityMajor {
			return true
		}
	}
	return false
}

func runTests(ctx context.Context, tr TestRunner) (domain.TestResults, error) {
	if tr == nil {
		return domain.TestResults{}, nil
	}
	return tr.Run(ctx)
}

func coverageOf(ctx context.Context, tr TestRunner) (CoverageReport, error) {
	if tr == nil {
		return CoverageReport{}, nil
	}
	return tr.Coverage(ctx)
}

func filePaths(files FileSet) []string {
	out := make([]string, 0, len(files))
	for p := range files {
		out = append(out, p)
	}
	return out
}

// now is overridable in tests that need deterministic timestamps.
var now = time.Now
