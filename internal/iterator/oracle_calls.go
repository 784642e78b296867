package iterator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"forge.dev/forge/internal/domain"
	"forge.dev/forge/internal/oracle"
)

// Each oracle round trip forces a single structured tool call rather than
// parsing free-form prose: the oracle is asked to call a fixed-schema
// tool, and the loop reads the call's Input back as JSON. This keeps the
// convergence loop's parsing logic independent of any one backend's
// text-formatting habits.

const submitFilesTool = "submit_files"
const submitReviewTool = "submit_review"
const submitImprovementTool = "submit_improvement"

var submitFilesSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"files": map[string]any{
			"type":                 "object",
			"additionalProperties": map[string]any{"type": "string"},
		},
	},
	"required": []string{"files"},
}

var submitReviewSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"dimensions": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"correctness":     map[string]any{"type": "number"},
				"completeness":    map[string]any{"type": "number"},
				"robustness":      map[string]any{"type": "number"},
				"readability":     map[string]any{"type": "number"},
				"maintainability": map[string]any{"type": "number"},
				"complexity":      map[string]any{"type": "number"},
				"duplication":     map[string]any{"type": "number"},
				"testCoverage":    map[string]any{"type": "number"},
				"testQuality":     map[string]any{"type": "number"},
				"security":        map[string]any{"type": "number"},
				"documentation":   map[string]any{"type": "number"},
				"style":           map[string]any{"type": "number"},
			},
		},
		"issues": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"category": map[string]any{"type": "string"},
					"message":  map[string]any{"type": "string"},
					"severity": map[string]any{"type": "string", "enum": []string{"critical", "major", "minor", "info"}},
					"file":     map[string]any{"type": "string"},
				},
				"required": []string{"category", "message", "severity"},
			},
		},
	},
	"required": []string{"dimensions", "issues"},
}

func (it *Iterator) generateInitial(ctx context.Context, task domain.Task, client oracle.Client) (FileSet, error) {
	req := &oracle.Request{
		System: "You are implementing a single backlog task. Produce the complete set of files needed, calling submit_files exactly once.",
		Messages: []oracle.Message{
			{Role: oracle.RoleUser, Parts: []oracle.Part{oracle.TextPart{Text: taskPrompt(task)}}},
		},
		Tools:      []oracle.ToolDefinition{{Name: submitFilesTool, Description: "Submit the complete file set for this task.", InputSchema: submitFilesSchema}},
		ToolChoice: &oracle.ToolChoice{Mode: oracle.ToolChoiceTool, Name: submitFilesTool},
	}
	resp, err := client.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	return decodeFiles(resp, submitFilesTool)
}

func (it *Iterator) review(ctx context.Context, deps IterationDeps, task domain.Task, files FileSet, tests domain.TestResults, coverage CoverageReport) (domain.QualityScores, []domain.Issue, error) {
	req := &oracle.Request{
		System: "Review the current implementation of this task against its tests and report quality dimensions and issues by calling submit_review exactly once.",
		Messages: []oracle.Message{
			{Role: oracle.RoleUser, Parts: []oracle.Part{oracle.TextPart{Text: reviewPrompt(task, files, tests, coverage)}}},
		},
		Tools:      []oracle.ToolDefinition{{Name: submitReviewTool, Description: "Submit quality dimensions and issues for the current files.", InputSchema: submitReviewSchema}},
		ToolChoice: &oracle.ToolChoice{Mode: oracle.ToolChoiceTool, Name: submitReviewTool},
	}
	resp, err := deps.Oracle.Complete(ctx, req)
	if err != nil {
		return domain.QualityScores{}, nil, err
	}
	dims, issues, err := decodeReview(resp, submitReviewTool)
	if err != nil {
		return domain.QualityScores{}, nil, err
	}
	dims.TestCoverage = coverage.Lines

	if deps.Evaluator != nil {
		evalDims, evalIssues, err := deps.Evaluator.Evaluate(ctx, filePaths(files))
		if err != nil {
			return domain.QualityScores{}, nil, fmt.Errorf("iterator: evaluator: %w", err)
		}
		dims = evalDims
		issues = evalIssues
	}

	return domain.NewQualityScores(dims), issues, nil
}

func (it *Iterator) generateImprovement(ctx context.Context, client oracle.Client, task domain.Task, files FileSet, analysis domain.Analysis) (FileSet, error) {
	req := &oracle.Request{
		System: "Improve the current implementation to address the reported issues, calling submit_files with the complete updated file set exactly once.",
		Messages: []oracle.Message{
			{Role: oracle.RoleUser, Parts: []oracle.Part{oracle.TextPart{Text: improvementPrompt(task, files, analysis)}}},
		},
		Tools:      []oracle.ToolDefinition{{Name: submitFilesTool, Description: "Submit the complete, improved file set for this task.", InputSchema: submitFilesSchema}},
		ToolChoice: &oracle.ToolChoice{Mode: oracle.ToolChoiceTool, Name: submitFilesTool},
	}
	resp, err := client.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	return decodeFiles(resp, submitFilesTool)
}

func decodeFiles(resp *oracle.Response, toolName string) (FileSet, error) {
	call, err := findToolCall(resp, toolName)
	if err != nil {
		return nil, err
	}
	var payload struct {
		Files FileSet `json:"files"`
	}
	if err := json.Unmarshal(call.Input, &payload); err != nil {
		return nil, fmt.Errorf("iterator: decode %s input: %w", toolName, err)
	}
	return payload.Files, nil
}

func decodeReview(resp *oracle.Response, toolName string) (domain.Dimensions, []domain.Issue, error) {
	call, err := findToolCall(resp, toolName)
	if err != nil {
		return domain.Dimensions{}, nil, err
	}
	var payload struct {
		Dimensions domain.Dimensions `json:"dimensions"`
		Issues     []domain.Issue    `json:"issues"`
	}
	if err := json.Unmarshal(call.Input, &payload); err != nil {
		return domain.Dimensions{}, nil, fmt.Errorf("iterator: decode %s input: %w", toolName, err)
	}
	return payload.Dimensions, payload.Issues, nil
}

func findToolCall(resp *oracle.Response, name string) (oracle.ToolCall, error) {
	for _, c := range resp.ToolCalls {
		if c.Name == name {
			return c, nil
		}
	}
	return oracle.ToolCall{}, fmt.Errorf("iterator: expected a %s tool call, got %d tool calls", name, len(resp.ToolCalls))
}

func taskPrompt(task domain.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task %s: %s\n\n%s\n", task.ID, task.Title, task.Description)
	return b.String()
}

func reviewPrompt(task domain.Task, files FileSet, tests domain.TestResults, coverage CoverageReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task %s: %s\n\n", task.ID, task.Title)
	fmt.Fprintf(&b, "Tests: %d passed, %d failed, %d skipped\n", tests.Passed, tests.Failed, tests.Skipped)
	fmt.Fprintf(&b, "Coverage: lines=%.1f branches=%.1f functions=%.1f statements=%.1f\n\n", coverage.Lines, coverage.Branches, coverage.Functions, coverage.Statements)
	for path, content := range files {
		fmt.Fprintf(&b, "--- %s ---\n%s\n\n", path, content)
	}
	return b.String()
}

func improvementPrompt(task domain.Task, files FileSet, analysis domain.Analysis) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task %s: %s\n\nIssues to address:\n", task.ID, task.Title)
	for _, i := range analysis.Issues {
		fmt.Fprintf(&b, "- [%s] %s: %s\n", i.Severity, i.Category, i.Message)
	}
	b.WriteString("\nCurrent files:\n")
	for path, content := range files {
		fmt.Fprintf(&b, "--- %s ---\n%s\n\n", path, content)
	}
	return b.String()
}
