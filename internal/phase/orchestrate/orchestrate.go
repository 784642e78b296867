// Package orchestrate implements the ORCHESTRATE phase: asking the oracle
// to break a sprint goal into a dependency-ordered task backlog and
// persisting it to the artifact store.
package orchestrate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"forge.dev/forge/internal/domain"
	"forge.dev/forge/internal/oracle"
	"forge.dev/forge/internal/phase"
	"forge.dev/forge/internal/store"
)

const submitPlanTool = "submit_plan"

var submitPlanSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"tasks": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id":                  map[string]any{"type": "string"},
					"storyId":             map[string]any{"type": "string"},
					"title":               map[string]any{"type": "string"},
					"description":         map[string]any{"type": "string"},
					"type":                map[string]any{"type": "string", "enum": []string{"feature", "test", "refactor", "docs", "infra", "config"}},
					"dependencies":        map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"estimatedComplexity": map[string]any{"type": "string", "enum": []string{"trivial", "simple", "moderate", "complex"}},
				},
				"required": []string{"id", "title", "type"},
			},
		},
	},
	"required": []string{"tasks"},
}

// Phase plans one sprint: it asks the oracle for a task breakdown and
// writes the resulting backlog and sprint record to the store.
type Phase struct {
	sprint domain.Sprint
	oracle oracle.Client
	store  store.Store
	tasks  []domain.Task
}

// New constructs a Phase that plans sprint using client and persists
// through st.
func New(sprint domain.Sprint, client oracle.Client, st store.Store) *Phase {
	return &Phase{sprint: sprint, oracle: client, store: st}
}

func (p *Phase) Name() string { return "ORCHESTRATE" }

// CanStart reports whether the sprint carries a goal to plan against.
func (p *Phase) CanStart(context.Context) (bool, error) {
	return strings.TrimSpace(p.sprint.Goal) != "", nil
}

// Execute asks the oracle for a task breakdown and persists it.
func (p *Phase) Execute(ctx context.Context) (domain.PhaseResult, error) {
	start := time.Now()
	metrics := domain.PhaseMetrics{StartTime: start}

	req := &oracle.Request{
		System: "Break the sprint goal into a dependency-ordered backlog of tasks, calling submit_plan exactly once.",
		Messages: []oracle.Message{
			{Role: oracle.RoleUser, Parts: []oracle.Part{oracle.TextPart{Text: planPrompt(p.sprint)}}},
		},
		Tools:      []oracle.ToolDefinition{{Name: submitPlanTool, Description: "Submit the sprint's task backlog.", InputSchema: submitPlanSchema}},
		ToolChoice: &oracle.ToolChoice{Mode: oracle.ToolChoiceTool, Name: submitPlanTool},
	}
	resp, err := p.oracle.Complete(ctx, req)
	metrics.LLMCalls = 1
	metrics.EndTime = time.Now()
	metrics.DurationMs = metrics.EndTime.Sub(metrics.StartTime).Milliseconds()
	if err != nil {
		return domain.PhaseResult{PhaseName: p.Name(), Success: false, Error: err.Error(), Metrics: metrics}, err
	}

	tasks, err := decodePlan(resp)
	if err != nil {
		return domain.PhaseResult{PhaseName: p.Name(), Success: false, Error: err.Error(), Metrics: metrics}, err
	}
	p.tasks = tasks
	p.sprint.Stories = storyIDs(tasks)

	if p.store != nil {
		backlog, err := p.store.LoadBacklog(ctx)
		if err != nil {
			return domain.PhaseResult{PhaseName: p.Name(), Success: false, Error: err.Error(), Metrics: metrics}, err
		}
		backlog.Tasks = append(backlog.Tasks, tasks...)
		if err := p.store.SaveBacklog(ctx, backlog); err != nil {
			return domain.PhaseResult{PhaseName: p.Name(), Success: false, Error: err.Error(), Metrics: metrics}, err
		}
		if err := p.store.SaveSprint(ctx, p.sprint); err != nil {
			return domain.PhaseResult{PhaseName: p.Name(), Success: false, Error: err.Error(), Metrics: metrics}, err
		}
	}

	return domain.PhaseResult{
		PhaseName: p.Name(),
		Success:   true,
		Artifacts: []string{"planning/backlog.json", "planning/sprints/" + p.sprint.ID + ".json"},
		Metrics:   metrics,
	}, nil
}

// CanComplete reports whether a plan has been produced.
func (p *Phase) CanComplete(context.Context) (bool, error) {
	return len(p.tasks) > 0, nil
}

// Checkpoint captures the planned task set.
func (p *Phase) Checkpoint(context.Context) (phase.Checkpoint, error) {
	data, err := json.Marshal(p.tasks)
	if err != nil {
		return phase.Checkpoint{}, fmt.Errorf("orchestrate: marshal checkpoint: %w", err)
	}
	return phase.Checkpoint{PhaseName: p.Name(), Data: data}, nil
}

// Restore reloads a previously checkpointed plan.
func (p *Phase) Restore(_ context.Context, cp phase.Checkpoint) error {
	if len(cp.Data) == 0 {
		return nil
	}
	var tasks []domain.Task
	if err := json.Unmarshal(cp.Data, &tasks); err != nil {
		return fmt.Errorf("orchestrate: restore checkpoint: %w", err)
	}
	p.tasks = tasks
	return nil
}

// Tasks returns the planned task backlog after Execute or Restore.
func (p *Phase) Tasks() []domain.Task { return p.tasks }

func decodePlan(resp *oracle.Response) ([]domain.Task, error) {
	for _, c := range resp.ToolCalls {
		if c.Name != submitPlanTool {
			continue
		}
		var payload struct {
			Tasks []domain.Task `json:"tasks"`
		}
		if err := json.Unmarshal(c.Input, &payload); err != nil {
			return nil, fmt.Errorf("orchestrate: decode %s input: %w", submitPlanTool, err)
		}
		return payload.Tasks, nil
	}
	return nil, fmt.Errorf("orchestrate: expected a %s tool call, got %d tool calls", submitPlanTool, len(resp.ToolCalls))
}

func storyIDs(tasks []domain.Task) []string {
	seen := make(map[string]struct{}, len(tasks))
	var out []string
	for _, t := range tasks {
		if t.StoryID == "" {
			continue
		}
		if _, ok := seen[t.StoryID]; ok {
			continue
		}
		seen[t.StoryID] = struct{}{}
		out = append(out, t.StoryID)
	}
	return out
}

func planPrompt(sprint domain.Sprint) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Sprint %s: %s\n\nGoal:\n%s\n", sprint.ID, sprint.Name, sprint.Goal)
	return b.String()
}

var _ phase.Phase = (*Phase)(nil)
