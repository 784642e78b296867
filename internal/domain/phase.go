package domain

import "time"

// PhaseMetrics records one phase execution's timing and oracle usage.
type PhaseMetrics struct {
	StartTime  time.Time `json:"startTime"`
	EndTime    time.Time `json:"endTime"`
	DurationMs int64     `json:"durationMs"`
	LLMCalls   int       `json:"llmCalls"`
	TokensUsed int       `json:"tokensUsed"`
}

// PhaseResult is the outcome of one Phase.Execute call.
type PhaseResult struct {
	PhaseName string       `json:"phaseName"`
	Success   bool         `json:"success"`
	Artifacts []string     `json:"artifacts,omitempty"`
	Error     string       `json:"error,omitempty"`
	Metrics   PhaseMetrics `json:"metrics"`
}
