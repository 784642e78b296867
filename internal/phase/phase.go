// Package phase defines the lifecycle every sprint phase implements, and
// the generic checkpoint envelope phases persist through.
package phase

import (
	"context"
	"encoding/json"

	"forge.dev/forge/internal/domain"
)

// Checkpoint is the opaque, per-phase durable state a Phase can restore
// from. Data is phase-specific: CONVERGE's Data is its marshaled
// domain.TaskExecutionResult, ORCHESTRATE's is its planned task list, and
// COMPLETE's is a marshaled domain.CheckpointState.
type Checkpoint struct {
	PhaseName string          `json:"phaseName"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Phase is the uniform lifecycle every sprint phase implements. Only
// COMPLETE contains substantive scheduling logic; CONVERGE and
// ORCHESTRATE are thin glue over an oracle client and the artifact store.
type Phase interface {
	Name() string
	CanStart(ctx context.Context) (bool, error)
	Execute(ctx context.Context) (domain.PhaseResult, error)
	CanComplete(ctx context.Context) (bool, error)
	Checkpoint(ctx context.Context) (Checkpoint, error)
	Restore(ctx context.Context, cp Checkpoint) error
}
