package scheduler

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"forge.dev/forge/internal/domain"
)

// genResult builds a gopter generator for a single TaskExecutionResult keyed
// by one of a fixed small set of task IDs, so RecordResult calls in the
// generated sequence collide on ID often enough to exercise the
// CompletedTaskIDs-is-the-set-of-successful-results invariant.
func genResult() gopter.Gen {
	return gopter.CombineGens(
		gen.IntRange(0, 3), // task ID index
		gen.Bool(),         // Success
	).Map(func(vals []any) domain.TaskExecutionResult {
		ids := []string{"t1", "t2", "t3", "t4"}
		idIndex := vals[0].(int)
		success := vals[1].(bool)
		return domain.TaskExecutionResult{TaskID: ids[idIndex], Success: success}
	})
}

// TestCheckpointProperty_CompletedTaskIDsEqualsSuccessfulResults checks the
// invariant documented on domain.CheckpointState: after any sequence of
// RecordResult calls, CompletedTaskIDs contains exactly the task IDs whose
// most permissive view ("appeared at least once with Success true") holds,
// and this survives a JSON round trip through the same
// Marshal/Unmarshal the store uses.
func TestCheckpointProperty_CompletedTaskIDsEqualsSuccessfulResults(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("CompletedTaskIDs matches task IDs with at least one successful result, across a JSON round trip", prop.ForAll(
		func(results []domain.TaskExecutionResult) bool {
			cp := domain.NewCheckpointState("sprint-1", time.Now())
			wantCompleted := make(map[string]struct{})
			for _, r := range results {
				cp.RecordResult(r)
				if r.Success {
					wantCompleted[r.TaskID] = struct{}{}
				}
			}

			if len(cp.CompletedTaskIDs) != len(wantCompleted) {
				return false
			}
			for id := range wantCompleted {
				if !cp.IsCompleted(id) {
					return false
				}
			}
			if len(cp.TaskResults) != len(results) {
				return false
			}

			data, err := json.Marshal(cp)
			if err != nil {
				return false
			}
			var decoded domain.CheckpointState
			if err := json.Unmarshal(data, &decoded); err != nil {
				return false
			}
			if len(decoded.CompletedTaskIDs) != len(wantCompleted) {
				return false
			}
			for id := range wantCompleted {
				if !decoded.IsCompleted(id) {
					return false
				}
			}
			return len(decoded.TaskResults) == len(results)
		},
		gen.SliceOf(genResult()),
	))

	properties.TestingRun(t)
}
