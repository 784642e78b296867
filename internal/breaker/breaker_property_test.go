package breaker

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"forge.dev/forge/internal/domain"
)

// TestBreakerProperty_OpensOnlyAfterThresholdConsecutiveFailures replays an
// arbitrary sequence of success/failure outcomes against a fresh breaker and
// checks that, at every point in the sequence, the breaker is Open if and
// only if the threshold is reached by a run of calls unbroken by a success.
func TestBreakerProperty_OpensOnlyAfterThresholdConsecutiveFailures(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("breaker state matches the trailing run of consecutive failures", prop.ForAll(
		func(threshold int, outcomes []bool) bool {
			b := New("test", Config{FailureThreshold: threshold, ResetTimeout: 0})
			run := 0
			for _, ok := range outcomes {
				if ok {
					b.RecordSuccess()
					run = 0
				} else {
					b.RecordFailure()
					run++
				}
				wantOpen := run >= threshold
				gotOpen := b.State().State == domain.CircuitOpen
				if wantOpen != gotOpen {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 10),
		gen.SliceOf(gen.Bool()),
	))

	properties.TestingRun(t)
}

// TestBreakerProperty_NeverOpenWithoutThresholdFailures checks the
// complementary direction with ResetTimeout held long enough that Allow
// never triggers a HalfOpen probe mid-sequence, isolating the pure
// Closed-vs-Open transition from the reset-timeout behavior.
func TestBreakerProperty_NeverOpenWithoutThresholdFailures(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("fewer than threshold consecutive failures never opens the breaker", prop.ForAll(
		func(threshold, failures int) bool {
			if failures >= threshold {
				return true
			}
			b := New("test", Config{FailureThreshold: threshold, ResetTimeout: time.Hour})
			for i := 0; i < failures; i++ {
				b.RecordFailure()
			}
			return b.State().State == domain.CircuitClosed
		},
		gen.IntRange(1, 20),
		gen.IntRange(0, 19),
	))

	properties.TestingRun(t)
}
