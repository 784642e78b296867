package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"forge.dev/forge/internal/domain"
)

func fastConfig() Config {
	return Config{FailureThreshold: 3, ResetTimeout: 20 * time.Millisecond}
}

func TestNew_StartsClosed(t *testing.T) {
	b := New("anthropic", fastConfig())
	require.Equal(t, domain.CircuitClosed, b.State().State)
	require.True(t, b.Allow())
}

func TestRecordFailure_OpensAfterThreshold(t *testing.T) {
	b := New("anthropic", fastConfig())
	b.RecordFailure()
	b.RecordFailure()
	require.Equal(t, domain.CircuitClosed, b.State().State)
	b.RecordFailure()
	require.Equal(t, domain.CircuitOpen, b.State().State)
	require.False(t, b.Allow())
}

func TestRecordSuccess_ResetsFailureCountAndCloses(t *testing.T) {
	b := New("anthropic", fastConfig())
	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	state := b.State()
	require.Equal(t, domain.CircuitClosed, state.State)
	require.Equal(t, 0, state.FailureCount)
}

func TestAllow_AdmitsHalfOpenProbeAfterResetTimeout(t *testing.T) {
	b := New("anthropic", fastConfig())
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	require.Equal(t, domain.CircuitOpen, b.State().State)
	require.False(t, b.Allow())

	time.Sleep(25 * time.Millisecond)
	require.True(t, b.Allow())
	require.Equal(t, domain.CircuitHalfOpen, b.State().State)
}

func TestRecordFailure_InHalfOpenReopensImmediately(t *testing.T) {
	b := New("anthropic", fastConfig())
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	time.Sleep(25 * time.Millisecond)
	require.True(t, b.Allow())
	require.Equal(t, domain.CircuitHalfOpen, b.State().State)

	b.RecordFailure()
	require.Equal(t, domain.CircuitOpen, b.State().State)
	require.False(t, b.Allow())
}

func TestRecordSuccess_InHalfOpenCloses(t *testing.T) {
	b := New("anthropic", fastConfig())
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	time.Sleep(25 * time.Millisecond)
	require.True(t, b.Allow())
	require.Equal(t, domain.CircuitHalfOpen, b.State().State)

	b.RecordSuccess()
	require.Equal(t, domain.CircuitClosed, b.State().State)
}

func TestReset_ForcesClosedRegardlessOfState(t *testing.T) {
	b := New("anthropic", fastConfig())
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	require.Equal(t, domain.CircuitOpen, b.State().State)
	b.Reset()
	state := b.State()
	require.Equal(t, domain.CircuitClosed, state.State)
	require.Equal(t, 0, state.FailureCount)
}

func TestExecute_ReturnsOpenErrorWithoutCallingFnWhenOpen(t *testing.T) {
	b := New("anthropic", fastConfig())
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	calls := 0
	err := b.Execute(context.Background(), func(context.Context) error {
		calls++
		return nil
	})
	var openErr *OpenError
	require.True(t, errors.As(err, &openErr))
	require.Equal(t, "anthropic", openErr.Name)
	require.Equal(t, 0, calls)
}

func TestExecute_RecordsSuccessAndFailureAroundFn(t *testing.T) {
	b := New("anthropic", fastConfig())
	err := b.Execute(context.Background(), func(context.Context) error {
		return errors.New("boom")
	})
	require.Error(t, err)
	require.Equal(t, 1, b.State().FailureCount)

	err = b.Execute(context.Background(), func(context.Context) error {
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 0, b.State().FailureCount)
}

func TestExecute_DoesNotDoubleCountOpenErrorAsFailure(t *testing.T) {
	b := New("anthropic", fastConfig())
	for i := 0; i < 2; i++ {
		b.RecordFailure()
	}
	require.Equal(t, 2, b.State().FailureCount)

	_ = b.Execute(context.Background(), func(context.Context) error {
		return &OpenError{Name: "anthropic"}
	})
	require.True(t, b.Allow())
	require.Equal(t, 2, b.State().FailureCount)
}

type recordingCluster struct {
	states map[string]domain.CircuitState
}

func newRecordingCluster() *recordingCluster {
	return &recordingCluster{states: make(map[string]domain.CircuitState)}
}

func (c *recordingCluster) Load(_ context.Context, name string) (domain.CircuitState, bool) {
	s, ok := c.states[name]
	return s, ok
}

func (c *recordingCluster) Store(_ context.Context, name string, state domain.CircuitState) {
	c.states[name] = state
}

func TestWithClusterState_PersistsOnEveryTransition(t *testing.T) {
	cluster := newRecordingCluster()
	b := New("anthropic", fastConfig(), WithClusterState(cluster))

	b.RecordFailure()
	state, ok := cluster.Load(context.Background(), "anthropic")
	require.True(t, ok)
	require.Equal(t, domain.CircuitClosed, state.State)
	require.Equal(t, 1, state.FailureCount)

	b.RecordSuccess()
	state, ok = cluster.Load(context.Background(), "anthropic")
	require.True(t, ok)
	require.Equal(t, domain.CircuitClosed, state.State)
	require.Equal(t, 0, state.FailureCount)
}

func TestNew_AppliesDefaultsForZeroConfig(t *testing.T) {
	b := New("anthropic", Config{})
	require.Equal(t, domain.CircuitClosed, b.State().State)
	for i := 0; i < DefaultConfig().FailureThreshold; i++ {
		b.RecordFailure()
	}
	require.Equal(t, domain.CircuitOpen, b.State().State)
}
