// Package breaker implements a per-oracle circuit breaker: a three-state
// machine guarding calls to a single unreliable backend. State is a
// single sync.Mutex guarding a handful of scalar fields, with state
// transitions as small private methods.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"forge.dev/forge/internal/domain"
)

// Config configures one Breaker.
type Config struct {
	// FailureThreshold is the number of consecutive failures in Closed
	// that trips the breaker to Open.
	FailureThreshold int
	// ResetTimeout is how long the breaker stays Open before admitting a
	// single HalfOpen probe.
	ResetTimeout time.Duration
}

// DefaultConfig returns sensible defaults: threshold 5, reset timeout 60s.
func DefaultConfig() Config {
	return Config{FailureThreshold: 5, ResetTimeout: 60 * time.Second}
}

// OpenError is returned by Execute when the breaker is Open and the reset
// timeout has not yet elapsed.
type OpenError struct {
	Name     string
	OpenedAt time.Time
}

func (e *OpenError) Error() string {
	return "breaker: " + e.Name + " circuit is open"
}

// ClusterState optionally receives a copy of the breaker's state for
// sharing with cooperating processes. The Breaker calls Store after every
// transition and never calls Load, so state written by other processes is
// not read back. A Breaker without a ClusterState keeps its state
// process-local (internal/ratelimit/redisbudget.go provides a Redis-backed
// sibling for the rate limiter's shared budget).
type ClusterState interface {
	// Load returns the last known state for name, if any.
	Load(ctx context.Context, name string) (domain.CircuitState, bool)
	// Store persists state for name.
	Store(ctx context.Context, name string, state domain.CircuitState)
}

// Breaker is a per-oracle circuit breaker. The zero value is not usable;
// construct with New.
type Breaker struct {
	name   string
	cfg    Config
	mu     sync.Mutex
	state  domain.CircuitBreakerState
	fails  int
	lastAt time.Time
	openAt time.Time

	cluster ClusterState
}

// Option configures a Breaker at construction time.
type Option func(*Breaker)

// WithClusterState supplies a ClusterState for cross-process coordination.
func WithClusterState(cs ClusterState) Option {
	return func(b *Breaker) { b.cluster = cs }
}

// New constructs a Breaker named name (used in OpenError and telemetry)
// with cfg, Closed initially.
func New(name string, cfg Config, opts ...Option) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = DefaultConfig().ResetTimeout
	}
	b := &Breaker{name: name, cfg: cfg, state: domain.CircuitClosed}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// State returns the breaker's current snapshot.
func (b *Breaker) State() domain.CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return domain.CircuitState{
		State:         b.state,
		FailureCount:  b.fails,
		LastFailureAt: b.lastAt,
		OpenedAt:      b.openAt,
	}
}

// Allow reports whether a call should be attempted right now. Once
// ResetTimeout has elapsed while Open, Allow moves the breaker to HalfOpen
// and returns true; HalfOpen then admits every call until RecordSuccess or
// RecordFailure resolves it, so probes are not limited to a single call.
// Calling Allow when it would return false does not itself
// start the probe window; only a subsequent Allow call after the timeout
// transitions state, so observers see Open until that call happens.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case domain.CircuitClosed, domain.CircuitHalfOpen:
		return true
	case domain.CircuitOpen:
		if time.Since(b.openAt) >= b.cfg.ResetTimeout {
			b.state = domain.CircuitHalfOpen
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess resets the failure counter and transitions to Closed:
// it always resets failureCount to 0 and moves to Closed.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	b.fails = 0
	b.state = domain.CircuitClosed
	b.mu.Unlock()
	b.persist()
}

// RecordFailure registers a failed call. In Closed, it increments the
// failure count and opens the breaker once FailureThreshold is reached.
// In HalfOpen, any failure reopens the breaker and resets the timer.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	now := time.Now()
	b.lastAt = now
	switch b.state {
	case domain.CircuitHalfOpen:
		b.state = domain.CircuitOpen
		b.openAt = now
	default:
		b.fails++
		if b.fails >= b.cfg.FailureThreshold {
			b.state = domain.CircuitOpen
			b.openAt = now
		}
	}
	b.mu.Unlock()
	b.persist()
}

// Reset is an explicit admin operation forcing Closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	b.state = domain.CircuitClosed
	b.fails = 0
	b.mu.Unlock()
	b.persist()
}

func (b *Breaker) persist() {
	if b.cluster == nil {
		return
	}
	b.cluster.Store(context.Background(), b.name, b.State())
}

// Execute runs fn if the breaker admits the call, recording success or
// failure against the breaker's state. If the breaker does not admit the
// call, Execute returns *OpenError without invoking fn.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !b.Allow() {
		return &OpenError{Name: b.name, OpenedAt: b.openAt}
	}
	err := fn(ctx)
	if err != nil {
		var openErr *OpenError
		if !errors.As(err, &openErr) {
			b.RecordFailure()
		}
		return err
	}
	b.RecordSuccess()
	return nil
}
