// Package fallback multiplexes several oracle.Client backends behind an
// ordered priority list, each guarded by its own circuit breaker and
// retry policy.
package fallback

import (
	"context"
	"fmt"
	"strings"

	"forge.dev/forge/internal/breaker"
	"forge.dev/forge/internal/oracle"
	"forge.dev/forge/internal/retry"
	"forge.dev/forge/internal/telemetry"
)

// ProviderFailure records one provider's error during a failed call.
type ProviderFailure struct {
	Provider string
	Err      error
}

// AllProvidersFailed is returned when every provider in the list has
// either failed or has its breaker open.
type AllProvidersFailed struct {
	Failures []ProviderFailure
}

func (e *AllProvidersFailed) Error() string {
	var b strings.Builder
	b.WriteString("fallback: all providers failed: ")
	for i, f := range e.Failures {
		if i > 0 {
			b.WriteString("; ")
		}
		fmt.Fprintf(&b, "%s: %v", f.Provider, f.Err)
	}
	return b.String()
}

// protectedProvider pairs one oracle client with its breaker and retry
// policy.
type protectedProvider struct {
	name    string
	client  oracle.Client
	breaker *breaker.Breaker
	policy  retry.Policy
}

// Fallback holds an ordered list of protected providers. Failures never
// reorder the list; CountTokens/ContextWindow always ask the first provider
// in priority order regardless of circuit state.
type Fallback struct {
	providers []protectedProvider
	logger    telemetry.Logger
}

// Option configures a Fallback at construction time.
type Option func(*Fallback)

// WithLogger supplies a Logger, defaulting to a noop implementation.
func WithLogger(l telemetry.Logger) Option {
	return func(f *Fallback) { f.logger = l }
}

// New constructs a Fallback with no providers. Add providers with Add
// before first use; priority order is insertion order.
func New(opts ...Option) *Fallback {
	f := &Fallback{logger: telemetry.NewNoopLogger("fallback")}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Add appends a provider to the end of the priority list.
func (f *Fallback) Add(name string, client oracle.Client, b *breaker.Breaker, policy retry.Policy) {
	f.providers = append(f.providers, protectedProvider{name: name, client: client, breaker: b, policy: policy})
}

// Complete iterates providers for non-streaming calls: skip providers
// whose breaker is open, call through
// breaker.Execute(retry.Do(...)), return on first success, and aggregate
// every failure into AllProvidersFailed if none succeed.
func (f *Fallback) Complete(ctx context.Context, req *oracle.Request) (*oracle.Response, error) {
	var failures []ProviderFailure

	for _, p := range f.providers {
		if !p.breaker.Allow() {
			failures = append(failures, ProviderFailure{Provider: p.name, Err: &breaker.OpenError{Name: p.name}})
			continue
		}

		var resp *oracle.Response
		err := p.breaker.Execute(ctx, func(ctx context.Context) error {
			return retry.Do(ctx, p.policy, func(ctx context.Context) error {
				r, err := p.client.Complete(ctx, req)
				if err != nil {
					return err
				}
				resp = r
				return nil
			})
		})
		if err == nil {
			return resp, nil
		}
		failures = append(failures, ProviderFailure{Provider: p.name, Err: err})
	}

	return nil, &AllProvidersFailed{Failures: failures}
}

// streamCommit wraps a Streamer so that once the first chunk has been
// delivered successfully, the fallback no longer attempts to fail over to
// another provider: any later Recv error is surfaced as-is. Once a
// chunk has been emitted, the fallback commits to that provider.
type streamCommit struct {
	inner     oracle.Streamer
	committed bool
}

func (s *streamCommit) Recv() (oracle.Chunk, error) {
	chunk, err := s.inner.Recv()
	if err == nil {
		s.committed = true
	}
	return chunk, err
}

func (s *streamCommit) Close() error { return s.inner.Close() }

// Stream follows a weaker streaming contract: provider selection
// follows the same breaker/retry iteration as Complete, but
// once a stream has started successfully no further failover is
// attempted.
func (f *Fallback) Stream(ctx context.Context, req *oracle.Request) (oracle.Streamer, error) {
	var failures []ProviderFailure

	for _, p := range f.providers {
		if !p.breaker.Allow() {
			failures = append(failures, ProviderFailure{Provider: p.name, Err: &breaker.OpenError{Name: p.name}})
			continue
		}

		var stream oracle.Streamer
		err := p.breaker.Execute(ctx, func(ctx context.Context) error {
			return retry.Do(ctx, p.policy, func(ctx context.Context) error {
				s, err := p.client.Stream(ctx, req)
				if err != nil {
					return err
				}
				stream = s
				return nil
			})
		})
		if err == nil {
			return &streamCommit{inner: stream}, nil
		}
		failures = append(failures, ProviderFailure{Provider: p.name, Err: err})
	}

	return nil, &AllProvidersFailed{Failures: failures}
}

// CountTokens delegates to the first provider in priority order,
// regardless of circuit state.
func (f *Fallback) CountTokens(text string) int {
	if len(f.providers) == 0 {
		return 0
	}
	return f.providers[0].client.CountTokens(text)
}

// ContextWindow delegates to the first provider in priority order,
// regardless of circuit state.
func (f *Fallback) ContextWindow() int {
	if len(f.providers) == 0 {
		return 0
	}
	return f.providers[0].client.ContextWindow()
}

// IsAvailable reports whether any provider's breaker currently admits
// calls; used by `forge status` as a cheap health probe.
func (f *Fallback) IsAvailable() bool {
	for _, p := range f.providers {
		if p.breaker.Allow() {
			return true
		}
	}
	return false
}
