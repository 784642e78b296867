// Package ratelimit applies an AIMD-style adaptive token bucket in front
// of an oracle.Client: it estimates the token cost of each request, blocks
// callers until budget is available, and shrinks or grows its
// tokens-per-minute budget in response to rate-limit signals from the
// provider.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"forge.dev/forge/internal/oracle"
)

// Limiter is a process-local (optionally cluster-coordinated) adaptive
// token bucket sitting at the oracle client boundary.
type Limiter struct {
	mu sync.Mutex

	limiter *rate.Limiter

	currentTPM float64
	minTPM     float64
	maxTPM     float64

	recoveryRate float64

	onBackoff func(newTPM float64)
	onProbe   func(newTPM float64)
}

// ClusterBudget coordinates a shared tokens-per-minute budget across
// processes. Implemented by RedisBudget (redisbudget.go) for a
// Redis-backed deployment; a nil ClusterBudget keeps the limiter
// process-local.
type ClusterBudget interface {
	// Get returns the current shared budget value, or ok=false if unset.
	Get(ctx context.Context) (tpm float64, ok bool)
	// SetIfNotExists seeds the shared budget, returning false if it was
	// already set by a concurrent writer.
	SetIfNotExists(ctx context.Context, tpm float64) (bool, error)
	// CompareAndSwap atomically replaces old with new, returning false if
	// the current value no longer matches old.
	CompareAndSwap(ctx context.Context, old, new float64) (bool, error)
}

// New constructs a process-local Limiter with an initial and maximum
// tokens-per-minute budget. When maxTPM is zero or less than initialTPM it
// is clamped to initialTPM.
func New(initialTPM, maxTPM float64) *Limiter {
	if initialTPM <= 0 {
		initialTPM = 60000
	}
	if maxTPM <= 0 || maxTPM < initialTPM {
		maxTPM = initialTPM
	}
	minTPM := initialTPM * 0.1
	if minTPM < 1 {
		minTPM = 1
	}
	recoveryRate := initialTPM * 0.05
	if recoveryRate < 1 {
		recoveryRate = 1
	}
	lim := rate.NewLimiter(rate.Limit(initialTPM/60.0), int(initialTPM))
	return &Limiter{
		limiter:      lim,
		currentTPM:   initialTPM,
		minTPM:       minTPM,
		maxTPM:       maxTPM,
		recoveryRate: recoveryRate,
	}
}

// NewClustered constructs a Limiter whose budget is seeded from budget's
// current value (or seeds budget with initialTPM when it is unset). After
// that, every local backoff halves the shared value and every local probe
// raises it by the recovery step, each in a background compare-and-swap;
// the local budget never re-reads the shared value after construction. A
// nil budget behaves exactly like New.
func NewClustered(ctx context.Context, budget ClusterBudget, initialTPM, maxTPM float64) *Limiter {
	if budget == nil {
		return New(initialTPM, maxTPM)
	}
	shared := initialTPM
	if cur, ok := budget.Get(ctx); ok && cur > 0 {
		shared = cur
	} else if _, err := budget.SetIfNotExists(ctx, initialTPM); err != nil {
		return New(initialTPM, maxTPM)
	}
	l := New(shared, maxTPM)
	l.onBackoff = func(newTPM float64) { go globalBackoff(context.Background(), budget, l.minTPM) }
	l.onProbe = func(newTPM float64) { go globalProbe(context.Background(), budget, l.recoveryRate, l.maxTPM) }
	return l
}

// Client wraps an oracle.Client so every call passes through the limiter.
type Client struct {
	next    oracle.Client
	limiter *Limiter
}

// Wrap returns an oracle.Client that enforces l before delegating to next.
func (l *Limiter) Wrap(next oracle.Client) oracle.Client {
	if next == nil {
		return nil
	}
	return &Client{next: next, limiter: l}
}

// Complete enforces the limiter before delegating to the underlying client.
func (c *Client) Complete(ctx context.Context, req *oracle.Request) (*oracle.Response, error) {
	if err := c.limiter.wait(ctx, req); err != nil {
		return nil, err
	}
	resp, err := c.next.Complete(ctx, req)
	c.limiter.observe(err)
	return resp, err
}

// Stream enforces the limiter before delegating to the underlying client.
func (c *Client) Stream(ctx context.Context, req *oracle.Request) (oracle.Streamer, error) {
	if err := c.limiter.wait(ctx, req); err != nil {
		return nil, err
	}
	s, err := c.next.Stream(ctx, req)
	c.limiter.observe(err)
	return s, err
}

func (c *Client) CountTokens(text string) int { return c.next.CountTokens(text) }
func (c *Client) ContextWindow() int          { return c.next.ContextWindow() }
func (c *Client) IsAvailable() bool           { return c.next.IsAvailable() }

func (l *Limiter) wait(ctx context.Context, req *oracle.Request) error {
	return l.limiter.WaitN(ctx, estimateTokens(req))
}

func (l *Limiter) observe(err error) {
	if err == nil {
		l.probe()
		return
	}
	var oe *oracle.Error
	if errors.As(err, &oe) && oe.Kind == oracle.KindRateLimited {
		l.backoff()
	}
}

func (l *Limiter) backoff() {
	l.mu.Lock()
	newTPM := l.currentTPM * 0.5
	if newTPM < l.minTPM {
		newTPM = l.minTPM
	}
	if newTPM == l.currentTPM {
		l.mu.Unlock()
		return
	}
	l.currentTPM = newTPM
	l.limiter.SetLimit(rate.Limit(newTPM / 60.0))
	l.limiter.SetBurst(int(newTPM))
	cb := l.onBackoff
	l.mu.Unlock()
	if cb != nil {
		cb(newTPM)
	}
}

func (l *Limiter) probe() {
	l.mu.Lock()
	newTPM := l.currentTPM + l.recoveryRate
	if newTPM > l.maxTPM {
		newTPM = l.maxTPM
	}
	if newTPM == l.currentTPM {
		l.mu.Unlock()
		return
	}
	l.currentTPM = newTPM
	l.limiter.SetLimit(rate.Limit(newTPM / 60.0))
	l.limiter.SetBurst(int(newTPM))
	cb := l.onProbe
	l.mu.Unlock()
	if cb != nil {
		cb(newTPM)
	}
}

// estimateTokens is a cheap heuristic over a request's text content:
// roughly one token per three characters, plus a fixed buffer for system
// prompts and provider framing.
func estimateTokens(req *oracle.Request) int {
	charCount := len(req.System)
	for _, m := range req.Messages {
		for _, p := range m.Parts {
			switch v := p.(type) {
			case oracle.TextPart:
				charCount += len(v.Text)
			case oracle.ToolResultPart:
				if s, ok := v.Content.(string); ok {
					charCount += len(s)
				}
			}
		}
	}
	if charCount <= 0 {
		return 500
	}
	tokens := charCount / 3
	if tokens < 1 {
		tokens = 1
	}
	return tokens + 500
}

func globalBackoff(ctx context.Context, budget ClusterBudget, floor float64) {
	const maxAttempts = 3
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	for i := 0; i < maxAttempts; i++ {
		cur, ok := budget.Get(ctx)
		if !ok || cur <= 0 {
			return
		}
		next := cur * 0.5
		if next < floor {
			next = floor
		}
		ok, err := budget.CompareAndSwap(ctx, cur, next)
		if err != nil || ok {
			return
		}
	}
}

func globalProbe(ctx context.Context, budget ClusterBudget, step, ceiling float64) {
	const maxAttempts = 3
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	for i := 0; i < maxAttempts; i++ {
		cur, ok := budget.Get(ctx)
		if !ok || cur <= 0 || cur >= ceiling {
			return
		}
		next := cur + step
		if next > ceiling {
			next = ceiling
		}
		ok, err := budget.CompareAndSwap(ctx, cur, next)
		if err != nil || ok {
			return
		}
	}
}
