// Package executor dispatches a batch of tool calls against a
// tools.Registry under a concurrency cap, preserving input order in its
// result and honoring cooperative cancellation at call-start boundaries.
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"forge.dev/forge/internal/domain"
	"forge.dev/forge/internal/telemetry"
	"forge.dev/forge/internal/tools"
)

// Options configures one Run call. Recognised options are enumerated
// explicitly rather than passed as a loose map.
type Options struct {
	// MaxConcurrency bounds the number of handlers in flight. Defaults to 3.
	MaxConcurrency int
	OnToolStart    func(domain.ToolCall)
	OnToolEnd      func(domain.ExecutedToolCall)
	OnToolSkipped  func(domain.ToolCall)
	Logger         telemetry.Logger
}

// BatchResult is the outcome of one Run call.
type BatchResult struct {
	// Executed preserves input order, not completion order.
	Executed []domain.ExecutedToolCall
	Skipped  []domain.ToolCall
	Aborted  bool
}

// Run dispatches calls against registry. ctx doubles as the abort handle:
// if ctx is already Done, every call is skipped and Aborted is true. If
// ctx is canceled mid-run, calls already in flight run to completion (no
// cooperative cancellation is required of handlers) but no further calls
// are started.
func Run(ctx context.Context, calls []domain.ToolCall, registry *tools.Registry, opts Options) BatchResult {
	maxConcurrency := opts.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = 3
	}

	if ctx.Err() != nil {
		result := BatchResult{Aborted: true}
		for _, call := range calls {
			result.Skipped = append(result.Skipped, call)
			if opts.OnToolSkipped != nil {
				opts.OnToolSkipped(call)
			}
		}
		return result
	}

	executed := make([]*domain.ExecutedToolCall, len(calls))
	skipped := make([]bool, len(calls))
	aborted := false

	sem := semaphore.NewWeighted(int64(maxConcurrency))
	var wg sync.WaitGroup

	for i, call := range calls {
		if ctx.Err() != nil {
			aborted = true
			skipped[i] = true
			if opts.OnToolSkipped != nil {
				opts.OnToolSkipped(call)
			}
			continue
		}

		// Acquire with a background context: an in-flight handler holding
		// this slot is never cooperatively canceled, so waiting here must
		// not itself be interrupted by ctx.
		if err := sem.Acquire(context.Background(), 1); err != nil {
			aborted = true
			skipped[i] = true
			continue
		}

		if ctx.Err() != nil {
			sem.Release(1)
			aborted = true
			skipped[i] = true
			if opts.OnToolSkipped != nil {
				opts.OnToolSkipped(call)
			}
			continue
		}

		if opts.OnToolStart != nil {
			opts.OnToolStart(call)
		}

		wg.Add(1)
		go func(i int, call domain.ToolCall) {
			defer wg.Done()
			defer sem.Release(1)

			start := time.Now()
			result := dispatch(ctx, registry, call)
			result.Duration = time.Since(start)

			exec := domain.ExecutedToolCall{ToolCall: call, Result: result}
			executed[i] = &exec
			if opts.OnToolEnd != nil {
				opts.OnToolEnd(exec)
			}
		}(i, call)
	}
	wg.Wait()

	out := BatchResult{Aborted: aborted}
	for i, call := range calls {
		if skipped[i] {
			out.Skipped = append(out.Skipped, call)
			continue
		}
		if executed[i] != nil {
			out.Executed = append(out.Executed, *executed[i])
		}
	}
	return out
}

// dispatch looks up, validates, and invokes a single tool call, recovering
// from handler panics so they become a failed ToolResult instead of
// propagating: tool handler exceptions never escape the executor.
func dispatch(ctx context.Context, registry *tools.Registry, call domain.ToolCall) (result domain.ToolResult) {
	defer func() {
		if r := recover(); r != nil {
			result = domain.ToolResult{Success: false, Error: fmt.Sprintf("panic: %v", r)}
		}
	}()

	def, ok := registry.Lookup(tools.Ident(call.Name))
	if !ok {
		return domain.ToolResult{Success: false, Error: fmt.Sprintf("unknown tool %q", call.Name)}
	}
	if err := registry.Validate(tools.Ident(call.Name), call.Input); err != nil {
		return domain.ToolResult{Success: false, Error: err.Error()}
	}
	return def.Handler(ctx, call.Input)
}
