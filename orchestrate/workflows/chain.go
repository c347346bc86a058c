// Package workflows supplies the two execution primitives the engine
// composes its multi-entity operations from: RunChain folds an accumulator
// through an ordered list (fast-forward migration replays task migrators
// this way), and RunParallel fans independent items across a bounded
// worker pool (cancellation propagation withdraws siblings this way).
// Both report progress through the same observability event stream as the
// rest of the engine.
package workflows

import (
	"context"
	"fmt"

	"github.com/tasquencer/orchestrator/observability"
	"github.com/tasquencer/orchestrator/orchestrate/config"
)

// StepFunc processes one item of a chain, receiving the accumulator the
// previous step produced and returning the one to hand the next step.
type StepFunc[TItem, TContext any] func(ctx context.Context, item TItem, acc TContext) (TContext, error)

// RunChain folds step over items in order, threading an accumulator from
// initial through every step. The first failing step aborts the chain; the
// returned *ChainError records which step failed so a caller replaying an
// ordered plan (e.g. per-task migrators) can report the exact position.
// On failure the accumulator as of the last successful step is returned.
func RunChain[TItem, TContext any](ctx context.Context, cfg config.ChainConfig, items []TItem, initial TContext, step StepFunc[TItem, TContext]) (TContext, error) {
	observer, err := observability.Resolve(cfg.Observer)
	if err != nil {
		return initial, fmt.Errorf("workflows: resolve observer %q: %w", cfg.Observer, err)
	}

	emit(ctx, observer, EventChainStart, observability.LevelVerbose, map[string]any{"items": len(items)})
	acc := initial
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return acc, &ChainError{Step: i, Err: err}
		}
		next, err := step(ctx, item, acc)
		if err != nil {
			emit(ctx, observer, EventChainError, observability.LevelError, map[string]any{
				"step": i, "error": err.Error(),
			})
			return acc, &ChainError{Step: i, Err: err}
		}
		acc = next
		emit(ctx, observer, EventChainStep, observability.LevelVerbose, map[string]any{"step": i})
	}
	emit(ctx, observer, EventChainComplete, observability.LevelVerbose, map[string]any{"steps": len(items)})
	return acc, nil
}
