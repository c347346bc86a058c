package workflows

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"github.com/tasquencer/orchestrator/observability"
	"github.com/tasquencer/orchestrator/orchestrate/config"
)

// WorkFunc processes one item independently of its siblings.
type WorkFunc[TItem, TResult any] func(ctx context.Context, item TItem) (TResult, error)

// RunParallel applies work to every item across a bounded worker pool and
// returns the results in input order. By default the first failure cancels
// the remaining work (the engine's cancellation fan-outs want the earliest
// error, not a full sweep); cfg.NoFailFast keeps going and collects every
// failure instead. Any failure at all yields a *ParallelError whose
// ItemErrors carry the input indexes, alongside the results of the items
// that did succeed.
func RunParallel[TItem, TResult any](ctx context.Context, cfg config.ParallelConfig, items []TItem, work WorkFunc[TItem, TResult]) ([]TResult, error) {
	observer, err := observability.Resolve(cfg.Observer)
	if err != nil {
		return nil, fmt.Errorf("workflows: resolve observer %q: %w", cfg.Observer, err)
	}
	if len(items) == 0 {
		return nil, nil
	}

	failFast := !cfg.NoFailFast
	workers := workerCount(cfg, len(items))
	emit(ctx, observer, EventParallelStart, observability.LevelVerbose, map[string]any{
		"items": len(items), "workers": workers, "failFast": failFast,
	})

	runCtx := ctx
	var cancel context.CancelFunc
	if failFast {
		runCtx, cancel = context.WithCancel(ctx)
		defer cancel()
	}

	type outcome struct {
		index  int
		result TResult
		err    error
	}
	jobs := make(chan int)
	outcomes := make(chan outcome)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if failFast && runCtx.Err() != nil {
					outcomes <- outcome{index: i, err: runCtx.Err()}
					continue
				}
				res, err := work(runCtx, items[i])
				outcomes <- outcome{index: i, result: res, err: err}
			}
		}()
	}
	go func() {
		for i := range items {
			jobs <- i
		}
		close(jobs)
	}()
	go func() {
		wg.Wait()
		close(outcomes)
	}()

	results := make([]TResult, len(items))
	var failures []ItemError
	for oc := range outcomes {
		if oc.err != nil {
			failures = append(failures, ItemError{Index: oc.index, Err: oc.err})
			if failFast {
				cancel()
			}
			continue
		}
		results[oc.index] = oc.result
	}

	if len(failures) > 0 {
		sort.Slice(failures, func(i, j int) bool { return failures[i].Index < failures[j].Index })
		emit(ctx, observer, EventParallelError, observability.LevelError, map[string]any{
			"failed": len(failures), "items": len(items),
		})
		return results, &ParallelError{Errors: failures}
	}
	emit(ctx, observer, EventParallelComplete, observability.LevelVerbose, map[string]any{"items": len(items)})
	return results, nil
}

// workerCount sizes the pool: an explicit MaxWorkers wins; otherwise twice
// the CPU count, capped by WorkerCap, and never more workers than items.
func workerCount(cfg config.ParallelConfig, items int) int {
	w := cfg.MaxWorkers
	if w <= 0 {
		w = runtime.NumCPU() * 2
		limit := cfg.WorkerCap
		if limit <= 0 {
			limit = 16
		}
		if w > limit {
			w = limit
		}
	}
	if w > items {
		w = items
	}
	if w < 1 {
		w = 1
	}
	return w
}
