package workflows_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/tasquencer/orchestrator/orchestrate/config"
	"github.com/tasquencer/orchestrator/orchestrate/workflows"
)

func noopParallelConfig() config.ParallelConfig {
	cfg := config.DefaultParallelConfig()
	cfg.Observer = "noop"
	return cfg
}

func TestRunParallelPreservesInputOrder(t *testing.T) {
	items := []int{5, 3, 8, 1, 9, 2}
	results, err := workflows.RunParallel(context.Background(), noopParallelConfig(), items,
		func(_ context.Context, item int) (int, error) {
			return item * 10, nil
		})
	if err != nil {
		t.Fatalf("RunParallel: %v", err)
	}
	if len(results) != len(items) {
		t.Fatalf("len(results) = %d, want %d", len(results), len(items))
	}
	for i, item := range items {
		if results[i] != item*10 {
			t.Fatalf("results[%d] = %d, want %d (input order preserved)", i, results[i], item*10)
		}
	}
}

func TestRunParallelEmptyItems(t *testing.T) {
	results, err := workflows.RunParallel(context.Background(), noopParallelConfig(), nil,
		func(_ context.Context, item int) (int, error) {
			t.Fatalf("work called with no items")
			return 0, nil
		})
	if err != nil {
		t.Fatalf("RunParallel: %v", err)
	}
	if results != nil {
		t.Fatalf("results = %v, want nil for no items", results)
	}
}

func TestRunParallelCollectsAllErrorsWithoutFailFast(t *testing.T) {
	cfg := noopParallelConfig()
	cfg.NoFailFast = true
	boom := errors.New("boom")
	results, err := workflows.RunParallel(context.Background(), cfg,
		[]int{0, 1, 2, 3},
		func(_ context.Context, item int) (string, error) {
			if item%2 == 1 {
				return "", boom
			}
			return "ok", nil
		})
	if err == nil {
		t.Fatalf("RunParallel succeeded, want aggregated failure")
	}
	var perr *workflows.ParallelError
	if !errors.As(err, &perr) {
		t.Fatalf("error type = %T, want *ParallelError", err)
	}
	if len(perr.Errors) != 2 {
		t.Fatalf("len(Errors) = %d, want 2 (both odd items)", len(perr.Errors))
	}
	if perr.Errors[0].Index != 1 || perr.Errors[1].Index != 3 {
		t.Fatalf("failure indexes = %d,%d, want 1,3 ordered by input index", perr.Errors[0].Index, perr.Errors[1].Index)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("errors.Is(err, boom) = false, want ParallelError to unwrap item errors")
	}
	if results[0] != "ok" || results[2] != "ok" {
		t.Fatalf("results = %v, want successes retained alongside the error", results)
	}
}

func TestRunParallelFailFastSurfacesFailure(t *testing.T) {
	boom := errors.New("boom")
	cfg := noopParallelConfig()
	cfg.MaxWorkers = 1 // deterministic order: item 0 fails before item 1 runs
	ran := 0
	_, err := workflows.RunParallel(context.Background(), cfg,
		[]int{0, 1, 2},
		func(ctx context.Context, item int) (int, error) {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			ran++
			if item == 0 {
				return 0, boom
			}
			return item, nil
		})
	var perr *workflows.ParallelError
	if !errors.As(err, &perr) {
		t.Fatalf("error type = %T, want *ParallelError", err)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("errors.Is(err, boom) = false")
	}
	if perr.Errors[0].Index != 0 {
		t.Fatalf("first failure index = %d, want 0", perr.Errors[0].Index)
	}
}

func TestRunParallelRespectsMaxWorkers(t *testing.T) {
	cfg := noopParallelConfig()
	cfg.MaxWorkers = 1
	var inFlight, peak atomic.Int32
	_, err := workflows.RunParallel(context.Background(), cfg,
		[]int{1, 2, 3, 4},
		func(_ context.Context, item int) (int, error) {
			cur := inFlight.Add(1)
			defer inFlight.Add(-1)
			for {
				p := peak.Load()
				if cur <= p || peak.CompareAndSwap(p, cur) {
					break
				}
			}
			return item, nil
		})
	if err != nil {
		t.Fatalf("RunParallel: %v", err)
	}
	if peak.Load() > 1 {
		t.Fatalf("peak concurrency = %d, want 1 with MaxWorkers=1", peak.Load())
	}
}
