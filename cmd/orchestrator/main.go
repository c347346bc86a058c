// Command orchestrator runs a single built-in workflow definition to
// completion against a durable FileStore, driving every enabled work item
// with its default action as soon as it appears. It exists to give the
// engine package a runnable smoke test outside `go test`, the way the
// kernel command gives the agent loop one; it is not a general workflow
// host (there is no declarative definition loader here, only the one
// built-in demo net).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/tasquencer/orchestrator/orchestrate/engine"
)

func main() {
	var (
		storeDir = flag.String("store", "", "Directory for the durable FileStore (defaults to a temp dir)")
		observer = flag.String("observer", "slog", "Registered observability.Observer name (noop, slog)")
		verbose  = flag.Bool("verbose", false, "Enable debug-level logging to stderr")
	)
	flag.Parse()

	if *verbose {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	dir := *storeDir
	if dir == "" {
		d, err := os.MkdirTemp("", "orchestrator-store-")
		if err != nil {
			log.Fatalf("create temp store dir: %v", err)
		}
		dir = d
	}

	store, err := engine.NewFileStore(dir)
	if err != nil {
		log.Fatalf("open file store at %s: %v", dir, err)
	}

	cfg := engine.DefaultConfig()
	cfg.Observer = *observer

	eng, err := engine.New(store, cfg, nil)
	if err != nil {
		log.Fatalf("new engine: %v", err)
	}
	eng.Register(demoApprovalWorkflow())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, eng); err != nil {
		log.Fatalf("run: %v", err)
	}
}

// run initializes one instance of the demo approval workflow and drives
// every enabled work item to completion, polling the task states until the
// workflow reaches a terminal marking or ctx is canceled.
func run(ctx context.Context, eng *engine.Engine) error {
	wf, err := eng.InitializeRootWorkflow(ctx, "demo-approval", "v1")
	if err != nil {
		return fmt.Errorf("initialize root workflow: %w", err)
	}
	fmt.Printf("started workflow %s\n", wf.ID)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		states, err := eng.GetWorkflowTaskStates(ctx, wf.ID)
		if err != nil {
			return fmt.Errorf("get task states: %w", err)
		}

		progressed := false
		for taskName, state := range states {
			if state != engine.TaskEnabled {
				continue
			}
			items, err := eng.ListWorkItems(ctx, wf.ID, taskName)
			if err != nil {
				return fmt.Errorf("list work items for %s: %w", taskName, err)
			}
			for _, wi := range items {
				if wi.State != engine.WorkItemInitialized {
					continue
				}
				if err := eng.StartWorkItem(ctx, wi.ID, nil); err != nil {
					return fmt.Errorf("start work item %s: %w", wi.ID, err)
				}
				if err := eng.CompleteWorkItem(ctx, wi.ID, nil); err != nil {
					return fmt.Errorf("complete work item %s: %w", wi.ID, err)
				}
				fmt.Printf("completed %s/%s\n", taskName, wi.ID)
				progressed = true
			}
		}

		refreshed, err := eng.GetWorkflow(ctx, wf.ID)
		if err != nil {
			return fmt.Errorf("get workflow: %w", err)
		}
		if refreshed.State == engine.WorkflowCompleted || refreshed.State == engine.WorkflowFailed || refreshed.State == engine.WorkflowCanceled {
			fmt.Printf("workflow %s finished: %s\n", wf.ID, refreshed.State)
			return nil
		}
		if !progressed {
			time.Sleep(10 * time.Millisecond)
		}
	}
}

// demoApprovalWorkflow is start -> submit -> submitted -> review (atomic) ->
// end, a minimal net that exercises work-item actions without requiring a
// definition file on disk.
func demoApprovalWorkflow() *engine.WorkflowDefinition {
	def, err := engine.NewBuilder("demo-approval", "v1").
		Start("start").
		Condition("submitted").
		End("end").
		Task(&engine.TaskDefinition{Name: "submit", Kind: engine.DummyTask{}}).
		Task(&engine.TaskDefinition{Name: "review", Kind: engine.AtomicTask{}}).
		Flow("start", "submit").
		Flow("submit", "submitted").
		Flow("submitted", "review").
		Flow("review", "end").
		Build()
	if err != nil {
		log.Fatalf("build demo workflow: %v", err)
	}
	return def
}
