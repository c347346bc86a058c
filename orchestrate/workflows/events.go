package workflows

import (
	"context"
	"time"

	"github.com/tasquencer/orchestrator/observability"
)

const (
	EventChainStart    observability.EventType = "workflows.chain.start"
	EventChainStep     observability.EventType = "workflows.chain.step"
	EventChainComplete observability.EventType = "workflows.chain.complete"
	EventChainError    observability.EventType = "workflows.chain.error"

	EventParallelStart    observability.EventType = "workflows.parallel.start"
	EventParallelComplete observability.EventType = "workflows.parallel.complete"
	EventParallelError    observability.EventType = "workflows.parallel.error"
)

// emit publishes a primitive-level event. The Resource stays zero: these
// primitives run below the entity layer, and the engine emissions that
// bracket them already carry the workflow/task/work-item identity.
func emit(ctx context.Context, o observability.Observer, t observability.EventType, lvl observability.Level, data map[string]any) {
	o.Observe(ctx, observability.Event{
		Type:      t,
		Level:     lvl,
		Timestamp: time.Now(),
		Source:    "workflows",
		Data:      data,
	})
}
