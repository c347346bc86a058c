package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tasquencer/orchestrator/observability"
)

// trigger is one pending auto-triggered transition queued by a callback or
// an OR-join satisfaction during the current host mutation; the engine
// drains these with a fresh, isInternalMutation ExecutionContext after the
// triggering operation's own callbacks have returned, so re-entrant firing
// never runs nested inside another firing's call stack.
type trigger struct {
	run func(ectx *ExecutionContext) error
}

// ExecutionContext carries the ambient state for one host mutation: the
// context.Context, the engine it's running against, the observer to emit
// events on, the audit span currently open, and the FIFO queue of
// auto-triggered follow-on transitions discovered while handling this
// mutation.
type ExecutionContext struct {
	ctx                context.Context
	engine             *Engine
	observer           observability.Observer
	span               *auditSpan
	isInternalMutation bool

	queue *[]trigger
}

// Context returns the underlying context.Context for cancellation/timeout
// checks and for passing to further blocking calls.
func (e *ExecutionContext) Context() context.Context { return e.ctx }

// IsInternalMutation reports whether this execution context was created to
// drain an auto-triggered transition rather than to service the caller's
// original request.
func (e *ExecutionContext) IsInternalMutation() bool { return e.isInternalMutation }

// emit publishes one engine event, pinning it to the entity it concerns
// via the observability.Resource convention every engine emission follows.
func (e *ExecutionContext) emit(eventType observability.EventType, level observability.Level, res observability.Resource, data map[string]any) {
	if e.observer == nil {
		return
	}
	e.observer.Observe(e.ctx, observability.Event{
		Type:      eventType,
		Level:     level,
		Timestamp: e.engine.now(),
		Source:    "engine",
		Resource:  res,
		Data:      data,
	})
}

// withSpan returns a derived ExecutionContext whose audit span is a child
// of the current one, for the duration of one nested operation (e.g. firing
// a task while processing a work-item completion).
func (e *ExecutionContext) withSpan(name string) (*ExecutionContext, func()) {
	child := *e
	var end func()
	child.span, end = e.engine.audit.start(e.span, name)
	return &child, end
}

// enqueueTrigger schedules run to execute after the current mutation's own
// work completes, in a fresh execution context with isInternalMutation set.
// This is how OR-join satisfaction and callback-driven auto-firing avoid
// recursing into the mutation that discovered them.
func (e *ExecutionContext) enqueueTrigger(run func(ectx *ExecutionContext) error) {
	*e.queue = append(*e.queue, trigger{run: run})
	e.emit(EventAutoTriggerEnqueue, observability.LevelVerbose, observability.Resource{}, nil)
}

// EnqueueWorkItemAction schedules action to run against workItemID once the
// current mutation finishes its own work, via the auto-trigger queue. This
// is the supported way for an ActionCallback — most commonly an
// ActionInitialize callback auto-starting the work item it was just handed
// — to request a follow-on transition: calling StartWorkItem directly from
// inside a callback would recurse into the transition that is still
// running, which is exactly what the queue exists to avoid.
func (e *ExecutionContext) EnqueueWorkItemAction(workItemID string, action ActionKind, payload json.RawMessage) {
	e.enqueueTrigger(func(inner *ExecutionContext) error {
		return inner.engine.runWorkItemActionCtx(inner, workItemID, action, payload)
	})
}

// RegisterScheduled arranges for fn to run once at or after at through the
// engine's Scheduler bridge, under a key namespaced to this task instance's
// firing. A TaskActivities callback is the intended caller: it runs fn as a
// follow-on root mutation (via EnqueueWorkItemAction-style deferral is not
// needed here since fn fires asynchronously, outside any in-flight mutation).
func (e *ExecutionContext) RegisterScheduled(workflowID, taskName string, generation int, at time.Time, fn func(context.Context)) (string, error) {
	key := scheduleKeyTask(workflowID, taskName, generation)
	id, err := e.engine.scheduler.Schedule(e.ctx, key, at, fn)
	if err != nil {
		return "", err
	}
	e.emit(EventSchedulerSchedule, observability.LevelVerbose,
		observability.Resource{Workflow: workflowID, Task: taskName, Generation: generation},
		map[string]any{"key": key, "scheduledFunction": id, "fireAt": at})
	return id, nil
}

// rootExecutionContext builds the outermost ExecutionContext for a new host
// mutation and returns it along with a drain function that must be called
// once the caller's own operation has returned, to run any auto-triggered
// follow-on transitions to a fixpoint.
func (en *Engine) rootExecutionContext(ctx context.Context) (*ExecutionContext, func() error) {
	queue := make([]trigger, 0, 4)
	ectx := &ExecutionContext{
		ctx:      ctx,
		engine:   en,
		observer: en.observer,
		queue:    &queue,
	}
	drain := func() error {
		defer en.audit.flush()
		for len(queue) > 0 {
			t := queue[0]
			queue = queue[1:]
			nested := &ExecutionContext{
				ctx:                ctx,
				engine:             en,
				observer:           en.observer,
				isInternalMutation: true,
				queue:              &queue,
			}
			nested.emit(EventAutoTriggerDrain, observability.LevelVerbose, observability.Resource{}, nil)
			if err := t.run(nested); err != nil {
				return err
			}
		}
		return nil
	}
	return ectx, drain
}

// rootExecutionContextSpan is rootExecutionContext plus a top-level audit
// span named opName, for mutations that have no workflow instance to resume
// a trace against yet (e.g. InitializeRootWorkflow, still creating the
// instance its own span would otherwise resume under).
func (en *Engine) rootExecutionContextSpan(ctx context.Context, opName string) (*ExecutionContext, func() error) {
	ectx, drain := en.rootExecutionContext(ctx)
	child, end := ectx.withSpan(opName)
	return child, func() error {
		err := drain()
		end()
		return err
	}
}

// rootExecutionContextForWorkflow is rootExecutionContext plus audit-trace
// continuity for an existing workflow instance: it resumes the trace left by
// whatever mutation last touched workflowID (if any), opens a child span
// named opName for this mutation, and on drain persists the new leaf as the
// continuation point for whatever mutation touches workflowID next (e.g. a
// scheduler fire or a later work-item action).
func (en *Engine) rootExecutionContextForWorkflow(ctx context.Context, workflowID, opName string) (*ExecutionContext, func() error) {
	ectx, drain := en.rootExecutionContext(ctx)
	if parent, err := en.audit.resumeContext(ectx, workflowID); err == nil {
		ectx.span = parent
	}
	child, end := ectx.withSpan(opName)
	return child, func() error {
		err := drain()
		end()
		if serr := en.audit.saveContext(child, workflowID, child.span); serr != nil && err == nil {
			err = serr
		}
		return err
	}
}

func (en *Engine) now() time.Time {
	return time.Now()
}
