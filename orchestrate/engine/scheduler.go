package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tasquencer/orchestrator/observability"
)

// scheduleKeyWorkflow, scheduleKeyTask, and scheduleKeyWorkItem build the
// reverse-index keys a Scheduler.Schedule/Cancel call is registered under,
// namespaced by the kind of entity the scheduled fire belongs to so
// unrelated timers never collide.
func scheduleKeyWorkflow(workflowID string) string {
	return "workflow/" + workflowID
}

func scheduleKeyTask(workflowID, taskName string, generation int) string {
	return fmt.Sprintf("task/%s/%s/%d", workflowID, taskName, generation)
}

func scheduleKeyWorkItem(workItemID string) string {
	return "workItem/" + workItemID
}

// cancelScheduled withdraws a pending scheduled fire registered under key,
// if any; Cancel is already idempotent, so callers need not check whether a
// fire was ever registered under key in the first place.
func (e *Engine) cancelScheduled(ctx context.Context, key string) error {
	if err := e.scheduler.Cancel(ctx, key); err != nil {
		return err
	}
	e.observer.Observe(ctx, observability.Event{
		Type:      EventSchedulerCancel,
		Level:     observability.LevelVerbose,
		Timestamp: e.now(),
		Source:    "engine",
		Data:      map[string]any{"key": key},
	})
	return nil
}

// Scheduler bridges the engine to a one-shot scheduling system: it fires a
// callback once at (or after) a given time and can cancel a pending fire by
// the key the engine scheduled it under. The engine never reaches for a
// cron-style recurring scheduler: every scheduled fire here is a single
// future instant (e.g. a work-item deadline, a timer-based task), not a
// repeating job.
type Scheduler interface {
	// Schedule arranges for fn to run once at or after at, returning an
	// opaque scheduled-function id the bridge records against key so a
	// later Cancel(key) can find it without the caller remembering it.
	Schedule(ctx context.Context, key string, at time.Time, fn func(context.Context)) (string, error)
	// Cancel withdraws the pending fire registered under key, if any. It is
	// idempotent: canceling an already-fired or already-canceled key is not
	// an error.
	Cancel(ctx context.Context, key string) error
}

// InMemoryScheduler is a Scheduler backed by time.AfterFunc, suitable for a
// single long-running process. It keeps a reverse index of key ->
// scheduled-function id in store so Cancel can look a pending fire up by
// key, matching the engine's own scheduler-bridge contract.
type InMemoryScheduler struct {
	store  Store
	mu     sync.Mutex
	timers map[string]*time.Timer // scheduled-function id -> timer
}

// NewInMemoryScheduler returns a Scheduler that times entries with
// time.AfterFunc and persists its reverse index through store.
func NewInMemoryScheduler(store Store) *InMemoryScheduler {
	return &InMemoryScheduler{store: store, timers: map[string]*time.Timer{}}
}

func (s *InMemoryScheduler) Schedule(ctx context.Context, key string, at time.Time, fn func(context.Context)) (string, error) {
	r := repo{store: s.store}
	entry := &ScheduledEntry{Key: key, FireAt: at}
	id, err := r.insertScheduled(ctx, entry)
	if err != nil {
		return "", err
	}
	entry.ID = id
	entry.ScheduledFunctionID = id
	if err := r.putScheduled(ctx, id, entry); err != nil {
		return "", err
	}

	delay := time.Until(at)
	if delay < 0 {
		delay = 0
	}
	s.mu.Lock()
	s.timers[id] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.timers, id)
		s.mu.Unlock()

		cur, err := r.store.Get(ctx, TableScheduled, id)
		if err != nil {
			return
		}
		if cur.(*ScheduledEntry).Canceled {
			return
		}
		fn(ctx)
	})
	s.mu.Unlock()
	return id, nil
}

func (s *InMemoryScheduler) Cancel(ctx context.Context, key string) error {
	r := repo{store: s.store}
	entry, err := r.getScheduledByKey(ctx, key)
	if err != nil {
		if IsKind(err, KindEntityNotFound) {
			return nil
		}
		return err
	}
	entry.Canceled = true
	if err := r.putScheduled(ctx, entry.ID, entry); err != nil {
		return err
	}

	s.mu.Lock()
	if t, ok := s.timers[entry.ScheduledFunctionID]; ok {
		t.Stop()
		delete(s.timers, entry.ScheduledFunctionID)
	}
	s.mu.Unlock()
	return nil
}
