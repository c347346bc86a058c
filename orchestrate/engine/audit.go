package engine

import (
	"sync"
	"time"

	"github.com/tasquencer/orchestrator/observability"
)

// auditSpan is an open span in the in-memory trace tree one host mutation
// builds as it runs; it is never persisted directly, only the closed
// record it produces.
type auditSpan struct {
	id       string
	traceID  string
	parentID string
	name     string
	start    time.Time
	depth    int
}

// auditBridge buffers finished spans in memory and flushes them to the
// store in one batch at a mutation boundary, trading a small window of
// at-most-once span loss on process crash for avoiding a store write per
// span. AuditContext rows let a trace begun by one mutation (e.g. a
// scheduled callback that later fires a task) resume under its last
// parent span instead of starting a disconnected new trace.
type auditBridge struct {
	eng        *Engine
	bufferSize int

	mu     sync.Mutex
	buffer []*AuditSpanRecord
}

func newAuditBridge(eng *Engine, bufferSize int) *auditBridge {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &auditBridge{eng: eng, bufferSize: bufferSize}
}

// start opens a child span of parent (nil starts a new trace) and returns
// the new span along with a function that closes it, buffering the
// resulting record and flushing if the buffer has filled.
func (b *auditBridge) start(parent *auditSpan, name string) (*auditSpan, func()) {
	span := &auditSpan{
		id:   newID(),
		name: name,
	}
	if parent != nil {
		span.traceID = parent.traceID
		span.parentID = parent.id
		span.depth = parent.depth + 1
	} else {
		span.traceID = newID()
	}
	span.start = time.Now()

	end := func() {
		record := &AuditSpanRecord{
			ID:       span.id,
			TraceID:  span.traceID,
			ParentID: span.parentID,
			Name:     span.name,
			Start:    span.start,
			End:      time.Now(),
			Depth:    span.depth,
		}
		b.mu.Lock()
		b.buffer = append(b.buffer, record)
		full := len(b.buffer) >= b.bufferSize
		b.mu.Unlock()
		if full {
			b.flush()
		}
	}
	return span, end
}

// flush persists every buffered span record and empties the buffer. It is
// called automatically when the buffer fills and should also be called at
// every mutation boundary (the engine calls it from rootExecutionContext's
// drain) so a span is never left unpersisted across a process restart
// longer than necessary.
func (b *auditBridge) flush() {
	b.mu.Lock()
	pending := b.buffer
	b.buffer = nil
	b.mu.Unlock()

	if len(pending) == 0 {
		return
	}
	r := repo{store: b.eng.store}
	for _, record := range pending {
		if _, err := r.insertAuditSpan(b.eng.rootCtx(), record); err != nil {
			b.eng.observer.Observe(b.eng.rootCtx(), observability.Event{
				Type:      "engine.audit.flush_error",
				Level:     observability.LevelWarning,
				Timestamp: time.Now(),
				Source:    "engine",
				Data:      map[string]any{"error": err.Error(), "trace": record.TraceID},
			})
		}
	}
}

// resumeContext loads the persisted continuation point for a trace so a
// later mutation (e.g. a scheduler fire) can parent its spans under where
// the original mutation left off. It only reads; saveContext persists a
// new continuation point.
func (b *auditBridge) resumeContext(ectx *ExecutionContext, workflowID string) (*auditSpan, error) {
	r := repo{store: b.eng.store}
	ac, err := r.getAuditContext(ectx.Context(), workflowID)
	if err != nil {
		return nil, err
	}
	if ac == nil {
		return nil, nil
	}
	return &auditSpan{id: ac.ParentSpanID, traceID: ac.TraceID, depth: ac.Depth}, nil
}

func (b *auditBridge) saveContext(ectx *ExecutionContext, workflowID string, span *auditSpan) error {
	if span == nil {
		return nil
	}
	r := repo{store: b.eng.store}
	return r.putAuditContext(ectx.Context(), workflowID, &AuditContext{
		WorkflowID:   workflowID,
		TraceID:      span.traceID,
		ParentSpanID: span.id,
		Depth:        span.depth,
	})
}
