package engine

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
	"time"
)

// ConditionInstance is the live token marking of one condition within one
// root workflow instance (or one of its sub-workflow instances).
type ConditionInstance struct {
	WorkflowID string
	Name       string
	Marking    int
}

// TaskState is the lifecycle state of one firing generation of a task.
type TaskState string

const (
	TaskDisabled  TaskState = "disabled"
	TaskEnabled   TaskState = "enabled"
	TaskStarted   TaskState = "started"
	TaskCompleted TaskState = "completed"
	TaskFailed    TaskState = "failed"
	TaskCanceled  TaskState = "canceled"
)

// TaskInstance tracks one task's current generation and state within one
// workflow instance. Generation increments every time the task re-fires
// (loops back around in the net), so work items from a stale firing can
// never be mistaken for current ones.
type TaskInstance struct {
	WorkflowID string
	Name       string
	Generation int
	State      TaskState
	EnabledAt  time.Time // when the current generation became enabled; zero while disabled

	// RealizedPath is the sequence of workflow ids from the root workflow
	// down to and including WorkflowID, the same lineage a sub-workflow
	// carries (see WorkflowInstance.RealizedPath); RealizedPath[0] is
	// always the root workflow id.
	RealizedPath []string
}

// WorkItemState is the lifecycle state of one work item.
type WorkItemState string

const (
	WorkItemInitialized WorkItemState = "initialized"
	WorkItemStarted     WorkItemState = "started"
	WorkItemCompleted   WorkItemState = "completed"
	WorkItemFailed      WorkItemState = "failed"
	WorkItemCanceled    WorkItemState = "canceled"
)

// WorkItemInstance is one unit of work an AtomicTask firing produced.
type WorkItemInstance struct {
	ID         string
	WorkflowID string
	TaskName   string
	Generation int
	Sequence   int // index within the task's MultipleInstances, 0-based
	State      WorkItemState
	Payload    any
	ClaimedBy  string
	ClaimedAt  time.Time

	// Path is the sequence of workflow ids from the root workflow down to
	// and including WorkflowID, the work item's own copy of its owning
	// task instance's RealizedPath at the moment it was created.
	Path []string
}

// WorkflowState is the lifecycle state of a root workflow or sub-workflow
// instance.
type WorkflowState string

const (
	WorkflowInitialized WorkflowState = "initialized"
	WorkflowStarted     WorkflowState = "started"
	WorkflowCompleted   WorkflowState = "completed"
	WorkflowCanceled    WorkflowState = "canceled"
	WorkflowFailed      WorkflowState = "failed"
)

// ExecutionMode distinguishes an instance created by normal initialization
// from one seeded by fast-forward migration.
type ExecutionMode string

const (
	ModeNormal      ExecutionMode = "normal"
	ModeFastForward ExecutionMode = "fastForward"
)

// WorkflowInstance is one running (or finished) instantiation of a
// WorkflowDefinition: a root workflow if ParentWorkflowID is empty, or a
// sub-workflow launched by a composite task's firing otherwise.
type WorkflowInstance struct {
	ID          string
	Name        string
	VersionName string
	State       WorkflowState
	Mode        ExecutionMode

	// Parent identifies the composite/dynamic-composite task firing that
	// launched this instance as a sub-workflow; empty for root workflows.
	ParentWorkflowID string
	ParentTaskName   string
	ParentGeneration int

	// RealizedPath is the sequence of workflow ids from the root workflow
	// to this instance's parent: empty for a root workflow, or
	// parent.RealizedPath+[ParentWorkflowID] for a sub-workflow.
	RealizedPath []string
}

// IsRoot reports whether this instance is a root workflow rather than a
// sub-workflow launched by a composite task.
func (w *WorkflowInstance) IsRoot() bool {
	return w.ParentWorkflowID == ""
}

// TaskStatsShard is one hash-partitioned counter bucket for one generation
// of a task's firing. Each work item transition writes to exactly one shard
// (chosen by hashing the work item's id), so concurrent firings of
// the same task rarely contend on the same shard; reading the task's
// totals sums across all of a generation's shards. Scoping shards by
// Generation keeps a loop-back re-firing's counters from blending into a
// prior firing's.
type TaskStatsShard struct {
	WorkflowID  string
	TaskName    string
	Generation  int
	ShardID     int
	Total       int64
	Initialized int64
	Started     int64
	Completed   int64
	Failed      int64
	Canceled    int64
}

// ScheduledEntry is the engine-side record of a scheduler-bridge timer: the
// reverse index letting the engine cancel a pending fire by key without the
// caller having to remember the scheduler's own id.
type ScheduledEntry struct {
	ID                  string
	Key                 string
	ScheduledFunctionID string
	FireAt              time.Time
	Canceled            bool
}

// AuditContext is the persisted continuation point for one trace: the span
// a later mutation should parent its new spans under, so a trace started by
// one host mutation can be resumed by a later one (e.g. a scheduled
// callback) without losing its place in the tree.
type AuditContext struct {
	WorkflowID   string
	TraceID      string
	ParentSpanID string
	Depth        int
}

// AuditSpanRecord is one persisted span in a workflow instance's trace
// tree, flushed from the audit bridge's in-memory buffer at a mutation
// boundary.
type AuditSpanRecord struct {
	ID       string
	TraceID  string
	ParentID string
	Name     string
	Start    time.Time
	End      time.Time
	Depth    int
}

// MigrationRecord marks that a given workflow instance was produced by
// fast-forwarding FromWorkflowID onto a new definition version, so queries
// can trace an instance's migration lineage.
type MigrationRecord struct {
	FromWorkflowID string
	ToWorkflowID   string
	FromVersion    string
	ToVersion      string
}

// --- kind registry, used by FileStore to round-trip Documents through JSON ---

var (
	kindMu     sync.RWMutex
	kindToType = map[string]reflect.Type{}
	typeToKind = map[reflect.Type]string{}
)

func registerKind(name string, zero any) {
	t := reflect.TypeOf(zero)
	kindMu.Lock()
	defer kindMu.Unlock()
	kindToType[name] = t
	typeToKind[t] = name
}

func init() {
	registerKind("condition", ConditionInstance{})
	registerKind("task", TaskInstance{})
	registerKind("workItem", WorkItemInstance{})
	registerKind("workflow", WorkflowInstance{})
	registerKind("statsShard", TaskStatsShard{})
	registerKind("scheduled", ScheduledEntry{})
	registerKind("auditContext", AuditContext{})
	registerKind("auditSpan", AuditSpanRecord{})
	registerKind("migration", MigrationRecord{})
}

func kindOf(doc Document) (string, error) {
	t := reflect.TypeOf(doc)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	kindMu.RLock()
	defer kindMu.RUnlock()
	kind, ok := typeToKind[t]
	if !ok {
		return "", fmt.Errorf("engine: no registered kind for document type %s", t)
	}
	return kind, nil
}

func decodeKind(kind string, data []byte) (Document, error) {
	kindMu.RLock()
	t, ok := kindToType[kind]
	kindMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("engine: unknown document kind %q", kind)
	}
	ptr := reflect.New(t)
	if err := json.Unmarshal(data, ptr.Interface()); err != nil {
		return nil, fmt.Errorf("engine: decode %s: %w", kind, err)
	}
	return ptr.Interface(), nil
}
