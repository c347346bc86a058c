package engine

import "fmt"

// SplitType controls how tokens flow from an element to its successors.
type SplitType int

const (
	// SplitAnd fires every outgoing flow.
	SplitAnd SplitType = iota
	// SplitXor fires exactly one outgoing flow, chosen by RouteFunc.
	SplitXor
	// SplitOr fires one or more outgoing flows, chosen by RouteFunc.
	SplitOr
)

func (s SplitType) String() string {
	switch s {
	case SplitAnd:
		return "and"
	case SplitXor:
		return "xor"
	case SplitOr:
		return "or"
	default:
		return "unknown"
	}
}

// JoinType controls how many incoming flows a task or condition waits for
// before it is considered enabled.
type JoinType int

const (
	// JoinAnd waits for every incoming flow to carry a token.
	JoinAnd JoinType = iota
	// JoinXor fires as soon as any single incoming flow carries a token.
	JoinXor
	// JoinOr fires when no further token can structurally still arrive on
	// any other incoming flow, per E2WFOJNet reachability analysis.
	JoinOr
)

func (j JoinType) String() string {
	switch j {
	case JoinAnd:
		return "and"
	case JoinXor:
		return "xor"
	case JoinOr:
		return "or"
	default:
		return "unknown"
	}
}

// RouteFunc selects successors for an XOR or OR split. payload is the
// triggering work item's completion payload (nil when the task completes
// without one: dummy and composite tasks, and MarkTaskComplete). For
// SplitXor exactly one name must be returned; for SplitOr one or more.
type RouteFunc func(payload any) ([]string, error)

// Flow is a directed arc between two named elements (condition->task or
// task->condition) in a WorkflowDefinition.
type Flow struct {
	From string
	To   string
}

// ConditionDefinition is a passive place in the net. It carries no
// behavior of its own; its only state is an integer token marking held in
// a ConditionInstance.
type ConditionDefinition struct {
	Name string
}

// TaskKind distinguishes what happens when a task fires.
type TaskKind interface {
	isTaskKind()
}

// AtomicTask fires a single work item per firing.
type AtomicTask struct {
	WorkItem *WorkItemDefinition
}

func (AtomicTask) isTaskKind() {}

// DummyTask fires immediately with no work item and no sub-workflow; it
// exists purely to shape control flow (e.g. a no-op join point).
type DummyTask struct{}

func (DummyTask) isTaskKind() {}

// CompositeTask launches exactly one statically-named sub-workflow per
// firing and blocks the task's completion on that sub-workflow completing.
type CompositeTask struct {
	Child string // WorkflowDefinition.Name of the sub-workflow
}

func (CompositeTask) isTaskKind() {}

// DynamicCompositeTask selects its sub-workflow at firing time from a set
// of candidates, keyed by a caller-supplied selector name.
type DynamicCompositeTask struct {
	Children map[string]string // selector -> WorkflowDefinition.Name
}

func (DynamicCompositeTask) isTaskKind() {}

// TaskDefinition is a transition in the net.
type TaskDefinition struct {
	Name            string
	Kind            TaskKind
	Split           SplitType
	Join            JoinType
	Route           RouteFunc // required when Split is Xor or Or
	StatsShardCount int       // 0 means the engine-wide default applies
	Policy          TaskPolicyFunc
	Activities      TaskActivities
}

// TaskActivityFunc is a lifecycle hook invoked when a task instance itself
// transitions (enabled/started/completed/failed/canceled/disabled). A nil
// func is a no-op.
type TaskActivityFunc func(ectx *ExecutionContext, workflowID string, ti *TaskInstance) error

// TaskWorkItemStateChangeFunc runs whenever an AtomicTask's owned work item
// transitions, letting the task observe state changes beyond what its
// TaskPolicyFunc verdict already reacts to.
type TaskWorkItemStateChangeFunc func(ectx *ExecutionContext, wi *WorkItemInstance, prevState WorkItemState) error

// TaskWorkflowStateChangeFunc is the composite/dynamic-composite-task
// counterpart of TaskWorkItemStateChangeFunc: it runs whenever a task's
// owned sub-workflow transitions.
type TaskWorkflowStateChangeFunc func(ectx *ExecutionContext, child *WorkflowInstance, prevState WorkflowState) error

// TaskActivities is the set of lifecycle callbacks a task may attach: one
// per task-instance transition, plus a callback for state changes of
// whatever the task owns. An atomic task uses OnWorkItemStateChanged; a
// composite or dynamic composite task uses OnWorkflowStateChanged instead,
// matching which kind of child it owns. A dummy task owns neither, so
// neither of the two runs for it.
type TaskActivities struct {
	OnEnabled   TaskActivityFunc
	OnStarted   TaskActivityFunc
	OnCompleted TaskActivityFunc
	OnFailed    TaskActivityFunc
	OnCanceled  TaskActivityFunc
	OnDisabled  TaskActivityFunc

	OnWorkItemStateChanged TaskWorkItemStateChangeFunc
	OnWorkflowStateChanged TaskWorkflowStateChangeFunc
}

// WorkflowActivityFunc is a lifecycle hook invoked when a workflow instance
// itself transitions. A nil func is a no-op.
type WorkflowActivityFunc func(ectx *ExecutionContext, w *WorkflowInstance) error

// WorkflowActivities is the set of lifecycle callbacks a workflow
// definition may attach to its own instances. Fast-forward migration
// suppresses OnInitialized and OnStarted on the new instance: the migration
// initializer and migrators reconstruct state instead, and once they finish
// the instance behaves like any other, so the remaining callbacks fire
// normally.
type WorkflowActivities struct {
	OnInitialized WorkflowActivityFunc
	OnStarted     WorkflowActivityFunc
	OnCompleted   WorkflowActivityFunc
	OnCanceled    WorkflowActivityFunc
	OnFailed      WorkflowActivityFunc
}

// TaskPolicyVerdict is the outcome of evaluating a TaskPolicyFunc once a
// work item belonging to a task's current firing reaches a terminal state.
type TaskPolicyVerdict int

const (
	// PolicyContinue leaves the task firing, waiting on its remaining
	// work items.
	PolicyContinue TaskPolicyVerdict = iota
	// PolicyComplete completes the task's current firing now, even if
	// other work item instances are still pending.
	PolicyComplete
	// PolicyFail fails the task's current firing now.
	PolicyFail
)

func (v TaskPolicyVerdict) String() string {
	switch v {
	case PolicyContinue:
		return "continue"
	case PolicyComplete:
		return "complete"
	case PolicyFail:
		return "fail"
	default:
		return "unknown"
	}
}

// TaskPolicyFunc decides whether a task's firing should complete, fail, or
// keep waiting each time one of its work items reaches a terminal state.
// A nil Policy uses DefaultTaskPolicy: complete once every instance is
// terminal and none failed, fail as soon as any instance fails.
type TaskPolicyFunc func(progress TaskFiringProgress) TaskPolicyVerdict

// TaskFiringProgress summarizes one task firing's work item states at the
// moment a TaskPolicyFunc is evaluated.
type TaskFiringProgress struct {
	Total, Terminal, Completed, Failed, Canceled int
	Stats                                        TaskStats
}

// DefaultTaskPolicy fails the firing as soon as any work item instance has
// failed, without waiting for the others; otherwise it waits for every
// instance to reach a terminal state and then completes the firing, also
// when none of them completed (all canceled).
func DefaultTaskPolicy(p TaskFiringProgress) TaskPolicyVerdict {
	if p.Failed > 0 {
		return PolicyFail
	}
	if p.Terminal < p.Total {
		return PolicyContinue
	}
	return PolicyComplete
}

// CancellationRegion names the tasks and conditions that are forcibly
// withdrawn (canceled / unmarked) the instant the owning task completes.
type CancellationRegion struct {
	Tasks      map[string]struct{}
	Conditions map[string]struct{}
}

// MigratorFunc replays the effect of firing one task against a freshly
// initialized instance of a newer WorkflowDefinition version, for
// fast-forward migration. The engine moves no tokens on either verdict: a
// migrator replays a finished task itself (e.g. through
// MigrationContext.Net().MarkTaskComplete) and returns "fastForward";
// returning "continue" leaves the task to fire normally once its incoming
// conditions are marked. A "fastForward" verdict is rejected when the
// task's stored state differs after the migrator ran from before it.
type MigratorFunc func(mc *MigrationContext) (MigratorResult, error)

// MigratorResult is the verdict a MigratorFunc returns for one task.
type MigratorResult string

const (
	MigratorContinue    MigratorResult = "continue"
	MigratorFastForward MigratorResult = "fastForward"
)

// MigrationDefinition attaches a per-task replay strategy used when an
// in-flight instance of an older WorkflowDefinition version is migrated
// onto this one without re-running already-completed activity. Finalizer,
// when set, runs once the migrated root instance completes, for cleanup
// against the instance it was fast-forwarded from (e.g. archiving it).
type MigrationDefinition struct {
	Initializer func(mc *MigrationContext) error
	Finalizer   func(mc *MigrationContext) error
	Migrators   map[string]MigratorFunc
}

// WorkflowDefinition is the static element graph: a fixed set of named
// conditions and tasks connected by flows, with one start condition and one
// end condition. Definitions are immutable once built; Builder.Build
// returns a value that is safe to share across goroutines.
type WorkflowDefinition struct {
	Name           string
	VersionName    string
	Deprecated     bool
	StartCondition string
	EndCondition   string

	Conditions map[string]*ConditionDefinition
	Tasks      map[string]*TaskDefinition
	Activities WorkflowActivities

	CancellationRegions map[string]CancellationRegion // keyed by task name

	Migration *MigrationDefinition

	flows    []Flow
	outgoing map[string][]Flow // element name -> flows leaving it
	incoming map[string][]Flow // element name -> flows entering it
}

// Successors returns the names of elements reachable directly from name.
func (d *WorkflowDefinition) Successors(name string) []string {
	flows := d.outgoing[name]
	out := make([]string, len(flows))
	for i, f := range flows {
		out[i] = f.To
	}
	return out
}

// Predecessors returns the names of elements with a direct flow into name.
func (d *WorkflowDefinition) Predecessors(name string) []string {
	flows := d.incoming[name]
	out := make([]string, len(flows))
	for i, f := range flows {
		out[i] = f.From
	}
	return out
}

// IsCondition reports whether name identifies a condition in this
// definition.
func (d *WorkflowDefinition) IsCondition(name string) bool {
	_, ok := d.Conditions[name]
	return ok
}

// IsTask reports whether name identifies a task in this definition.
func (d *WorkflowDefinition) IsTask(name string) bool {
	_, ok := d.Tasks[name]
	return ok
}

func (d *WorkflowDefinition) shardCountFor(task *TaskDefinition, fallback int) int {
	if task.StatsShardCount > 0 {
		return task.StatsShardCount
	}
	if fallback > 0 {
		return fallback
	}
	return 1
}

func (d *WorkflowDefinition) String() string {
	return fmt.Sprintf("%s@%s", d.Name, d.VersionName)
}
