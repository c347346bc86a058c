package engine_test

import (
	"context"
	"reflect"
	"testing"

	"github.com/tasquencer/orchestrator/orchestrate/engine"
)

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	cfg := engine.DefaultConfig()
	cfg.Observer = "noop"
	e, err := engine.New(engine.NewMemoryStore(), cfg, nil)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	return e
}

// linearDef builds start -> a -> mid -> b -> end, an AND-join/AND-split
// sequential net with two atomic tasks.
func linearDef(t *testing.T) *engine.WorkflowDefinition {
	t.Helper()
	def, err := engine.NewBuilder("linear", "v1").
		Start("start").
		Condition("mid").
		End("end").
		Task(&engine.TaskDefinition{Name: "a", Kind: engine.AtomicTask{}}).
		Task(&engine.TaskDefinition{Name: "b", Kind: engine.AtomicTask{}}).
		Flow("start", "a").
		Flow("a", "mid").
		Flow("mid", "b").
		Flow("b", "end").
		Build()
	if err != nil {
		t.Fatalf("build linear: %v", err)
	}
	return def
}

func TestLinearWorkflowCompletesViaWorkItemActions(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	def := linearDef(t)
	e.Register(def)

	w, err := e.InitializeRootWorkflow(ctx, "linear", "v1")
	if err != nil {
		t.Fatalf("InitializeRootWorkflow: %v", err)
	}

	items, err := e.ListWorkItems(ctx, w.ID, "a")
	if err != nil {
		t.Fatalf("ListWorkItems a: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("want 1 work item for task a, got %d", len(items))
	}
	if err := e.StartWorkItem(ctx, items[0].ID, nil); err != nil {
		t.Fatalf("StartWorkItem: %v", err)
	}
	if err := e.CompleteWorkItem(ctx, items[0].ID, nil); err != nil {
		t.Fatalf("CompleteWorkItem a: %v", err)
	}

	bItems, err := e.ListWorkItems(ctx, w.ID, "b")
	if err != nil {
		t.Fatalf("ListWorkItems b: %v", err)
	}
	if len(bItems) != 1 {
		t.Fatalf("want 1 work item for task b, got %d", len(bItems))
	}
	if err := e.StartWorkItem(ctx, bItems[0].ID, nil); err != nil {
		t.Fatalf("StartWorkItem b: %v", err)
	}
	if err := e.CompleteWorkItem(ctx, bItems[0].ID, nil); err != nil {
		t.Fatalf("CompleteWorkItem b: %v", err)
	}

	got, err := e.GetWorkflow(ctx, w.ID)
	if err != nil {
		t.Fatalf("GetWorkflow: %v", err)
	}
	if got.State != engine.WorkflowCompleted {
		t.Fatalf("workflow state = %s, want completed", got.State)
	}
}

// andSplitJoinDef builds a diamond: start -> fork (and-split) -> {left,
// right} -> join (and-join) -> end.
func andSplitJoinDef(t *testing.T) *engine.WorkflowDefinition {
	t.Helper()
	def, err := engine.NewBuilder("diamond", "v1").
		Start("start").
		Condition("leftC").
		Condition("rightC").
		End("end").
		Task(&engine.TaskDefinition{Name: "fork", Kind: engine.DummyTask{}, Split: engine.SplitAnd}).
		Task(&engine.TaskDefinition{Name: "join", Kind: engine.DummyTask{}, Join: engine.JoinAnd}).
		Flow("start", "fork").
		Flow("fork", "leftC").
		Flow("fork", "rightC").
		Flow("leftC", "join").
		Flow("rightC", "join").
		Flow("join", "end").
		Build()
	if err != nil {
		t.Fatalf("build diamond: %v", err)
	}
	return def
}

func TestAndSplitAndJoinComplete(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	def := andSplitJoinDef(t)
	e.Register(def)

	w, err := e.InitializeRootWorkflow(ctx, "diamond", "v1")
	if err != nil {
		t.Fatalf("InitializeRootWorkflow: %v", err)
	}
	got, err := e.GetWorkflow(ctx, w.ID)
	if err != nil {
		t.Fatalf("GetWorkflow: %v", err)
	}
	if got.State != engine.WorkflowCompleted {
		t.Fatalf("workflow state = %s, want completed (both dummy tasks fire immediately)", got.State)
	}
}

type gateBranchPayload struct {
	Branch string `json:"branch" validate:"omitempty,oneof=a b"`
}

// xorRouteDef builds start -> gate (xor-split by payload) -> {onA, onB} ->
// end, each branch going through its own atomic task.
func xorRouteDef(t *testing.T) *engine.WorkflowDefinition {
	t.Helper()
	route := func(payload any) ([]string, error) {
		if p, ok := payload.(gateBranchPayload); ok && p.Branch == "b" {
			return []string{"toB"}, nil
		}
		return []string{"toA"}, nil
	}
	gateWorkItem := &engine.WorkItemDefinition{
		Actions: map[engine.ActionKind]engine.ActionDefinition{
			engine.ActionStart:    {Payload: engine.NonePayload},
			engine.ActionComplete: {Payload: engine.JSONPayload(reflect.TypeOf(gateBranchPayload{}))},
			engine.ActionFail:     {Payload: engine.NonePayload},
			engine.ActionCancel:   {Payload: engine.NonePayload},
		},
		MultipleInstances: 1,
	}
	def, err := engine.NewBuilder("xor", "v1").
		Start("start").
		Condition("toA").
		Condition("toB").
		End("end").
		Task(&engine.TaskDefinition{Name: "gate", Kind: engine.AtomicTask{WorkItem: gateWorkItem}, Split: engine.SplitXor, Route: route}).
		Task(&engine.TaskDefinition{Name: "onA", Kind: engine.DummyTask{}}).
		Task(&engine.TaskDefinition{Name: "onB", Kind: engine.DummyTask{}}).
		Flow("start", "gate").
		Flow("gate", "toA").
		Flow("gate", "toB").
		Flow("toA", "onA").
		Flow("toB", "onB").
		Flow("onA", "end").
		Flow("onB", "end").
		Build()
	if err != nil {
		t.Fatalf("build xor: %v", err)
	}
	return def
}

func TestXorSplitRoutesOnPayload(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	def := xorRouteDef(t)
	e.Register(def)

	w, err := e.InitializeRootWorkflow(ctx, "xor", "v1")
	if err != nil {
		t.Fatalf("InitializeRootWorkflow: %v", err)
	}
	items, err := e.ListWorkItems(ctx, w.ID, "gate")
	if err != nil {
		t.Fatalf("ListWorkItems gate: %v", err)
	}
	if err := e.StartWorkItem(ctx, items[0].ID, nil); err != nil {
		t.Fatalf("StartWorkItem: %v", err)
	}
	if err := e.CompleteWorkItem(ctx, items[0].ID, []byte(`{"branch":"b"}`)); err != nil {
		t.Fatalf("CompleteWorkItem: %v", err)
	}

	onB, err := e.GetWorkflowTaskStates(ctx, w.ID)
	if err != nil {
		t.Fatalf("GetWorkflowTaskStates: %v", err)
	}
	if onB["onB"] != engine.TaskCompleted {
		t.Fatalf("onB state = %s, want completed", onB["onB"])
	}
	if onB["onA"] != engine.TaskDisabled {
		t.Fatalf("onA state = %s, want disabled (route chose b)", onA(onB))
	}
}

func onA(m map[string]engine.TaskState) engine.TaskState { return m["onA"] }

// cancellationDef builds start -> trigger (and-split) -> {victimC, gateC},
// with victimC -> victim (atomic) -> end and gateC -> gate (atomic) -> end;
// victim and victimC lie in gate's cancellation region, so completing gate
// withdraws victim.
func cancellationDef(t *testing.T) *engine.WorkflowDefinition {
	t.Helper()
	def, err := engine.NewBuilder("cancel", "v1").
		Start("start").
		Condition("victimC").
		Condition("gateC").
		End("end").
		Task(&engine.TaskDefinition{Name: "trigger", Kind: engine.DummyTask{}, Split: engine.SplitAnd}).
		Task(&engine.TaskDefinition{Name: "victim", Kind: engine.AtomicTask{}}).
		Task(&engine.TaskDefinition{Name: "gate", Kind: engine.AtomicTask{}}).
		Flow("start", "trigger").
		Flow("trigger", "victimC").
		Flow("trigger", "gateC").
		Flow("victimC", "victim").
		Flow("gateC", "gate").
		Flow("gate", "end").
		Flow("victim", "end").
		CancellationRegion("gate", []string{"victim"}, []string{"victimC"}).
		Build()
	if err != nil {
		t.Fatalf("build cancel: %v", err)
	}
	return def
}

func TestCancellationRegionWithdrawsSiblingTask(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	def := cancellationDef(t)
	e.Register(def)

	w, err := e.InitializeRootWorkflow(ctx, "cancel", "v1")
	if err != nil {
		t.Fatalf("InitializeRootWorkflow: %v", err)
	}

	victimItems, err := e.ListWorkItems(ctx, w.ID, "victim")
	if err != nil {
		t.Fatalf("ListWorkItems victim: %v", err)
	}
	if len(victimItems) != 1 {
		t.Fatalf("want 1 victim work item, got %d", len(victimItems))
	}

	gateItems, err := e.ListWorkItems(ctx, w.ID, "gate")
	if err != nil {
		t.Fatalf("ListWorkItems gate: %v", err)
	}
	if err := e.StartWorkItem(ctx, gateItems[0].ID, nil); err != nil {
		t.Fatalf("StartWorkItem gate: %v", err)
	}
	if err := e.CompleteWorkItem(ctx, gateItems[0].ID, nil); err != nil {
		t.Fatalf("CompleteWorkItem gate: %v", err)
	}

	states, err := e.GetWorkflowTaskStates(ctx, w.ID)
	if err != nil {
		t.Fatalf("GetWorkflowTaskStates: %v", err)
	}
	if states["victim"] != engine.TaskCanceled {
		t.Fatalf("victim task state = %s, want canceled", states["victim"])
	}

	victim, err := e.GetWorkItem(ctx, victimItems[0].ID)
	if err != nil {
		t.Fatalf("GetWorkItem victim: %v", err)
	}
	if victim.State != engine.WorkItemCanceled {
		t.Fatalf("victim work item state = %s, want canceled", victim.State)
	}
}

func TestGetAggregatedTaskStatsCountsMultipleInstances(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	def, err := engine.NewBuilder("fanout", "v1").
		Start("start").
		End("end").
		Task(&engine.TaskDefinition{
			Name: "work",
			Kind: engine.AtomicTask{WorkItem: &engine.WorkItemDefinition{
				Actions:           engine.DefaultWorkItemDefinition().Actions,
				MultipleInstances: 3,
			}},
		}).
		Flow("start", "work").
		Flow("work", "end").
		Build()
	if err != nil {
		t.Fatalf("build fanout: %v", err)
	}
	e.Register(def)

	w, err := e.InitializeRootWorkflow(ctx, "fanout", "v1")
	if err != nil {
		t.Fatalf("InitializeRootWorkflow: %v", err)
	}

	items, err := e.ListWorkItems(ctx, w.ID, "work")
	if err != nil {
		t.Fatalf("ListWorkItems: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("want 3 work items, got %d", len(items))
	}

	stats, err := e.GetAggregatedTaskStats(ctx, w.ID, "work", 0)
	if err != nil {
		t.Fatalf("GetAggregatedTaskStats: %v", err)
	}
	if stats.Total != 3 {
		t.Fatalf("stats.Total = %d, want 3", stats.Total)
	}
	if stats.Initialized != 3 {
		t.Fatalf("stats.Initialized = %d, want 3", stats.Initialized)
	}
	if stats.Completed != 0 {
		t.Fatalf("stats.Completed = %d, want 0 before completion", stats.Completed)
	}

	for _, wi := range items {
		if err := e.StartWorkItem(ctx, wi.ID, nil); err != nil {
			t.Fatalf("StartWorkItem %s: %v", wi.ID, err)
		}
		if err := e.CompleteWorkItem(ctx, wi.ID, nil); err != nil {
			t.Fatalf("CompleteWorkItem %s: %v", wi.ID, err)
		}
	}

	stats, err = e.GetAggregatedTaskStats(ctx, w.ID, "work", 0)
	if err != nil {
		t.Fatalf("GetAggregatedTaskStats after completion: %v", err)
	}
	if stats.Completed != 3 {
		t.Fatalf("stats.Completed = %d, want 3", stats.Completed)
	}

	got, err := e.GetWorkflow(ctx, w.ID)
	if err != nil {
		t.Fatalf("GetWorkflow: %v", err)
	}
	if got.State != engine.WorkflowCompleted {
		t.Fatalf("workflow state = %s, want completed", got.State)
	}
}

func TestFastForwardMigratesOntoNewerVersion(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	v1 := linearDef(t)
	e.Register(v1)

	w, err := e.InitializeRootWorkflow(ctx, "linear", "v1")
	if err != nil {
		t.Fatalf("InitializeRootWorkflow: %v", err)
	}
	aItems, err := e.ListWorkItems(ctx, w.ID, "a")
	if err != nil {
		t.Fatalf("ListWorkItems a: %v", err)
	}
	if err := e.StartWorkItem(ctx, aItems[0].ID, nil); err != nil {
		t.Fatalf("StartWorkItem a: %v", err)
	}
	if err := e.CompleteWorkItem(ctx, aItems[0].ID, nil); err != nil {
		t.Fatalf("CompleteWorkItem a: %v", err)
	}

	v2, err := engine.NewBuilder("linear", "v2").
		Start("start").
		Condition("mid").
		End("end").
		Task(&engine.TaskDefinition{Name: "a", Kind: engine.AtomicTask{}}).
		Task(&engine.TaskDefinition{Name: "b", Kind: engine.AtomicTask{}}).
		Flow("start", "a").
		Flow("a", "mid").
		Flow("mid", "b").
		Flow("b", "end").
		Migration(&engine.MigrationDefinition{
			Migrators: map[string]engine.MigratorFunc{
				"a": func(mc *engine.MigrationContext) (engine.MigratorResult, error) {
					n, err := mc.Net()
					if err != nil {
						return "", err
					}
					if err := n.MarkTaskComplete(mc.Ectx, mc.WorkflowID, "a"); err != nil {
						return "", err
					}
					return engine.MigratorFastForward, nil
				},
			},
		}).
		Build()
	if err != nil {
		t.Fatalf("build linear v2: %v", err)
	}
	e.Register(v2)

	migrated, err := e.FastForward(ctx, w.ID, "v2")
	if err != nil {
		t.Fatalf("FastForward: %v", err)
	}

	states, err := e.GetWorkflowTaskStates(ctx, migrated.ID)
	if err != nil {
		t.Fatalf("GetWorkflowTaskStates: %v", err)
	}
	if states["a"] != engine.TaskCompleted {
		t.Fatalf("task a state = %s, want completed after fast-forward", states["a"])
	}

	bItems, err := e.ListWorkItems(ctx, migrated.ID, "b")
	if err != nil {
		t.Fatalf("ListWorkItems b: %v", err)
	}
	if len(bItems) != 1 {
		t.Fatalf("want 1 work item for task b after fast-forward, got %d", len(bItems))
	}
}

// TestFastForwardMigratorContinueResumesLiveTask covers the other half of
// the migrator contract: the source instance has task a completed and task
// b mid-firing (its work item still initialized, never started), and b's
// migrator explicitly returns MigratorContinue. The target must come out
// with b live again — enabled, with a fresh initialized work item — and
// then run to completion under normal operations as if it were native.
func TestFastForwardMigratorContinueResumesLiveTask(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	e.Register(linearDef(t))

	w, err := e.InitializeRootWorkflow(ctx, "linear", "v1")
	if err != nil {
		t.Fatalf("InitializeRootWorkflow: %v", err)
	}
	aItems, err := e.ListWorkItems(ctx, w.ID, "a")
	if err != nil {
		t.Fatalf("ListWorkItems a: %v", err)
	}
	if err := e.StartWorkItem(ctx, aItems[0].ID, nil); err != nil {
		t.Fatalf("StartWorkItem a: %v", err)
	}
	if err := e.CompleteWorkItem(ctx, aItems[0].ID, nil); err != nil {
		t.Fatalf("CompleteWorkItem a: %v", err)
	}

	// Premise check: b is mid-firing in the source — enabled, one work
	// item sitting at initialized.
	srcItems, err := e.ListWorkItems(ctx, w.ID, "b")
	if err != nil {
		t.Fatalf("ListWorkItems b (source): %v", err)
	}
	if len(srcItems) != 1 || srcItems[0].State != engine.WorkItemInitialized {
		t.Fatalf("source task b items = %+v, want one initialized work item", srcItems)
	}

	var bVerdict engine.MigratorResult
	v2, err := engine.NewBuilder("linear", "v2").
		Start("start").
		Condition("mid").
		End("end").
		Task(&engine.TaskDefinition{Name: "a", Kind: engine.AtomicTask{}}).
		Task(&engine.TaskDefinition{Name: "b", Kind: engine.AtomicTask{}}).
		Flow("start", "a").
		Flow("a", "mid").
		Flow("mid", "b").
		Flow("b", "end").
		Migration(&engine.MigrationDefinition{
			Migrators: map[string]engine.MigratorFunc{
				"a": func(mc *engine.MigrationContext) (engine.MigratorResult, error) {
					n, err := mc.Net()
					if err != nil {
						return "", err
					}
					if err := n.MarkTaskComplete(mc.Ectx, mc.WorkflowID, "a"); err != nil {
						return "", err
					}
					return engine.MigratorFastForward, nil
				},
				"b": func(mc *engine.MigrationContext) (engine.MigratorResult, error) {
					// a's replay has already marked b's incoming condition;
					// the task runs normally from there, nothing to seed.
					bVerdict = engine.MigratorContinue
					return engine.MigratorContinue, nil
				},
			},
		}).
		Build()
	if err != nil {
		t.Fatalf("build linear v2: %v", err)
	}
	e.Register(v2)

	migrated, err := e.FastForward(ctx, w.ID, "v2")
	if err != nil {
		t.Fatalf("FastForward: %v", err)
	}
	if bVerdict != engine.MigratorContinue {
		t.Fatalf("b's migrator verdict = %q, want it invoked and returning %q", bVerdict, engine.MigratorContinue)
	}

	states, err := e.GetWorkflowTaskStates(ctx, migrated.ID)
	if err != nil {
		t.Fatalf("GetWorkflowTaskStates: %v", err)
	}
	if states["b"] != engine.TaskEnabled {
		t.Fatalf("migrated task b state = %s, want enabled (live again, same as the source)", states["b"])
	}

	bItems, err := e.ListWorkItems(ctx, migrated.ID, "b")
	if err != nil {
		t.Fatalf("ListWorkItems b (target): %v", err)
	}
	if len(bItems) != 1 || bItems[0].State != engine.WorkItemInitialized {
		t.Fatalf("migrated task b items = %+v, want one initialized work item mirroring the source", bItems)
	}

	// From here the instance behaves like a native one.
	if err := e.StartWorkItem(ctx, bItems[0].ID, nil); err != nil {
		t.Fatalf("StartWorkItem b: %v", err)
	}
	if err := e.CompleteWorkItem(ctx, bItems[0].ID, nil); err != nil {
		t.Fatalf("CompleteWorkItem b: %v", err)
	}
	got, err := e.GetWorkflow(ctx, migrated.ID)
	if err != nil {
		t.Fatalf("GetWorkflow: %v", err)
	}
	if got.State != engine.WorkflowCompleted {
		t.Fatalf("migrated workflow state = %s, want completed", got.State)
	}
}

func TestTaskPolicyOverridesDefaultCompletion(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	alwaysComplete := func(p engine.TaskFiringProgress) engine.TaskPolicyVerdict {
		if p.Completed >= 1 {
			return engine.PolicyComplete
		}
		return engine.PolicyContinue
	}

	def, err := engine.NewBuilder("earlyexit", "v1").
		Start("start").
		End("end").
		Task(&engine.TaskDefinition{
			Name: "race",
			Kind: engine.AtomicTask{WorkItem: &engine.WorkItemDefinition{
				Actions:           engine.DefaultWorkItemDefinition().Actions,
				MultipleInstances: 2,
			}},
			Policy: alwaysComplete,
		}).
		Flow("start", "race").
		Flow("race", "end").
		Build()
	if err != nil {
		t.Fatalf("build earlyexit: %v", err)
	}
	e.Register(def)

	w, err := e.InitializeRootWorkflow(ctx, "earlyexit", "v1")
	if err != nil {
		t.Fatalf("InitializeRootWorkflow: %v", err)
	}
	items, err := e.ListWorkItems(ctx, w.ID, "race")
	if err != nil {
		t.Fatalf("ListWorkItems: %v", err)
	}
	if err := e.StartWorkItem(ctx, items[0].ID, nil); err != nil {
		t.Fatalf("StartWorkItem: %v", err)
	}
	if err := e.CompleteWorkItem(ctx, items[0].ID, nil); err != nil {
		t.Fatalf("CompleteWorkItem: %v", err)
	}

	got, err := e.GetWorkflow(ctx, w.ID)
	if err != nil {
		t.Fatalf("GetWorkflow: %v", err)
	}
	if got.State != engine.WorkflowCompleted {
		t.Fatalf("workflow state = %s, want completed even though one sibling work item is still pending", got.State)
	}
}

// TestCompositeTaskCompletesWhenSubWorkflowCompletes covers scenario 5:
// a composite task launches a statically-named child workflow as soon as
// its parent task is enabled, and the composite task only reaches
// TaskCompleted once that sub-workflow instance itself completes.
func TestCompositeTaskCompletesWhenSubWorkflowCompletes(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	child, err := engine.NewBuilder("child", "v1").
		Start("start").
		End("end").
		Task(&engine.TaskDefinition{Name: "s", Kind: engine.AtomicTask{}}).
		Flow("start", "s").
		Flow("s", "end").
		Build()
	if err != nil {
		t.Fatalf("build child: %v", err)
	}
	e.Register(child)

	parent, err := engine.NewBuilder("parent", "v1").
		Start("start").
		End("end").
		Task(&engine.TaskDefinition{Name: "c", Kind: engine.CompositeTask{Child: "child"}}).
		Flow("start", "c").
		Flow("c", "end").
		Build()
	if err != nil {
		t.Fatalf("build parent: %v", err)
	}
	e.Register(parent)

	w, err := e.InitializeRootWorkflow(ctx, "parent", "v1")
	if err != nil {
		t.Fatalf("InitializeRootWorkflow: %v", err)
	}

	states, err := e.GetWorkflowTaskStates(ctx, w.ID)
	if err != nil {
		t.Fatalf("GetWorkflowTaskStates: %v", err)
	}
	if states["c"] != engine.TaskStarted {
		t.Fatalf("composite task state = %s, want started", states["c"])
	}

	children, err := e.ListChildWorkflows(ctx, w.ID, "c")
	if err != nil {
		t.Fatalf("ListChildWorkflows: %v", err)
	}
	if len(children) != 1 {
		t.Fatalf("len(children) = %d, want 1", len(children))
	}
	sub := children[0]
	if sub.State != engine.WorkflowStarted {
		t.Fatalf("sub-workflow state = %s, want started", sub.State)
	}

	items, err := e.ListWorkItems(ctx, sub.ID, "s")
	if err != nil {
		t.Fatalf("ListWorkItems: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("len(items) = %d, want 1", len(items))
	}
	if items[0].State != engine.WorkItemInitialized {
		t.Fatalf("work item state = %s, want initialized", items[0].State)
	}

	if err := e.StartWorkItem(ctx, items[0].ID, nil); err != nil {
		t.Fatalf("StartWorkItem: %v", err)
	}
	if err := e.CompleteWorkItem(ctx, items[0].ID, nil); err != nil {
		t.Fatalf("CompleteWorkItem: %v", err)
	}

	gotChild, err := e.GetWorkflow(ctx, sub.ID)
	if err != nil {
		t.Fatalf("GetWorkflow(child): %v", err)
	}
	if gotChild.State != engine.WorkflowCompleted {
		t.Fatalf("child workflow state = %s, want completed", gotChild.State)
	}

	parentStates, err := e.GetWorkflowTaskStates(ctx, w.ID)
	if err != nil {
		t.Fatalf("GetWorkflowTaskStates: %v", err)
	}
	if parentStates["c"] != engine.TaskCompleted {
		t.Fatalf("composite task state = %s, want completed once sub-workflow completes", parentStates["c"])
	}

	gotParent, err := e.GetWorkflow(ctx, w.ID)
	if err != nil {
		t.Fatalf("GetWorkflow(parent): %v", err)
	}
	if gotParent.State != engine.WorkflowCompleted {
		t.Fatalf("parent workflow state = %s, want completed", gotParent.State)
	}
}

// TestWorkItemAutoStartsFromInitializeCallback covers scenario 4: an
// ActionInitialize callback enqueues a "start" action on the work item it
// was just handed, via ExecutionContext.EnqueueWorkItemAction. After the
// single InitializeRootWorkflow call returns — once the auto-trigger queue
// has fully drained — the work item must already be Started, not left at
// Initialized.
func TestWorkItemAutoStartsFromInitializeCallback(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	def, err := engine.NewBuilder("autostart", "v1").
		Start("start").
		End("end").
		Task(&engine.TaskDefinition{
			Name: "a",
			Kind: engine.AtomicTask{
				WorkItem: &engine.WorkItemDefinition{
					MultipleInstances: 1,
					Actions: map[engine.ActionKind]engine.ActionDefinition{
						engine.ActionInitialize: {
							Payload: engine.NonePayload,
							Callback: func(ectx *engine.ExecutionContext, wi *engine.WorkItemInstance, payload any) error {
								ectx.EnqueueWorkItemAction(wi.ID, engine.ActionStart, nil)
								return nil
							},
						},
						engine.ActionStart:    {Payload: engine.NonePayload},
						engine.ActionComplete: {Payload: engine.NonePayload},
					},
				},
			},
		}).
		Flow("start", "a").
		Flow("a", "end").
		Build()
	if err != nil {
		t.Fatalf("build autostart: %v", err)
	}
	e.Register(def)

	w, err := e.InitializeRootWorkflow(ctx, "autostart", "v1")
	if err != nil {
		t.Fatalf("InitializeRootWorkflow: %v", err)
	}

	items, err := e.ListWorkItems(ctx, w.ID, "a")
	if err != nil {
		t.Fatalf("ListWorkItems: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("len(items) = %d, want 1", len(items))
	}
	if items[0].State != engine.WorkItemStarted {
		t.Fatalf("work item state = %s, want started after onInitialized auto-triggered start", items[0].State)
	}
}
