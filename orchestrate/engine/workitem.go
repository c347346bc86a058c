package engine

import (
	"encoding/json"

	"github.com/tasquencer/orchestrator/observability"
)

// createWorkItems materializes an AtomicTask's work item(s) once the task
// becomes Enabled: MultipleInstances work items are created independently,
// each tracked by its own Sequence; when the task completes or fails is
// decided by its TaskPolicyFunc each time one of them reaches a terminal
// state.
func (n *net) createWorkItems(ectx *ExecutionContext, workflowID string, task *TaskDefinition, kind AtomicTask, ti *TaskInstance) error {
	ctx := ectx.Context()
	def := kind.WorkItem
	if def == nil {
		def = DefaultWorkItemDefinition()
	}
	count := def.MultipleInstances
	if count < 1 {
		count = 1
	}
	for seq := 0; seq < count; seq++ {
		wi := &WorkItemInstance{
			WorkflowID: workflowID,
			TaskName:   task.Name,
			Generation: ti.Generation,
			Sequence:   seq,
			State:      WorkItemInitialized,
			Path:       ti.RealizedPath,
		}
		id, err := n.repo.insertWorkItem(ctx, wi)
		if err != nil {
			return err
		}
		wi.ID = id
		ectx.emit(EventWorkItemInitialized, observability.LevelInfo,
			observability.Resource{Workflow: workflowID, Task: task.Name, WorkItem: id, Generation: ti.Generation}, nil)
		shardCount := n.def.shardCountFor(task, n.eng.cfg.StatsShardCount)
		if err := n.eng.recordStat(ctx, workflowID, task.Name, id, ti.Generation, shardCount, WorkItemInitialized); err != nil {
			return err
		}
		n.eng.metrics.recordWorkItemTransition(task.Name, WorkItemInitialized)

		if _, ok := def.Actions[ActionInitialize]; ok {
			if err := n.eng.runAction(ectx, def, wi, ActionInitialize, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

// runAction validates payload, authorizes, runs the callback, and applies
// the resulting WorkItemState transition. It is the single place every
// work-item action (initialize/start/complete/fail/cancel/reset) funnels
// through.
func (e *Engine) runAction(ectx *ExecutionContext, def *WorkItemDefinition, wi *WorkItemInstance, action ActionKind, raw json.RawMessage) error {
	ad, ok := def.Actions[action]
	if !ok {
		return constraintErr("runAction", "work item %s does not accept action %s", wi.ID, action)
	}

	// Canceling an already-terminal work item is a no-op, so cancellation
	// cascades (and caller retries) never trip over work that finished in
	// the meantime.
	if action == ActionCancel && isTerminal(wi.State) {
		return nil
	}

	if err := requireTransition(wi.State, action); err != nil {
		return err
	}

	payload, err := ad.Payload.Validate(string(action), raw)
	if err != nil {
		return err
	}

	subject := wi.WorkflowID + "/" + wi.TaskName + "/" + wi.ID
	if err := runPolicy(ectx, ad.Policy, subject, action); err != nil {
		return err
	}

	prevState := wi.State
	if action != ActionInitialize {
		wi.Payload = payload
	}
	applyWorkItemTransition(wi, action)

	ctx := ectx.Context()
	r := repo{store: e.store}
	if err := r.putWorkItem(ctx, wi); err != nil {
		return err
	}

	if ad.Callback != nil {
		if err := ad.Callback(ectx, wi, payload); err != nil {
			return err
		}
	}

	emitWorkItemEvent(ectx, wi, action)

	wfDef, derr := e.definitionForWorkflow(ctx, wi.WorkflowID)
	var task *TaskDefinition
	if derr == nil {
		task = wfDef.Tasks[wi.TaskName]
	}
	if action != ActionInitialize {
		if task != nil {
			shardCount := wfDef.shardCountFor(task, e.cfg.StatsShardCount)
			_ = e.recordStat(ctx, wi.WorkflowID, wi.TaskName, wi.ID, wi.Generation, shardCount, wi.State)
		}
		e.metrics.recordWorkItemTransition(wi.TaskName, wi.State)
	}
	if task != nil {
		if err := runWorkItemActivity(ectx, task.Activities.OnWorkItemStateChanged, wi, prevState); err != nil {
			return err
		}
	}

	if isTerminal(wi.State) {
		if err := e.cancelScheduled(ctx, scheduleKeyWorkItem(wi.ID)); err != nil {
			return err
		}
		return e.onWorkItemTerminal(ectx, wi)
	}
	return nil
}

// runWorkItemActivity invokes a task's work-item lifecycle callback if one
// is attached; a nil fn is a no-op.
func runWorkItemActivity(ectx *ExecutionContext, fn TaskWorkItemStateChangeFunc, wi *WorkItemInstance, prevState WorkItemState) error {
	if fn == nil {
		return nil
	}
	return fn(ectx, wi, prevState)
}

func requireTransition(state WorkItemState, action ActionKind) error {
	allowed := map[WorkItemState][]ActionKind{
		WorkItemInitialized: {ActionInitialize, ActionStart, ActionCancel},
		WorkItemStarted:     {ActionComplete, ActionFail, ActionCancel, ActionReset},
	}
	for _, a := range allowed[state] {
		if a == action {
			return nil
		}
	}
	return invalidTransition("runAction", "work item in state %s cannot take action %s", state, action)
}

func applyWorkItemTransition(wi *WorkItemInstance, action ActionKind) {
	switch action {
	case ActionStart:
		wi.State = WorkItemStarted
	case ActionComplete:
		wi.State = WorkItemCompleted
	case ActionFail:
		wi.State = WorkItemFailed
	case ActionCancel:
		wi.State = WorkItemCanceled
	case ActionReset:
		wi.State = WorkItemInitialized
	}
}

func isTerminal(s WorkItemState) bool {
	return s == WorkItemCompleted || s == WorkItemFailed || s == WorkItemCanceled
}

func emitWorkItemEvent(ectx *ExecutionContext, wi *WorkItemInstance, action ActionKind) {
	var evt observability.EventType
	switch action {
	case ActionStart:
		evt = EventWorkItemStarted
	case ActionComplete:
		evt = EventWorkItemCompleted
	case ActionFail:
		evt = EventWorkItemFailed
	case ActionCancel:
		evt = EventWorkItemCanceled
	case ActionReset:
		evt = EventWorkItemReset
	default:
		return
	}
	ectx.emit(evt, observability.LevelInfo,
		observability.Resource{Workflow: wi.WorkflowID, Task: wi.TaskName, WorkItem: wi.ID, Generation: wi.Generation},
		map[string]any{"action": string(action)})
}

// onWorkItemTerminal evaluates the owning task's TaskPolicyFunc (or
// DefaultTaskPolicy, when none is configured) against the firing's current
// work item progress; a PolicyComplete/PolicyFail verdict enqueues the
// matching task transition, PolicyContinue leaves the firing waiting on its
// remaining instances.
func (e *Engine) onWorkItemTerminal(ectx *ExecutionContext, wi *WorkItemInstance) error {
	ctx := ectx.Context()
	r := repo{store: e.store}
	siblings, err := r.listWorkItemsByTask(ctx, wi.WorkflowID, wi.TaskName, wi.Generation)
	if err != nil {
		return err
	}
	progress := TaskFiringProgress{Total: len(siblings)}
	for _, s := range siblings {
		if isTerminal(s.State) {
			progress.Terminal++
		}
		switch s.State {
		case WorkItemCompleted:
			progress.Completed++
		case WorkItemFailed:
			progress.Failed++
		case WorkItemCanceled:
			progress.Canceled++
		}
	}

	def, err := e.definitionForWorkflow(ctx, wi.WorkflowID)
	if err != nil {
		return err
	}
	task := def.Tasks[wi.TaskName]
	if task == nil {
		return structuralErr("onWorkItemTerminal", "unknown task %q", wi.TaskName)
	}

	stats, err := e.TaskStatistics(ctx, wi.WorkflowID, wi.TaskName, wi.Generation)
	if err != nil {
		return err
	}
	progress.Stats = stats

	policy := task.Policy
	if policy == nil {
		policy = DefaultTaskPolicy
	}
	verdict := policy(progress)
	if verdict == PolicyContinue {
		return nil
	}

	n := &net{def: def, repo: r, eng: e}
	ectx.enqueueTrigger(func(inner *ExecutionContext) error {
		if verdict == PolicyFail {
			return n.failTask(inner, wi.WorkflowID, task)
		}
		return n.completeTask(inner, wi.WorkflowID, task, wi.Payload)
	})
	return nil
}
