package engine

import (
	"context"
	"encoding/json"
)

// StartWorkItem runs the "start" action on a work item, validating its
// payload against the owning task's WorkItemDefinition, authorizing it,
// and running the configured callback, all within one host mutation.
func (e *Engine) StartWorkItem(ctx context.Context, workItemID string, payload json.RawMessage) error {
	return e.runWorkItemAction(ctx, workItemID, ActionStart, payload)
}

// CompleteWorkItem runs the "complete" action on a work item.
func (e *Engine) CompleteWorkItem(ctx context.Context, workItemID string, payload json.RawMessage) error {
	return e.runWorkItemAction(ctx, workItemID, ActionComplete, payload)
}

// FailWorkItem runs the "fail" action on a work item.
func (e *Engine) FailWorkItem(ctx context.Context, workItemID string, payload json.RawMessage) error {
	return e.runWorkItemAction(ctx, workItemID, ActionFail, payload)
}

// CancelWorkItem runs the "cancel" action on a work item.
func (e *Engine) CancelWorkItem(ctx context.Context, workItemID string, payload json.RawMessage) error {
	return e.runWorkItemAction(ctx, workItemID, ActionCancel, payload)
}

// ResetWorkItem returns a started work item to Initialized without
// completing its owning task, for callers that need to retry a unit of
// work from scratch.
func (e *Engine) ResetWorkItem(ctx context.Context, workItemID string, payload json.RawMessage) error {
	return e.runWorkItemAction(ctx, workItemID, ActionReset, payload)
}

func (e *Engine) runWorkItemAction(ctx context.Context, workItemID string, action ActionKind, payload json.RawMessage) error {
	r := repo{store: e.store}
	wi, err := r.getWorkItem(ctx, workItemID)
	if err != nil {
		return err
	}
	ectx, drain := e.rootExecutionContextForWorkflow(ctx, wi.WorkflowID, "workItem."+string(action))
	if err := e.runWorkItemActionCtx(ectx, workItemID, action, payload); err != nil {
		return err
	}
	return drain()
}

// ClaimWorkItem records that claimant has taken ownership of a work item,
// for hosts that hand work items out to a pool of workers and need to track
// which worker is responsible for one. It does not itself transition the
// work item's state; pair it with StartWorkItem.
func (e *Engine) ClaimWorkItem(ctx context.Context, workItemID, claimant string) error {
	r := repo{store: e.store}
	wi, err := r.getWorkItem(ctx, workItemID)
	if err != nil {
		return err
	}
	wi.ClaimedBy = claimant
	wi.ClaimedAt = e.now()
	return r.putWorkItem(ctx, wi)
}

// runWorkItemActionCtx runs action against workItemID inside an
// already-open ExecutionContext, without opening its own root mutation or
// draining the auto-trigger queue itself. It is shared by runWorkItemAction
// (the outermost entry point) and ExecutionContext.EnqueueWorkItemAction
// (auto-triggered follow-on transitions queued by a callback).
func (e *Engine) runWorkItemActionCtx(ectx *ExecutionContext, workItemID string, action ActionKind, payload json.RawMessage) error {
	ctx := ectx.Context()
	r := repo{store: e.store}
	wi, err := r.getWorkItem(ctx, workItemID)
	if err != nil {
		return err
	}
	def, err := e.workItemDefinitionFor(ctx, wi)
	if err != nil {
		return err
	}
	return e.runAction(ectx, def, wi, action, payload)
}

func (e *Engine) workItemDefinitionFor(ctx context.Context, wi *WorkItemInstance) (*WorkItemDefinition, error) {
	def, err := e.definitionForWorkflow(ctx, wi.WorkflowID)
	if err != nil {
		return nil, err
	}
	task := def.Tasks[wi.TaskName]
	if task == nil {
		return nil, structuralErr("workItemDefinitionFor", "unknown task %q", wi.TaskName)
	}
	at, ok := task.Kind.(AtomicTask)
	if !ok {
		return nil, structuralErr("workItemDefinitionFor", "task %q is not atomic", wi.TaskName)
	}
	if at.WorkItem == nil {
		return DefaultWorkItemDefinition(), nil
	}
	return at.WorkItem, nil
}

// GetWorkItem returns the current state of a work item.
func (e *Engine) GetWorkItem(ctx context.Context, workItemID string) (*WorkItemInstance, error) {
	r := repo{store: e.store}
	return r.getWorkItem(ctx, workItemID)
}

// GetWorkflow returns the current state of a workflow (root or
// sub-workflow) instance.
func (e *Engine) GetWorkflow(ctx context.Context, workflowID string) (*WorkflowInstance, error) {
	r := repo{store: e.store}
	return r.getWorkflow(ctx, workflowID)
}

// ListWorkItems returns every work item currently belonging to taskName's
// latest firing generation within workflowID.
func (e *Engine) ListWorkItems(ctx context.Context, workflowID, taskName string) ([]*WorkItemInstance, error) {
	r := repo{store: e.store}
	ti, err := r.getTask(ctx, workflowID, taskName)
	if err != nil {
		return nil, err
	}
	return r.listWorkItemsByTask(ctx, workflowID, taskName, ti.Generation)
}

// ListConditions returns the live marking of every condition in
// workflowID, for diagnostics and tests.
func (e *Engine) ListConditions(ctx context.Context, workflowID string) ([]*ConditionInstance, error) {
	r := repo{store: e.store}
	return r.listConditions(ctx, workflowID)
}

// ListChildWorkflows returns the sub-workflow instances launched by a
// composite or dynamic-composite task's current firing.
func (e *Engine) ListChildWorkflows(ctx context.Context, workflowID, taskName string) ([]*WorkflowInstance, error) {
	r := repo{store: e.store}
	ti, err := r.getTask(ctx, workflowID, taskName)
	if err != nil {
		return nil, err
	}
	return r.listChildWorkflows(ctx, workflowID, taskName, ti.Generation)
}

// GetWorkflowTaskStates returns every task's current state within a
// workflow instance, keyed by task name.
func (e *Engine) GetWorkflowTaskStates(ctx context.Context, workflowID string) (map[string]TaskState, error) {
	r := repo{store: e.store}
	tasks, err := r.listTasks(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]TaskState, len(tasks))
	for _, t := range tasks {
		out[t.Name] = t.State
	}
	return out, nil
}

// GetWorkflowStructure returns the static element graph for a definition
// version, for callers that want to render or validate a workflow's shape
// without inspecting any running instance.
func (e *Engine) GetWorkflowStructure(name, version string) (*WorkflowDefinition, error) {
	return e.Definition(name, version)
}

// GetAggregatedTaskStats returns the hash-sharded stats snapshot for one
// firing generation of a task. Pass the Generation carried by a work item
// from ListWorkItems to inspect the currently active firing.
func (e *Engine) GetAggregatedTaskStats(ctx context.Context, workflowID, taskName string, generation int) (TaskStats, error) {
	return e.TaskStatistics(ctx, workflowID, taskName, generation)
}

// GetWorkflowIDForWorkItem returns the workflow instance a work item
// belongs to.
func (e *Engine) GetWorkflowIDForWorkItem(ctx context.Context, workItemID string) (string, error) {
	r := repo{store: e.store}
	wi, err := r.getWorkItem(ctx, workItemID)
	if err != nil {
		return "", err
	}
	return wi.WorkflowID, nil
}

// GetRootWorkflowID walks a (possibly sub-) workflow instance's parent
// chain up to its root and returns the root's id.
func (e *Engine) GetRootWorkflowID(ctx context.Context, workflowID string) (string, error) {
	r := repo{store: e.store}
	id := workflowID
	for {
		w, err := r.getWorkflow(ctx, id)
		if err != nil {
			return "", err
		}
		if w.IsRoot() {
			return w.ID, nil
		}
		id = w.ParentWorkflowID
	}
}

// GetRootWorkflowIDForWorkItem resolves a work item to the id of the root
// workflow instance that (transitively) owns it.
func (e *Engine) GetRootWorkflowIDForWorkItem(ctx context.Context, workItemID string) (string, error) {
	workflowID, err := e.GetWorkflowIDForWorkItem(ctx, workItemID)
	if err != nil {
		return "", err
	}
	return e.GetRootWorkflowID(ctx, workflowID)
}
