package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tasquencer/orchestrator/observability"
	"github.com/tasquencer/orchestrator/orchestrate/config"
	"github.com/tasquencer/orchestrator/orchestrate/workflows"
)

// runTaskActivity invokes a task's lifecycle callback if one is attached;
// a nil fn is a no-op.
func runTaskActivity(ectx *ExecutionContext, fn TaskActivityFunc, workflowID string, ti *TaskInstance) error {
	if fn == nil {
		return nil
	}
	return fn(ectx, workflowID, ti)
}

// tryEnable checks whether a task's join condition now holds and, if so,
// consumes its incoming tokens and drives the task into its next state:
// a DummyTask fires through to completion immediately, an AtomicTask
// becomes Enabled and gets its work item(s) created, a CompositeTask
// becomes Started and launches its child sub-workflow, and a
// DynamicCompositeTask stays Enabled until SelectDynamicComposite names the
// child to launch.
func (n *net) tryEnable(ectx *ExecutionContext, workflowID, taskName string) error {
	task := n.def.Tasks[taskName]
	if task == nil {
		return structuralErr("tryEnable", "unknown task %q", taskName)
	}
	ctx := ectx.Context()

	ti, err := n.repo.getTask(ctx, workflowID, taskName)
	if err != nil {
		return err
	}
	if ti.State != TaskDisabled {
		// Already enabled/running from a prior trigger in this drain pass.
		return nil
	}

	ok, err := n.isSatisfied(ectx, workflowID, task)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	if err := n.consumeIncoming(ctx, workflowID, task); err != nil {
		return err
	}

	ti.State = TaskEnabled
	ti.EnabledAt = n.eng.now()
	if err := n.repo.putTask(ctx, ti); err != nil {
		return err
	}
	ectx.emit(EventTaskEnabled, observability.LevelInfo,
		observability.Resource{Workflow: workflowID, Task: taskName, Generation: ti.Generation}, nil)
	if err := runTaskActivity(ectx, task.Activities.OnEnabled, workflowID, ti); err != nil {
		return err
	}

	switch kind := task.Kind.(type) {
	case DummyTask:
		return n.fireDummy(ectx, workflowID, task, ti)
	case AtomicTask:
		return n.createWorkItems(ectx, workflowID, task, kind, ti)
	case CompositeTask:
		return n.startComposite(ectx, workflowID, task, kind.Child, ti)
	case DynamicCompositeTask:
		// Waits Enabled until SelectDynamicComposite supplies which child
		// definition to launch; incoming tokens are already consumed.
		return nil
	default:
		return fmt.Errorf("unhandled task kind %T", kind)
	}
}

func (n *net) fireDummy(ectx *ExecutionContext, workflowID string, task *TaskDefinition, ti *TaskInstance) error {
	ctx := ectx.Context()
	ti.State = TaskStarted
	if err := n.repo.putTask(ctx, ti); err != nil {
		return err
	}
	ectx.emit(EventTaskStarted, observability.LevelVerbose,
		observability.Resource{Workflow: workflowID, Task: task.Name, Generation: ti.Generation}, nil)
	if err := runTaskActivity(ectx, task.Activities.OnStarted, workflowID, ti); err != nil {
		return err
	}

	return n.completeTask(ectx, workflowID, task, nil)
}

// completeTask transitions a task to Completed, applies its cancellation
// region (if any), fires its split to produce outgoing tokens, and bumps
// its generation so any following re-firing is tracked as a fresh
// incarnation.
func (n *net) completeTask(ectx *ExecutionContext, workflowID string, task *TaskDefinition, payload any) error {
	ctx := ectx.Context()
	ti, err := n.repo.getTask(ctx, workflowID, task.Name)
	if err != nil {
		return err
	}
	if ti.State == TaskCanceled {
		// Withdrawn (cancellation region or workflow completion) after this
		// completion was queued; the firing no longer exists to complete.
		return nil
	}
	if ti.State != TaskStarted && ti.State != TaskEnabled {
		return invalidTransition("completeTask", "task %q is %s, cannot complete", task.Name, ti.State)
	}

	if region, ok := n.def.CancellationRegions[task.Name]; ok {
		if err := n.applyCancellationRegion(ectx, workflowID, region); err != nil {
			return err
		}
		ectx.emit(EventCancellationRegionFire, observability.LevelInfo,
			observability.Resource{Workflow: workflowID, Task: task.Name, Generation: ti.Generation}, nil)
	}

	// A policy may complete the firing while sibling work items are still
	// pending ("first response wins"); those leftovers are withdrawn here so
	// a completed firing never leaves a live work item behind.
	items, err := n.repo.listWorkItemsByTask(ctx, workflowID, task.Name, ti.Generation)
	if err != nil {
		return err
	}
	shardCount := n.def.shardCountFor(task, n.eng.cfg.StatsShardCount)
	for _, wi := range items {
		if wi.State != WorkItemInitialized && wi.State != WorkItemStarted {
			continue
		}
		wi.State = WorkItemCanceled
		if err := n.repo.putWorkItem(ctx, wi); err != nil {
			return err
		}
		if err := n.eng.recordStat(ctx, workflowID, task.Name, wi.ID, ti.Generation, shardCount, WorkItemCanceled); err != nil {
			return err
		}
		if err := n.eng.cancelScheduled(ctx, scheduleKeyWorkItem(wi.ID)); err != nil {
			return err
		}
	}
	if err := n.eng.cancelScheduled(ctx, scheduleKeyTask(workflowID, task.Name, ti.Generation)); err != nil {
		return err
	}

	ti.State = TaskCompleted
	if err := n.repo.putTask(ctx, ti); err != nil {
		return err
	}
	if !ti.EnabledAt.IsZero() {
		n.eng.metrics.observeTaskDuration(task.Name, n.eng.now().Sub(ti.EnabledAt))
	}
	ectx.emit(EventTaskCompleted, observability.LevelInfo,
		observability.Resource{Workflow: workflowID, Task: task.Name, Generation: ti.Generation}, nil)
	if err := runTaskActivity(ectx, task.Activities.OnCompleted, workflowID, ti); err != nil {
		return err
	}

	if err := n.produceOutgoing(ectx, workflowID, task, payload); err != nil {
		return err
	}

	// Reset to disabled with a bumped generation so the task can re-fire on
	// a future loop-back without its prior work items being mistaken for
	// the new incarnation's.
	ti.State = TaskDisabled
	ti.Generation++
	ti.EnabledAt = time.Time{}
	if err := n.repo.putTask(ctx, ti); err != nil {
		return err
	}
	ectx.emit(EventTaskDisabled, observability.LevelVerbose,
		observability.Resource{Workflow: workflowID, Task: task.Name, Generation: ti.Generation}, nil)
	return runTaskActivity(ectx, task.Activities.OnDisabled, workflowID, ti)
}

// MarkTaskComplete forces taskName directly to Completed and produces its
// outgoing tokens, without requiring prior enablement and without
// consuming incoming tokens. Fast-forward migrators use it (via
// MigrationContext.Net) to replay a task whose effect already happened in
// the instance being migrated from, bypassing the task's own join check
// and work-item lifecycle.
func (n *net) MarkTaskComplete(ectx *ExecutionContext, workflowID, taskName string) error {
	task := n.def.Tasks[taskName]
	if task == nil {
		return structuralErr("MarkTaskComplete", "unknown task %q", taskName)
	}
	ctx := ectx.Context()
	ti, err := n.repo.getTask(ctx, workflowID, taskName)
	if err != nil {
		return err
	}
	ti.State = TaskCompleted
	if err := n.repo.putTask(ctx, ti); err != nil {
		return err
	}
	ectx.emit(EventTaskCompleted, observability.LevelInfo,
		observability.Resource{Workflow: workflowID, Task: taskName, Generation: ti.Generation},
		map[string]any{"fastForward": true})

	if err := n.produceOutgoing(ectx, workflowID, task, nil); err != nil {
		return err
	}

	ti.State = TaskDisabled
	ti.Generation++
	ti.EnabledAt = time.Time{}
	return n.repo.putTask(ctx, ti)
}

// failTask marks a task Failed and enqueues failure of the workflow it
// runs in: a task failure is never local, it fails the whole instance (and,
// for a sub-workflow, climbs to the composite task that launched it).
func (n *net) failTask(ectx *ExecutionContext, workflowID string, task *TaskDefinition) error {
	ctx := ectx.Context()
	ti, err := n.repo.getTask(ctx, workflowID, task.Name)
	if err != nil {
		return err
	}
	if ti.State == TaskFailed || ti.State == TaskCompleted || ti.State == TaskCanceled {
		return nil
	}
	ti.State = TaskFailed
	if err := n.repo.putTask(ctx, ti); err != nil {
		return err
	}
	ectx.emit(EventTaskFailed, observability.LevelError,
		observability.Resource{Workflow: workflowID, Task: task.Name, Generation: ti.Generation}, nil)
	if err := runTaskActivity(ectx, task.Activities.OnFailed, workflowID, ti); err != nil {
		return err
	}
	ectx.enqueueTrigger(func(inner *ExecutionContext) error {
		w, err := n.repo.getWorkflow(inner.Context(), workflowID)
		if err != nil {
			return err
		}
		return terminateWorkflowInstance(inner, n.repo, w, WorkflowFailed)
	})
	return nil
}

// cancelTask withdraws a task mid-flight: any in-progress work items are
// canceled and the task is disabled without producing outgoing tokens.
func (n *net) cancelTask(ectx *ExecutionContext, workflowID string, task *TaskDefinition) error {
	ctx := ectx.Context()
	ti, err := n.repo.getTask(ctx, workflowID, task.Name)
	if err != nil {
		return err
	}
	if ti.State == TaskCompleted || ti.State == TaskCanceled {
		return nil
	}

	items, err := n.repo.listWorkItemsByTask(ctx, workflowID, task.Name, ti.Generation)
	if err != nil {
		return err
	}
	active := make([]*WorkItemInstance, 0, len(items))
	for _, wi := range items {
		if wi.State == WorkItemInitialized || wi.State == WorkItemStarted {
			active = append(active, wi)
		}
	}
	if err := cancelSiblings(ctx, active, func(ctx context.Context, wi *WorkItemInstance) error {
		wi.State = WorkItemCanceled
		return n.repo.putWorkItem(ctx, wi)
	}); err != nil {
		return err
	}

	children, err := n.repo.listChildWorkflows(ctx, workflowID, task.Name, ti.Generation)
	if err != nil {
		return err
	}
	activeChildren := make([]*WorkflowInstance, 0, len(children))
	for _, child := range children {
		if child.State == WorkflowInitialized || child.State == WorkflowStarted {
			activeChildren = append(activeChildren, child)
		}
	}
	if err := cancelSiblings(ctx, activeChildren, func(ctx context.Context, child *WorkflowInstance) error {
		return cancelWorkflowInstance(ectx, n.repo, child)
	}); err != nil {
		return err
	}

	ti.State = TaskCanceled
	if err := n.repo.putTask(ctx, ti); err != nil {
		return err
	}
	ectx.emit(EventTaskCanceled, observability.LevelInfo,
		observability.Resource{Workflow: workflowID, Task: task.Name, Generation: ti.Generation}, nil)
	if err := runTaskActivity(ectx, task.Activities.OnCanceled, workflowID, ti); err != nil {
		return err
	}
	return n.eng.cancelScheduled(ctx, scheduleKeyTask(workflowID, task.Name, ti.Generation))
}

// applyCancellationRegion withdraws every named task and condition: running
// tasks are canceled, and conditions are forced to zero marking regardless
// of their current token count. Each listed task and condition owns
// disjoint store rows (a task's work items are scoped to its own
// generation), so the withdrawals fan out with cancelSiblings the same way
// sibling work-item/sub-workflow cancellation does in cancelTask.
func (n *net) applyCancellationRegion(ectx *ExecutionContext, workflowID string, region CancellationRegion) error {
	ctx := ectx.Context()
	taskNames := make([]string, 0, len(region.Tasks))
	for taskName := range region.Tasks {
		if n.def.Tasks[taskName] != nil {
			taskNames = append(taskNames, taskName)
		}
	}
	if err := cancelSiblings(ctx, taskNames, func(ctx context.Context, taskName string) error {
		ti, err := n.repo.getTask(ctx, workflowID, taskName)
		if err != nil {
			return err
		}
		if ti.State == TaskCompleted || ti.State == TaskCanceled || ti.State == TaskDisabled {
			return nil
		}
		items, err := n.repo.listWorkItemsByTask(ctx, workflowID, taskName, ti.Generation)
		if err != nil {
			return err
		}
		for _, wi := range items {
			if wi.State == WorkItemInitialized || wi.State == WorkItemStarted {
				wi.State = WorkItemCanceled
				if err := n.repo.putWorkItem(ctx, wi); err != nil {
					return err
				}
			}
		}
		ti.State = TaskCanceled
		if err := n.repo.putTask(ctx, ti); err != nil {
			return err
		}
		return n.eng.cancelScheduled(ctx, scheduleKeyTask(workflowID, taskName, ti.Generation))
	}); err != nil {
		return err
	}

	conditions := make([]string, 0, len(region.Conditions))
	for cond := range region.Conditions {
		conditions = append(conditions, cond)
	}
	return cancelSiblings(ctx, conditions, func(ctx context.Context, cond string) error {
		return n.withdrawCondition(ctx, workflowID, cond)
	})
}

// cancelSiblings fans independent leaf cancellations out across a bounded
// worker pool via orchestrate/workflows.RunParallel, satisfying the
// "sibling cancellations run in parallel" requirement without a
// hand-rolled goroutine pool. It must only be used for cancellation steps
// that touch disjoint store rows and never call ExecutionContext.enqueueTrigger:
// the auto-trigger queue is a bare slice behind a pointer, not safe for
// concurrent append, so marking/firing (which does enqueue) stays
// sequential — see marking.go and task.go's tryEnable/completeTask.
func cancelSiblings[T any](ctx context.Context, items []T, fn func(context.Context, T) error) error {
	if len(items) == 0 {
		return nil
	}
	_, err := workflows.RunParallel(ctx, config.DefaultParallelConfig(), items,
		func(ctx context.Context, item T) (struct{}, error) {
			return struct{}{}, fn(ctx, item)
		})
	if err != nil {
		var perr *workflows.ParallelError
		if errors.As(err, &perr) && len(perr.Errors) > 0 {
			return perr.Errors[0].Err
		}
		return err
	}
	return nil
}
