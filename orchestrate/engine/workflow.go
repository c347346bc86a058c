package engine

import (
	"context"

	"github.com/tasquencer/orchestrator/observability"
)

// InitializeRootWorkflow creates a new root WorkflowInstance of the named
// definition version, seeds its start condition with one token, and drains
// whatever cascade of dummy-task and auto-start activity that produces.
func (e *Engine) InitializeRootWorkflow(ctx context.Context, name, version string) (*WorkflowInstance, error) {
	def, err := e.Definition(name, version)
	if err != nil {
		return nil, err
	}
	ectx, drain := e.rootExecutionContextSpan(ctx, "workflow.initialize")
	wi, err := e.initializeWorkflowInstance(ectx, def, "", "", 0, ModeNormal)
	if err != nil {
		return nil, err
	}
	if err := drain(); err != nil {
		return nil, err
	}
	return wi, nil
}

func (e *Engine) initializeWorkflowInstance(ectx *ExecutionContext, def *WorkflowDefinition, parentWorkflowID, parentTask string, parentGeneration int, mode ExecutionMode) (*WorkflowInstance, error) {
	if def.Deprecated && parentWorkflowID == "" {
		return nil, constraintErr("initializeWorkflowInstance", "workflow %q version %q is deprecated", def.Name, def.VersionName)
	}
	ctx := ectx.Context()
	r := repo{store: e.store}

	// realizedPath is the ancestry of workflow ids leading to (but not
	// including) the new instance: empty for a root workflow, or the
	// parent's own RealizedPath plus the parent's id for a sub-workflow.
	var realizedPath []string
	if parentWorkflowID != "" {
		parentW, err := r.getWorkflow(ctx, parentWorkflowID)
		if err != nil {
			return nil, err
		}
		realizedPath = append(append([]string{}, parentW.RealizedPath...), parentWorkflowID)
	}

	w := &WorkflowInstance{
		Name:             def.Name,
		VersionName:      def.VersionName,
		State:            WorkflowInitialized,
		Mode:             mode,
		ParentWorkflowID: parentWorkflowID,
		ParentTaskName:   parentTask,
		ParentGeneration: parentGeneration,
		RealizedPath:     realizedPath,
	}
	id, err := r.insertWorkflow(ctx, w)
	if err != nil {
		return nil, err
	}
	w.ID = id

	// A task instance's own RealizedPath is the chain down to and
	// including the workflow it runs in, the same lineage its work items
	// inherit (createWorkItems copies TaskInstance.RealizedPath verbatim).
	taskPath := append(append([]string{}, realizedPath...), id)

	for name := range def.Conditions {
		if err := r.putCondition(ctx, &ConditionInstance{WorkflowID: id, Name: name}); err != nil {
			return nil, err
		}
	}
	for name := range def.Tasks {
		if err := r.putTask(ctx, &TaskInstance{WorkflowID: id, Name: name, State: TaskDisabled, RealizedPath: taskPath}); err != nil {
			return nil, err
		}
	}

	ectx.emit(EventWorkflowInitialized, observability.LevelInfo,
		observability.Resource{Workflow: id},
		map[string]any{"name": def.Name, "version": def.VersionName})
	if mode != ModeFastForward {
		if err := runWorkflowActivity(ectx, def.Activities.OnInitialized, w); err != nil {
			return nil, err
		}
	}

	if err := e.ensureStarted(ectx, w); err != nil {
		return nil, err
	}

	if mode == ModeFastForward {
		// A fast-forwarded instance's marking is entirely the migration
		// initializer's and migrators' responsibility to reconstruct from
		// the source instance's state; seeding the start condition here
		// would leave a stray token that the post-migration drain pass
		// would fire all over again.
		ectx.emit(EventWorkflowFastForwarded, observability.LevelInfo, observability.Resource{Workflow: id}, nil)
		return w, nil
	}

	n := e.newNet(def)
	if err := n.addToken(ectx, id, def.StartCondition); err != nil {
		return nil, err
	}
	return w, nil
}

// ensureStarted transitions a workflow instance from Initialized to
// Started exactly once; callers may call it freely before any operation
// that requires the workflow to be running.
func (e *Engine) ensureStarted(ectx *ExecutionContext, w *WorkflowInstance) error {
	if w.State != WorkflowInitialized {
		return nil
	}
	w.State = WorkflowStarted
	r := repo{store: e.store}
	if err := r.putWorkflow(ectx.Context(), w); err != nil {
		return err
	}
	ectx.emit(EventWorkflowStarted, observability.LevelInfo, observability.Resource{Workflow: w.ID}, nil)
	if w.Mode == ModeFastForward {
		return nil
	}
	def, err := e.Definition(w.Name, w.VersionName)
	if err != nil {
		return err
	}
	return runWorkflowActivity(ectx, def.Activities.OnStarted, w)
}

// CancelRootWorkflow withdraws every running task and condition of a root
// workflow instance and marks it Canceled. Sub-workflows launched by
// composite tasks are canceled transitively.
func (e *Engine) CancelRootWorkflow(ctx context.Context, workflowID string) error {
	ectx, drain := e.rootExecutionContextForWorkflow(ctx, workflowID, "workflow.cancel")
	r := repo{store: e.store}
	w, err := r.getWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	if !w.IsRoot() {
		return constraintErr("CancelRootWorkflow", "workflow %s is a sub-workflow, cancel it through its parent task", workflowID)
	}
	if err := cancelWorkflowInstance(ectx, r, w); err != nil {
		return err
	}
	return drain()
}

// CancelWorkflow withdraws a sub-workflow launched by a composite or
// dynamic-composite task, leaving the rest of its parent's net running;
// the parent task observes the cancellation through its
// OnWorkflowStateChanged activity. Root workflows go through
// CancelRootWorkflow instead, which cascades from the top.
func (e *Engine) CancelWorkflow(ctx context.Context, workflowID string) error {
	ectx, drain := e.rootExecutionContextForWorkflow(ctx, workflowID, "workflow.cancelChild")
	r := repo{store: e.store}
	w, err := r.getWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	if w.IsRoot() {
		return constraintErr("CancelWorkflow", "workflow %s is a root workflow, use CancelRootWorkflow", workflowID)
	}
	if err := cancelWorkflowInstance(ectx, r, w); err != nil {
		return err
	}
	return drain()
}

// FailRootWorkflow withdraws every running task of a root workflow
// instance, the same as cancellation, but marks the instance Failed rather
// than Canceled so callers and audit queries can distinguish an operator
// withdrawal from an unrecoverable error.
func (e *Engine) FailRootWorkflow(ctx context.Context, workflowID string) error {
	ectx, drain := e.rootExecutionContextForWorkflow(ctx, workflowID, "workflow.fail")
	r := repo{store: e.store}
	w, err := r.getWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	if !w.IsRoot() {
		return constraintErr("FailRootWorkflow", "workflow %s is a sub-workflow", workflowID)
	}
	if err := terminateWorkflowInstance(ectx, r, w, WorkflowFailed); err != nil {
		return err
	}
	return drain()
}

// EnsureWorkflowStarted idempotently transitions a workflow instance from
// Initialized to Started; InitializeRootWorkflow already calls this, so
// callers only need it when driving a workflow instance created some other
// way (e.g. a host restoring state from a snapshot).
func (e *Engine) EnsureWorkflowStarted(ctx context.Context, workflowID string) error {
	ectx, drain := e.rootExecutionContextForWorkflow(ctx, workflowID, "workflow.ensureStarted")
	r := repo{store: e.store}
	w, err := r.getWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	if err := e.ensureStarted(ectx, w); err != nil {
		return err
	}
	return drain()
}

func cancelWorkflowInstance(ectx *ExecutionContext, r repo, w *WorkflowInstance) error {
	return terminateWorkflowInstance(ectx, r, w, WorkflowCanceled)
}

// terminateWorkflowInstance withdraws every still-running task of a
// workflow instance and moves it to final (Canceled or Failed). A failed
// sub-workflow additionally enqueues failure of the composite task that
// launched it, so a policy-driven failure deep in a sub-workflow tree
// climbs to the root one mutation drain at a time.
func terminateWorkflowInstance(ectx *ExecutionContext, r repo, w *WorkflowInstance, final WorkflowState) error {
	if w.State == WorkflowCompleted || w.State == WorkflowCanceled || w.State == WorkflowFailed {
		return nil
	}
	ctx := ectx.Context()
	def, err := r.definitionLookup(ectx, w)
	if err != nil {
		return err
	}
	n := &net{def: def, repo: r, eng: ectx.engine}

	tasks, err := r.listTasks(ctx, w.ID)
	if err != nil {
		return err
	}
	active := make([]*TaskInstance, 0, len(tasks))
	for _, t := range tasks {
		if t.State == TaskEnabled || t.State == TaskStarted {
			active = append(active, t)
		}
	}
	if err := cancelSiblings(ctx, active, func(ctx context.Context, t *TaskInstance) error {
		return n.cancelTask(ectx, w.ID, n.def.Tasks[t.Name])
	}); err != nil {
		return err
	}

	prevState := w.State
	w.State = final
	if err := r.putWorkflow(ctx, w); err != nil {
		return err
	}
	if final == WorkflowFailed {
		ectx.emit(EventWorkflowFailed, observability.LevelError, observability.Resource{Workflow: w.ID}, nil)
	} else {
		ectx.emit(EventWorkflowCanceled, observability.LevelInfo, observability.Resource{Workflow: w.ID}, nil)
	}
	if err := ectx.engine.cancelScheduled(ctx, scheduleKeyWorkflow(w.ID)); err != nil {
		return err
	}
	activity := def.Activities.OnCanceled
	if final == WorkflowFailed {
		activity = def.Activities.OnFailed
	}
	if err := runWorkflowActivity(ectx, activity, w); err != nil {
		return err
	}

	if w.IsRoot() {
		return nil
	}
	parentDef, err := ectx.engine.definitionForWorkflow(ctx, w.ParentWorkflowID)
	if err != nil {
		return err
	}
	task := parentDef.Tasks[w.ParentTaskName]
	if task == nil {
		return nil
	}
	if err := runTaskWorkflowActivity(ectx, task.Activities.OnWorkflowStateChanged, w, prevState); err != nil {
		return err
	}
	if final == WorkflowFailed {
		pn := &net{def: parentDef, repo: r, eng: ectx.engine}
		parentWorkflowID := w.ParentWorkflowID
		ectx.enqueueTrigger(func(inner *ExecutionContext) error {
			return pn.failTask(inner, parentWorkflowID, task)
		})
	}
	return nil
}

// runWorkflowActivity invokes a workflow-level lifecycle callback if one is
// attached; a nil fn is a no-op.
func runWorkflowActivity(ectx *ExecutionContext, fn WorkflowActivityFunc, w *WorkflowInstance) error {
	if fn == nil {
		return nil
	}
	return fn(ectx, w)
}

// runTaskWorkflowActivity invokes a task's sub-workflow lifecycle callback
// if one is attached; a nil fn is a no-op.
func runTaskWorkflowActivity(ectx *ExecutionContext, fn TaskWorkflowStateChangeFunc, child *WorkflowInstance, prevState WorkflowState) error {
	if fn == nil {
		return nil
	}
	return fn(ectx, child, prevState)
}

// definitionLookup resolves the WorkflowDefinition for an instance; it is
// a repo-level helper (rather than an Engine method) so cancelWorkflowInstance
// can run with only a repo and an ExecutionContext in hand.
func (r repo) definitionLookup(ectx *ExecutionContext, w *WorkflowInstance) (*WorkflowDefinition, error) {
	return ectx.engine.Definition(w.Name, w.VersionName)
}

// completeWorkflowInstance marks a workflow Completed once its end
// condition carries a token, withdrawing any task still waiting on a
// branch that will now never be taken, and — if it is a sub-workflow —
// enqueues completion of the composite task that launched it.
func (e *Engine) completeWorkflowInstance(ectx *ExecutionContext, w *WorkflowInstance) error {
	if w.State == WorkflowCompleted || w.State == WorkflowCanceled || w.State == WorkflowFailed {
		return nil
	}
	ctx := ectx.Context()
	r := repo{store: e.store}

	def, err := e.Definition(w.Name, w.VersionName)
	if err != nil {
		return err
	}
	n := &net{def: def, repo: r, eng: e}
	tasks, err := r.listTasks(ctx, w.ID)
	if err != nil {
		return err
	}
	active := make([]*TaskInstance, 0, len(tasks))
	for _, t := range tasks {
		if t.State == TaskEnabled || t.State == TaskStarted {
			active = append(active, t)
		}
	}
	if err := cancelSiblings(ctx, active, func(ctx context.Context, t *TaskInstance) error {
		return n.cancelTask(ectx, w.ID, n.def.Tasks[t.Name])
	}); err != nil {
		return err
	}

	prevState := w.State
	w.State = WorkflowCompleted
	if err := r.putWorkflow(ctx, w); err != nil {
		return err
	}
	ectx.emit(EventWorkflowCompleted, observability.LevelInfo, observability.Resource{Workflow: w.ID}, nil)
	if err := e.cancelScheduled(ctx, scheduleKeyWorkflow(w.ID)); err != nil {
		return err
	}
	if err := runWorkflowActivity(ectx, def.Activities.OnCompleted, w); err != nil {
		return err
	}

	if w.IsRoot() {
		if def.Migration != nil && def.Migration.Finalizer != nil {
			rec, err := r.getMigrationByTarget(ctx, w.ID)
			if err != nil {
				return err
			}
			if rec != nil {
				mc := &MigrationContext{Engine: e, Ectx: ectx, WorkflowID: w.ID}
				if err := def.Migration.Finalizer(mc); err != nil {
					return migrationErr("completeWorkflowInstance", "finalizer: %w", err)
				}
			}
		}
		return nil
	}
	parentDef, err := e.definitionForWorkflow(ctx, w.ParentWorkflowID)
	if err != nil {
		return err
	}
	task := parentDef.Tasks[w.ParentTaskName]
	if task == nil {
		return structuralErr("completeWorkflowInstance", "parent task %q not found in %q", w.ParentTaskName, parentDef.Name)
	}
	if err := runTaskWorkflowActivity(ectx, task.Activities.OnWorkflowStateChanged, w, prevState); err != nil {
		return err
	}
	pn := e.newNet(parentDef)
	parentWorkflowID := w.ParentWorkflowID
	ectx.enqueueTrigger(func(inner *ExecutionContext) error {
		return pn.completeTask(inner, parentWorkflowID, task, nil)
	})
	return nil
}

// startComposite launches childName as a sub-workflow under task's firing
// and transitions the composite task to Started; the task will complete
// when the child workflow completes.
func (n *net) startComposite(ectx *ExecutionContext, workflowID string, task *TaskDefinition, childName string, ti *TaskInstance) error {
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

	childDef, err := n.eng.LatestDefinition(childName)
	if err != nil {
		return err
	}
	_, err = n.eng.initializeWorkflowInstance(ectx, childDef, workflowID, task.Name, ti.Generation, ModeNormal)
	return err
}

// SelectDynamicComposite supplies the selector for a DynamicCompositeTask
// once it is Enabled, launching the corresponding child workflow.
func (e *Engine) SelectDynamicComposite(ctx context.Context, workflowID, taskName, selector string) error {
	ectx, drain := e.rootExecutionContextForWorkflow(ctx, workflowID, "workflow.selectDynamicComposite")
	def, err := e.definitionForWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	task := def.Tasks[taskName]
	if task == nil {
		return notFound("SelectDynamicComposite", "unknown task %q", taskName)
	}
	dyn, ok := task.Kind.(DynamicCompositeTask)
	if !ok {
		return constraintErr("SelectDynamicComposite", "task %q is not a dynamic composite task", taskName)
	}
	childName, ok := dyn.Children[selector]
	if !ok {
		return constraintErr("SelectDynamicComposite", "no child registered for selector %q on task %q", selector, taskName)
	}

	r := repo{store: e.store}
	ti, err := r.getTask(ctx, workflowID, taskName)
	if err != nil {
		return err
	}
	if ti.State != TaskEnabled {
		return invalidTransition("SelectDynamicComposite", "task %q is %s, not enabled", taskName, ti.State)
	}

	n := e.newNet(def)
	if err := n.startComposite(ectx, workflowID, task, childName, ti); err != nil {
		return err
	}
	return drain()
}
