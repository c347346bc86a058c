package engine

import (
	"context"
	"sort"

	"github.com/tasquencer/orchestrator/observability"
	"github.com/tasquencer/orchestrator/orchestrate/config"
	"github.com/tasquencer/orchestrator/orchestrate/workflows"
)

// MigrationContext is what a MigrationDefinition's Initializer and
// MigratorFuncs run against: the freshly initialized instance of the new
// definition version and the task the replay loop is currently considering.
type MigrationContext struct {
	Engine     *Engine
	Ectx       *ExecutionContext
	WorkflowID string
	TaskName   string
}

// Net returns a net bound to the migration's target workflow definition,
// for migrators that need to mark conditions or inspect task state
// directly while replaying.
func (mc *MigrationContext) Net() (*net, error) {
	def, err := mc.Engine.definitionForWorkflow(mc.Ectx.Context(), mc.WorkflowID)
	if err != nil {
		return nil, err
	}
	return mc.Engine.newNet(def), nil
}

// FastForward migrates an in-flight instance of fromWorkflowID onto a newer
// registered version of the same workflow without re-running ordinary
// activity: it initializes a new instance of toVersion, runs the
// definition's Initializer, then walks every task in a topological order
// consistent with the flow graph, invoking its MigratorFunc. The verdict
// itself moves no tokens: a migrator replays a finished task through the
// net it gets from MigrationContext.Net (e.g. MarkTaskComplete) and returns
// MigratorFastForward, while one returning MigratorContinue leaves the task
// to fire normally from whatever marking the fast-forward has produced so
// far. A MigratorFastForward verdict for a task whose stored state differs
// after the migrator ran from before it (for example because the migrator
// enabled it, creating its work items) is a constraint violation.
func (e *Engine) FastForward(ctx context.Context, fromWorkflowID, toVersion string) (*WorkflowInstance, error) {
	r := repo{store: e.store}
	from, err := r.getWorkflow(ctx, fromWorkflowID)
	if err != nil {
		return nil, err
	}
	toDef, err := e.Definition(from.Name, toVersion)
	if err != nil {
		return nil, err
	}
	if toDef.Migration == nil {
		return nil, migrationErr("FastForward", "workflow %q version %q has no migration strategy", from.Name, toVersion)
	}

	ectx, drain := e.rootExecutionContextSpan(ctx, "workflow.fastForward")
	ectx.emit(EventMigrationStart, observability.LevelInfo,
		observability.Resource{Workflow: fromWorkflowID},
		map[string]any{"toVersion": toVersion})
	to, err := e.initializeWorkflowInstance(ectx, toDef, "", "", 0, ModeFastForward)
	if err != nil {
		return nil, err
	}

	// The record goes in before replay so anything the migrators trigger —
	// including completing the whole instance — can already see that this
	// workflow is a migration target (the completion path runs the
	// definition's Finalizer only when a record exists).
	record := &MigrationRecord{
		FromWorkflowID: fromWorkflowID,
		ToWorkflowID:   to.ID,
		FromVersion:    from.VersionName,
		ToVersion:      toVersion,
	}
	if _, err := r.insertMigration(ctx, record); err != nil {
		return nil, err
	}

	mc := &MigrationContext{Engine: e, Ectx: ectx, WorkflowID: to.ID}
	if toDef.Migration.Initializer != nil {
		if err := toDef.Migration.Initializer(mc); err != nil {
			return nil, migrationErr("FastForward", "initializer: %w", err)
		}
	}

	order := topologicalTasks(toDef)
	_, err = workflows.RunChain(ctx, config.DefaultChainConfig(), order, struct{}{},
		func(_ context.Context, taskName string, acc struct{}) (struct{}, error) {
			migrator, ok := toDef.Migration.Migrators[taskName]
			if !ok {
				return acc, nil
			}
			taskMC := &MigrationContext{Engine: e, Ectx: ectx, WorkflowID: to.ID, TaskName: taskName}
			before, err := r.getTask(ctx, to.ID, taskName)
			if err != nil {
				return acc, err
			}
			result, err := migrator(taskMC)
			if err != nil {
				return acc, err
			}
			after, err := r.getTask(ctx, to.ID, taskName)
			if err != nil {
				return acc, err
			}
			if result == MigratorFastForward && after.State != before.State {
				return acc, constraintErr("FastForward", "migrator for task %q both fast-forwarded and changed task state directly", taskName)
			}
			return acc, nil
		})
	if err != nil {
		return nil, migrationErr("FastForward", "replay: %w", err)
	}

	if err := drain(); err != nil {
		return nil, migrationErr("FastForward", "drain: %w", err)
	}

	ectx.emit(EventMigrationComplete, observability.LevelInfo,
		observability.Resource{Workflow: to.ID},
		map[string]any{"from": fromWorkflowID, "toVersion": toVersion})
	return to, nil
}

// topologicalTasks orders a definition's tasks by BFS distance from the
// start condition, a stable order for migrator replay that respects the
// flow graph (a task's migrator only ever needs its predecessors' state to
// already reflect the old instance's progress).
func topologicalTasks(def *WorkflowDefinition) []string {
	depth := map[string]int{def.StartCondition: 0}
	queue := []string{def.StartCondition}
	for i := 0; i < len(queue); i++ {
		cur := queue[i]
		for _, next := range def.Successors(cur) {
			if _, seen := depth[next]; !seen {
				depth[next] = depth[cur] + 1
				queue = append(queue, next)
			}
		}
	}
	tasks := make([]string, 0, len(def.Tasks))
	for name := range def.Tasks {
		tasks = append(tasks, name)
	}
	sort.Slice(tasks, func(i, j int) bool {
		di, dj := depth[tasks[i]], depth[tasks[j]]
		if di != dj {
			return di < dj
		}
		return tasks[i] < tasks[j]
	})
	return tasks
}
