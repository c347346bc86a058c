package engine

import (
	"context"
	"strconv"
)

// repo is the typed read/write layer the lifecycle functions use instead of
// calling Store directly; it owns every type assertion against Document so
// the rest of the package works with concrete instance types.
type repo struct {
	store Store
}

func (r repo) putCondition(ctx context.Context, c *ConditionInstance) error {
	return r.store.Replace(ctx, TableConditions, conditionKey(c.WorkflowID, c.Name), c)
}

func (r repo) getCondition(ctx context.Context, workflowID, name string) (*ConditionInstance, error) {
	doc, err := r.store.Get(ctx, TableConditions, conditionKey(workflowID, name))
	if err != nil {
		if IsKind(err, KindEntityNotFound) {
			return &ConditionInstance{WorkflowID: workflowID, Name: name, Marking: 0}, nil
		}
		return nil, err
	}
	return doc.(*ConditionInstance), nil
}

func (r repo) listConditions(ctx context.Context, workflowID string) ([]*ConditionInstance, error) {
	docs, err := r.store.Query(TableConditions).WithIndex("by_workflow", func(d Document) bool {
		return d.(*ConditionInstance).WorkflowID == workflowID
	}).Collect(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*ConditionInstance, len(docs))
	for i, d := range docs {
		out[i] = d.(*ConditionInstance)
	}
	return out, nil
}

func conditionKey(workflowID, name string) string { return workflowID + "/" + name }

func (r repo) putTask(ctx context.Context, t *TaskInstance) error {
	return r.store.Replace(ctx, TableTasks, taskKey(t.WorkflowID, t.Name), t)
}

func (r repo) getTask(ctx context.Context, workflowID, name string) (*TaskInstance, error) {
	doc, err := r.store.Get(ctx, TableTasks, taskKey(workflowID, name))
	if err != nil {
		if IsKind(err, KindEntityNotFound) {
			return &TaskInstance{WorkflowID: workflowID, Name: name, Generation: 0, State: TaskDisabled}, nil
		}
		return nil, err
	}
	return doc.(*TaskInstance), nil
}

func (r repo) listTasks(ctx context.Context, workflowID string) ([]*TaskInstance, error) {
	docs, err := r.store.Query(TableTasks).WithIndex("by_workflow", func(d Document) bool {
		return d.(*TaskInstance).WorkflowID == workflowID
	}).Collect(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*TaskInstance, len(docs))
	for i, d := range docs {
		out[i] = d.(*TaskInstance)
	}
	return out, nil
}

func taskKey(workflowID, name string) string { return workflowID + "/" + name }

func (r repo) insertWorkItem(ctx context.Context, wi *WorkItemInstance) (string, error) {
	return r.store.Insert(ctx, TableWorkItems, wi)
}

func (r repo) getWorkItem(ctx context.Context, id string) (*WorkItemInstance, error) {
	doc, err := r.store.Get(ctx, TableWorkItems, id)
	if err != nil {
		return nil, err
	}
	return doc.(*WorkItemInstance), nil
}

func (r repo) putWorkItem(ctx context.Context, wi *WorkItemInstance) error {
	return r.store.Replace(ctx, TableWorkItems, wi.ID, wi)
}

func (r repo) listWorkItemsByTask(ctx context.Context, workflowID, taskName string, generation int) ([]*WorkItemInstance, error) {
	docs, err := r.store.Query(TableWorkItems).WithIndex("by_task_generation", func(d Document) bool {
		wi := d.(*WorkItemInstance)
		return wi.WorkflowID == workflowID && wi.TaskName == taskName && wi.Generation == generation
	}).Collect(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*WorkItemInstance, len(docs))
	for i, d := range docs {
		out[i] = d.(*WorkItemInstance)
	}
	return out, nil
}

func (r repo) insertWorkflow(ctx context.Context, w *WorkflowInstance) (string, error) {
	return r.store.Insert(ctx, TableWorkflows, w)
}

func (r repo) getWorkflow(ctx context.Context, id string) (*WorkflowInstance, error) {
	doc, err := r.store.Get(ctx, TableWorkflows, id)
	if err != nil {
		return nil, err
	}
	return doc.(*WorkflowInstance), nil
}

func (r repo) putWorkflow(ctx context.Context, w *WorkflowInstance) error {
	return r.store.Replace(ctx, TableWorkflows, w.ID, w)
}

func (r repo) listChildWorkflows(ctx context.Context, parentWorkflowID, parentTask string, parentGeneration int) ([]*WorkflowInstance, error) {
	docs, err := r.store.Query(TableWorkflows).WithIndex("by_parent", func(d Document) bool {
		w := d.(*WorkflowInstance)
		return w.ParentWorkflowID == parentWorkflowID && w.ParentTaskName == parentTask && w.ParentGeneration == parentGeneration
	}).Collect(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*WorkflowInstance, len(docs))
	for i, d := range docs {
		out[i] = d.(*WorkflowInstance)
	}
	return out, nil
}

func (r repo) getStatsShard(ctx context.Context, workflowID, taskName string, generation, shardID int) (*TaskStatsShard, error) {
	key := shardKey(workflowID, taskName, generation, shardID)
	doc, err := r.store.Get(ctx, TableStatsShards, key)
	if err != nil {
		if IsKind(err, KindEntityNotFound) {
			return &TaskStatsShard{WorkflowID: workflowID, TaskName: taskName, Generation: generation, ShardID: shardID}, nil
		}
		return nil, err
	}
	return doc.(*TaskStatsShard), nil
}

func (r repo) putStatsShard(ctx context.Context, s *TaskStatsShard) error {
	return r.store.Replace(ctx, TableStatsShards, shardKey(s.WorkflowID, s.TaskName, s.Generation, s.ShardID), s)
}

// listStatsShards returns every shard belonging to one firing generation of
// a task; summed, their Total equals the generation's work item count.
func (r repo) listStatsShards(ctx context.Context, workflowID, taskName string, generation int) ([]*TaskStatsShard, error) {
	docs, err := r.store.Query(TableStatsShards).WithIndex("by_task", func(d Document) bool {
		s := d.(*TaskStatsShard)
		return s.WorkflowID == workflowID && s.TaskName == taskName && s.Generation == generation
	}).Collect(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*TaskStatsShard, len(docs))
	for i, d := range docs {
		out[i] = d.(*TaskStatsShard)
	}
	return out, nil
}

func shardKey(workflowID, taskName string, generation, shardID int) string {
	return workflowID + "/" + taskName + "/" + strconv.Itoa(generation) + "/" + strconv.Itoa(shardID)
}

func (r repo) insertScheduled(ctx context.Context, e *ScheduledEntry) (string, error) {
	return r.store.Insert(ctx, TableScheduled, e)
}

func (r repo) getScheduledByKey(ctx context.Context, key string) (*ScheduledEntry, error) {
	doc, ok, err := r.store.Query(TableScheduled).WithIndex("by_key", func(d Document) bool {
		return d.(*ScheduledEntry).Key == key && !d.(*ScheduledEntry).Canceled
	}).First(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, notFound("Scheduler.lookup", "no scheduled entry for key %q", key)
	}
	return doc.(*ScheduledEntry), nil
}

func (r repo) putScheduled(ctx context.Context, id string, e *ScheduledEntry) error {
	return r.store.Replace(ctx, TableScheduled, id, e)
}

func (r repo) putAuditContext(ctx context.Context, workflowID string, a *AuditContext) error {
	return r.store.Replace(ctx, TableAuditContexts, workflowID, a)
}

func (r repo) getAuditContext(ctx context.Context, workflowID string) (*AuditContext, error) {
	doc, err := r.store.Get(ctx, TableAuditContexts, workflowID)
	if err != nil {
		if IsKind(err, KindEntityNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return doc.(*AuditContext), nil
}

func (r repo) insertMigration(ctx context.Context, m *MigrationRecord) (string, error) {
	return r.store.Insert(ctx, TableMigrations, m)
}

// getMigrationByTarget returns the migration record whose fast-forward
// produced toWorkflowID, or nil if the instance was initialized normally.
func (r repo) getMigrationByTarget(ctx context.Context, toWorkflowID string) (*MigrationRecord, error) {
	doc, ok, err := r.store.Query(TableMigrations).WithIndex("by_to", func(d Document) bool {
		return d.(*MigrationRecord).ToWorkflowID == toWorkflowID
	}).First(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return doc.(*MigrationRecord), nil
}

func (r repo) insertAuditSpan(ctx context.Context, s *AuditSpanRecord) (string, error) {
	return r.store.Insert(ctx, TableAuditSpans, s)
}

func (r repo) listAuditSpans(ctx context.Context, traceID string) ([]*AuditSpanRecord, error) {
	docs, err := r.store.Query(TableAuditSpans).WithIndex("by_trace", func(d Document) bool {
		return d.(*AuditSpanRecord).TraceID == traceID
	}).Collect(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*AuditSpanRecord, len(docs))
	for i, d := range docs {
		out[i] = d.(*AuditSpanRecord)
	}
	return out, nil
}
