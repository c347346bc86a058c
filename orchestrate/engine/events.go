package engine

import "github.com/tasquencer/orchestrator/observability"

const (
	// Condition marking
	EventConditionMark   observability.EventType = "engine.condition.mark"
	EventConditionUnmark observability.EventType = "engine.condition.unmark"

	// Task lifecycle
	EventTaskEnabled   observability.EventType = "engine.task.enabled"
	EventTaskStarted   observability.EventType = "engine.task.started"
	EventTaskCompleted observability.EventType = "engine.task.completed"
	EventTaskFailed    observability.EventType = "engine.task.failed"
	EventTaskCanceled  observability.EventType = "engine.task.canceled"
	EventTaskDisabled  observability.EventType = "engine.task.disabled"

	// OR-join reachability
	EventOrJoinEvaluate observability.EventType = "engine.orjoin.evaluate"
	EventOrJoinSatisfy  observability.EventType = "engine.orjoin.satisfy"

	// Work item lifecycle
	EventWorkItemInitialized observability.EventType = "engine.workitem.initialized"
	EventWorkItemStarted     observability.EventType = "engine.workitem.started"
	EventWorkItemCompleted   observability.EventType = "engine.workitem.completed"
	EventWorkItemFailed      observability.EventType = "engine.workitem.failed"
	EventWorkItemCanceled    observability.EventType = "engine.workitem.canceled"
	EventWorkItemReset       observability.EventType = "engine.workitem.reset"

	// Workflow lifecycle
	EventWorkflowInitialized    observability.EventType = "engine.workflow.initialized"
	EventWorkflowStarted        observability.EventType = "engine.workflow.started"
	EventWorkflowCompleted      observability.EventType = "engine.workflow.completed"
	EventWorkflowCanceled       observability.EventType = "engine.workflow.canceled"
	EventWorkflowFailed         observability.EventType = "engine.workflow.failed"
	EventWorkflowFastForwarded  observability.EventType = "engine.workflow.fast_forwarded"
	EventCancellationRegionFire observability.EventType = "engine.cancellation_region.fire"

	// Auto-trigger queue
	EventAutoTriggerEnqueue observability.EventType = "engine.auto_trigger.enqueue"
	EventAutoTriggerDrain   observability.EventType = "engine.auto_trigger.drain"

	// Scheduler bridge
	EventSchedulerSchedule observability.EventType = "engine.scheduler.schedule"
	EventSchedulerCancel   observability.EventType = "engine.scheduler.cancel"
	EventSchedulerFire     observability.EventType = "engine.scheduler.fire"

	// Migration
	EventMigrationStart    observability.EventType = "engine.migration.start"
	EventMigrationComplete observability.EventType = "engine.migration.complete"
)
