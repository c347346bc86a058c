package engine

// ActionKind names one of the lifecycle transitions a work item supports.
type ActionKind string

const (
	ActionInitialize ActionKind = "initialize"
	ActionStart      ActionKind = "start"
	ActionComplete   ActionKind = "complete"
	ActionFail       ActionKind = "fail"
	ActionCancel     ActionKind = "cancel"
	ActionReset      ActionKind = "reset"
)

// ActionCallback runs after an action's payload has been validated and its
// policy has allowed it, inside the same host mutation transaction as the
// state transition. It may inspect the payload and the work item but must
// not attempt further state transitions directly; auto-triggered follow-on
// activity goes through ExecutionContext.EnqueueWorkItemAction instead, so
// it runs after this transition finishes rather than recursing into it.
type ActionCallback func(ectx *ExecutionContext, wi *WorkItemInstance, payload any) error

// PolicyFunc authorizes an action before it runs. Returning a non-nil error
// (normally via constraintErr) denies the action.
type PolicyFunc func(ectx *ExecutionContext, subject string, action ActionKind) error

// ActionDefinition is the configuration for a single action on a work item:
// what payload shape it accepts, what authorizes it, and what runs once it
// is accepted.
type ActionDefinition struct {
	Payload  PayloadSchema
	Policy   PolicyFunc
	Callback ActionCallback
}

// WorkItemDefinition configures the work item an AtomicTask creates each
// time it fires: its accepted actions and its offer/allocation behavior.
type WorkItemDefinition struct {
	Actions map[ActionKind]ActionDefinition

	// MultipleInstances, when > 1, fires N independent work items per task
	// firing instead of one; under DefaultTaskPolicy the task completes once
	// all N reach a terminal state (and fails as soon as one fails).
	MultipleInstances int
}

// DefaultWorkItemDefinition returns a work item that accepts start/complete/
// fail/cancel with no payload and no policy restriction — a plain one-shot
// human or system task.
func DefaultWorkItemDefinition() *WorkItemDefinition {
	return &WorkItemDefinition{
		Actions: map[ActionKind]ActionDefinition{
			ActionStart:    {Payload: NonePayload},
			ActionComplete: {Payload: NonePayload},
			ActionFail:     {Payload: NonePayload},
			ActionCancel:   {Payload: NonePayload},
		},
		MultipleInstances: 1,
	}
}
