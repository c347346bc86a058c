package engine

// AllowAll is the default PolicyFunc: it never denies an action. Engine
// callers that need role checks, claim checks, or rate limits supply their
// own PolicyFunc on the ActionDefinition in question.
func AllowAll(_ *ExecutionContext, _ string, _ ActionKind) error {
	return nil
}

// DenyAll rejects every action; useful as a placeholder while a task's real
// authorization rule is still being designed.
func DenyAll(ectx *ExecutionContext, subject string, action ActionKind) error {
	return constraintErr("Policy", "action %s on %q is not permitted", action, subject)
}

// AllowIf builds a PolicyFunc from a predicate, so callers can write
// engine.AllowIf(func(ectx *engine.ExecutionContext, subject string, action
// engine.ActionKind) bool { ... }) instead of hand-writing the error
// wrapping.
func AllowIf(pred func(ectx *ExecutionContext, subject string, action ActionKind) bool) PolicyFunc {
	return func(ectx *ExecutionContext, subject string, action ActionKind) error {
		if pred(ectx, subject, action) {
			return nil
		}
		return constraintErr("Policy", "action %s on %q denied by policy", action, subject)
	}
}

func runPolicy(ectx *ExecutionContext, policy PolicyFunc, subject string, action ActionKind) error {
	if policy == nil {
		return nil
	}
	return policy(ectx, subject, action)
}
