package engine

import (
	"context"
	"fmt"

	"github.com/tasquencer/orchestrator/observability"
)

// net bundles a definition with the repo needed to read and write its live
// marking; every marking/firing operation hangs off it.
type net struct {
	def  *WorkflowDefinition
	repo repo
	eng  *Engine
}

// addToken increments a condition's marking by one and enqueues an
// auto-trigger check of every task the condition flows into. It never
// fires a task inline: enablement checks always run through the
// auto-trigger queue so a long cascade of dummy tasks and OR-join
// satisfactions never recurses on the Go call stack.
func (n *net) addToken(ectx *ExecutionContext, workflowID, condition string) error {
	ctx := ectx.Context()
	c, err := n.repo.getCondition(ctx, workflowID, condition)
	if err != nil {
		return err
	}
	c.Marking++
	if err := n.repo.putCondition(ctx, c); err != nil {
		return err
	}
	ectx.emit(EventConditionMark, observability.LevelVerbose,
		observability.Resource{Workflow: workflowID},
		map[string]any{"condition": condition, "marking": c.Marking})

	for _, taskName := range n.def.Successors(condition) {
		task := n.def.Tasks[taskName]
		if task == nil {
			continue
		}
		tn := taskName
		ectx.enqueueTrigger(func(inner *ExecutionContext) error {
			return n.tryEnable(inner, workflowID, tn)
		})
	}

	if condition == n.def.EndCondition {
		wfID := workflowID
		ectx.enqueueTrigger(func(inner *ExecutionContext) error {
			w, err := n.repo.getWorkflow(inner.Context(), wfID)
			if err != nil {
				return err
			}
			if w.State == WorkflowCompleted {
				return nil
			}
			return n.eng.completeWorkflowInstance(inner, w)
		})
	}
	return nil
}

// removeToken decrements a condition's marking, clamped at zero; a
// cancellation region withdrawal forcibly zeroes a condition regardless of
// its current marking (see withdrawCondition).
func (n *net) removeToken(ctx context.Context, workflowID, condition string) error {
	c, err := n.repo.getCondition(ctx, workflowID, condition)
	if err != nil {
		return err
	}
	if c.Marking > 0 {
		c.Marking--
	}
	return n.repo.putCondition(ctx, c)
}

func (n *net) withdrawCondition(ctx context.Context, workflowID, condition string) error {
	c, err := n.repo.getCondition(ctx, workflowID, condition)
	if err != nil {
		return err
	}
	if c.Marking == 0 {
		return nil
	}
	c.Marking = 0
	return n.repo.putCondition(ctx, c)
}

// isSatisfied reports whether task's join condition currently holds, given
// the live marking of its incoming conditions.
func (n *net) isSatisfied(ectx *ExecutionContext, workflowID string, task *TaskDefinition) (bool, error) {
	ctx := ectx.Context()
	incoming := n.def.Predecessors(task.Name)
	if len(incoming) == 0 {
		return true, nil
	}

	markings := make(map[string]int, len(incoming))
	any0 := false
	for _, cond := range incoming {
		c, err := n.repo.getCondition(ctx, workflowID, cond)
		if err != nil {
			return false, err
		}
		markings[cond] = c.Marking
		if c.Marking > 0 {
			any0 = true
		}
	}

	switch task.Join {
	case JoinAnd:
		for _, m := range markings {
			if m == 0 {
				return false, nil
			}
		}
		return true, nil
	case JoinXor:
		return any0, nil
	case JoinOr:
		if !any0 {
			return false, nil
		}
		ectx.emit(EventOrJoinEvaluate, observability.LevelVerbose,
			observability.Resource{Workflow: workflowID, Task: task.Name}, nil)
		ok, err := evaluateOrJoin(ctx, n.def, n.repo, workflowID, task.Name, markings)
		if err != nil {
			return false, err
		}
		if ok {
			ectx.emit(EventOrJoinSatisfy, observability.LevelInfo,
				observability.Resource{Workflow: workflowID, Task: task.Name}, nil)
		}
		return ok, nil
	default:
		return false, fmt.Errorf("unknown join type %v", task.Join)
	}
}

// consumeIncoming removes the tokens that satisfied task's join: one per
// incoming condition for an AND-join, exactly one (from the first marked
// incoming condition) for an XOR-join, and one per currently-marked
// incoming condition for an OR-join, one per branch that made it through.
func (n *net) consumeIncoming(ctx context.Context, workflowID string, task *TaskDefinition) error {
	consumed := false
	for _, cond := range n.def.Predecessors(task.Name) {
		c, err := n.repo.getCondition(ctx, workflowID, cond)
		if err != nil {
			return err
		}
		var take bool
		switch task.Join {
		case JoinAnd:
			take = true
		case JoinXor:
			take = c.Marking > 0 && !consumed
		case JoinOr:
			take = c.Marking > 0
		}
		if !take {
			continue
		}
		if err := n.removeToken(ctx, workflowID, cond); err != nil {
			return err
		}
		consumed = true
	}
	return nil
}

// produceOutgoing fires task's split, placing tokens on successor
// conditions per its SplitType and RouteFunc.
func (n *net) produceOutgoing(ectx *ExecutionContext, workflowID string, task *TaskDefinition, payload any) error {
	successors := n.def.Successors(task.Name)
	var targets []string
	switch task.Split {
	case SplitAnd:
		targets = successors
	case SplitXor, SplitOr:
		chosen, err := task.Route(payload)
		if err != nil {
			return constraintErr("produceOutgoing", "route for task %q: %w", task.Name, err)
		}
		if task.Split == SplitXor && len(chosen) != 1 {
			return constraintErr("produceOutgoing", "xor-split task %q route returned %d targets, want 1", task.Name, len(chosen))
		}
		if len(chosen) == 0 {
			return constraintErr("produceOutgoing", "or-split task %q route returned no targets", task.Name)
		}
		for _, c := range chosen {
			if !contains(successors, c) {
				return structuralErr("produceOutgoing", "route for task %q selected non-successor %q", task.Name, c)
			}
		}
		targets = chosen
	}
	for _, cond := range targets {
		if err := n.addToken(ectx, workflowID, cond); err != nil {
			return err
		}
	}
	return nil
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
