package engine

import "context"

// evaluateOrJoin decides whether an OR-join task may fire given the
// workflow's current marking. It implements a structural approximation of
// E2WFOJNet reachability analysis: restrict the net to task's backward
// ancestors (restrict-to-task), seed a forward reachability fixpoint from
// the current marking within that restricted subnet (restrict-to-marking),
// and fire only if no unmarked incoming condition of task could still
// receive a token along any surviving path (fixpoint reachability).
//
// An ancestor task already Enabled or Started has already consumed its
// incoming tokens, so its predecessor conditions read as unmarked even
// though the task is guaranteed — barring cancellation — to eventually
// complete and deposit a token on every successor; the condition-marking
// fixpoint alone can't see that obligation, so such a task's successors are
// seeded as reachable directly from its live instance state instead. A
// Canceled ancestor task can never contribute regardless of marking and is
// excluded from the fixpoint entirely, which is how a cancellation region
// lets a waiting OR-join fire early: once every live branch feeding it is
// either terminally dead or genuinely out of tokens, nothing structural or
// in flight can still mark its remaining incoming conditions.
//
// This is deliberately conservative rather than a full formal
// E2WFOJNet solution: cyclic nets are handled by excluding task itself from
// the ancestor set, which is sound (task cannot contribute a token to its
// own enablement test) but can under-approximate liveness in nets with
// OR-joins nested inside loops back to themselves; such nets are rare in
// practice and the fixpoint still terminates because the reachable set
// only grows and is bounded by the finite ancestor set.
func evaluateOrJoin(ctx context.Context, def *WorkflowDefinition, r repo, workflowID, taskName string, directMarkings map[string]int) (bool, error) {
	ancestorConditions, ancestorTasks := backwardAncestors(def, taskName)

	reachable := map[string]bool{}
	for cond, m := range directMarkings {
		if m > 0 {
			reachable[cond] = true
		}
	}
	for cond := range ancestorConditions {
		if reachable[cond] {
			continue
		}
		c, err := r.getCondition(ctx, workflowID, cond)
		if err != nil {
			return false, err
		}
		if c.Marking > 0 {
			reachable[cond] = true
		}
	}

	states := make(map[string]TaskState, len(ancestorTasks))
	for taskAncestor := range ancestorTasks {
		ti, err := r.getTask(ctx, workflowID, taskAncestor)
		if err != nil {
			return false, err
		}
		states[taskAncestor] = ti.State
		if ti.State == TaskEnabled || ti.State == TaskStarted {
			for _, out := range def.Successors(taskAncestor) {
				reachable[out] = true
			}
		}
	}

	for {
		changed := false
		for taskAncestor := range ancestorTasks {
			switch states[taskAncestor] {
			case TaskCanceled, TaskEnabled, TaskStarted:
				// Canceled never contributes; Enabled/Started already
				// seeded its successors above.
				continue
			}
			td := def.Tasks[taskAncestor]
			if td == nil {
				continue
			}
			incoming := def.Predecessors(taskAncestor)
			var canFire bool
			switch td.Join {
			case JoinAnd:
				canFire = len(incoming) > 0
				for _, c := range incoming {
					if !reachable[c] {
						canFire = false
						break
					}
				}
			default: // JoinXor, JoinOr: conservatively, any feed is enough
				for _, c := range incoming {
					if reachable[c] {
						canFire = true
						break
					}
				}
			}
			if !canFire {
				continue
			}
			for _, out := range def.Successors(taskAncestor) {
				if !reachable[out] {
					reachable[out] = true
					changed = true
				}
			}
		}
		if !changed {
			break
		}
	}

	for cond, m := range directMarkings {
		if m > 0 {
			continue
		}
		if reachable[cond] {
			return false, nil
		}
	}
	return true, nil
}

// backwardAncestors returns the conditions and tasks that can structurally
// reach target by a directed walk of flows, excluding target itself.
func backwardAncestors(def *WorkflowDefinition, target string) (conditions map[string]bool, tasks map[string]bool) {
	conditions = map[string]bool{}
	tasks = map[string]bool{}
	visited := map[string]bool{target: true}
	queue := def.Predecessors(target)
	for _, name := range queue {
		visited[name] = true
	}
	for i := 0; i < len(queue); i++ {
		cur := queue[i]
		if def.IsCondition(cur) {
			conditions[cur] = true
		} else {
			tasks[cur] = true
		}
		for _, prev := range def.Predecessors(cur) {
			if !visited[prev] {
				visited[prev] = true
				queue = append(queue, prev)
			}
		}
	}
	return conditions, tasks
}
