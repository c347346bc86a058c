package engine

import (
	"context"
	"testing"
)

// joinConsumeDef builds start -> fork (and-split) -> {c1, c2} -> merge ->
// end with merge's join type supplied by the caller, for exercising
// consumeIncoming in isolation.
func joinConsumeDef(t *testing.T, join JoinType) *WorkflowDefinition {
	t.Helper()
	def, err := NewBuilder("joins", "v1").
		Start("start").
		Condition("c1").
		Condition("c2").
		End("end").
		Task(&TaskDefinition{Name: "fork", Kind: DummyTask{}, Split: SplitAnd}).
		Task(&TaskDefinition{Name: "merge", Kind: DummyTask{}, Join: join}).
		Flow("start", "fork").
		Flow("fork", "c1").
		Flow("fork", "c2").
		Flow("c1", "merge").
		Flow("c2", "merge").
		Flow("merge", "end").
		Build()
	if err != nil {
		t.Fatalf("build joins def: %v", err)
	}
	return def
}

func remainingTokens(t *testing.T, r repo, workflowID string, conds ...string) int {
	t.Helper()
	ctx := context.Background()
	total := 0
	for _, name := range conds {
		c, err := r.getCondition(ctx, workflowID, name)
		if err != nil {
			t.Fatalf("getCondition %s: %v", name, err)
		}
		total += c.Marking
	}
	return total
}

func TestConsumeIncomingXorJoinTakesExactlyOneToken(t *testing.T) {
	ctx := context.Background()
	def := joinConsumeDef(t, JoinXor)
	n := &net{def: def, repo: repo{store: NewMemoryStore()}}

	for _, name := range []string{"c1", "c2"} {
		if err := n.repo.putCondition(ctx, &ConditionInstance{WorkflowID: "w1", Name: name, Marking: 1}); err != nil {
			t.Fatalf("putCondition %s: %v", name, err)
		}
	}

	if err := n.consumeIncoming(ctx, "w1", def.Tasks["merge"]); err != nil {
		t.Fatalf("consumeIncoming: %v", err)
	}
	if got := remainingTokens(t, n.repo, "w1", "c1", "c2"); got != 1 {
		t.Fatalf("remaining tokens after xor-join consume = %d, want 1 (exactly one consumed)", got)
	}
}

func TestConsumeIncomingOrJoinTakesOnePerMarkedBranch(t *testing.T) {
	ctx := context.Background()
	def := joinConsumeDef(t, JoinOr)
	n := &net{def: def, repo: repo{store: NewMemoryStore()}}

	if err := n.repo.putCondition(ctx, &ConditionInstance{WorkflowID: "w1", Name: "c1", Marking: 2}); err != nil {
		t.Fatalf("putCondition c1: %v", err)
	}
	if err := n.repo.putCondition(ctx, &ConditionInstance{WorkflowID: "w1", Name: "c2", Marking: 0}); err != nil {
		t.Fatalf("putCondition c2: %v", err)
	}

	if err := n.consumeIncoming(ctx, "w1", def.Tasks["merge"]); err != nil {
		t.Fatalf("consumeIncoming: %v", err)
	}
	if got := remainingTokens(t, n.repo, "w1", "c1"); got != 1 {
		t.Fatalf("c1 marking after or-join consume = %d, want 1 (one of two tokens consumed)", got)
	}
	if got := remainingTokens(t, n.repo, "w1", "c2"); got != 0 {
		t.Fatalf("c2 marking after or-join consume = %d, want 0 (unmarked branch untouched)", got)
	}
}

func TestConsumeIncomingAndJoinTakesOnePerEdge(t *testing.T) {
	ctx := context.Background()
	def := joinConsumeDef(t, JoinAnd)
	n := &net{def: def, repo: repo{store: NewMemoryStore()}}

	for _, name := range []string{"c1", "c2"} {
		if err := n.repo.putCondition(ctx, &ConditionInstance{WorkflowID: "w1", Name: name, Marking: 1}); err != nil {
			t.Fatalf("putCondition %s: %v", name, err)
		}
	}

	if err := n.consumeIncoming(ctx, "w1", def.Tasks["merge"]); err != nil {
		t.Fatalf("consumeIncoming: %v", err)
	}
	if got := remainingTokens(t, n.repo, "w1", "c1", "c2"); got != 0 {
		t.Fatalf("remaining tokens after and-join consume = %d, want 0", got)
	}
}
