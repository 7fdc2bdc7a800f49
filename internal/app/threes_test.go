package app

import (
	"testing"

	"alicechain/internal/state"
)

func threesInstance(t *testing.T, a *AliceApp) *state.Instance {
	t.Helper()
	g := a.st.Games["threes"]
	if g == nil || len(g.Instances) != 1 {
		t.Fatalf("expected one threes instance")
	}
	return g.Instances[0]
}

func TestThrees_AllSameSurvive(t *testing.T) {
	players := testPlayers(3)
	a := setupTournament(t, "threes", players...)
	const height = int64(2)

	startGame(t, a, height, "threes", 1000)
	for _, p := range players {
		mustOk(t, commitValue(t, a, height, 1001, "threes", p, 2))
	}
	for _, p := range players {
		mustOk(t, revealValue(t, a, height, 1002, "threes", p, 2))
	}

	in := threesInstance(t, a)
	if in.State != state.StateCompleted {
		t.Fatalf("instance state: got %q want completed", in.State)
	}
	if got := in.ActiveCount(); got != 3 {
		t.Fatalf("survivors: got %d want 3", got)
	}
	if len(a.st.EliminationOrder) != 0 {
		t.Fatalf("expected no eliminations")
	}
}

func TestThrees_TwoMatchEliminatesPair(t *testing.T) {
	players := testPlayers(3)
	a := setupTournament(t, "threes", players...)
	const height = int64(2)

	startGame(t, a, height, "threes", 1000)
	values := []uint64{1, 1, 2}
	for i, p := range players {
		mustOk(t, commitValue(t, a, height, 1001, "threes", p, values[i]))
	}
	for i, p := range players {
		mustOk(t, revealValue(t, a, height, 1002, "threes", p, values[i]))
	}

	in := threesInstance(t, a)
	if in.State != state.StateCompleted {
		t.Fatalf("instance state: got %q want completed", in.State)
	}
	if got := in.ActiveCount(); got != 1 {
		t.Fatalf("survivors: got %d want 1", got)
	}
	if s := in.SlotOf(players[2]); s == nil || !s.Active {
		t.Fatalf("expected the odd one out to survive")
	}
	if len(a.st.EliminationOrder) != 2 {
		t.Fatalf("eliminations: got %d want 2", len(a.st.EliminationOrder))
	}
}

func TestThrees_AllDifferentEliminatesEveryone(t *testing.T) {
	players := testPlayers(3)
	a := setupTournament(t, "threes", players...)
	const height = int64(2)

	startGame(t, a, height, "threes", 1000)
	values := []uint64{1, 2, 3}
	for i, p := range players {
		mustOk(t, commitValue(t, a, height, 1001, "threes", p, values[i]))
	}
	for i, p := range players {
		mustOk(t, revealValue(t, a, height, 1002, "threes", p, values[i]))
	}

	in := threesInstance(t, a)
	if in.State != state.StateCompleted {
		t.Fatalf("instance state: got %q want completed", in.State)
	}
	if got := in.ActiveCount(); got != 0 {
		t.Fatalf("survivors: got %d want 0", got)
	}
	if len(a.st.EliminationOrder) != 3 {
		t.Fatalf("eliminations: got %d want 3", len(a.st.EliminationOrder))
	}
}

func TestThrees_SweepAfterCommitDeadlineCompletesWithoutReveal(t *testing.T) {
	players := testPlayers(3)
	a := setupTournament(t, "threes", players...)
	const height = int64(2)

	startGame(t, a, height, "threes", 1000)
	mustOk(t, commitValue(t, a, height, 1001, "threes", players[0], 1))

	// Commit deadline is 1000+120; sweep past it.
	res := mustOk(t, a.deliverTx(txBytes(t, "game/sweep", map[string]any{"name": "threes"}), height, 1200))
	if countEvents(res.Events, "PlayerEliminated") != 2 {
		t.Fatalf("expected the two non-committers eliminated")
	}
	if findEvent(res.Events, "GameCompleted") == nil {
		t.Fatalf("expected GameCompleted event")
	}

	in := threesInstance(t, a)
	if in.State != state.StateCompleted {
		t.Fatalf("instance state: got %q want completed", in.State)
	}
	if in.Phase == state.PhaseReveal {
		t.Fatalf("instance must never have entered reveal")
	}
	if s := in.SlotOf(players[0]); s == nil || !s.Active {
		t.Fatalf("expected the lone committer to survive")
	}
}

func TestThrees_InvalidValueRejected(t *testing.T) {
	players := testPlayers(3)
	a := setupTournament(t, "threes", players...)
	const height = int64(2)

	startGame(t, a, height, "threes", 1000)
	for _, p := range players {
		mustOk(t, commitValue(t, a, height, 1001, "threes", p, 4))
	}
	res := revealValue(t, a, height, 1002, "threes", players[0], 4)
	if res.Code == 0 {
		t.Fatalf("expected out-of-range value to be rejected")
	}
}

func TestThrees_RevealMismatchRejectedWithoutStateChange(t *testing.T) {
	players := testPlayers(3)
	a := setupTournament(t, "threes", players...)
	const height = int64(2)

	startGame(t, a, height, "threes", 1000)
	for _, p := range players {
		mustOk(t, commitValue(t, a, height, 1001, "threes", p, 1))
	}

	// Lie about the committed value.
	res := revealValue(t, a, height, 1002, "threes", players[0], 2)
	if res.Code == 0 {
		t.Fatalf("expected commitment mismatch to be rejected")
	}
	in := threesInstance(t, a)
	if in.RevealCount != 0 {
		t.Fatalf("mismatch must not count as a reveal")
	}
	if s := in.SlotOf(players[0]); s.Revealed {
		t.Fatalf("mismatch must not mark the slot revealed")
	}

	// The honest reveal still works afterwards.
	mustOk(t, revealValue(t, a, height, 1003, "threes", players[0], 1))
}

func TestThrees_InitializeRejectsNonDivisiblePool(t *testing.T) {
	players := testPlayers(4)
	a := setupTournament(t, "threes", players...)
	const height = int64(2)

	res := a.deliverTx(txBytesSigned(t, "game/initialize", map[string]any{
		"caller": testOwner, "name": "threes",
	}, testOwner), height, 1000)
	if res.Code == 0 {
		t.Fatalf("expected initialize with 4 players to be rejected")
	}
	if len(a.st.Games["threes"].Instances) != 0 {
		t.Fatalf("no partial shards may be created")
	}
}
