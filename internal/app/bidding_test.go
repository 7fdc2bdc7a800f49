package app

import (
	"testing"

	"alicechain/internal/state"
)

func biddingInstance(t *testing.T, a *AliceApp) *state.Instance {
	t.Helper()
	g := a.st.Games["bidding"]
	if g == nil || len(g.Instances) != 1 {
		t.Fatalf("expected one bidding instance")
	}
	return g.Instances[0]
}

func playBiddingRound(t *testing.T, a *AliceApp, height int64, nowUnix int64, bids map[string]uint64) {
	t.Helper()
	for p, v := range bids {
		mustOk(t, commitValue(t, a, height, nowUnix, "bidding", p, v))
	}
	for p, v := range bids {
		mustOk(t, revealValue(t, a, height, nowUnix+1, "bidding", p, v))
	}
}

func TestBidding_LowestBidEliminatedAndDeducted(t *testing.T) {
	players := testPlayers(4)
	a := setupTournament(t, "bidding", players...)
	const height = int64(2)

	startGame(t, a, height, "bidding", 1000)
	in := biddingInstance(t, a)
	for _, s := range in.Slots {
		if s.Points != biddingInitialStake {
			t.Fatalf("initial stake: got %d want %d", s.Points, biddingInitialStake)
		}
	}

	playBiddingRound(t, a, height, 1001, map[string]uint64{
		players[0]: 10, players[1]: 20, players[2]: 30, players[3]: 5,
	})

	if s := in.SlotOf(players[3]); s.Active {
		t.Fatalf("lowest bidder must be eliminated")
	}
	// Deductions apply to winners and the eliminated lowest bidder alike.
	wantPoints := map[string]uint64{players[0]: 90, players[1]: 80, players[2]: 70, players[3]: 95}
	for p, want := range wantPoints {
		if got := in.SlotOf(p).Points; got != want {
			t.Fatalf("%s points: got %d want %d", p, got, want)
		}
	}
	if in.State != state.StateActive || in.Round != 2 {
		t.Fatalf("expected round 2 active, got state=%q round=%d", in.State, in.Round)
	}
}

func TestBidding_TiedLowestAllEliminated(t *testing.T) {
	players := testPlayers(4)
	a := setupTournament(t, "bidding", players...)
	const height = int64(2)

	startGame(t, a, height, "bidding", 1000)
	playBiddingRound(t, a, height, 1001, map[string]uint64{
		players[0]: 7, players[1]: 7, players[2]: 30, players[3]: 30,
	})

	in := biddingInstance(t, a)
	if in.SlotOf(players[0]).Active || in.SlotOf(players[1]).Active {
		t.Fatalf("both tied lowest bidders must be eliminated")
	}
	if got := in.ActiveCount(); got != 2 {
		t.Fatalf("survivors: got %d want 2", got)
	}
}

func TestBidding_AllSameBidEliminatesEveryone(t *testing.T) {
	players := testPlayers(3)
	a := setupTournament(t, "bidding", players...)
	const height = int64(2)

	startGame(t, a, height, "bidding", 1000)
	playBiddingRound(t, a, height, 1001, map[string]uint64{
		players[0]: 50, players[1]: 50, players[2]: 50,
	})

	in := biddingInstance(t, a)
	if got := in.ActiveCount(); got != 0 {
		t.Fatalf("survivors: got %d want 0", got)
	}
	if in.State != state.StateCompleted {
		t.Fatalf("expected completed instance with no survivors")
	}
}

func TestBidding_OverBalanceBidEliminatesWithoutDeduction(t *testing.T) {
	players := testPlayers(3)
	a := setupTournament(t, "bidding", players...)
	const height = int64(2)

	startGame(t, a, height, "bidding", 1000)
	playBiddingRound(t, a, height, 1001, map[string]uint64{
		players[0]: 101, players[1]: 20, players[2]: 30,
	})

	in := biddingInstance(t, a)
	over := in.SlotOf(players[0])
	if over.Active {
		t.Fatalf("over-balance bidder must be eliminated")
	}
	if over.Points != biddingInitialStake {
		t.Fatalf("over-balance bid must not deduct: got %d", over.Points)
	}
	// Among the valid bids 20 is strictly lowest.
	if in.SlotOf(players[1]).Active {
		t.Fatalf("lowest valid bidder must be eliminated")
	}
	if !in.SlotOf(players[2]).Active {
		t.Fatalf("highest bidder must survive")
	}
}

func TestBidding_ZeroSumAcrossRounds(t *testing.T) {
	players := testPlayers(4)
	a := setupTournament(t, "bidding", players...)
	const height = int64(2)

	startGame(t, a, height, "bidding", 1000)
	in := biddingInstance(t, a)

	deducted := map[string]uint64{}
	rounds := []map[string]uint64{
		{players[0]: 10, players[1]: 20, players[2]: 30, players[3]: 5},
		{players[0]: 40, players[1]: 15, players[2]: 15},
	}
	now := int64(1001)
	for _, bids := range rounds {
		playBiddingRound(t, a, height, now, bids)
		for p, v := range bids {
			deducted[p] += v
		}
		now += 10
	}

	for _, s := range in.Slots {
		want := biddingInitialStake - deducted[s.Address]
		if s.Points != want {
			t.Fatalf("%s points: got %d want %d", s.Address, s.Points, want)
		}
	}
	// Round 2 lowest was the 15/15 tie, leaving one survivor.
	if got := in.ActiveCount(); got != 1 {
		t.Fatalf("survivors: got %d want 1", got)
	}
	if in.State != state.StateCompleted {
		t.Fatalf("expected completion below two active players")
	}
}
