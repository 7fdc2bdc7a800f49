package app

import (
	"fmt"

	abci "github.com/cometbft/cometbft/abci/types"

	"alicechain/internal/state"
)

// Bidding is a point auction. Every player starts with the same stake and
// bids a hidden amount each round. Over-balance bids eliminate without
// deduction; valid bids are deducted and the strictly lowest valid bid loses
// the round, ties included.
const (
	biddingInitialStake uint64 = 100
	biddingMaxBid       uint64 = 1<<63 - 1
	biddingMaxRounds    uint32 = 10
)

func biddingResolve(st *state.State, g *state.Game, in *state.Instance, evs *[]abci.Event) (bool, error) {
	valid := make([]*state.Slot, 0, in.ActiveCount())
	for _, s := range in.ActiveSlots() {
		if !s.Revealed {
			continue
		}
		if s.Value > s.Points {
			if err := eliminate(st, g, in, s.Address, "over-balance-bid", evs); err != nil {
				return false, err
			}
			continue
		}
		valid = append(valid, s)
	}

	if len(valid) > 0 {
		lowest := valid[0].Value
		for _, s := range valid[1:] {
			if s.Value < lowest {
				lowest = s.Value
			}
		}
		for _, s := range valid {
			s.Points -= s.Value
			if s.Value == lowest {
				if err := eliminate(st, g, in, s.Address, "lowest-bid", evs); err != nil {
					return false, err
				}
			}
		}
	}

	*evs = append(*evs, event("RoundResolved", map[string]string{
		"game":      g.Name,
		"instance":  fmt.Sprintf("%d", in.ID),
		"round":     fmt.Sprintf("%d", in.Round),
		"survivors": fmt.Sprintf("%d", in.ActiveCount()),
	}))
	return in.ActiveCount() < 2 || in.Round >= biddingMaxRounds, nil
}
