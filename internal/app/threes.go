package app

import (
	"fmt"

	abci "github.com/cometbft/cometbft/abci/types"

	"alicechain/internal/state"
)

// Threes runs exactly one commit/reveal round between three players choosing
// from {1,2,3}. All three same: everyone survives. Exactly two matched: the
// pair is eliminated and the odd one out survives. All three distinct: the
// whole table is eliminated.
const threesShardSize = 3

func threesResolve(st *state.State, g *state.Game, in *state.Instance, evs *[]abci.Event) (bool, error) {
	revealed := make([]*state.Slot, 0, threesShardSize)
	for _, s := range in.ActiveSlots() {
		if s.Revealed {
			revealed = append(revealed, s)
		}
	}

	// The value rule only applies to a complete table; with fewer than three
	// reveals the no-reveal eliminations already decided the round.
	if len(revealed) == threesShardSize {
		counts := map[uint64]int{}
		for _, s := range revealed {
			counts[s.Value]++
		}
		switch len(counts) {
		case 1:
			// All same, everyone stays.
		case 2:
			for _, s := range revealed {
				if counts[s.Value] == 2 {
					if err := eliminate(st, g, in, s.Address, "matched-pair", evs); err != nil {
						return false, err
					}
				}
			}
		case 3:
			for _, s := range revealed {
				if err := eliminate(st, g, in, s.Address, "all-distinct", evs); err != nil {
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
	// Single round by construction.
	return true, nil
}
