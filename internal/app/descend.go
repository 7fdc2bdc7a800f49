package app

import (
	"fmt"

	abci "github.com/cometbft/cometbft/abci/types"

	"alicechain/internal/state"
)

// Descend is a level climb with per-level population caps. Players move 1..3
// levels up each round; repeating the previous round's move is an instant
// elimination. Intermediate levels hold at most shardSize/10 players and the
// terminal level shardSize/2, both at least 1. An over-capacity intermediate
// level wipes everyone on it; a full terminal level wipes everyone below it
// and ends the game.
const (
	descendMaxLevel  uint32 = 10
	descendMinMove   uint64 = 1
	descendMaxMove   uint64 = 3
	descendMaxRounds uint32 = 15
)

func descendIntermediateCap(shardSize int) int {
	if c := shardSize / 10; c > 1 {
		return c
	}
	return 1
}

func descendTerminalCap(shardSize int) int {
	if c := shardSize / 2; c > 1 {
		return c
	}
	return 1
}

func descendResolve(st *state.State, g *state.Game, in *state.Instance, evs *[]abci.Event) (bool, error) {
	// Anti-repeat applies before any move lands.
	for _, s := range in.ActiveSlots() {
		if s.Exempt || !s.Revealed {
			continue
		}
		if s.LastMove != 0 && s.Value == s.LastMove {
			if err := eliminate(st, g, in, s.Address, "repeated-move", evs); err != nil {
				return false, err
			}
		}
	}

	for _, s := range in.ActiveSlots() {
		if s.Exempt || !s.Revealed {
			continue
		}
		s.Level += uint32(s.Value)
		if s.Level >= descendMaxLevel {
			s.Level = descendMaxLevel
			s.Exempt = true
		}
		s.LastMove = s.Value
	}

	// Population counts are computed on demand from the slots rather than
	// maintained as counters.
	shardSize := len(in.Slots)
	pop := map[uint32]int{}
	for _, s := range in.ActiveSlots() {
		pop[s.Level]++
	}
	capIntermediate := descendIntermediateCap(shardSize)
	for lvl := uint32(0); lvl < descendMaxLevel; lvl++ {
		if pop[lvl] <= capIntermediate {
			continue
		}
		for _, s := range in.ActiveSlots() {
			if s.Level == lvl {
				if err := eliminate(st, g, in, s.Address, "level-overcrowded", evs); err != nil {
					return false, err
				}
			}
		}
	}

	terminal := 0
	for _, s := range in.ActiveSlots() {
		if s.Level == descendMaxLevel {
			terminal++
		}
	}
	terminalFull := terminal >= descendTerminalCap(shardSize)
	if terminalFull {
		// Winners are locked in; everyone still climbing is out.
		for _, s := range in.ActiveSlots() {
			if s.Level < descendMaxLevel {
				if err := eliminate(st, g, in, s.Address, "terminal-full", evs); err != nil {
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

	if terminalFull || in.ActiveCount() < 2 || in.Round >= descendMaxRounds {
		return true, nil
	}
	allTerminal := true
	for _, s := range in.ActiveSlots() {
		if s.Level < descendMaxLevel {
			allTerminal = false
			break
		}
	}
	return allTerminal, nil
}
