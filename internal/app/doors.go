package app

import (
	"fmt"

	abci "github.com/cometbft/cometbft/abci/types"

	"alicechain/internal/codec"
	"alicechain/internal/entropy"
	"alicechain/internal/state"
)

// Doors is a binary survival draw. Players open doors as often as they like
// within a shrinking round deadline; a failed draw eliminates them on the
// spot, and sitting out a whole round eliminates them at the deadline.
const doorsMaxRounds uint32 = 5

var doorsEntropy entropy.Source = entropy.Keccak{Domain: "alice/doors/v0"}

func doorsOpen(st *state.State, msg codec.DoorsOpenTx, height int64, nowUnix int64) (*abci.ExecTxResult, error) {
	g, err := activeGameByName(st, gameDoors)
	if err != nil {
		return nil, err
	}
	in, err := instanceOf(g, msg.Player)
	if err != nil {
		return nil, err
	}
	if in.State != state.StateActive {
		return nil, fmt.Errorf("instance %d not active (state=%s)", in.ID, in.State)
	}
	if nowUnix > in.RoundEndTime {
		return nil, fmt.Errorf("round deadline passed")
	}
	s := in.SlotOf(msg.Player)
	if !s.Active {
		return nil, fmt.Errorf("player %s not active", msg.Player)
	}

	survived := entropy.CoinFlip(doorsEntropy, height, in.Round, msg.Player, s.Draws)
	res := okEvent("DoorOpened", map[string]string{
		"game":     g.Name,
		"instance": fmt.Sprintf("%d", in.ID),
		"player":   msg.Player,
		"round":    fmt.Sprintf("%d", in.Round),
		"draw":     fmt.Sprintf("%d", s.Draws+1),
		"survived": fmt.Sprintf("%t", survived),
	})
	if !survived {
		if err := eliminate(st, g, in, msg.Player, "failed-draw", &res.Events); err != nil {
			return nil, err
		}
		if in.ActiveCount() <= 1 {
			completeInstance(g, in, nowUnix, &res.Events)
		}
		if err := in.CheckInvariants(); err != nil {
			return nil, err
		}
		return res, nil
	}
	s.Draws++
	return res, nil
}

func doorsResolve(st *state.State, g *state.Game, in *state.Instance, evs *[]abci.Event) (bool, error) {
	// Deadline hit: anyone who never drew this round is out.
	for _, s := range in.ActiveSlots() {
		if s.Draws == 0 {
			if err := eliminate(st, g, in, s.Address, "inaction", evs); err != nil {
				return false, err
			}
		}
	}

	*evs = append(*evs, event("RoundResolved", map[string]string{
		"game":      g.Name,
		"instance":  fmt.Sprintf("%d", in.ID),
		"round":     fmt.Sprintf("%d", in.Round),
		"survivors": fmt.Sprintf("%d", in.ActiveCount()),
	}))
	return in.ActiveCount() <= 1 || in.Round >= doorsMaxRounds, nil
}
