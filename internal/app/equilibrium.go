package app

import (
	"fmt"

	abci "github.com/cometbft/cometbft/abci/types"

	"alicechain/internal/codec"
	"alicechain/internal/state"
)

// Equilibrium is a single timed round of team balancing. Players may switch
// teams freely until the deadline; at expiry every strictly largest team is
// wiped. A perfect tie across all teams spares everyone.
const equilibriumNumTeams uint32 = 3

func equilibriumSwitchTeam(st *state.State, msg codec.EquilibriumSwitchTeamTx, nowUnix int64) (*abci.ExecTxResult, error) {
	g, err := activeGameByName(st, gameEquilibrium)
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
	teams := g.Config.NumTeams
	if teams == 0 {
		teams = equilibriumNumTeams
	}
	if msg.Team < 1 || msg.Team > teams {
		return nil, fmt.Errorf("team out of range: 1..%d", teams)
	}
	s := in.SlotOf(msg.Player)
	if !s.Active {
		return nil, fmt.Errorf("player %s not active", msg.Player)
	}
	if s.Team == msg.Team {
		return nil, fmt.Errorf("player %s already on team %d", msg.Player, msg.Team)
	}
	s.Team = msg.Team
	return okEvent("TeamSwitched", map[string]string{
		"game":     g.Name,
		"instance": fmt.Sprintf("%d", in.ID),
		"player":   msg.Player,
		"team":     fmt.Sprintf("%d", msg.Team),
	}), nil
}

func equilibriumResolve(st *state.State, g *state.Game, in *state.Instance, evs *[]abci.Event) (bool, error) {
	teams := g.Config.NumTeams
	if teams == 0 {
		teams = equilibriumNumTeams
	}

	// Membership is derived from the slots on demand.
	size := make(map[uint32]int, teams)
	for _, s := range in.ActiveSlots() {
		size[s.Team]++
	}
	largest := 0
	for _, n := range size {
		if n > largest {
			largest = n
		}
	}
	allTied := true
	for t := uint32(1); t <= teams; t++ {
		if size[t] != largest {
			allTied = false
			break
		}
	}

	if largest > 0 && !allTied {
		for _, s := range in.ActiveSlots() {
			if size[s.Team] == largest {
				if err := eliminate(st, g, in, s.Address, "largest-team", evs); err != nil {
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
