package app

import (
	"errors"
	"fmt"

	abci "github.com/cometbft/cometbft/abci/types"

	"alicechain/internal/codec"
	"alicechain/internal/state"
)

// Registry-side elimination failures that a game instance is allowed to
// survive. Anything else propagates.
var (
	errPlayerNotRegistered = errors.New("player not registered")
	errPlayerNotActive     = errors.New("player not active in registry")
)

func masterRegisterPlayer(st *state.State, msg codec.MasterRegisterPlayerTx) (*abci.ExecTxResult, error) {
	if msg.Player == "" {
		return nil, fmt.Errorf("missing player")
	}
	if !st.RegistrationOpen {
		return nil, fmt.Errorf("registration closed")
	}
	if _, ok := st.Players[msg.Player]; ok {
		return nil, fmt.Errorf("player %q already registered", msg.Player)
	}

	fee := st.Params.RegistrationFee
	pts, err := mulU64Checked(fee, st.Params.PointsRate, "registration points")
	if err != nil {
		return nil, err
	}
	referrer := ""
	if msg.ReferralCode != "" {
		if ref, ok := st.Players[msg.ReferralCode]; ok && ref.Address != msg.Player && st.Params.ReferralBonus > 0 {
			referrer = ref.Address
		}
	}

	// Every transfer is checked before any balance moves.
	const maxU64 = ^uint64(0)
	if fee > 0 {
		if bal := st.Balance(msg.Player); bal < fee {
			return nil, fmt.Errorf("registration fee: insufficient funds: have=%d need=%d", bal, fee)
		}
		if st.Balance(state.PoolAccount) > maxU64-fee {
			return nil, fmt.Errorf("registration fee: pool balance overflow")
		}
	}
	if pts > 0 && st.Points[msg.Player] > maxU64-pts {
		return nil, fmt.Errorf("points overflow: have=%d add=%d", st.Points[msg.Player], pts)
	}
	if referrer != "" && st.Points[referrer] > maxU64-st.Params.ReferralBonus {
		return nil, fmt.Errorf("points overflow: have=%d add=%d", st.Points[referrer], st.Params.ReferralBonus)
	}

	if fee > 0 {
		if err := st.Debit(msg.Player, fee); err != nil {
			return nil, fmt.Errorf("registration fee: %w", err)
		}
		if err := st.Credit(state.PoolAccount, fee); err != nil {
			return nil, err
		}
	}
	if pts > 0 {
		if err := st.CreditPoints(msg.Player, pts); err != nil {
			return nil, err
		}
	}
	referralApplied := false
	if referrer != "" {
		if err := st.CreditPoints(referrer, st.Params.ReferralBonus); err != nil {
			return nil, err
		}
		referralApplied = true
	}

	number := st.NextPlayerNumber
	st.NextPlayerNumber++
	st.Players[msg.Player] = &state.Player{
		Address: msg.Player,
		Number:  number,
		Active:  true,
	}

	res := okEvent("PlayerRegistered", map[string]string{
		"player": msg.Player,
		"number": fmt.Sprintf("%d", number),
		"fee":    fmt.Sprintf("%d", fee),
	})
	if pts > 0 {
		res.Events = append(res.Events, event("PointsCredited", map[string]string{
			"to":     msg.Player,
			"amount": fmt.Sprintf("%d", pts),
			"reason": "registration",
		}))
	}
	if referralApplied {
		res.Events = append(res.Events, event("PointsCredited", map[string]string{
			"to":     msg.ReferralCode,
			"amount": fmt.Sprintf("%d", st.Params.ReferralBonus),
			"reason": "referral",
		}))
	}

	if st.Params.MaxRegistrations > 0 && uint64(len(st.Players)) >= st.Params.MaxRegistrations {
		st.RegistrationOpen = false
		res.Events = append(res.Events, event("RegistrationClosed", map[string]string{
			"players": fmt.Sprintf("%d", len(st.Players)),
			"reason":  "cap",
		}))
	}
	return res, nil
}

func masterCloseRegistration(st *state.State) (*abci.ExecTxResult, error) {
	if !st.RegistrationOpen {
		return nil, fmt.Errorf("registration already closed")
	}
	st.RegistrationOpen = false
	return okEvent("RegistrationClosed", map[string]string{
		"players": fmt.Sprintf("%d", len(st.Players)),
		"reason":  "owner",
	}), nil
}

func masterRegisterGame(st *state.State, msg codec.MasterRegisterGameTx) (*abci.ExecTxResult, error) {
	name := msg.Name
	if !knownGame(name) {
		return nil, fmt.Errorf("unknown game type %q", name)
	}
	// Append-only directory: a name, once registered, is immutable.
	if st.GameRegistered(name) {
		return nil, fmt.Errorf("game %q already registered", name)
	}
	st.RegisteredGames = append(st.RegisteredGames, name)
	st.Games[name] = &state.Game{
		Name:   name,
		Config: gameDefaults(name),
	}
	return okEvent("GameRegistered", map[string]string{
		"name": name,
	}), nil
}

func masterSetActiveGame(st *state.State, msg codec.MasterSetActiveGameTx) (*abci.ExecTxResult, error) {
	name := msg.Name
	if !st.GameRegistered(name) {
		return nil, fmt.Errorf("game %q not registered", name)
	}
	if st.ActiveGame != "" && st.ActiveGame != name {
		prev := st.Games[st.ActiveGame]
		if prev != nil && prev.Unfinished() {
			return nil, fmt.Errorf("active game %q has unfinished instances", st.ActiveGame)
		}
	}
	st.ActiveGame = name
	return okEvent("ActiveGameSet", map[string]string{
		"name": name,
	}), nil
}

// playerEliminated is the registry entry point a game instance notifies when
// it removes a player. Appends to the global elimination order and writes the
// player's final placement exactly once.
func playerEliminated(st *state.State, addr string) (uint64, error) {
	p, ok := st.Players[addr]
	if !ok {
		return 0, fmt.Errorf("%w: %s", errPlayerNotRegistered, addr)
	}
	if !p.Active {
		return 0, fmt.Errorf("%w: %s", errPlayerNotActive, addr)
	}
	if uint64(len(st.EliminationOrder)) >= uint64(len(st.Players)) {
		return 0, fmt.Errorf("invariant: elimination order full (%d entries, %d players)",
			len(st.EliminationOrder), len(st.Players))
	}
	p.Active = false
	st.EliminationOrder = append(st.EliminationOrder, addr)
	placement := uint64(len(st.Players)) - uint64(len(st.EliminationOrder)) + 1
	p.Placement = placement
	return placement, nil
}

// registryNotificationFailure reports whether err is in the class of
// downstream-notification failures an instance may swallow.
func registryNotificationFailure(err error) bool {
	return errors.Is(err, errPlayerNotActive) || errors.Is(err, errPlayerNotRegistered)
}

func masterReconcile(st *state.State) (*abci.ExecTxResult, error) {
	res := okEvent("ReconcileRun", map[string]string{
		"pending": fmt.Sprintf("%d", len(st.UnreconciledEliminations)),
	})
	remaining := st.UnreconciledEliminations[:0]
	for _, addr := range st.UnreconciledEliminations {
		p, ok := st.Players[addr]
		if ok && !p.Active {
			// Already applied through another path; drop the stale entry.
			res.Events = append(res.Events, event("EliminationReconciled", map[string]string{
				"player": addr,
				"status": "already-applied",
			}))
			continue
		}
		placement, err := playerEliminated(st, addr)
		if err != nil {
			if registryNotificationFailure(err) {
				// Still not applicable; keep it queued.
				remaining = append(remaining, addr)
				continue
			}
			return nil, err
		}
		res.Events = append(res.Events, event("EliminationReconciled", map[string]string{
			"player":    addr,
			"placement": fmt.Sprintf("%d", placement),
			"status":    "applied",
		}))
	}
	st.UnreconciledEliminations = remaining
	if len(st.UnreconciledEliminations) == 0 {
		st.UnreconciledEliminations = nil
	}
	return res, nil
}
