package app

import (
	"fmt"

	abci "github.com/cometbft/cometbft/abci/types"
	"github.com/rs/zerolog"

	"alicechain/internal/codec"
	"alicechain/internal/commitment"
	"alicechain/internal/partition"
	"alicechain/internal/state"
)

// Game type names, also the tx-facing identifiers.
const (
	gameThrees      = "threes"
	gameBidding     = "bidding"
	gameDescend     = "descend"
	gameEquilibrium = "equilibrium"
	gameDoors       = "doors"
)

func knownGame(name string) bool {
	switch name {
	case gameThrees, gameBidding, gameDescend, gameEquilibrium, gameDoors:
		return true
	}
	return false
}

// usesCommitReveal reports whether the game runs commit/reveal rounds;
// equilibrium and doors run a single timed phase per round instead.
func usesCommitReveal(name string) bool {
	switch name {
	case gameThrees, gameBidding, gameDescend:
		return true
	}
	return false
}

func activeGameByName(st *state.State, name string) (*state.Game, error) {
	if !knownGame(name) {
		return nil, fmt.Errorf("unknown game type %q", name)
	}
	g, ok := st.Games[name]
	if !ok {
		return nil, fmt.Errorf("game %q not registered", name)
	}
	if st.ActiveGame != name {
		return nil, fmt.Errorf("game %q is not the active game", name)
	}
	return g, nil
}

func instanceOf(g *state.Game, addr string) (*state.Instance, error) {
	for _, in := range g.Instances {
		if in.HasPlayer(addr) {
			return in, nil
		}
	}
	return nil, fmt.Errorf("player %s not in any %s instance", addr, g.Name)
}

// ---- initialize / start ----

func gameInitialize(st *state.State, msg codec.GameInitializeTx) (*abci.ExecTxResult, error) {
	g, err := activeGameByName(st, msg.Name)
	if err != nil {
		return nil, err
	}
	// The roster must be locked before it is partitioned: a registration
	// landing after shards exist would skew every later placement rank.
	if st.RegistrationOpen {
		return nil, fmt.Errorf("registration still open")
	}
	if len(g.Instances) > 0 && g.Unfinished() {
		return nil, fmt.Errorf("game %q has unfinished instances", g.Name)
	}

	cfg := gameDefaults(g.Name)
	if msg.MaxShardSize != 0 {
		if g.Name == gameThrees && msg.MaxShardSize != threesShardSize {
			return nil, fmt.Errorf("threes shards are fixed at %d players", threesShardSize)
		}
		cfg.MaxShardSize = msg.MaxShardSize
	}
	if msg.CommitSecs != 0 {
		cfg.CommitSecs = msg.CommitSecs
	}
	if msg.RevealSecs != 0 {
		cfg.RevealSecs = msg.RevealSecs
	}
	if msg.RoundSecs != 0 {
		cfg.RoundSecs = msg.RoundSecs
	}

	roster := st.ActiveRoster()
	if len(roster) == 0 {
		return nil, fmt.Errorf("no active players to partition")
	}
	addrs := make([]string, len(roster))
	numbers := make([]uint64, len(roster))
	for i, p := range roster {
		addrs[i] = p.Address
		numbers[i] = p.Number
	}

	var shards []partition.Shard
	if g.Name == gameThrees {
		shards, err = partition.SplitExact(addrs, numbers, threesShardSize)
	} else {
		shards, err = partition.Split(addrs, numbers, int(cfg.MaxShardSize))
	}
	if err != nil {
		return nil, err
	}

	// No partial shards: nothing below may fail after instance creation starts,
	// so pre-build slots and only then attach.
	instances := make([]*state.Instance, 0, len(shards))
	for i, sh := range shards {
		in := state.NewInstance(uint64(i))
		for j, addr := range sh.Addresses {
			if err := in.AddSlot(addr, sh.Numbers[j]); err != nil {
				return nil, err
			}
		}
		initSlots(g.Name, cfg, in)
		instances = append(instances, in)
	}

	g.Config = cfg
	g.Instances = instances

	return okEvent("GameInitialized", map[string]string{
		"game":      g.Name,
		"players":   fmt.Sprintf("%d", len(roster)),
		"instances": fmt.Sprintf("%d", len(instances)),
	}), nil
}

// initSlots applies the per-variant starting state to a fresh shard.
func initSlots(name string, cfg state.GameConfig, in *state.Instance) {
	switch name {
	case gameBidding:
		for _, s := range in.Slots {
			s.Points = biddingInitialStake
		}
	case gameEquilibrium:
		teams := cfg.NumTeams
		if teams == 0 {
			teams = equilibriumNumTeams
		}
		for i, s := range in.Slots {
			s.Team = uint32(i)%teams + 1
		}
	}
}

func gameStart(st *state.State, msg codec.GameStartTx, nowUnix int64) (*abci.ExecTxResult, error) {
	g, err := activeGameByName(st, msg.Name)
	if err != nil {
		return nil, err
	}
	if len(g.Instances) == 0 {
		return nil, fmt.Errorf("game %q not initialized", g.Name)
	}

	for _, in := range g.Instances {
		if in.State != state.StatePregame {
			return nil, fmt.Errorf("instance %d already started", in.ID)
		}
	}

	res := okEvent("GameStarted", map[string]string{
		"game":      g.Name,
		"instances": fmt.Sprintf("%d", len(g.Instances)),
	})
	started := 0
	for _, in := range g.Instances {
		if in.ActiveCount() == 0 {
			// Cannot start an empty shard; report and leave it for game/end.
			res.Events = append(res.Events, event("InstanceStartFailed", map[string]string{
				"game":     g.Name,
				"instance": fmt.Sprintf("%d", in.ID),
				"reason":   "no active players",
			}))
			continue
		}
		in.State = state.StateActive
		in.Round = 1
		in.GameStartTime = nowUnix
		if usesCommitReveal(g.Name) {
			in.Phase = state.PhaseCommit
			if err := setCommitDeadline(in, g.Config, nowUnix); err != nil {
				return nil, err
			}
		} else {
			in.Phase = state.PhaseNone
			if err := setTimedRoundDeadline(in, g.Name, g.Config, nowUnix); err != nil {
				return nil, err
			}
		}
		started++
		res.Events = append(res.Events, event("RoundStarted", map[string]string{
			"game":     g.Name,
			"instance": fmt.Sprintf("%d", in.ID),
			"round":    "1",
			"deadline": fmt.Sprintf("%d", in.RoundEndTime),
		}))
	}
	if started == 0 {
		return nil, fmt.Errorf("no instance could start")
	}
	return res, nil
}

// ---- commitment ledger ----

func gameCommit(st *state.State, msg codec.GameCommitTx, nowUnix int64) (*abci.ExecTxResult, error) {
	g, err := activeGameByName(st, msg.Name)
	if err != nil {
		return nil, err
	}
	if !usesCommitReveal(g.Name) {
		return nil, fmt.Errorf("game %q has no commit phase", g.Name)
	}
	in, err := instanceOf(g, msg.Player)
	if err != nil {
		return nil, err
	}
	if in.State != state.StateActive {
		return nil, fmt.Errorf("instance %d not active (state=%s)", in.ID, in.State)
	}
	if in.Phase != state.PhaseCommit {
		return nil, fmt.Errorf("instance %d not in commit phase", in.ID)
	}
	if nowUnix > in.RoundEndTime {
		return nil, fmt.Errorf("commit deadline passed")
	}
	s := in.SlotOf(msg.Player)
	if !s.Active {
		return nil, fmt.Errorf("player %s not active", msg.Player)
	}
	if s.Exempt {
		return nil, fmt.Errorf("player %s exempt from this round", msg.Player)
	}
	if s.Committed {
		return nil, fmt.Errorf("player %s already committed this round", msg.Player)
	}
	hash, err := commitment.DecodeHash(msg.Hash)
	if err != nil {
		return nil, err
	}

	s.Commitment = hash
	s.Committed = true
	in.CommitCount++

	res := okEvent("CommitStored", map[string]string{
		"game":     g.Name,
		"instance": fmt.Sprintf("%d", in.ID),
		"player":   msg.Player,
		"round":    fmt.Sprintf("%d", in.Round),
		"commits":  fmt.Sprintf("%d", in.CommitCount),
	})

	// Last required commit advances the phase immediately; no sweep needed.
	if in.CommitCount == in.RequiredParticipants() {
		if err := enterRevealPhase(in, g.Config, nowUnix, &res.Events, g.Name); err != nil {
			return nil, err
		}
	}
	if err := in.CheckInvariants(); err != nil {
		return nil, err
	}
	return res, nil
}

func enterRevealPhase(in *state.Instance, cfg state.GameConfig, nowUnix int64, evs *[]abci.Event, game string) error {
	in.Phase = state.PhaseReveal
	if err := setRevealDeadline(in, cfg, nowUnix); err != nil {
		return err
	}
	*evs = append(*evs, event("PhaseAdvanced", map[string]string{
		"game":     game,
		"instance": fmt.Sprintf("%d", in.ID),
		"round":    fmt.Sprintf("%d", in.Round),
		"phase":    string(state.PhaseReveal),
		"deadline": fmt.Sprintf("%d", in.RoundEndTime),
	}))
	return nil
}

func gameReveal(st *state.State, msg codec.GameRevealTx, nowUnix int64) (*abci.ExecTxResult, error) {
	g, err := activeGameByName(st, msg.Name)
	if err != nil {
		return nil, err
	}
	if !usesCommitReveal(g.Name) {
		return nil, fmt.Errorf("game %q has no reveal phase", g.Name)
	}
	in, err := instanceOf(g, msg.Player)
	if err != nil {
		return nil, err
	}
	if in.State != state.StateActive {
		return nil, fmt.Errorf("instance %d not active (state=%s)", in.ID, in.State)
	}

	res := okEvent("RevealStored", map[string]string{
		"game":     g.Name,
		"instance": fmt.Sprintf("%d", in.ID),
		"player":   msg.Player,
		"round":    fmt.Sprintf("%d", in.Round),
		"value":    fmt.Sprintf("%d", msg.Value),
	})

	if in.Phase == state.PhaseCommit {
		if nowUnix <= in.RoundEndTime {
			return nil, fmt.Errorf("commit phase in progress")
		}
		// The commit deadline elapsed but no sweep has run; apply the expiry
		// handling here before proceeding.
		if err := handleCommitExpiry(st, g, in, nowUnix, &res.Events); err != nil {
			return nil, err
		}
		if in.State == state.StateCompleted {
			return nil, fmt.Errorf("instance %d completed at commit expiry", in.ID)
		}
	}
	if in.Phase != state.PhaseReveal {
		return nil, fmt.Errorf("instance %d not in reveal phase", in.ID)
	}

	s := in.SlotOf(msg.Player)
	if !s.Active {
		return nil, fmt.Errorf("player %s not active", msg.Player)
	}
	if !s.Committed {
		return nil, fmt.Errorf("player %s did not commit this round", msg.Player)
	}
	if s.Revealed {
		return nil, fmt.Errorf("player %s already revealed this round", msg.Player)
	}
	if err := validateRevealValue(g.Name, msg.Value); err != nil {
		return nil, err
	}
	salt, err := commitment.DecodeSalt(msg.Salt)
	if err != nil {
		return nil, err
	}
	ok, err := commitment.Verify(s.Commitment, msg.Value, salt, msg.Player)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("commitment mismatch for player %s", msg.Player)
	}

	s.Value = msg.Value
	s.Revealed = true
	in.RevealCount++

	// The last required reveal, or a reveal landing past the deadline,
	// resolves the round synchronously in this call.
	if in.RevealCount == in.RequiredParticipants() || nowUnix > in.RoundEndTime {
		if err := resolveRound(st, g, in, nowUnix, false, &res.Events); err != nil {
			return nil, err
		}
	}
	if err := in.CheckInvariants(); err != nil {
		return nil, err
	}
	return res, nil
}

func validateRevealValue(name string, v uint64) error {
	switch name {
	case gameThrees:
		if v < 1 || v > 3 {
			return fmt.Errorf("value out of range: threes choices are 1..3")
		}
	case gameDescend:
		if v < descendMinMove || v > descendMaxMove {
			return fmt.Errorf("value out of range: descend moves are %d..%d", descendMinMove, descendMaxMove)
		}
	case gameBidding:
		if v > biddingMaxBid {
			return fmt.Errorf("value out of range: bids are capped at %d", uint64(biddingMaxBid))
		}
	}
	return nil
}

// ---- eliminations ----

// eliminate removes addr from the instance and notifies the registry. The
// registry call is best-effort: a notification-class failure is queued for
// reconciliation and never rolls back the instance's own removal.
func eliminate(st *state.State, g *state.Game, in *state.Instance, addr, reason string, evs *[]abci.Event) error {
	if err := in.Remove(addr); err != nil {
		return err
	}
	attrs := map[string]string{
		"game":     g.Name,
		"instance": fmt.Sprintf("%d", in.ID),
		"player":   addr,
		"reason":   reason,
	}
	placement, err := playerEliminated(st, addr)
	if err != nil {
		if !registryNotificationFailure(err) {
			return err
		}
		st.UnreconciledEliminations = append(st.UnreconciledEliminations, addr)
		*evs = append(*evs, event("EliminationUnreconciled", map[string]string{
			"player": addr,
			"error":  err.Error(),
		}))
		*evs = append(*evs, event("PlayerEliminated", attrs))
		return nil
	}
	attrs["placement"] = fmt.Sprintf("%d", placement)
	*evs = append(*evs, event("PlayerEliminated", attrs))
	return nil
}

// ---- round resolution ----

// handleCommitExpiry applies the commit deadline: everyone who owed a commit
// and did not produce one is eliminated, then the instance either advances to
// reveal (>=2 players remaining) or completes.
func handleCommitExpiry(st *state.State, g *state.Game, in *state.Instance, nowUnix int64, evs *[]abci.Event) error {
	for _, s := range in.ActiveSlots() {
		if s.Exempt || s.Committed {
			continue
		}
		if err := eliminate(st, g, in, s.Address, "no-commit", evs); err != nil {
			return err
		}
	}
	if in.ActiveCount() < 2 {
		completeInstance(g, in, nowUnix, evs)
		return in.CheckInvariants()
	}
	if err := enterRevealPhase(in, g.Config, nowUnix, evs, g.Name); err != nil {
		return err
	}
	// All remaining players may be exempt (descend with everyone parked at
	// the terminal level): nothing to reveal, resolve immediately.
	if in.RequiredParticipants() == 0 {
		return resolveRound(st, g, in, nowUnix, false, evs)
	}
	return in.CheckInvariants()
}

// resolveRound runs the common preamble (non-revealers are always eliminated)
// and the per-variant outcome rule, then either completes the instance or
// starts the next round. force completes regardless of the variant's
// continuation predicate (game/end).
func resolveRound(st *state.State, g *state.Game, in *state.Instance, nowUnix int64, force bool, evs *[]abci.Event) error {
	for _, s := range in.ActiveSlots() {
		if s.Exempt || s.Revealed {
			continue
		}
		if err := eliminate(st, g, in, s.Address, "no-reveal", evs); err != nil {
			return err
		}
	}

	done, err := resolveOutcome(st, g, in, evs)
	if err != nil {
		return err
	}
	if done || force {
		completeInstance(g, in, nowUnix, evs)
		return in.CheckInvariants()
	}

	// Stall point between rounds: observable only if the next round cannot
	// be opened.
	in.State = state.StateWaiting
	if err := startNextRound(g, in, nowUnix, evs); err != nil {
		return err
	}
	return in.CheckInvariants()
}

func resolveOutcome(st *state.State, g *state.Game, in *state.Instance, evs *[]abci.Event) (bool, error) {
	switch g.Name {
	case gameThrees:
		return threesResolve(st, g, in, evs)
	case gameBidding:
		return biddingResolve(st, g, in, evs)
	case gameDescend:
		return descendResolve(st, g, in, evs)
	case gameEquilibrium:
		return equilibriumResolve(st, g, in, evs)
	case gameDoors:
		return doorsResolve(st, g, in, evs)
	default:
		return false, fmt.Errorf("unknown game type %q", g.Name)
	}
}

func startNextRound(g *state.Game, in *state.Instance, nowUnix int64, evs *[]abci.Event) error {
	in.ResetRound()
	in.Round++
	in.State = state.StateActive
	if usesCommitReveal(g.Name) {
		in.Phase = state.PhaseCommit
		if err := setCommitDeadline(in, g.Config, nowUnix); err != nil {
			return err
		}
	} else {
		in.Phase = state.PhaseNone
		if err := setTimedRoundDeadline(in, g.Name, g.Config, nowUnix); err != nil {
			return err
		}
	}
	*evs = append(*evs, event("RoundStarted", map[string]string{
		"game":     g.Name,
		"instance": fmt.Sprintf("%d", in.ID),
		"round":    fmt.Sprintf("%d", in.Round),
		"deadline": fmt.Sprintf("%d", in.RoundEndTime),
	}))
	return nil
}

func completeInstance(g *state.Game, in *state.Instance, nowUnix int64, evs *[]abci.Event) {
	in.State = state.StateCompleted
	in.Phase = state.PhaseNone
	in.RoundEndTime = 0
	in.GameEndTime = nowUnix
	*evs = append(*evs, event("InstanceCompleted", map[string]string{
		"game":      g.Name,
		"instance":  fmt.Sprintf("%d", in.ID),
		"survivors": fmt.Sprintf("%d", in.ActiveCount()),
	}))
}

// ---- liveness sweep / force end ----

// gameSweep walks every instance and applies deadline expiry. Each instance
// is resolved independently: one instance's failure is recorded and must not
// block the rest.
func gameSweep(log zerolog.Logger, st *state.State, name string, nowUnix int64) (*abci.ExecTxResult, error) {
	if !knownGame(name) {
		return nil, fmt.Errorf("unknown game type %q", name)
	}
	g, ok := st.Games[name]
	if !ok {
		return nil, fmt.Errorf("game %q not registered", name)
	}

	unfinishedBefore := g.Unfinished()
	res := okEvent("SweepRun", map[string]string{
		"game":      g.Name,
		"instances": fmt.Sprintf("%d", len(g.Instances)),
	})
	for _, in := range g.Instances {
		if err := sweepInstance(st, g, in, nowUnix, &res.Events); err != nil {
			log.Error().Err(err).Str("game", g.Name).Uint64("instance", in.ID).Msg("sweep failed for instance")
			res.Events = append(res.Events, event("InstanceSweepFailed", map[string]string{
				"game":     g.Name,
				"instance": fmt.Sprintf("%d", in.ID),
				"error":    err.Error(),
			}))
		}
	}
	if unfinishedBefore && !g.Unfinished() {
		res.Events = append(res.Events, event("GameCompleted", map[string]string{
			"game": g.Name,
		}))
	}
	return res, nil
}

func sweepInstance(st *state.State, g *state.Game, in *state.Instance, nowUnix int64, evs *[]abci.Event) error {
	switch in.State {
	case state.StateCompleted, state.StatePregame:
		// Idempotent no-op.
		return nil
	case state.StateWaiting:
		// Stalled between rounds; try to open the next one.
		return startNextRound(g, in, nowUnix, evs)
	case state.StateActive:
		if in.RoundEndTime == 0 {
			return fmt.Errorf("invariant: active instance %d without deadline", in.ID)
		}
		if nowUnix <= in.RoundEndTime {
			return nil
		}
		switch in.Phase {
		case state.PhaseCommit:
			return handleCommitExpiry(st, g, in, nowUnix, evs)
		case state.PhaseReveal:
			return resolveRound(st, g, in, nowUnix, false, evs)
		default:
			return resolveTimedRound(st, g, in, nowUnix, false, evs)
		}
	default:
		return fmt.Errorf("invariant: instance %d in unknown state %q", in.ID, in.State)
	}
}

// resolveTimedRound resolves a deadline-only round (equilibrium, doors).
func resolveTimedRound(st *state.State, g *state.Game, in *state.Instance, nowUnix int64, force bool, evs *[]abci.Event) error {
	done, err := resolveOutcome(st, g, in, evs)
	if err != nil {
		return err
	}
	if done || force {
		completeInstance(g, in, nowUnix, evs)
		return in.CheckInvariants()
	}
	in.State = state.StateWaiting
	if err := startNextRound(g, in, nowUnix, evs); err != nil {
		return err
	}
	return in.CheckInvariants()
}

// gameEnd force-resolves every unfinished instance as if its deadline had
// passed, never starting another round.
func gameEnd(st *state.State, name string, nowUnix int64) (*abci.ExecTxResult, error) {
	if !knownGame(name) {
		return nil, fmt.Errorf("unknown game type %q", name)
	}
	g, ok := st.Games[name]
	if !ok {
		return nil, fmt.Errorf("game %q not registered", name)
	}

	unfinishedBefore := g.Unfinished()
	if !unfinishedBefore {
		return nil, fmt.Errorf("game %q has no unfinished instances", name)
	}
	res := okEvent("GameEnded", map[string]string{
		"game": g.Name,
	})
	for _, in := range g.Instances {
		switch in.State {
		case state.StateCompleted:
			continue
		case state.StatePregame, state.StateWaiting:
			completeInstance(g, in, nowUnix, &res.Events)
		case state.StateActive:
			switch in.Phase {
			case state.PhaseCommit:
				// Committers survive a force-end; only the silent are dropped.
				for _, s := range in.ActiveSlots() {
					if s.Exempt || s.Committed {
						continue
					}
					if err := eliminate(st, g, in, s.Address, "no-commit", &res.Events); err != nil {
						return nil, err
					}
				}
				completeInstance(g, in, nowUnix, &res.Events)
			case state.PhaseReveal:
				if err := resolveRound(st, g, in, nowUnix, true, &res.Events); err != nil {
					return nil, err
				}
			default:
				if err := resolveTimedRound(st, g, in, nowUnix, true, &res.Events); err != nil {
					return nil, err
				}
			}
		}
		if err := in.CheckInvariants(); err != nil {
			return nil, err
		}
	}
	res.Events = append(res.Events, event("GameCompleted", map[string]string{
		"game": g.Name,
	}))
	return res, nil
}
