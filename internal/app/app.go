package app

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	abci "github.com/cometbft/cometbft/abci/types"
	"github.com/rs/zerolog"

	"alicechain/internal/codec"
	"alicechain/internal/state"
)

const (
	AppVersion uint64 = 1
)

type AliceApp struct {
	*abci.BaseApplication

	home string
	log  zerolog.Logger

	mu       sync.Mutex
	st       *state.State
	lastHash []byte
}

func New(home string, log zerolog.Logger) (*AliceApp, error) {
	appHome := filepath.Join(home, "app")
	st, err := state.Load(appHome)
	if err != nil {
		return nil, err
	}
	a := &AliceApp{
		BaseApplication: abci.NewBaseApplication(),
		home:            home,
		log:             log,
		st:              st,
		lastHash:        st.AppHash(),
	}
	return a, nil
}

func (a *AliceApp) Info(_ context.Context, _ *abci.InfoRequest) (*abci.InfoResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	return &abci.InfoResponse{
		Data:             "alicechain (v0)",
		Version:          "v0",
		AppVersion:       AppVersion,
		LastBlockHeight:  a.st.Height,
		LastBlockAppHash: a.lastHash,
	}, nil
}

func (a *AliceApp) CheckTx(_ context.Context, req *abci.CheckTxRequest) (*abci.CheckTxResponse, error) {
	_, err := codec.DecodeTxEnvelope(req.Tx)
	if err != nil {
		return &abci.CheckTxResponse{Code: 1, Log: err.Error()}, nil
	}
	// v0: only structural validation; auth is checked at delivery.
	return &abci.CheckTxResponse{Code: 0}, nil
}

// Genesis is the app_state JSON consumed by InitChain.
type Genesis struct {
	Owner            string `json:"owner,omitempty"`
	RegistrationFee  uint64 `json:"registrationFee,omitempty"`
	MaxRegistrations uint64 `json:"maxRegistrations,omitempty"`
	PointsRate       uint64 `json:"pointsRate,omitempty"`
	ReferralBonus    uint64 `json:"referralBonus,omitempty"`
}

func (a *AliceApp) InitChain(_ context.Context, req *abci.InitChainRequest) (*abci.InitChainResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(req.AppStateBytes) > 0 {
		var gen Genesis
		if err := json.Unmarshal(req.AppStateBytes, &gen); err != nil {
			return nil, fmt.Errorf("decode genesis app_state: %w", err)
		}
		applyGenesis(a.st, gen)
	}
	a.lastHash = a.st.AppHash()
	return &abci.InitChainResponse{AppHash: a.lastHash}, nil
}

func applyGenesis(st *state.State, gen Genesis) {
	if gen.Owner != "" {
		st.Params.Owner = gen.Owner
	}
	if gen.RegistrationFee != 0 {
		st.Params.RegistrationFee = gen.RegistrationFee
	}
	if gen.MaxRegistrations != 0 {
		st.Params.MaxRegistrations = gen.MaxRegistrations
	}
	if gen.PointsRate != 0 {
		st.Params.PointsRate = gen.PointsRate
	}
	if gen.ReferralBonus != 0 {
		st.Params.ReferralBonus = gen.ReferralBonus
	}
}

func (a *AliceApp) FinalizeBlock(_ context.Context, req *abci.FinalizeBlockRequest) (*abci.FinalizeBlockResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.st.Height = req.Height
	nowUnix := req.Time.Unix()

	txResults := make([]*abci.ExecTxResult, 0, len(req.Txs))
	for _, txBytes := range req.Txs {
		res := a.deliverTx(txBytes, req.Height, nowUnix)
		txResults = append(txResults, res)
	}

	a.lastHash = a.st.AppHash()
	a.log.Debug().Int64("height", req.Height).Int("txs", len(req.Txs)).Msg("finalized block")

	return &abci.FinalizeBlockResponse{
		TxResults: txResults,
		AppHash:   a.lastHash,
	}, nil
}

func (a *AliceApp) Commit(_ context.Context, _ *abci.CommitRequest) (*abci.CommitResponse, error) {
	// Persist after each block for devnet durability.
	appHome := filepath.Join(a.home, "app")
	if err := a.st.Save(appHome); err != nil {
		// CometBFT expects Commit to not crash; return error so node halts loudly.
		a.log.Error().Err(err).Msg("state save failed")
		return nil, err
	}
	return &abci.CommitResponse{}, nil
}

func (a *AliceApp) Query(_ context.Context, req *abci.QueryRequest) (*abci.QueryResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	st := a.st
	path := strings.TrimSpace(req.Path)
	switch {
	case path == "/players":
		roster := make([]*state.Player, 0, len(st.Players))
		for _, p := range st.Players {
			roster = append(roster, p)
		}
		sort.Slice(roster, func(i, j int) bool { return roster[i].Number < roster[j].Number })
		b, _ := json.Marshal(roster)
		return &abci.QueryResponse{Code: 0, Value: b, Height: st.Height}, nil

	case strings.HasPrefix(path, "/player/"):
		addr := strings.TrimPrefix(path, "/player/")
		p, ok := st.Players[addr]
		if !ok {
			return &abci.QueryResponse{Code: 1, Log: "player not registered", Height: st.Height}, nil
		}
		b, _ := json.Marshal(p)
		return &abci.QueryResponse{Code: 0, Value: b, Height: st.Height}, nil

	case path == "/placements":
		type placement struct {
			Address   string `json:"address"`
			Placement uint64 `json:"placement"`
		}
		out := make([]placement, 0, len(st.Players))
		for _, p := range st.Players {
			if p.Placement != 0 {
				out = append(out, placement{Address: p.Address, Placement: p.Placement})
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Placement < out[j].Placement })
		b, _ := json.Marshal(out)
		return &abci.QueryResponse{Code: 0, Value: b, Height: st.Height}, nil

	case path == "/eliminations":
		b, _ := json.Marshal(st.EliminationOrder)
		return &abci.QueryResponse{Code: 0, Value: b, Height: st.Height}, nil

	case path == "/games":
		b, _ := json.Marshal(map[string]any{
			"registered": st.RegisteredGames,
			"active":     st.ActiveGame,
		})
		return &abci.QueryResponse{Code: 0, Value: b, Height: st.Height}, nil

	case strings.HasPrefix(path, "/game/"):
		rest := strings.TrimPrefix(path, "/game/")
		name, instancePart, hasInstance := strings.Cut(rest, "/instance/")
		g, ok := st.Games[name]
		if !ok {
			return &abci.QueryResponse{Code: 1, Log: "game not registered", Height: st.Height}, nil
		}
		if !hasInstance {
			b, _ := json.Marshal(g)
			return &abci.QueryResponse{Code: 0, Value: b, Height: st.Height}, nil
		}
		id, err := strconv.ParseUint(instancePart, 10, 64)
		if err != nil {
			return &abci.QueryResponse{Code: 1, Log: "invalid instance id", Height: st.Height}, nil
		}
		for _, in := range g.Instances {
			if in.ID == id {
				b, _ := json.Marshal(in)
				return &abci.QueryResponse{Code: 0, Value: b, Height: st.Height}, nil
			}
		}
		return &abci.QueryResponse{Code: 1, Log: "instance not found", Height: st.Height}, nil

	case strings.HasPrefix(path, "/points/"):
		addr := strings.TrimPrefix(path, "/points/")
		b, _ := json.Marshal(map[string]any{"addr": addr, "points": st.Points[addr]})
		return &abci.QueryResponse{Code: 0, Value: b, Height: st.Height}, nil

	case strings.HasPrefix(path, "/account/"):
		addr := strings.TrimPrefix(path, "/account/")
		b, _ := json.Marshal(map[string]any{"addr": addr, "balance": st.Balance(addr)})
		return &abci.QueryResponse{Code: 0, Value: b, Height: st.Height}, nil

	default:
		return &abci.QueryResponse{Code: 1, Log: "unknown query path", Height: st.Height}, nil
	}
}

func (a *AliceApp) deliverTx(txBytes []byte, height int64, nowUnix int64) *abci.ExecTxResult {
	env, err := codec.DecodeTxEnvelope(txBytes)
	if err != nil {
		return &abci.ExecTxResult{Code: 1, Log: err.Error()}
	}

	res, err := a.routeTx(env, height, nowUnix)
	if err != nil {
		return &abci.ExecTxResult{Code: 1, Log: err.Error()}
	}
	return res
}

func (a *AliceApp) routeTx(env codec.TxEnvelope, height int64, nowUnix int64) (*abci.ExecTxResult, error) {
	st := a.st

	switch env.Type {
	case "bank/mint":
		var msg codec.BankMintTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return nil, fmt.Errorf("bad bank/mint value")
		}
		if msg.To == "" || msg.Amount == 0 {
			return nil, fmt.Errorf("missing to/amount")
		}
		if err := st.Credit(msg.To, msg.Amount); err != nil {
			return nil, err
		}
		return okEvent("BankMinted", map[string]string{
			"to":     msg.To,
			"amount": fmt.Sprintf("%d", msg.Amount),
		}), nil

	case "bank/send":
		var msg codec.BankSendTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return nil, fmt.Errorf("bad bank/send value")
		}
		if msg.From == "" || msg.To == "" || msg.Amount == 0 {
			return nil, fmt.Errorf("missing from/to/amount")
		}
		if err := requireAccountAuth(st, env, msg.From); err != nil {
			return nil, err
		}
		if err := checkAndBumpNonce(st, env); err != nil {
			return nil, err
		}
		// Recipient headroom is checked before the debit so a rejected send
		// leaves the sender untouched. A self-send cannot overflow.
		if msg.To != msg.From && st.Balance(msg.To) > ^uint64(0)-msg.Amount {
			return nil, fmt.Errorf("balance overflow: have=%d add=%d", st.Balance(msg.To), msg.Amount)
		}
		if err := st.Debit(msg.From, msg.Amount); err != nil {
			return nil, err
		}
		if err := st.Credit(msg.To, msg.Amount); err != nil {
			return nil, err
		}
		return okEvent("BankSent", map[string]string{
			"from":   msg.From,
			"to":     msg.To,
			"amount": fmt.Sprintf("%d", msg.Amount),
		}), nil

	case "auth/register_account":
		var msg codec.AuthRegisterAccountTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return nil, fmt.Errorf("bad auth/register_account value")
		}
		if err := requireRegisterAccountAuth(env, msg); err != nil {
			return nil, err
		}
		if err := checkAndBumpNonce(st, env); err != nil {
			return nil, err
		}
		if existing, ok := st.AccountKeys[msg.Account]; ok && len(existing) > 0 {
			return nil, fmt.Errorf("account %q already registered", msg.Account)
		}
		st.AccountKeys[msg.Account] = append([]byte(nil), msg.PubKey...)
		return okEvent("AccountRegistered", map[string]string{
			"account": msg.Account,
		}), nil

	case "master/register_player":
		var msg codec.MasterRegisterPlayerTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return nil, fmt.Errorf("bad master/register_player value")
		}
		if err := requireAccountAuth(st, env, msg.Player); err != nil {
			return nil, err
		}
		if err := checkAndBumpNonce(st, env); err != nil {
			return nil, err
		}
		return masterRegisterPlayer(st, msg)

	case "master/close_registration":
		var msg codec.MasterCloseRegistrationTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return nil, fmt.Errorf("bad master/close_registration value")
		}
		if err := requireOwnerAuth(st, env, msg.Caller); err != nil {
			return nil, err
		}
		if err := checkAndBumpNonce(st, env); err != nil {
			return nil, err
		}
		return masterCloseRegistration(st)

	case "master/register_game":
		var msg codec.MasterRegisterGameTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return nil, fmt.Errorf("bad master/register_game value")
		}
		if err := requireOwnerAuth(st, env, msg.Caller); err != nil {
			return nil, err
		}
		if err := checkAndBumpNonce(st, env); err != nil {
			return nil, err
		}
		return masterRegisterGame(st, msg)

	case "master/set_active_game":
		var msg codec.MasterSetActiveGameTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return nil, fmt.Errorf("bad master/set_active_game value")
		}
		if err := requireOwnerAuth(st, env, msg.Caller); err != nil {
			return nil, err
		}
		if err := checkAndBumpNonce(st, env); err != nil {
			return nil, err
		}
		return masterSetActiveGame(st, msg)

	case "master/reconcile":
		// Permissionless: replaying lost elimination notifications is a
		// liveness operation, like game/sweep.
		return masterReconcile(st)

	case "game/initialize":
		var msg codec.GameInitializeTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return nil, fmt.Errorf("bad game/initialize value")
		}
		if err := requireOwnerAuth(st, env, msg.Caller); err != nil {
			return nil, err
		}
		if err := checkAndBumpNonce(st, env); err != nil {
			return nil, err
		}
		return gameInitialize(st, msg)

	case "game/start":
		var msg codec.GameStartTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return nil, fmt.Errorf("bad game/start value")
		}
		if err := requireOwnerAuth(st, env, msg.Caller); err != nil {
			return nil, err
		}
		if err := checkAndBumpNonce(st, env); err != nil {
			return nil, err
		}
		return gameStart(st, msg, nowUnix)

	case "game/commit":
		var msg codec.GameCommitTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return nil, fmt.Errorf("bad game/commit value")
		}
		if err := requireAccountAuth(st, env, msg.Player); err != nil {
			return nil, err
		}
		if err := checkAndBumpNonce(st, env); err != nil {
			return nil, err
		}
		return gameCommit(st, msg, nowUnix)

	case "game/reveal":
		var msg codec.GameRevealTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return nil, fmt.Errorf("bad game/reveal value")
		}
		if err := requireAccountAuth(st, env, msg.Player); err != nil {
			return nil, err
		}
		if err := checkAndBumpNonce(st, env); err != nil {
			return nil, err
		}
		return gameReveal(st, msg, nowUnix)

	case "game/sweep":
		var msg codec.GameSweepTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return nil, fmt.Errorf("bad game/sweep value")
		}
		// Permissionless liveness sweep.
		return gameSweep(a.log, st, msg.Name, nowUnix)

	case "game/end":
		var msg codec.GameEndTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return nil, fmt.Errorf("bad game/end value")
		}
		if err := requireOwnerAuth(st, env, msg.Caller); err != nil {
			return nil, err
		}
		if err := checkAndBumpNonce(st, env); err != nil {
			return nil, err
		}
		return gameEnd(st, msg.Name, nowUnix)

	case "equilibrium/switch_team":
		var msg codec.EquilibriumSwitchTeamTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return nil, fmt.Errorf("bad equilibrium/switch_team value")
		}
		if err := requireAccountAuth(st, env, msg.Player); err != nil {
			return nil, err
		}
		if err := checkAndBumpNonce(st, env); err != nil {
			return nil, err
		}
		return equilibriumSwitchTeam(st, msg, nowUnix)

	case "doors/open":
		var msg codec.DoorsOpenTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return nil, fmt.Errorf("bad doors/open value")
		}
		if err := requireAccountAuth(st, env, msg.Player); err != nil {
			return nil, err
		}
		if err := checkAndBumpNonce(st, env); err != nil {
			return nil, err
		}
		return doorsOpen(st, msg, height, nowUnix)

	default:
		return nil, fmt.Errorf("unknown tx type: %s", env.Type)
	}
}

func okEvent(typ string, attrs map[string]string) *abci.ExecTxResult {
	ev := abci.Event{Type: typ}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		ev.Attributes = append(ev.Attributes, abci.EventAttribute{Key: k, Value: attrs[k], Index: true})
	}
	return &abci.ExecTxResult{
		Code:   0,
		Events: []abci.Event{ev},
	}
}

func event(typ string, attrs map[string]string) abci.Event {
	ev := abci.Event{Type: typ}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		ev.Attributes = append(ev.Attributes, abci.EventAttribute{Key: k, Value: attrs[k], Index: true})
	}
	return ev
}
