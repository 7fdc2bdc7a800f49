package state

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// PoolAccount is the bank account registration fees are escrowed into.
const PoolAccount = "pool"

// Params are the chain-level tournament parameters, set at genesis.
type Params struct {
	Owner            string `json:"owner"`
	RegistrationFee  uint64 `json:"registrationFee"`
	MaxRegistrations uint64 `json:"maxRegistrations"`
	PointsRate       uint64 `json:"pointsRate"`
	ReferralBonus    uint64 `json:"referralBonus,omitempty"`
}

// Player is the registry-scoped record for one registered address.
type Player struct {
	Address string `json:"address"`
	Number  uint64 `json:"number"` // stable, 0-based, assigned at registration
	Active  bool   `json:"active"`
	// Placement is written exactly once when the player is eliminated.
	// 0 means "not yet placed"; the last survivor keeps 0 (implicit rank 1).
	Placement uint64 `json:"placement,omitempty"`
}

type State struct {
	Height int64 `json:"height"`

	Params Params `json:"params"`

	Accounts    map[string]uint64 `json:"accounts"`
	AccountKeys map[string][]byte `json:"accountKeys,omitempty"` // addr -> ed25519 pubkey (32 bytes)
	NonceMax    map[string]uint64 `json:"nonceMax,omitempty"`    // signer -> last accepted tx.nonce
	Points      map[string]uint64 `json:"points,omitempty"`

	RegistrationOpen bool               `json:"registrationOpen"`
	Players          map[string]*Player `json:"players"`
	NextPlayerNumber uint64             `json:"nextPlayerNumber"`

	// EliminationOrder is the cross-game elimination sequence; placement is
	// derived from its length at append time.
	EliminationOrder []string `json:"eliminationOrder,omitempty"`
	// UnreconciledEliminations holds addresses whose instance-side removal
	// committed but whose registry-side apply failed; master/reconcile drains it.
	UnreconciledEliminations []string `json:"unreconciledEliminations,omitempty"`

	// RegisteredGames is the append-only game-type directory, in registration order.
	RegisteredGames []string         `json:"registeredGames,omitempty"`
	ActiveGame      string           `json:"activeGame,omitempty"`
	Games           map[string]*Game `json:"games,omitempty"`
}

func NewState() *State {
	return &State{
		Height:           0,
		Accounts:         map[string]uint64{},
		AccountKeys:      map[string][]byte{},
		NonceMax:         map[string]uint64{},
		Points:           map[string]uint64{},
		RegistrationOpen: true,
		Players:          map[string]*Player{},
		Games:            map[string]*Game{},
	}
}

func Load(home string) (*State, error) {
	path := filepath.Join(home, "state.json")
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewState(), nil
		}
		return nil, fmt.Errorf("read state: %w", err)
	}
	var st State
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	st.normalize()
	return &st, nil
}

func (s *State) Save(home string) error {
	if err := os.MkdirAll(home, 0o755); err != nil {
		return fmt.Errorf("mkdir home: %w", err)
	}
	path := filepath.Join(home, "state.json")
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return nil
}

func (s *State) normalize() {
	if s.Accounts == nil {
		s.Accounts = map[string]uint64{}
	}
	if s.AccountKeys == nil {
		s.AccountKeys = map[string][]byte{}
	}
	if s.NonceMax == nil {
		s.NonceMax = map[string]uint64{}
	}
	if s.Points == nil {
		s.Points = map[string]uint64{}
	}
	if s.Players == nil {
		s.Players = map[string]*Player{}
	}
	if s.Games == nil {
		s.Games = map[string]*Game{}
	}
	for _, g := range s.Games {
		for _, in := range g.Instances {
			in.rebuildIndex()
		}
	}
}

// Clone returns a deep copy of state suitable for staged tx execution.
func (s *State) Clone() (*State, error) {
	if s == nil {
		return nil, fmt.Errorf("state is nil")
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode state clone: %w", err)
	}
	var out State
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode state clone: %w", err)
	}
	out.normalize()
	return &out, nil
}

func (s *State) AppHash() []byte {
	// Deterministic JSON hash: marshal with stable key ordering by serializing
	// a normalized view.
	//
	// Note: encoding/json does NOT guarantee map key order, so we manually
	// normalize maps into slices.
	type accountKV struct {
		Addr    string `json:"addr"`
		Balance uint64 `json:"balance"`
	}
	type accountKeyKV struct {
		Addr   string `json:"addr"`
		PubKey []byte `json:"pubKey"`
	}
	type nonceKV struct {
		Signer string `json:"signer"`
		Nonce  uint64 `json:"nonce"`
	}
	type pointsKV struct {
		Addr   string `json:"addr"`
		Points uint64 `json:"points"`
	}
	type playerKV struct {
		Addr   string  `json:"addr"`
		Player *Player `json:"player"`
	}
	type gameKV struct {
		Name string `json:"name"`
		Game *Game  `json:"game"`
	}

	accounts := make([]accountKV, 0, len(s.Accounts))
	for k, v := range s.Accounts {
		accounts = append(accounts, accountKV{Addr: k, Balance: v})
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].Addr < accounts[j].Addr })

	accountKeys := make([]accountKeyKV, 0, len(s.AccountKeys))
	for k, v := range s.AccountKeys {
		accountKeys = append(accountKeys, accountKeyKV{Addr: k, PubKey: v})
	}
	sort.Slice(accountKeys, func(i, j int) bool { return accountKeys[i].Addr < accountKeys[j].Addr })

	nonces := make([]nonceKV, 0, len(s.NonceMax))
	for k, v := range s.NonceMax {
		nonces = append(nonces, nonceKV{Signer: k, Nonce: v})
	}
	sort.Slice(nonces, func(i, j int) bool { return nonces[i].Signer < nonces[j].Signer })

	points := make([]pointsKV, 0, len(s.Points))
	for k, v := range s.Points {
		points = append(points, pointsKV{Addr: k, Points: v})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Addr < points[j].Addr })

	players := make([]playerKV, 0, len(s.Players))
	for k, v := range s.Players {
		players = append(players, playerKV{Addr: k, Player: v})
	}
	sort.Slice(players, func(i, j int) bool { return players[i].Addr < players[j].Addr })

	games := make([]gameKV, 0, len(s.Games))
	for name, g := range s.Games {
		games = append(games, gameKV{Name: name, Game: g})
	}
	sort.Slice(games, func(i, j int) bool { return games[i].Name < games[j].Name })

	normalized := struct {
		Height           int64          `json:"height"`
		Params           Params         `json:"params"`
		Accounts         []accountKV    `json:"accounts"`
		AccountKeys      []accountKeyKV `json:"accountKeys,omitempty"`
		NonceMax         []nonceKV      `json:"nonceMax,omitempty"`
		Points           []pointsKV     `json:"points,omitempty"`
		RegistrationOpen bool           `json:"registrationOpen"`
		Players          []playerKV     `json:"players"`
		NextPlayerNumber uint64         `json:"nextPlayerNumber"`
		EliminationOrder []string       `json:"eliminationOrder,omitempty"`
		Unreconciled     []string       `json:"unreconciledEliminations,omitempty"`
		RegisteredGames  []string       `json:"registeredGames,omitempty"`
		ActiveGame       string         `json:"activeGame,omitempty"`
		Games            []gameKV       `json:"games,omitempty"`
	}{
		Height:           s.Height,
		Params:           s.Params,
		Accounts:         accounts,
		AccountKeys:      accountKeys,
		NonceMax:         nonces,
		Points:           points,
		RegistrationOpen: s.RegistrationOpen,
		Players:          players,
		NextPlayerNumber: s.NextPlayerNumber,
		EliminationOrder: s.EliminationOrder,
		Unreconciled:     s.UnreconciledEliminations,
		RegisteredGames:  s.RegisteredGames,
		ActiveGame:       s.ActiveGame,
		Games:            games,
	}

	b, _ := json.Marshal(normalized)
	sum := sha256.Sum256(b)
	return sum[:]
}

// ---- Bank ----

func (s *State) Balance(addr string) uint64 {
	return s.Accounts[addr]
}

func (s *State) Credit(addr string, amount uint64) error {
	bal := s.Accounts[addr]
	if bal > ^uint64(0)-amount {
		return fmt.Errorf("balance overflow: have=%d add=%d", bal, amount)
	}
	s.Accounts[addr] = bal + amount
	return nil
}

func (s *State) Debit(addr string, amount uint64) error {
	bal := s.Accounts[addr]
	if bal < amount {
		return fmt.Errorf("insufficient funds: have=%d need=%d", bal, amount)
	}
	s.Accounts[addr] = bal - amount
	return nil
}

// ---- Points ----

func (s *State) CreditPoints(addr string, amount uint64) error {
	p := s.Points[addr]
	if p > ^uint64(0)-amount {
		return fmt.Errorf("points overflow: have=%d add=%d", p, amount)
	}
	s.Points[addr] = p + amount
	return nil
}

// ---- Registry roster ----

// ActiveRoster returns the still-active players in playerNumber order.
func (s *State) ActiveRoster() []*Player {
	out := make([]*Player, 0, len(s.Players))
	for _, p := range s.Players {
		if p.Active {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

func (s *State) ActiveCount() int {
	n := 0
	for _, p := range s.Players {
		if p.Active {
			n++
		}
	}
	return n
}

func (s *State) GameRegistered(name string) bool {
	for _, n := range s.RegisteredGames {
		if n == name {
			return true
		}
	}
	return false
}
