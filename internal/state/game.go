package state

import (
	"fmt"
)

// InstanceState is the lifecycle of one sharded game instance.
type InstanceState string

const (
	StatePregame   InstanceState = "pregame"
	StateActive    InstanceState = "active"
	StateWaiting   InstanceState = "waiting"
	StateCompleted InstanceState = "completed"
)

// Phase is the sub-phase carried while an instance is Active.
type Phase string

const (
	PhaseNone   Phase = ""
	PhaseCommit Phase = "commit"
	PhaseReveal Phase = "reveal"
)

// GameConfig holds the per-game-type parameters fixed at initialize time.
type GameConfig struct {
	MaxShardSize uint32 `json:"maxShardSize"`
	CommitSecs   uint64 `json:"commitSecs,omitempty"`
	RevealSecs   uint64 `json:"revealSecs,omitempty"`
	// RoundSecs is the single-round deadline for games without commit/reveal
	// (equilibrium, doors).
	RoundSecs uint64 `json:"roundSecs,omitempty"`
	NumTeams  uint32 `json:"numTeams,omitempty"`
}

// Game is one registered game type and its shard instances.
type Game struct {
	Name      string      `json:"name"`
	Config    GameConfig  `json:"config"`
	Instances []*Instance `json:"instances,omitempty"`
}

// Unfinished reports whether any instance has not reached Completed.
func (g *Game) Unfinished() bool {
	for _, in := range g.Instances {
		if in.State != StateCompleted {
			return true
		}
	}
	return false
}

// Slot is the full per-player record inside one instance. One slot per player,
// allocated at initialize and never removed; elimination clears Active and
// drops the arena index from the active list.
type Slot struct {
	Address string `json:"address"`
	Number  uint64 `json:"number"`
	Active  bool   `json:"active"`

	// Exempt players are skipped by commit/reveal participation counting
	// (descend players parked at the terminal level).
	Exempt bool `json:"exempt,omitempty"`

	// Commit-reveal round state, reset at every round start.
	Committed  bool   `json:"committed,omitempty"`
	Revealed   bool   `json:"revealed,omitempty"`
	Commitment []byte `json:"commitment,omitempty"` // 32 bytes keccak
	Value      uint64 `json:"value,omitempty"`      // revealed value

	// Variant bookkeeping.
	Points   uint64 `json:"points,omitempty"`   // bidding balance
	Level    uint32 `json:"level,omitempty"`    // descend
	LastMove uint64 `json:"lastMove,omitempty"` // descend: previous round's move, 0 = none
	Team     uint32 `json:"team,omitempty"`     // equilibrium: 1..numTeams
	Draws    uint32 `json:"draws,omitempty"`    // doors: draws made this round
}

// Instance is one independent shard of a game type.
type Instance struct {
	ID    uint64        `json:"id"`
	State InstanceState `json:"state"`
	Phase Phase         `json:"phase,omitempty"`
	Round uint32        `json:"round"`

	RoundEndTime  int64 `json:"roundEndTime,omitempty"`
	GameStartTime int64 `json:"gameStartTime,omitempty"`
	GameEndTime   int64 `json:"gameEndTime,omitempty"`

	// Slots is the immutable player arena; ActiveIdx is the order-unstable
	// swap-remove list of arena indexes for the players still in the game.
	Slots     []*Slot `json:"slots"`
	ActiveIdx []int   `json:"activeIdx"`

	CommitCount uint32 `json:"commitCount,omitempty"`
	RevealCount uint32 `json:"revealCount,omitempty"`

	// index maps address -> arena index; rebuilt after load/clone.
	index map[string]int
}

func NewInstance(id uint64) *Instance {
	return &Instance{
		ID:    id,
		State: StatePregame,
		index: map[string]int{},
	}
}

func (in *Instance) rebuildIndex() {
	in.index = make(map[string]int, len(in.Slots))
	for i, s := range in.Slots {
		in.index[s.Address] = i
	}
}

// AddSlot appends a player to the arena. Only legal before the game starts.
func (in *Instance) AddSlot(addr string, number uint64) error {
	if in.State != StatePregame {
		return fmt.Errorf("instance %d not in pregame", in.ID)
	}
	if in.index == nil {
		in.index = map[string]int{}
	}
	if _, ok := in.index[addr]; ok {
		return fmt.Errorf("duplicate player %s in instance %d", addr, in.ID)
	}
	in.Slots = append(in.Slots, &Slot{Address: addr, Number: number, Active: true})
	idx := len(in.Slots) - 1
	in.index[addr] = idx
	in.ActiveIdx = append(in.ActiveIdx, idx)
	return nil
}

// SlotOf returns the arena slot for addr, or nil.
func (in *Instance) SlotOf(addr string) *Slot {
	if in.index == nil {
		in.rebuildIndex()
	}
	i, ok := in.index[addr]
	if !ok {
		return nil
	}
	return in.Slots[i]
}

// HasPlayer reports whether addr was partitioned into this instance.
func (in *Instance) HasPlayer(addr string) bool {
	return in.SlotOf(addr) != nil
}

// Remove drops addr from the active set via swap-remove. The slot stays in
// the arena with Active cleared. Fails if the player is not currently active.
func (in *Instance) Remove(addr string) error {
	if in.index == nil {
		in.rebuildIndex()
	}
	arena, ok := in.index[addr]
	if !ok {
		return fmt.Errorf("player %s not in instance %d", addr, in.ID)
	}
	s := in.Slots[arena]
	if !s.Active {
		return fmt.Errorf("player %s not active", addr)
	}
	pos := -1
	for i, idx := range in.ActiveIdx {
		if idx == arena {
			pos = i
			break
		}
	}
	if pos < 0 {
		return fmt.Errorf("invariant: active flag set but %s missing from active list", addr)
	}
	last := len(in.ActiveIdx) - 1
	in.ActiveIdx[pos] = in.ActiveIdx[last]
	in.ActiveIdx = in.ActiveIdx[:last]
	s.Active = false
	// Round counters must not keep counting a removed player.
	if s.Committed {
		in.CommitCount--
		s.Committed = false
	}
	if s.Revealed {
		in.RevealCount--
		s.Revealed = false
	}
	s.Commitment = nil
	return nil
}

// ActiveCount is the number of players still in the instance.
func (in *Instance) ActiveCount() int {
	return len(in.ActiveIdx)
}

// ActiveSlots returns the active slots in active-list order (order-unstable).
func (in *Instance) ActiveSlots() []*Slot {
	out := make([]*Slot, 0, len(in.ActiveIdx))
	for _, idx := range in.ActiveIdx {
		out = append(out, in.Slots[idx])
	}
	return out
}

// RequiredParticipants counts the active players obligated to commit/reveal
// this round (exempt players excluded).
func (in *Instance) RequiredParticipants() uint32 {
	var n uint32
	for _, idx := range in.ActiveIdx {
		if !in.Slots[idx].Exempt {
			n++
		}
	}
	return n
}

// ResetRound clears the commit-reveal ledger for a fresh round.
func (in *Instance) ResetRound() {
	for _, s := range in.Slots {
		s.Committed = false
		s.Revealed = false
		s.Commitment = nil
		s.Value = 0
		s.Draws = 0
	}
	in.CommitCount = 0
	in.RevealCount = 0
}

// CheckInvariants verifies the active-set and counter bookkeeping. A failure
// indicates a logic defect, not a user error.
func (in *Instance) CheckInvariants() error {
	activeFlags := 0
	var commits, reveals uint32
	for _, s := range in.Slots {
		if s.Active {
			activeFlags++
			if s.Committed {
				commits++
			}
			if s.Revealed {
				reveals++
			}
		}
	}
	if activeFlags != len(in.ActiveIdx) {
		return fmt.Errorf("invariant: active flags=%d active list=%d", activeFlags, len(in.ActiveIdx))
	}
	seen := map[int]bool{}
	for _, idx := range in.ActiveIdx {
		if idx < 0 || idx >= len(in.Slots) {
			return fmt.Errorf("invariant: active index %d out of range", idx)
		}
		if seen[idx] {
			return fmt.Errorf("invariant: duplicate active index %d", idx)
		}
		seen[idx] = true
		if !in.Slots[idx].Active {
			return fmt.Errorf("invariant: inactive slot %s on active list", in.Slots[idx].Address)
		}
	}
	if commits != in.CommitCount {
		return fmt.Errorf("invariant: commitCount=%d counted=%d", in.CommitCount, commits)
	}
	if reveals != in.RevealCount {
		return fmt.Errorf("invariant: revealCount=%d counted=%d", in.RevealCount, reveals)
	}
	return nil
}
