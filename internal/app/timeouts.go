package app

import (
	"fmt"

	"alicechain/internal/state"
)

// Per-game defaults; game/initialize may override the durations.
const (
	defaultCommitSecs uint64 = 120
	defaultRevealSecs uint64 = 120

	defaultEquilibriumRoundSecs uint64 = 600
	defaultDoorsRoundSecs       uint64 = 300
)

func gameDefaults(name string) state.GameConfig {
	switch name {
	case gameThrees:
		return state.GameConfig{
			MaxShardSize: threesShardSize,
			CommitSecs:   defaultCommitSecs,
			RevealSecs:   defaultRevealSecs,
		}
	case gameBidding:
		return state.GameConfig{
			MaxShardSize: 10,
			CommitSecs:   defaultCommitSecs,
			RevealSecs:   defaultRevealSecs,
		}
	case gameDescend:
		return state.GameConfig{
			MaxShardSize: 50,
			CommitSecs:   defaultCommitSecs,
			RevealSecs:   defaultRevealSecs,
		}
	case gameEquilibrium:
		return state.GameConfig{
			MaxShardSize: 30,
			RoundSecs:    defaultEquilibriumRoundSecs,
			NumTeams:     equilibriumNumTeams,
		}
	case gameDoors:
		return state.GameConfig{
			MaxShardSize: 20,
			RoundSecs:    defaultDoorsRoundSecs,
		}
	default:
		return state.GameConfig{}
	}
}

func setCommitDeadline(in *state.Instance, cfg state.GameConfig, nowUnix int64) error {
	if cfg.CommitSecs == 0 {
		return fmt.Errorf("invalid commitSecs")
	}
	dl, err := addInt64AndU64Checked(nowUnix, cfg.CommitSecs, "commit deadline")
	if err != nil {
		return err
	}
	in.RoundEndTime = dl
	return nil
}

func setRevealDeadline(in *state.Instance, cfg state.GameConfig, nowUnix int64) error {
	if cfg.RevealSecs == 0 {
		return fmt.Errorf("invalid revealSecs")
	}
	dl, err := addInt64AndU64Checked(nowUnix, cfg.RevealSecs, "reveal deadline")
	if err != nil {
		return err
	}
	in.RoundEndTime = dl
	return nil
}

// doorsRoundSecs shortens each subsequent round by roundSecs/5 down to a
// floor of roundSecs/5.
func doorsRoundSecs(cfg state.GameConfig, round uint32) uint64 {
	base := cfg.RoundSecs
	if base == 0 {
		base = defaultDoorsRoundSecs
	}
	dec := base / 5
	if dec == 0 {
		dec = 1
	}
	floor := dec
	cut := dec * uint64(round-1)
	if cut >= base || base-cut < floor {
		return floor
	}
	return base - cut
}

func setTimedRoundDeadline(in *state.Instance, name string, cfg state.GameConfig, nowUnix int64) error {
	var secs uint64
	switch name {
	case gameEquilibrium:
		secs = cfg.RoundSecs
		if secs == 0 {
			secs = defaultEquilibriumRoundSecs
		}
	case gameDoors:
		secs = doorsRoundSecs(cfg, in.Round)
	default:
		return fmt.Errorf("game %q has no timed round", name)
	}
	dl, err := addInt64AndU64Checked(nowUnix, secs, "round deadline")
	if err != nil {
		return err
	}
	in.RoundEndTime = dl
	return nil
}
