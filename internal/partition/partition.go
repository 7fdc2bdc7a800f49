// Package partition splits a locked player roster into bounded, evenly sized
// shards. Each shard becomes an independent game instance.
package partition

import (
	"fmt"
)

// Shard is one contiguous slice of the roster, in stable playerNumber order.
type Shard struct {
	Addresses []string
	Numbers   []uint64
}

// Split distributes n players into ceil(n/maxSize) shards as evenly as
// possible: base = floor(n/shards) per shard, with the first n mod shards
// shards taking one extra player.
func Split(addresses []string, numbers []uint64, maxSize int) ([]Shard, error) {
	n := len(addresses)
	if n == 0 {
		return nil, fmt.Errorf("no players to partition")
	}
	if len(numbers) != n {
		return nil, fmt.Errorf("address/number length mismatch: %d vs %d", n, len(numbers))
	}
	if maxSize <= 0 {
		return nil, fmt.Errorf("invalid max shard size %d", maxSize)
	}
	seen := make(map[string]bool, n)
	for _, a := range addresses {
		if a == "" {
			return nil, fmt.Errorf("empty address in roster")
		}
		if seen[a] {
			return nil, fmt.Errorf("duplicate address %s in roster", a)
		}
		seen[a] = true
	}

	numShards := (n + maxSize - 1) / maxSize
	base := n / numShards
	extra := n % numShards

	out := make([]Shard, 0, numShards)
	cursor := 0
	for i := 0; i < numShards; i++ {
		size := base
		if i < extra {
			size++
		}
		out = append(out, Shard{
			Addresses: addresses[cursor : cursor+size],
			Numbers:   numbers[cursor : cursor+size],
		})
		cursor += size
	}
	return out, nil
}

// SplitExact is Split with a fixed divisor requirement: the roster must be
// divisible into shards of exactly size (threes). Rejects otherwise; never
// pads or drops players.
func SplitExact(addresses []string, numbers []uint64, size int) ([]Shard, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid shard size %d", size)
	}
	if len(addresses) == 0 {
		return nil, fmt.Errorf("no players to partition")
	}
	if len(addresses)%size != 0 {
		return nil, fmt.Errorf("player count %d not divisible by %d", len(addresses), size)
	}
	shards, err := Split(addresses, numbers, size)
	if err != nil {
		return nil, err
	}
	for _, sh := range shards {
		if len(sh.Addresses) != size {
			return nil, fmt.Errorf("invariant: shard size %d, want %d", len(sh.Addresses), size)
		}
	}
	return shards, nil
}
