// Package entropy provides the deterministic pseudo-randomness consumed by
// the probabilistic games. The source is a keccak stream over in-protocol
// inputs, so every node derives the same outcome for the same tx.
package entropy

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/crypto"
)

// Source yields uniformly distributed draws for one game action.
type Source interface {
	// Uint64 returns the next draw for the given player context.
	Uint64(height int64, round uint32, addr string, counter uint32) uint64
}

// Keccak is the synchronous in-protocol source: each draw hashes
// height || round || address || counter, so repeated draws by the same
// player in the same block stay independent.
type Keccak struct {
	// Domain separates unrelated consumers of the stream.
	Domain string
}

func (k Keccak) Uint64(height int64, round uint32, addr string, counter uint32) uint64 {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[0:8], uint64(height))
	binary.BigEndian.PutUint32(buf[8:12], round)
	binary.BigEndian.PutUint32(buf[12:16], counter)
	h := crypto.Keccak256([]byte(k.Domain), buf[:], []byte(addr))
	return binary.BigEndian.Uint64(h[:8])
}

// CoinFlip returns true on roughly half of all draws.
func CoinFlip(s Source, height int64, round uint32, addr string, counter uint32) bool {
	return s.Uint64(height, round, addr, counter)&1 == 0
}
