// Package commitment implements the hash binding used by the commit-reveal
// rounds: Keccak256 over the packed (value, salt, address) triple, matching
// Solidity's abi.encodePacked convention so externally produced commitments
// verify unchanged.
package commitment

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Size is the commitment hash length in bytes.
const Size = 32

// SaltSize is the required salt length in bytes.
const SaltSize = 32

// Compute returns keccak256(valueBE8 || salt || addressBytes).
func Compute(value uint64, salt []byte, addr string) ([]byte, error) {
	if len(salt) != SaltSize {
		return nil, fmt.Errorf("salt must be %d bytes, got %d", SaltSize, len(salt))
	}
	if addr == "" {
		return nil, fmt.Errorf("empty address")
	}
	var v [8]byte
	binary.BigEndian.PutUint64(v[:], value)
	return crypto.Keccak256(v[:], salt, []byte(addr)), nil
}

// Verify recomputes the binding and compares it to the stored commitment.
func Verify(stored []byte, value uint64, salt []byte, addr string) (bool, error) {
	if len(stored) != Size {
		return false, fmt.Errorf("stored commitment must be %d bytes, got %d", Size, len(stored))
	}
	h, err := Compute(value, salt, addr)
	if err != nil {
		return false, err
	}
	return bytes.Equal(stored, h), nil
}

// DecodeSalt parses a 0x-prefixed hex salt.
func DecodeSalt(s string) ([]byte, error) {
	b, err := hexutil.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("invalid salt hex: %w", err)
	}
	if len(b) != SaltSize {
		return nil, fmt.Errorf("salt must be %d bytes, got %d", SaltSize, len(b))
	}
	return b, nil
}

// DecodeHash parses a 0x-prefixed hex commitment hash.
func DecodeHash(s string) ([]byte, error) {
	b, err := hexutil.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("invalid commitment hex: %w", err)
	}
	if len(b) != Size {
		return nil, fmt.Errorf("commitment must be %d bytes, got %d", Size, len(b))
	}
	return b, nil
}
