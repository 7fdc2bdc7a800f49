package codec

import (
	"encoding/json"
	"fmt"
)

// TxEnvelope is the v0 transaction container.
//
// CometBFT transactions are opaque bytes. For v0 devnet we use JSON-encoded
// txs to move fast; this is NOT the final protocol encoding.
type TxEnvelope struct {
	// Basic routing.
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`

	// v0 tx auth (optional):
	// - Nonce: included in the signed message for replay protection (must increase per signer).
	// - Signer: logical signer id (account address).
	// - Sig: Ed25519 signature over (type, nonce, signer, sha256(value)).
	Nonce  string `json:"nonce,omitempty"`
	Signer string `json:"signer,omitempty"`
	Sig    []byte `json:"sig,omitempty"`
}

func DecodeTxEnvelope(txBytes []byte) (TxEnvelope, error) {
	var env TxEnvelope
	if err := json.Unmarshal(txBytes, &env); err != nil {
		return TxEnvelope{}, fmt.Errorf("invalid tx json: %w", err)
	}
	if env.Type == "" {
		return TxEnvelope{}, fmt.Errorf("missing tx.type")
	}
	return env, nil
}

// ---- Bank ----

type BankMintTx struct {
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

type BankSendTx struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

// ---- Auth (v0) ----

// v0: account pubkey registration for tx authentication.
type AuthRegisterAccountTx struct {
	Account string `json:"account"`
	PubKey  []byte `json:"pubKey"` // base64 (32 bytes)
}

// ---- GameMaster ----

type MasterRegisterPlayerTx struct {
	Player string `json:"player"`
	// ReferralCode is the referring player's address; optional.
	ReferralCode string `json:"referralCode,omitempty"`
}

type MasterCloseRegistrationTx struct {
	Caller string `json:"caller"`
}

type MasterRegisterGameTx struct {
	Caller string `json:"caller"`
	Name   string `json:"name"`
}

type MasterSetActiveGameTx struct {
	Caller string `json:"caller"`
	Name   string `json:"name"`
}

type MasterReconcileTx struct{}

// ---- Game lifecycle ----

type GameInitializeTx struct {
	Caller string `json:"caller"`
	Name   string `json:"name"`

	// Optional overrides; per-game defaults apply when zero.
	MaxShardSize uint32 `json:"maxShardSize,omitempty"`
	CommitSecs   uint64 `json:"commitSecs,omitempty"`
	RevealSecs   uint64 `json:"revealSecs,omitempty"`
	RoundSecs    uint64 `json:"roundSecs,omitempty"`
}

type GameStartTx struct {
	Caller string `json:"caller"`
	Name   string `json:"name"`
}

type GameCommitTx struct {
	Player string `json:"player"`
	Name   string `json:"name"`
	Hash   string `json:"hash"` // 0x-prefixed 32-byte keccak commitment
}

type GameRevealTx struct {
	Player string `json:"player"`
	Name   string `json:"name"`
	Value  uint64 `json:"value"`
	Salt   string `json:"salt"` // 0x-prefixed 32 bytes
}

type GameSweepTx struct {
	Name string `json:"name"`
}

type GameEndTx struct {
	Caller string `json:"caller"`
	Name   string `json:"name"`
}

// ---- Equilibrium ----

type EquilibriumSwitchTeamTx struct {
	Player string `json:"player"`
	Team   uint32 `json:"team"` // 1..numTeams
}

// ---- Doors ----

type DoorsOpenTx struct {
	Player string `json:"player"`
}
