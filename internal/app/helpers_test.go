package app

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strconv"
	"sync/atomic"
	"testing"

	abci "github.com/cometbft/cometbft/abci/types"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog"

	"alicechain/internal/codec"
	"alicechain/internal/commitment"
)

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func txBytes(t *testing.T, typ string, value any) []byte {
	t.Helper()
	return mustMarshal(t, map[string]any{
		"type":  typ,
		"value": value,
	})
}

// testEd25519Key derives a stable keypair from the account name so tests
// never juggle key material.
func testEd25519Key(id string) (ed25519.PublicKey, ed25519.PrivateKey) {
	seed := sha256.Sum256([]byte("alicechain/test/" + id))
	priv := ed25519.NewKeyFromSeed(seed[:])
	return priv.Public().(ed25519.PublicKey), priv
}

var testNonceCounter atomic.Uint64

func nextTestNonce() string {
	return strconv.FormatUint(testNonceCounter.Add(1), 10)
}

func txBytesSigned(t *testing.T, typ string, value any, signer string) []byte {
	t.Helper()
	valueBytes := mustMarshal(t, value)
	nonce := nextTestNonce()
	_, priv := testEd25519Key(signer)
	sig := ed25519.Sign(priv, txAuthSignBytesV0(typ, valueBytes, nonce, signer))
	return mustMarshal(t, codec.TxEnvelope{
		Type:   typ,
		Value:  valueBytes,
		Nonce:  nonce,
		Signer: signer,
		Sig:    sig,
	})
}

func findEvent(events []abci.Event, typ string) *abci.Event {
	for i := range events {
		if events[i].Type == typ {
			return &events[i]
		}
	}
	return nil
}

func countEvents(events []abci.Event, typ string) int {
	n := 0
	for i := range events {
		if events[i].Type == typ {
			n++
		}
	}
	return n
}

func attr(ev *abci.Event, key string) string {
	if ev == nil {
		return ""
	}
	for _, a := range ev.Attributes {
		if a.Key == key {
			return a.Value
		}
	}
	return ""
}

func parseU64(t *testing.T, s string) uint64 {
	t.Helper()
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		t.Fatalf("parse uint64 %q: %v", s, err)
	}
	return n
}

func newTestApp(t *testing.T) *AliceApp {
	t.Helper()
	a, err := New(t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func mustOk(t *testing.T, res *abci.ExecTxResult) *abci.ExecTxResult {
	t.Helper()
	if res.Code != 0 {
		t.Fatalf("expected ok, got code=%d log=%q", res.Code, res.Log)
	}
	return res
}

func mintTestTokens(t *testing.T, a *AliceApp, height int64, to string, amount uint64) {
	t.Helper()
	mustOk(t, a.deliverTx(txBytes(t, "bank/mint", map[string]any{"to": to, "amount": amount}), height, 0))
}

func registerTestAccount(t *testing.T, a *AliceApp, height int64, id string) {
	t.Helper()
	pub, _ := testEd25519Key(id)
	mustOk(t, a.deliverTx(txBytesSigned(t, "auth/register_account", map[string]any{
		"account": id,
		"pubKey":  []byte(pub),
	}, id), height, 0))
}

const testOwner = "owner"

// setupTournament registers the owner plus the given players and puts name
// in the registered-game directory as the active game.
func setupTournament(t *testing.T, name string, players ...string) *AliceApp {
	t.Helper()

	const height = int64(1)
	a := newTestApp(t)
	a.st.Params.Owner = testOwner
	a.st.Params.RegistrationFee = 10
	a.st.Params.PointsRate = 2

	registerTestAccount(t, a, height, testOwner)
	for _, p := range players {
		mintTestTokens(t, a, height, p, 1000)
		registerTestAccount(t, a, height, p)
		mustOk(t, a.deliverTx(txBytesSigned(t, "master/register_player", map[string]any{
			"player": p,
		}, p), height, 0))
	}
	mustOk(t, a.deliverTx(txBytesSigned(t, "master/close_registration", map[string]any{
		"caller": testOwner,
	}, testOwner), height, 0))
	mustOk(t, a.deliverTx(txBytesSigned(t, "master/register_game", map[string]any{
		"caller": testOwner, "name": name,
	}, testOwner), height, 0))
	mustOk(t, a.deliverTx(txBytesSigned(t, "master/set_active_game", map[string]any{
		"caller": testOwner, "name": name,
	}, testOwner), height, 0))
	return a
}

// startGame initializes and starts the active game at nowUnix.
func startGame(t *testing.T, a *AliceApp, height int64, name string, nowUnix int64) {
	t.Helper()
	mustOk(t, a.deliverTx(txBytesSigned(t, "game/initialize", map[string]any{
		"caller": testOwner, "name": name,
	}, testOwner), height, nowUnix))
	mustOk(t, a.deliverTx(txBytesSigned(t, "game/start", map[string]any{
		"caller": testOwner, "name": name,
	}, testOwner), height, nowUnix))
}

func testSalt(id string) []byte {
	sum := sha256.Sum256([]byte("salt/" + id))
	return sum[:]
}

// commitValue commits value for player with a salt derived from the player
// name; revealValue later opens the same commitment.
func commitValue(t *testing.T, a *AliceApp, height int64, nowUnix int64, name, player string, value uint64) *abci.ExecTxResult {
	t.Helper()
	hash, err := commitment.Compute(value, testSalt(player), player)
	if err != nil {
		t.Fatalf("compute commitment: %v", err)
	}
	return a.deliverTx(txBytesSigned(t, "game/commit", map[string]any{
		"player": player,
		"name":   name,
		"hash":   hexutil.Encode(hash),
	}, player), height, nowUnix)
}

func revealValue(t *testing.T, a *AliceApp, height int64, nowUnix int64, name, player string, value uint64) *abci.ExecTxResult {
	t.Helper()
	return a.deliverTx(txBytesSigned(t, "game/reveal", map[string]any{
		"player": player,
		"name":   name,
		"value":  value,
		"salt":   hexutil.Encode(testSalt(player)),
	}, player), height, nowUnix)
}

func testPlayers(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("p%02d", i+1)
	}
	return out
}
