package testutil

import (
	"crypto/ecdsa"
	"crypto/rand"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/flashbots/statledger/crypto"
	"github.com/stretchr/testify/require"
)

// DefaultStart is the time a FakeClock starts at unless told otherwise.
var DefaultStart = time.Unix(1_700_000_000, 0)

// FakeClock is a manually advanced clock.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock creates a clock frozen at start.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set moves the clock to t.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Keys bundles the key material of a test deployment.
type Keys struct {
	Paillier  *crypto.PaillierPrivateKey
	OraclePub crypto.PublicKey
	OracleKey crypto.PrivateKey
}

// Engine returns an engine over the fixture's keys.
func (k *Keys) Engine() *crypto.PaillierEngine {
	return crypto.NewPaillierEngine(k.Paillier.PublicKey, k.OraclePub)
}

// KeyOption customizes GenerateTestKeys.
type KeyOption func(*keyOptions)

type keyOptions struct {
	bits int
}

// WithPaillierBits sets the modulus size.
func WithPaillierBits(bits int) KeyOption {
	return func(o *keyOptions) { o.bits = bits }
}

// GenerateTestKeys creates a Paillier key and an oracle signing key.
func GenerateTestKeys(t testing.TB, opts ...KeyOption) *Keys {
	t.Helper()

	o := keyOptions{bits: crypto.MinPaillierBits}
	for _, opt := range opts {
		opt(&o)
	}

	sk, err := crypto.GeneratePaillierKey(rand.Reader, o.bits)
	require.NoError(t, err)
	oraclePub, oracleKey, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	return &Keys{Paillier: sk, OraclePub: oraclePub, OracleKey: oracleKey}
}

// GenerateTestAccount creates a secp256k1 key and its address.
func GenerateTestAccount(t testing.TB) (*ecdsa.PrivateKey, common.Address) {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	return key, ethcrypto.PubkeyToAddress(key.PublicKey)
}

// GenerateTestAddresses returns n distinct random addresses.
func GenerateTestAddresses(t testing.TB, n int) []common.Address {
	t.Helper()
	out := make([]common.Address, n)
	for i := range out {
		_, out[i] = GenerateTestAccount(t)
	}
	return out
}

// DecryptUint64 decrypts h and requires the plaintext to fit in a uint64.
func DecryptUint64(t testing.TB, sk *crypto.PaillierPrivateKey, h crypto.Handle) uint64 {
	t.Helper()
	m, err := sk.DecryptHandle(h)
	require.NoError(t, err)
	require.True(t, m.IsUint64())
	return m.Uint64()
}
