package crypto

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"

	paillier "github.com/roasbeef/go-go-gadget-paillier"
)

// Engine is the homomorphic primitive the ledger accumulates with.
// Handles are opaque to callers; an engine is expected never to decrypt.
type Engine interface {
	// Encode encrypts a plaintext into a fresh handle.
	Encode(plaintext uint64) (Handle, error)

	// Add returns a handle of the sum of the plaintexts behind a and b.
	Add(a, b Handle) (Handle, error)

	// AddPlain returns a handle of plaintext(h) + k.
	AddPlain(h Handle, k uint64) (Handle, error)

	// MulPlain returns a handle of plaintext(h) * k.
	MulPlain(h Handle, k uint64) (Handle, error)

	// FingerprintBytes returns the canonical byte representation of h for hashing.
	FingerprintBytes(h Handle) []byte

	// Verify checks that proof authenticates cleartexts as the decryption of
	// handles under requestID.
	Verify(requestID string, handles [3]Handle, cleartexts [3]*big.Int, proof []byte) bool
}

// PaillierEngine implements Engine over a Paillier public key. The homomorphic
// operations run on go-go-gadget-paillier; this type only canonicalizes handles
// to the fixed width of n^2 and checks them on the way in. Decryption proofs
// are Ed25519 signatures by the oracle over DecryptionDigest.
type PaillierEngine struct {
	key       *PaillierPublicKey
	pub       *paillier.PublicKey
	oracleKey PublicKey
	random    io.Reader
}

// NewPaillierEngine creates an engine for key whose proofs are signed by oracleKey.
func NewPaillierEngine(key *PaillierPublicKey, oracleKey PublicKey) *PaillierEngine {
	return &PaillierEngine{
		key:       key,
		pub:       key.library(),
		oracleKey: NewPublicKeyFromBytes(oracleKey),
		random:    rand.Reader,
	}
}

// PublicKey returns the engine's encryption key.
func (e *PaillierEngine) PublicKey() *PaillierPublicKey {
	return e.key
}

// Encode encrypts plaintext with a fresh unit of Z_n* as the nonce.
func (e *PaillierEngine) Encode(plaintext uint64) (Handle, error) {
	r, err := e.key.randomUnit(e.random)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	c, err := paillier.EncryptWithNonce(e.pub, r, new(big.Int).SetUint64(plaintext).Bytes())
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return e.key.EncodeHandle(c), nil
}

// Add returns the handle of the sum of both plaintexts.
func (e *PaillierEngine) Add(a, b Handle) (Handle, error) {
	if _, err := e.key.ParseHandle(a); err != nil {
		return nil, fmt.Errorf("add: %w", err)
	}
	if _, err := e.key.ParseHandle(b); err != nil {
		return nil, fmt.Errorf("add: %w", err)
	}
	return e.canonical(paillier.AddCipher(e.pub, a, b)), nil
}

// AddPlain returns the handle of plaintext(h) + k.
func (e *PaillierEngine) AddPlain(h Handle, k uint64) (Handle, error) {
	if _, err := e.key.ParseHandle(h); err != nil {
		return nil, fmt.Errorf("add plaintext: %w", err)
	}
	return e.canonical(paillier.Add(e.pub, h, new(big.Int).SetUint64(k).Bytes())), nil
}

// MulPlain returns the handle of plaintext(h) * k.
func (e *PaillierEngine) MulPlain(h Handle, k uint64) (Handle, error) {
	if _, err := e.key.ParseHandle(h); err != nil {
		return nil, fmt.Errorf("multiply plaintext: %w", err)
	}
	return e.canonical(paillier.Mul(e.pub, h, new(big.Int).SetUint64(k).Bytes())), nil
}

// canonical left-pads a minimal big-endian ciphertext to the handle width.
func (e *PaillierEngine) canonical(raw []byte) Handle {
	return Handle(fixedWidthBytes(new(big.Int).SetBytes(raw), e.key.HandleSize()))
}

// FingerprintBytes returns the fixed-width encoding of h.
func (e *PaillierEngine) FingerprintBytes(h Handle) []byte {
	return fixedWidthBytes(new(big.Int).SetBytes(h), e.key.HandleSize())
}

// Verify checks the oracle's signature over the decryption statement.
func (e *PaillierEngine) Verify(requestID string, handles [3]Handle, cleartexts [3]*big.Int, proof []byte) bool {
	for _, c := range cleartexts {
		if c == nil || c.Sign() < 0 || c.Cmp(e.key.N) >= 0 {
			return false
		}
	}
	digest := DecryptionDigest(requestID, handles, cleartexts)
	return Signature(proof).Verify(e.oracleKey, digest)
}
