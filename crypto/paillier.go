package crypto

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
	paillier "github.com/roasbeef/go-go-gadget-paillier"
)

// MinPaillierBits is the smallest modulus size GeneratePaillierKey accepts.
const MinPaillierBits = 256

// Handle is the canonical byte encoding of a ciphertext: big-endian, left-padded
// to the byte length of the engine's ciphertext modulus.
type Handle []byte

// Bytes returns a copy of the handle bytes.
func (h Handle) Bytes() []byte {
	out := make([]byte, len(h))
	copy(out, h)
	return out
}

// String returns the 0x-prefixed hex encoding of the handle.
func (h Handle) String() string {
	return hexutil.Encode(h)
}

// MarshalText encodes the handle as 0x-prefixed hex.
func (h Handle) MarshalText() ([]byte, error) {
	return []byte(hexutil.Encode(h)), nil
}

// UnmarshalText decodes a 0x-prefixed hex handle.
func (h *Handle) UnmarshalText(text []byte) error {
	raw, err := hexutil.Decode(string(text))
	if err != nil {
		return fmt.Errorf("invalid handle: %w", err)
	}
	*h = Handle(raw)
	return nil
}

// PaillierPublicKey is the public half of a Paillier key with generator g = n + 1.
type PaillierPublicKey struct {
	N *big.Int `json:"n"`

	nSquared *big.Int
}

// NewPaillierPublicKey creates a public key for modulus n.
func NewPaillierPublicKey(n *big.Int) (*PaillierPublicKey, error) {
	if n == nil || n.Sign() <= 0 || n.BitLen() < MinPaillierBits {
		return nil, errors.New("invalid paillier modulus")
	}
	return &PaillierPublicKey{
		N:        new(big.Int).Set(n),
		nSquared: new(big.Int).Mul(n, n),
	}, nil
}

// UnmarshalJSON decodes the modulus and validates it.
func (pk *PaillierPublicKey) UnmarshalJSON(data []byte) error {
	var raw struct {
		N *big.Int `json:"n"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := NewPaillierPublicKey(raw.N)
	if err != nil {
		return err
	}
	*pk = *parsed
	return nil
}

// NSquared returns the ciphertext modulus n^2.
func (pk *PaillierPublicKey) NSquared() *big.Int {
	if pk.nSquared == nil {
		pk.nSquared = new(big.Int).Mul(pk.N, pk.N)
	}
	return pk.nSquared
}

// HandleSize is the byte width of every canonical handle under this key.
func (pk *PaillierPublicKey) HandleSize() int {
	return (pk.NSquared().BitLen() + 7) / 8
}

// library returns the key in go-go-gadget-paillier's form.
func (pk *PaillierPublicKey) library() *paillier.PublicKey {
	return &paillier.PublicKey{
		N:        pk.N,
		G:        new(big.Int).Add(pk.N, one),
		NSquared: pk.NSquared(),
	}
}

// Encrypt encrypts m (reduced modulo n) with fresh randomness from random.
func (pk *PaillierPublicKey) Encrypt(random io.Reader, m *big.Int) (*big.Int, error) {
	r, err := pk.randomUnit(random)
	if err != nil {
		return nil, err
	}
	return paillier.EncryptWithNonce(pk.library(), r, new(big.Int).Mod(m, pk.N).Bytes())
}

func (pk *PaillierPublicKey) randomUnit(random io.Reader) (*big.Int, error) {
	for {
		r, err := rand.Int(random, pk.N)
		if err != nil {
			return nil, fmt.Errorf("sampling randomness: %w", err)
		}
		if r.Sign() == 0 {
			continue
		}
		if new(big.Int).GCD(nil, nil, r, pk.N).Cmp(one) == 0 {
			return r, nil
		}
	}
}

// ParseHandle decodes a handle into a ciphertext, checking it is a unit modulo n^2.
func (pk *PaillierPublicKey) ParseHandle(h Handle) (*big.Int, error) {
	if len(h) != pk.HandleSize() {
		return nil, fmt.Errorf("handle has %d bytes, want %d", len(h), pk.HandleSize())
	}
	c := new(big.Int).SetBytes(h)
	nn := pk.NSquared()
	if c.Sign() == 0 || c.Cmp(nn) >= 0 {
		return nil, errors.New("ciphertext out of range")
	}
	if new(big.Int).GCD(nil, nil, c, nn).Cmp(one) != 0 {
		return nil, errors.New("ciphertext is not a unit")
	}
	return c, nil
}

// EncodeHandle produces the canonical handle for ciphertext c.
func (pk *PaillierPublicKey) EncodeHandle(c *big.Int) Handle {
	return Handle(fixedWidthBytes(c, pk.HandleSize()))
}

// PaillierPrivateKey holds the factorization of n and the derived decryption values.
type PaillierPrivateKey struct {
	PublicKey *PaillierPublicKey `json:"public_key"`
	P         *big.Int           `json:"p"`
	Q         *big.Int           `json:"q"`

	lambda *big.Int
	mu     *big.Int
}

// NewPaillierPrivateKey derives a private key from the primes p and q.
func NewPaillierPrivateKey(p, q *big.Int) (*PaillierPrivateKey, error) {
	if p == nil || q == nil || p.Cmp(q) == 0 {
		return nil, errors.New("invalid paillier primes")
	}

	n := new(big.Int).Mul(p, q)
	pk, err := NewPaillierPublicKey(n)
	if err != nil {
		return nil, err
	}

	pm1 := new(big.Int).Sub(p, one)
	qm1 := new(big.Int).Sub(q, one)
	phi := new(big.Int).Mul(pm1, qm1)
	if new(big.Int).GCD(nil, nil, n, phi).Cmp(one) != 0 {
		return nil, errors.New("gcd(n, phi(n)) != 1")
	}

	gcd := new(big.Int).GCD(nil, nil, pm1, qm1)
	lambda := new(big.Int).Quo(phi, gcd)

	// With g = n + 1, L(g^lambda mod n^2) = lambda mod n.
	mu := new(big.Int).ModInverse(new(big.Int).Mod(lambda, n), n)
	if mu == nil {
		return nil, errors.New("lambda not invertible modulo n")
	}

	return &PaillierPrivateKey{
		PublicKey: pk,
		P:         new(big.Int).Set(p),
		Q:         new(big.Int).Set(q),
		lambda:    lambda,
		mu:        mu,
	}, nil
}

// UnmarshalJSON decodes the primes and rederives the rest of the key.
func (sk *PaillierPrivateKey) UnmarshalJSON(data []byte) error {
	var raw struct {
		P *big.Int `json:"p"`
		Q *big.Int `json:"q"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	rebuilt, err := NewPaillierPrivateKey(raw.P, raw.Q)
	if err != nil {
		return err
	}
	*sk = *rebuilt
	return nil
}

// GeneratePaillierKey generates a key whose modulus has the given bit length.
func GeneratePaillierKey(random io.Reader, bits int) (*PaillierPrivateKey, error) {
	if bits < MinPaillierBits {
		return nil, fmt.Errorf("modulus must have at least %d bits", MinPaillierBits)
	}

	for {
		p, err := rand.Prime(random, bits/2)
		if err != nil {
			return nil, err
		}
		q, err := rand.Prime(random, bits-bits/2)
		if err != nil {
			return nil, err
		}
		if new(big.Int).Mul(p, q).BitLen() < bits {
			continue
		}

		sk, err := NewPaillierPrivateKey(p, q)
		if err != nil {
			continue
		}
		return sk, nil
	}
}

// Decrypt recovers the plaintext of c, in [0, n).
func (sk *PaillierPrivateKey) Decrypt(c *big.Int) (*big.Int, error) {
	if sk.lambda == nil || sk.mu == nil {
		return nil, errors.New("private key not initialized")
	}

	pk := sk.PublicKey
	nn := pk.NSquared()
	if c.Sign() <= 0 || c.Cmp(nn) >= 0 {
		return nil, errors.New("ciphertext out of range")
	}

	x := new(big.Int).Exp(c, sk.lambda, nn)
	m := lFunction(x, pk.N)
	return MulModInplace(m, sk.mu, pk.N), nil
}

// DecryptHandle parses and decrypts a canonical handle.
func (sk *PaillierPrivateKey) DecryptHandle(h Handle) (*big.Int, error) {
	c, err := sk.PublicKey.ParseHandle(h)
	if err != nil {
		return nil, err
	}
	return sk.Decrypt(c)
}
