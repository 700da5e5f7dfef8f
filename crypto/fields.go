package crypto

import (
	"math/big"
)

var one = big.NewInt(1)

// MulModInplace computes l = (l * r) mod modulus.
// The result is stored in l and also returned.
func MulModInplace(l *big.Int, r *big.Int, modulus *big.Int) *big.Int {
	l.Mul(l, r)
	return l.Mod(l, modulus)
}

// lFunction computes L(x) = (x - 1) / n as used by Paillier decryption.
func lFunction(x *big.Int, n *big.Int) *big.Int {
	r := new(big.Int).Sub(x, one)
	return r.Quo(r, n)
}

// fixedWidthBytes encodes v as big-endian bytes left-padded to width.
// Values wider than width are returned unpadded.
func fixedWidthBytes(v *big.Int, width int) []byte {
	raw := v.Bytes()
	if len(raw) >= width {
		return raw
	}
	out := make([]byte, width)
	copy(out[width-len(raw):], raw)
	return out
}
