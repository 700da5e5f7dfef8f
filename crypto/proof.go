package crypto

import (
	"encoding/binary"
	"io"
	"math/big"

	"golang.org/x/crypto/sha3"
)

const disclosureDomain = "statledger-disclosure-v1"

// DecryptionDigest is the message an oracle signs to attest that cleartexts
// decrypt handles for requestID. Every field is length-prefixed.
func DecryptionDigest(requestID string, handles [3]Handle, cleartexts [3]*big.Int) []byte {
	h := sha3.New256()
	h.Write([]byte(disclosureDomain))
	writeLengthPrefixed(h, []byte(requestID))
	for _, handle := range handles {
		writeLengthPrefixed(h, handle)
	}
	for _, c := range cleartexts {
		if c == nil {
			writeLengthPrefixed(h, nil)
			continue
		}
		writeLengthPrefixed(h, c.Bytes())
	}
	return h.Sum(nil)
}

// SignDecryption produces the proof PaillierEngine.Verify accepts.
func SignDecryption(key PrivateKey, requestID string, handles [3]Handle, cleartexts [3]*big.Int) (Signature, error) {
	return Sign(key, DecryptionDigest(requestID, handles, cleartexts))
}

func writeLengthPrefixed(w io.Writer, data []byte) {
	var l [8]byte
	binary.BigEndian.PutUint64(l[:], uint64(len(data)))
	w.Write(l[:])
	w.Write(data)
}
