// Package crypto provides the cryptographic collaborators of the ledger.
//
// It contains:
//
//   - Ed25519 keys and signatures, used by the decryption oracle to sign
//     disclosure proofs
//   - The Engine interface: the homomorphic operations the ledger's encrypted
//     accumulator is built on
//   - PaillierEngine, an additively homomorphic reference engine with generator
//     g = n + 1, supporting ciphertext addition, plaintext addition and
//     multiplication by a plaintext
//   - DecryptionDigest, the statement binding a request id, the submitted
//     handles and the claimed cleartexts
//
// # Handles
//
// A Handle is the canonical fixed-width big-endian encoding of a ciphertext.
// Two handles are bit-identical exactly when they encode the same ciphertext,
// which is what ledger fingerprints rely on.
//
// # Plaintext space
//
// Paillier plaintexts live in Z_n. Register arithmetic therefore wraps modulo n;
// for the counters this is unobservable in practice, the seed register wraps
// routinely.
//
// Note: big.Int arithmetic is not constant-time.
package crypto
