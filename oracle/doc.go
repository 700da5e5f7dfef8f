// Package oracle provides a reference decryption oracle for statledger.
//
// LocalOracle holds the Paillier private key and an Ed25519 proof key. Each
// submission becomes a job with a random request id; a worker decrypts the
// three handles, signs crypto.DecryptionDigest over the request id, handles and
// cleartexts, and delivers the result through a Callback. Transient delivery
// failures are retried with exponential backoff. Rejections by the ledger
// (replay, stale state, invalid proof) end the job.
//
// Results are always delivered from a worker, never from inside Submit.
package oracle
