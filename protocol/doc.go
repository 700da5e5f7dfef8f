// Package protocol implements the encrypted statistics ledger: role and
// pause administration, per-account cooldowns, the batch lifecycle, the
// encrypted accumulator and the asynchronous disclosure protocol.
//
// # Registers
//
// The ledger holds three ciphertext handles produced by a crypto.Engine:
//
//   - count: number of Generate calls
//   - totalInputs: sum of the data point counts passed to Contribute
//   - seed: a rolling value, seed*k + now on every mutation
//
// The registers are created when the ledger is created and are never reset.
// Batches only group events in time. The ledger never decrypts.
//
// # Disclosure
//
// RequestDisclosure submits the current handles to an Oracle and records the
// returned request id together with the batch id and a fingerprint:
//
//	F = keccak256(len|count | len|totalInputs | len|seed | ledger identity)
//
// The oracle later calls OnDisclosureCallback. A callback is accepted only if
//
//  1. the request exists and has not been processed (ErrReplayDetected),
//  2. the fingerprint of the live registers equals the stored one (ErrStateMismatch),
//  3. the proof authenticates the cleartexts against the submitted handles (ErrInvalidProof).
//
// Any mutation between request and callback orphans the request; callers
// must request again. Processed requests stay processed.
//
// # Concurrency
//
// A Ledger serializes all operations behind one mutex. Oracle implementations
// must deliver callbacks asynchronously, never from inside SubmitForDecryption.
// Event sinks run under the same lock and must not call back into the ledger.
//
// # Errors
//
// Every rejected call returns a *CallError naming the operation and its
// arguments, wrapping one of the sentinel errors so callers can use errors.Is.
// No rejected call changes state, except that a consumed cooldown stamp stays
// consumed.
package protocol
