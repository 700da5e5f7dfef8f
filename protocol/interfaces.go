package protocol

import (
	"context"
	"time"

	"github.com/flashbots/statledger/crypto"
)

// Oracle decrypts register snapshots on behalf of a ledger.
type Oracle interface {
	// SubmitForDecryption queues the three handles for decryption and returns
	// the request id the eventual callback will carry.
	// Implementations must not invoke the ledger callback before returning.
	SubmitForDecryption(ctx context.Context, ledger Account, handles [3]crypto.Handle) (RequestID, error)
}

// DisclosureCallback is the inbound side of the oracle contract.
type DisclosureCallback interface {
	// OnDisclosureCallback delivers the cleartexts for a request. Duplicate
	// deliveries are rejected, never applied twice.
	OnDisclosureCallback(requestID RequestID, cleartexts Cleartexts, proof []byte) error
}

// EventSink receives every event the ledger emits, in sequence order.
// Sinks are invoked with the ledger lock held and must not call back into the ledger.
type EventSink interface {
	Publish(ev Event)
}

// Clock supplies the ledger's notion of current time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
