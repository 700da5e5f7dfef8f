package services

import (
	"errors"
	"fmt"

	"github.com/flashbots/statledger/protocol"
)

// ErrMissingCheckpoint is returned for a journal that has events but no
// checkpoint to restore the ledger from.
var ErrMissingCheckpoint = errors.New("journal has events but no ledger checkpoint")

// ResumeOptions returns the ledger options that continue the ledger whose
// journal and checkpoint live in store. An empty store yields no options, so
// the ledger starts fresh.
//
// A checkpoint older than the last journaled event is refused: the events
// after it describe state the checkpoint lacks.
func ResumeOptions(store EventStore) ([]protocol.Option, error) {
	lastSeq, err := store.LastSeq()
	if err != nil {
		return nil, fmt.Errorf("reading journal: %w", err)
	}
	cp, err := store.LoadCheckpoint()
	if err != nil {
		return nil, fmt.Errorf("loading checkpoint: %w", err)
	}

	switch {
	case cp == nil && lastSeq == 0:
		return nil, nil
	case cp == nil:
		return nil, fmt.Errorf("%w: journal ends at seq %d", ErrMissingCheckpoint, lastSeq)
	case cp.Seq < lastSeq:
		return nil, fmt.Errorf("checkpoint at seq %d is behind the journal at seq %d", cp.Seq, lastSeq)
	}
	return []protocol.Option{protocol.WithCheckpoint(cp)}, nil
}
