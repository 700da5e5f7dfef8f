package protocol

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// DisclosureRecord tracks one decryption request from submission to its
// single accepted callback.
type DisclosureRecord struct {
	RequestID   RequestID   `json:"request_id"`
	BatchID     uint64      `json:"batch_id"`
	Fingerprint common.Hash `json:"fingerprint"`
	Handles     Registers   `json:"handles"`
	RequestedAt time.Time   `json:"requested_at"`
	Processed   bool        `json:"processed"`

	// Cleartexts are set once the request is processed.
	Cleartexts  *Cleartexts `json:"cleartexts,omitempty"`
	ProcessedAt *time.Time  `json:"processed_at,omitempty"`
}

func (r *DisclosureRecord) clone() *DisclosureRecord {
	cp := *r
	cp.Handles = Registers{
		Count:       cloneHandle(r.Handles.Count),
		TotalInputs: cloneHandle(r.Handles.TotalInputs),
		Seed:        cloneHandle(r.Handles.Seed),
	}
	if r.Cleartexts != nil {
		cp.Cleartexts = r.Cleartexts.copy()
	}
	return &cp
}

// RequestDisclosure snapshots and fingerprints the registers, submits them to
// the oracle and records the request under the id the oracle returns.
// The disclose cooldown stamp is consumed even if the oracle fails.
func (l *Ledger) RequestDisclosure(ctx context.Context, caller Account) (RequestID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.requireProvider(caller); err != nil {
		return "", callError("requestDisclosure", err, caller)
	}
	if err := l.requireNotPaused(); err != nil {
		return "", callError("requestDisclosure", err, caller)
	}
	if err := l.checkAndStamp(caller, ActionDisclose); err != nil {
		return "", callError("requestDisclosure", err, caller)
	}

	snapshot := Registers{
		Count:       cloneHandle(l.registers.Count),
		TotalInputs: cloneHandle(l.registers.TotalInputs),
		Seed:        cloneHandle(l.registers.Seed),
	}
	fp := l.fingerprint()

	// The lock is held for the whole submission. The oracle client bounds it.
	requestID, err := l.oracle.SubmitForDecryption(ctx, l.identity, snapshot.Array())
	if err != nil {
		l.saveCheckpoint()
		return "", callError("requestDisclosure", fmt.Errorf("%w: %w", ErrOracleUnavailable, err), caller)
	}
	if requestID == "" {
		l.saveCheckpoint()
		return "", callError("requestDisclosure", fmt.Errorf("%w: empty request id", ErrOracleUnavailable), caller)
	}
	if _, exists := l.disclosures[requestID]; exists {
		l.saveCheckpoint()
		return "", callError("requestDisclosure", ErrDuplicateRequest, caller, requestID)
	}

	l.disclosures[requestID] = &DisclosureRecord{
		RequestID:   requestID,
		BatchID:     l.batchID,
		Fingerprint: fp,
		Handles:     snapshot,
		RequestedAt: l.now(),
	}
	l.emit(Event{Kind: EventDisclosureRequested, RequestID: requestID, BatchID: l.batchID})
	return requestID, nil
}

// OnDisclosureCallback accepts the oracle's cleartexts for requestID. It checks,
// in order, that the request is known and unprocessed, that the registers are
// bit-identical to the ones submitted, and that the proof authenticates the
// cleartexts against the submitted handles. Only then is the request marked
// processed and the cleartexts published.
func (l *Ledger) OnDisclosureCallback(requestID RequestID, cleartexts Cleartexts, proof []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	record, ok := l.disclosures[requestID]
	if !ok || record.Processed {
		return callError("onDisclosureCallback", ErrReplayDetected, requestID)
	}
	if l.fingerprint() != record.Fingerprint {
		return callError("onDisclosureCallback", ErrStateMismatch, requestID)
	}
	if !l.engine.Verify(string(requestID), record.Handles.Array(), cleartexts.Array(), proof) {
		return callError("onDisclosureCallback", ErrInvalidProof, requestID)
	}

	now := l.now()
	values := cleartexts.copy()
	record.Processed = true
	record.Cleartexts = values
	record.ProcessedAt = &now
	l.emit(Event{
		Kind:       EventDisclosureCompleted,
		RequestID:  requestID,
		BatchID:    record.BatchID,
		Cleartexts: values.copy(),
	})
	return nil
}

// Disclosure returns a copy of the record for requestID.
func (l *Ledger) Disclosure(requestID RequestID) (*DisclosureRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	record, ok := l.disclosures[requestID]
	if !ok {
		return nil, false
	}
	return record.clone(), true
}

// PendingDisclosures returns the unprocessed requests, oldest first.
func (l *Ledger) PendingDisclosures() []*DisclosureRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []*DisclosureRecord
	for _, r := range l.disclosures {
		if !r.Processed {
			out = append(out, r.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RequestedAt.Equal(out[j].RequestedAt) {
			return out[i].RequestID < out[j].RequestID
		}
		return out[i].RequestedAt.Before(out[j].RequestedAt)
	})
	return out
}

// PruneStaleDisclosures drops unprocessed requests older than the configured
// expiry and returns how many were dropped. Processed records are kept.
// Without an expiry nothing is ever pruned.
// Callbacks for pruned ids are rejected as replays.
func (l *Ledger) PruneStaleDisclosures(caller Account) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.requireOwner(caller); err != nil {
		return 0, callError("pruneStaleDisclosures", err, caller)
	}
	if l.expiry <= 0 {
		return 0, nil
	}

	cutoff := l.now().Add(-l.expiry)
	var stale []*DisclosureRecord
	for _, r := range l.disclosures {
		if !r.Processed && r.RequestedAt.Before(cutoff) {
			stale = append(stale, r)
		}
	}
	sort.Slice(stale, func(i, j int) bool {
		return stale[i].RequestID < stale[j].RequestID
	})

	for _, r := range stale {
		delete(l.disclosures, r.RequestID)
		l.emit(Event{Kind: EventDisclosurePruned, RequestID: r.RequestID, BatchID: r.BatchID})
	}
	return len(stale), nil
}
