package services

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/flashbots/statledger/metrics"
	"github.com/flashbots/statledger/protocol"
)

// EventStore persists the event journal of one ledger.
type EventStore interface {
	// Append stores ev. Appending a sequence number already present is a no-op.
	Append(ev protocol.Event) error

	// Events returns up to limit events with Seq > after in sequence order.
	Events(after uint64, limit int) ([]protocol.Event, error)

	// LastSeq returns the highest stored sequence number, 0 when empty.
	LastSeq() (uint64, error)

	// SaveCheckpoint replaces the stored checkpoint with cp.
	SaveCheckpoint(cp *protocol.Checkpoint) error

	// LoadCheckpoint returns the stored checkpoint, nil when there is none.
	LoadCheckpoint() (*protocol.Checkpoint, error)

	Close() error
}

// StoreSink is a protocol.EventSink appending to an EventStore, and a
// protocol.CheckpointSink saving to it. Store failures never fail the ledger
// call that caused them; they are logged and counted.
type StoreSink struct {
	store   EventStore
	log     *slog.Logger
	metrics *metrics.LedgerCollector
}

// NewStoreSink creates a sink for store. collector may be nil.
func NewStoreSink(store EventStore, log *slog.Logger, collector *metrics.LedgerCollector) *StoreSink {
	if log == nil {
		log = slog.Default()
	}
	return &StoreSink{store: store, log: log, metrics: collector}
}

func (s *StoreSink) Publish(ev protocol.Event) {
	if err := s.store.Append(ev); err != nil {
		s.log.Error("failed to journal event", "seq", ev.Seq, "kind", ev.Kind, "err", err)
		if s.metrics != nil {
			s.metrics.JournalFailure()
		}
	}
}

func (s *StoreSink) SaveCheckpoint(cp *protocol.Checkpoint) {
	if err := s.store.SaveCheckpoint(cp); err != nil {
		s.log.Error("failed to save checkpoint", "seq", cp.Seq, "err", err)
		if s.metrics != nil {
			s.metrics.JournalFailure()
		}
	}
}

// InMemoryStore implements EventStore for testing without a database.
type InMemoryStore struct {
	mu         sync.Mutex
	log        *protocol.MemoryEventLog
	checkpoint []byte
}

// NewInMemoryStore creates an in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{log: protocol.NewMemoryEventLog()}
}

func (s *InMemoryStore) Append(ev protocol.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev.Seq <= s.log.LastSeq() {
		return nil
	}
	s.log.Publish(ev)
	return nil
}

func (s *InMemoryStore) Events(after uint64, limit int) ([]protocol.Event, error) {
	return s.log.Events(after, limit), nil
}

func (s *InMemoryStore) LastSeq() (uint64, error) {
	return s.log.LastSeq(), nil
}

// SaveCheckpoint stores cp encoded, so later changes by the caller do not leak in.
func (s *InMemoryStore) SaveCheckpoint(cp *protocol.Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encoding checkpoint: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoint = data
	return nil
}

func (s *InMemoryStore) LoadCheckpoint() (*protocol.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.checkpoint == nil {
		return nil, nil
	}
	return protocol.UnmarshalMessage[protocol.Checkpoint](s.checkpoint)
}

func (s *InMemoryStore) Close() error {
	return nil
}
