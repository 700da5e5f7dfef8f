package protocol

import (
	"sync"
	"time"
)

// EventKind names an externally observable ledger event.
type EventKind string

const (
	EventOwnershipChanged     EventKind = "ownership_changed"
	EventProviderAdded        EventKind = "provider_added"
	EventProviderRemoved      EventKind = "provider_removed"
	EventPauseToggled         EventKind = "pause_toggled"
	EventCooldownChanged      EventKind = "cooldown_changed"
	EventBatchOpened          EventKind = "batch_opened"
	EventBatchClosed          EventKind = "batch_closed"
	EventContributionRecorded EventKind = "contribution_recorded"
	EventGenerationOccurred   EventKind = "generation_occurred"
	EventDisclosureRequested  EventKind = "disclosure_requested"
	EventDisclosureCompleted  EventKind = "disclosure_completed"
	EventDisclosurePruned     EventKind = "disclosure_pruned"
)

// Event is a single ledger event. Only the fields relevant to Kind are set.
type Event struct {
	Seq       uint64    `json:"seq"`
	Kind      EventKind `json:"kind"`
	Timestamp time.Time `json:"timestamp"`

	// Account is the new owner, the added or removed provider, or the acting provider.
	Account *Account `json:"account,omitempty"`
	// PreviousOwner is set on ownership changes.
	PreviousOwner *Account `json:"previous_owner,omitempty"`

	Paused          *bool   `json:"paused,omitempty"`
	CooldownSeconds *uint64 `json:"cooldown_seconds,omitempty"`

	BatchID    uint64      `json:"batch_id,omitempty"`
	RequestID  RequestID   `json:"request_id,omitempty"`
	Cleartexts *Cleartexts `json:"cleartexts,omitempty"`
}

// MemoryEventLog keeps every published event in memory.
type MemoryEventLog struct {
	mu     sync.RWMutex
	events []Event
}

// NewMemoryEventLog creates an empty log.
func NewMemoryEventLog() *MemoryEventLog {
	return &MemoryEventLog{}
}

func (l *MemoryEventLog) Publish(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

// Events returns up to limit events with a sequence number greater than after.
// A non-positive limit returns all of them.
func (l *MemoryEventLog) Events(after uint64, limit int) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Event
	for _, ev := range l.events {
		if ev.Seq <= after {
			continue
		}
		out = append(out, ev)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Kinds returns the kinds of all events in order.
func (l *MemoryEventLog) Kinds() []EventKind {
	l.mu.RLock()
	defer l.mu.RUnlock()

	kinds := make([]EventKind, len(l.events))
	for i, ev := range l.events {
		kinds[i] = ev.Kind
	}
	return kinds
}

// Len returns the number of stored events.
func (l *MemoryEventLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// LastSeq returns the sequence number of the newest event, 0 when empty.
func (l *MemoryEventLog) LastSeq() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.events) == 0 {
		return 0
	}
	return l.events[len(l.events)-1].Seq
}

// MultiSink fans an event out to several sinks in order.
type MultiSink []EventSink

func (m MultiSink) Publish(ev Event) {
	for _, s := range m {
		s.Publish(ev)
	}
}
