package protocol

import (
	"context"
	"slices"
	"sync"
)

type subscriber struct {
	ctx context.Context
	ch  chan Event
}

// EventFeed broadcasts published events to live subscribers.
// Slow subscribers miss events rather than blocking the ledger.
type EventFeed struct {
	mu          sync.Mutex
	bufferSize  int
	subscribers []subscriber
}

// NewEventFeed creates a feed whose subscriber channels buffer bufferSize events.
func NewEventFeed(bufferSize int) *EventFeed {
	if bufferSize <= 0 {
		bufferSize = 16
	}
	return &EventFeed{bufferSize: bufferSize}
}

// Subscribe returns a channel of events published after the call.
// The channel is closed once ctx is done and the next event is published.
func (f *EventFeed) Subscribe(ctx context.Context) <-chan Event {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan Event, f.bufferSize)
	f.subscribers = append(f.subscribers, subscriber{ctx, ch})
	return ch
}

// Subscribers returns the number of registered subscribers.
func (f *EventFeed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subscribers)
}

func (f *EventFeed) Publish(ev Event) {
	f.mu.Lock()
	defer f.mu.Unlock()

	toRemove := []int{}
	for i, sub := range f.subscribers {
		if sub.ctx.Err() != nil {
			close(sub.ch)
			toRemove = append(toRemove, i)
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			// Skip if channel is full
		}
	}

	slices.Reverse(toRemove)
	for _, i := range toRemove {
		f.subscribers = slices.Delete(f.subscribers, i, i+1)
	}
}
