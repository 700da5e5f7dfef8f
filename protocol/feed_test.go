package protocol

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEventFeedDelivery(t *testing.T) {
	feed := NewEventFeed(2)
	ctx, cancel := context.WithCancel(context.Background())

	ch := feed.Subscribe(ctx)
	other := feed.Subscribe(context.Background())
	require.Equal(t, 2, feed.Subscribers())

	feed.Publish(Event{Seq: 1, Kind: EventBatchOpened})
	feed.Publish(Event{Seq: 2, Kind: EventBatchClosed})
	// Buffer is full, dropped for both subscribers.
	feed.Publish(Event{Seq: 3, Kind: EventBatchOpened})

	require.Equal(t, uint64(1), (<-ch).Seq)
	require.Equal(t, uint64(2), (<-ch).Seq)
	require.Equal(t, uint64(1), (<-other).Seq)

	cancel()
	feed.Publish(Event{Seq: 4})

	_, open := <-ch
	require.False(t, open)
	require.Equal(t, 1, feed.Subscribers())
	require.Equal(t, uint64(2), (<-other).Seq)
	require.Equal(t, uint64(4), (<-other).Seq)
}

func TestMultiSink(t *testing.T) {
	a, b := NewMemoryEventLog(), NewMemoryEventLog()
	sink := MultiSink{a, b}

	sink.Publish(Event{Seq: 1, Kind: EventPauseToggled})
	sink.Publish(Event{Seq: 2, Kind: EventCooldownChanged})

	require.Equal(t, a.Kinds(), b.Kinds())
	require.Equal(t, []EventKind{EventPauseToggled, EventCooldownChanged}, a.Kinds())
	require.Len(t, a.Events(1, 0), 1)
}
