package aggregator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcaster_SubscribeAndBroadcast(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	id1, ch1 := b.Subscribe()
	id2, ch2 := b.Subscribe()
	assert.NotEqual(t, id1, id2)
	assert.Equal(t, 2, b.SubscriberCount())

	b.Broadcast(Change{Reason: ChangeRefresh})

	for _, ch := range []<-chan Change{ch1, ch2} {
		select {
		case c := <-ch:
			assert.Equal(t, ChangeRefresh, c.Reason)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive broadcast")
		}
	}
}

func TestBroadcaster_Unsubscribe(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	id, ch := b.Subscribe()
	b.Unsubscribe(id)
	assert.Equal(t, 0, b.SubscriberCount())

	_, open := <-ch
	assert.False(t, open, "unsubscribed channel must be closed")

	// Unsubscribing twice is a no-op.
	b.Unsubscribe(id)
}

func TestBroadcaster_SkipsSlowSubscribers(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	_, slow := b.Subscribe()
	_, fast := b.Subscribe()

	// Fill the slow subscriber's buffer and keep broadcasting; the fast
	// subscriber must still see every message the broadcaster can deliver.
	for i := 0; i < cap(slow)+5; i++ {
		b.Broadcast(Change{Reason: ChangeReadState})
		select {
		case <-fast:
		case <-time.After(time.Second):
			t.Fatal("fast subscriber starved by a slow one")
		}
	}

	require.Len(t, slow, cap(slow), "slow subscriber buffer saturates without blocking")
}

func TestBroadcaster_Close(t *testing.T) {
	b := NewBroadcaster()

	_, ch1 := b.Subscribe()
	_, ch2 := b.Subscribe()

	b.Close()
	assert.Equal(t, 0, b.SubscriberCount())

	for _, ch := range []<-chan Change{ch1, ch2} {
		_, open := <-ch
		assert.False(t, open)
	}
}
