package aggregator

import (
	"sync"
	"sync/atomic"
)

// ChangeReason tags a cache-change notification.
type ChangeReason string

const (
	ChangeRefresh   ChangeReason = "refresh"
	ChangeReadState ChangeReason = "read_state"
)

type Change struct {
	Reason ChangeReason
}

// Broadcaster is the observer registry for cache changes. Subscribe hands
// back an unregister token; subscribers that fall behind are skipped, not
// blocked on.
type Broadcaster struct {
	subscribers map[uint64]chan Change
	nextID      atomic.Uint64
	mu          sync.RWMutex
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[uint64]chan Change),
	}
}

func (b *Broadcaster) Subscribe() (uint64, <-chan Change) {
	id := b.nextID.Add(1)
	ch := make(chan Change, 16)

	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()

	return id, ch
}

func (b *Broadcaster) Unsubscribe(id uint64) {
	b.mu.Lock()
	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
}

func (b *Broadcaster) Broadcast(c Change) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers {
		select {
		case ch <- c:
		default:
			// Skip slow subscribers
		}
	}
}

func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close closes all subscriber channels, releasing any blocked consumers.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
}
