package aggregator

import (
	"sort"
	"sync"
	"time"

	"github.com/communitysafe/alerthub/internal/models"
)

// cache is the explicit in-memory store the aggregator owns. It is mutated
// only through the aggregator's methods; callers get copies, never internal
// state.
type cache struct {
	mu          sync.RWMutex
	alerts      map[string]*models.Alert
	refreshedAt time.Time
	maxAge      time.Duration
}

func newCache(maxAge time.Duration) *cache {
	return &cache{
		alerts: make(map[string]*models.Alert),
		maxAge: maxAge,
	}
}

// replace drops every cached entry belonging to one of the given sources and
// upserts the incoming batch. Stale feed entries are superseded wholesale,
// never merged in place. Deduplication is last-write-wins by id: an incoming
// alert replaces a cached one unless its timestamp is strictly older; the
// read flag carries over since ids are stable per underlying event.
func (c *cache) replace(sources map[models.Source]bool, incoming []models.Alert, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for id, a := range c.alerts {
		if sources[a.Source] {
			delete(c.alerts, id)
		}
	}

	for i := range incoming {
		c.upsertLocked(&incoming[i])
	}
	c.refreshedAt = now
}

func (c *cache) upsertLocked(a *models.Alert) {
	cp := *a
	if existing, ok := c.alerts[cp.ID]; ok {
		if cp.Timestamp.Before(existing.Timestamp) {
			return
		}
		cp.IsRead = cp.IsRead || existing.IsRead
	}
	c.alerts[cp.ID] = &cp
}

// snapshot returns a copy of the cached alerts sorted by timestamp
// descending, newest first. Equal timestamps fall back to id order so the
// result is deterministic.
func (c *cache) snapshot() []models.Alert {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]models.Alert, 0, len(c.alerts))
	for _, a := range c.alerts {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

func (c *cache) markRead(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	a, ok := c.alerts[id]
	if !ok || a.IsRead {
		return false
	}
	a.IsRead = true
	return true
}

func (c *cache) markAllRead() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	changed := 0
	for _, a := range c.alerts {
		if !a.IsRead {
			a.IsRead = true
			changed++
		}
	}
	return changed
}

func (c *cache) unreadCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := 0
	for _, a := range c.alerts {
		if !a.IsRead {
			n++
		}
	}
	return n
}

func (c *cache) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.alerts)
}

// stale reports whether the last refresh is older than the max-age policy.
// A never-refreshed cache is always stale.
func (c *cache) stale(now time.Time) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.refreshedAt.IsZero() || now.Sub(c.refreshedAt) > c.maxAge
}
