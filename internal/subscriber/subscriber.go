// Package subscriber bridges the aggregator into an auto-refreshing,
// filtered view for interactive consumers: one polling timer per
// subscription, plus push updates whenever the cache changes underneath it.
package subscriber

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/communitysafe/alerthub/internal/aggregator"
	"github.com/communitysafe/alerthub/internal/models"
)

const defaultRefreshInterval = 30 * time.Second

type Options struct {
	// Coordinates activate the location-scoped feeds on every refresh.
	Coordinates *models.Coordinates
	// Location, when set, additionally narrows the view to alerts relevant
	// to this place string (substring heuristic).
	Location string
	// DisableAutoRefresh turns the polling timer off; the view then only
	// updates on explicit Refresh calls and pushed cache changes.
	DisableAutoRefresh bool
	// RefreshInterval defaults to 30s.
	RefreshInterval time.Duration
	// Filters is the initial filter set; change it later with SetFilters.
	Filters aggregator.Filter
	// Clock is swapped for a fake in tests.
	Clock clockwork.Clock
}

// State is the snapshot a consumer renders from.
type State struct {
	Alerts      []models.Alert
	Loading     bool
	LastErr     error
	UnreadCount int
	Statistics  aggregator.Statistics
}

// Subscription is one consumer's live view of the aggregator. Create with
// New, activate with Start, and always Stop it: Stop clears the timer and
// releases the cache-change listener.
type Subscription struct {
	agg   *aggregator.Aggregator
	opts  Options
	clock clockwork.Clock

	mu      sync.Mutex
	state   State
	filters aggregator.Filter

	cancel   context.CancelFunc
	done     chan struct{}
	subID    uint64
	changes  <-chan aggregator.Change
	started  bool
	stopOnce sync.Once
}

func New(agg *aggregator.Aggregator, opts Options) (*Subscription, error) {
	if err := opts.Filters.Validate(); err != nil {
		return nil, err
	}
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = defaultRefreshInterval
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Subscription{
		agg:     agg,
		opts:    opts,
		clock:   opts.Clock,
		filters: opts.Filters,
	}, nil
}

// Start performs an immediate fetch and begins the refresh loop. It is a
// no-op when called twice.
func (s *Subscription) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.subID, s.changes = s.agg.Subscribe()

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)
}

func (s *Subscription) run(ctx context.Context) {
	defer close(s.done)

	s.Refresh(ctx)

	var tick <-chan time.Time
	if !s.opts.DisableAutoRefresh {
		ticker := s.clock.NewTicker(s.opts.RefreshInterval)
		defer ticker.Stop()
		tick = ticker.Chan()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			s.Refresh(ctx)
		case _, ok := <-s.changes:
			if !ok {
				return
			}
			// Cache changed underneath us (e.g. a mark-as-read elsewhere):
			// rebuild the view without waiting for the next tick.
			s.rebuild(nil)
		}
	}
}

// Refresh fetches all feeds now and rebuilds the view.
func (s *Subscription) Refresh(ctx context.Context) {
	s.setLoading(true)

	_, err := s.agg.FetchAll(ctx, s.opts.Coordinates, nil)
	if err != nil {
		slog.Error("subscription refresh failed", "error", err)
	}
	s.rebuild(err)
}

// rebuild recomputes the filtered slice from the aggregator cache.
func (s *Subscription) rebuild(lastErr error) {
	s.mu.Lock()
	filters := s.filters
	location := s.opts.Location
	s.mu.Unlock()

	alerts, err := s.agg.FilterAlerts(filters)
	if err != nil {
		// Filters are validated on the way in, so this is unexpected.
		slog.Error("subscription filter failed", "error", err)
		lastErr = err
		alerts = nil
	}

	if location != "" {
		relevant := alerts[:0]
		for i := range alerts {
			if aggregator.Relevant(&alerts[i], location) {
				relevant = append(relevant, alerts[i])
			}
		}
		alerts = relevant
	}

	s.mu.Lock()
	s.state = State{
		Alerts:      alerts,
		Loading:     false,
		LastErr:     lastErr,
		UnreadCount: s.agg.UnreadCount(),
		Statistics:  s.agg.Statistics(),
	}
	s.mu.Unlock()
}

func (s *Subscription) setLoading(v bool) {
	s.mu.Lock()
	s.state.Loading = v
	s.mu.Unlock()
}

// State returns the current snapshot.
func (s *Subscription) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetFilters swaps the filter set and rebuilds the view. Malformed filters
// are rejected without touching the current state.
func (s *Subscription) SetFilters(f aggregator.Filter) error {
	if err := f.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.filters = f
	s.mu.Unlock()
	s.rebuild(nil)
	return nil
}

// MarkRead proxies to the aggregator; the pushed change notification brings
// the view up to date.
func (s *Subscription) MarkRead(id string) bool {
	return s.agg.MarkRead(id)
}

func (s *Subscription) MarkAllRead() int {
	return s.agg.MarkAllRead()
}

// Stop cancels the refresh timer and releases the subscription. Safe to
// call more than once.
func (s *Subscription) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel == nil {
			return
		}
		s.cancel()
		<-s.done
		s.agg.Unsubscribe(s.subID)
	})
}
