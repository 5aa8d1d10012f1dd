package aggregator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/communitysafe/alerthub/internal/feeds"
	"github.com/communitysafe/alerthub/internal/models"
	"github.com/communitysafe/alerthub/internal/observability"
	"github.com/communitysafe/alerthub/internal/repository"
)

// Aggregator is the single aggregation point the rest of the system talks
// to: it runs the feed adapters, merges in active community alerts, and owns
// the in-memory cache plus its observer registry.
type Aggregator struct {
	adapters    []feeds.Adapter
	repo        repository.CommunityAlertRepository
	cache       *cache
	broadcaster *Broadcaster
	clock       clockwork.Clock
	metrics     *observability.Metrics

	refreshInterval time.Duration
	wg              sync.WaitGroup
}

type Options struct {
	// RefreshInterval drives the background Run loop. Defaults to 30s.
	RefreshInterval time.Duration
	// MaxAge is how long a refresh stays fresh before Stale reports true.
	// Defaults to 5m.
	MaxAge time.Duration
	// Clock is swapped for a fake in tests. Defaults to the real clock.
	Clock clockwork.Clock
	// Metrics defaults to an unregistered instance so tests stay quiet.
	Metrics *observability.Metrics
}

func New(adapters []feeds.Adapter, repo repository.CommunityAlertRepository, opts Options) *Aggregator {
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = 30 * time.Second
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = 5 * time.Minute
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Metrics == nil {
		opts.Metrics = observability.NewMetricsForTesting()
	}

	return &Aggregator{
		adapters:        adapters,
		repo:            repo,
		cache:           newCache(opts.MaxAge),
		broadcaster:     NewBroadcaster(),
		clock:           opts.Clock,
		metrics:         opts.Metrics,
		refreshInterval: opts.RefreshInterval,
	}
}

// FetchAll runs the requested adapters (all of them when sources is empty),
// merges in active community alerts, deduplicates by id, refreshes the
// cache, and returns the combined list sorted by timestamp descending.
//
// A location activates location-scoped adapters with it; without one they
// are skipped, never errored. A failing adapter is logged and contributes
// nothing; it cannot block the other feeds.
func (a *Aggregator) FetchAll(ctx context.Context, loc *models.Coordinates, sources []models.Source) ([]models.Alert, error) {
	requested := a.requestedSources(sources)

	adapters := a.selectedAdapters(requested, loc)
	results := make([][]models.Alert, len(adapters))

	// Only sources that actually ran supersede their cached entries. A
	// location-scoped feed skipped for lack of a location keeps whatever an
	// earlier fetch produced, read flags included.
	fetched := make(map[models.Source]bool, len(adapters)+1)
	for _, ad := range adapters {
		fetched[ad.Name()] = true
	}

	var wg sync.WaitGroup
	for i, ad := range adapters {
		wg.Add(1)
		go func(i int, ad feeds.Adapter) {
			defer wg.Done()

			start := a.clock.Now()
			alerts, err := ad.Fetch(ctx, loc)
			a.metrics.FetchDuration.WithLabelValues(string(ad.Name())).Observe(a.clock.Since(start).Seconds())

			if err != nil {
				a.metrics.FeedFetches.WithLabelValues(string(ad.Name()), "error").Inc()
				slog.Error("feed fetch failed", "source", ad.Name(), "error", err)
				return
			}
			a.metrics.FeedFetches.WithLabelValues(string(ad.Name()), "success").Inc()
			results[i] = alerts
		}(i, ad)
	}
	wg.Wait()

	merged := make([]models.Alert, 0, 64)
	for _, r := range results {
		merged = append(merged, r...)
	}

	// Community alerts go last so an operator edit wins a same-id conflict.
	if requested[models.SourceAdmin] && a.repo != nil {
		admin, err := a.repo.ListActive(ctx, a.clock.Now())
		if err != nil {
			slog.Error("community alert load failed", "error", err)
		} else {
			fetched[models.SourceAdmin] = true
			merged = append(merged, admin...)
		}
	}

	a.cache.replace(fetched, merged, a.clock.Now())
	a.metrics.CacheSize.Set(float64(a.cache.size()))
	a.metrics.CacheRefreshes.Inc()
	a.broadcaster.Broadcast(Change{Reason: ChangeRefresh})

	out := a.cache.snapshot()
	filtered := out[:0]
	for i := range out {
		if requested[out[i].Source] {
			filtered = append(filtered, out[i])
		}
	}
	return filtered, nil
}

// requestedSources resolves the caller's source filter; empty means all.
func (a *Aggregator) requestedSources(sources []models.Source) map[models.Source]bool {
	requested := make(map[models.Source]bool)
	if len(sources) == 0 {
		for _, s := range models.Sources {
			requested[s] = true
		}
		return requested
	}
	for _, s := range sources {
		requested[s] = true
	}
	return requested
}

func (a *Aggregator) selectedAdapters(requested map[models.Source]bool, loc *models.Coordinates) []feeds.Adapter {
	var selected []feeds.Adapter
	for _, ad := range a.adapters {
		if !requested[ad.Name()] {
			continue
		}
		if ad.RequiresLocation() && loc == nil {
			a.metrics.FeedFetches.WithLabelValues(string(ad.Name()), "skipped").Inc()
			slog.Debug("skipping location-scoped feed without a location", "source", ad.Name())
			continue
		}
		selected = append(selected, ad)
	}
	return selected
}

// Run refreshes the cache on the configured interval until ctx is done.
func (a *Aggregator) Run(ctx context.Context, loc *models.Coordinates) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		slog.Info("starting aggregator refresh loop", "interval", a.refreshInterval)

		ticker := a.clock.NewTicker(a.refreshInterval)
		defer ticker.Stop()

		if _, err := a.FetchAll(ctx, loc, nil); err != nil {
			slog.Error("initial refresh failed", "error", err)
		}

		for {
			select {
			case <-ctx.Done():
				slog.Info("aggregator refresh loop shutting down")
				return
			case <-ticker.Chan():
				if _, err := a.FetchAll(ctx, loc, nil); err != nil {
					slog.Error("refresh failed", "error", err)
				}
			}
		}
	}()
}

// Stop waits for the refresh loop to exit and releases all subscribers.
func (a *Aggregator) Stop() {
	a.wg.Wait()
	a.broadcaster.Close()
	slog.Info("aggregator stopped")
}

// Snapshot returns the cached alerts, newest first, without touching the
// network.
func (a *Aggregator) Snapshot() []models.Alert {
	return a.cache.snapshot()
}

// Stale reports whether the cache has outlived its max-age policy.
func (a *Aggregator) Stale() bool {
	return a.cache.stale(a.clock.Now())
}

// FilterAlerts applies a pure, synchronous filter over the current cache.
// A malformed filter is reported as a ValidationError; no fetch is
// triggered.
func (a *Aggregator) FilterAlerts(f Filter) ([]models.Alert, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	all := a.cache.snapshot()
	out := make([]models.Alert, 0, len(all))
	for i := range all {
		if f.matches(&all[i]) {
			out = append(out, all[i])
		}
	}
	return out, nil
}

// RelevantAlerts returns the cached alerts associated with a location string
// by the substring heuristic, newest first.
func (a *Aggregator) RelevantAlerts(location string) []models.Alert {
	all := a.cache.snapshot()
	out := make([]models.Alert, 0, len(all))
	for i := range all {
		if Relevant(&all[i], location) {
			out = append(out, all[i])
		}
	}
	return out
}

// Statistics reports counts by source and severity over the current cache.
type Statistics struct {
	Total      int                     `json:"total"`
	Unread     int                     `json:"unread"`
	BySource   map[models.Source]int   `json:"bySource"`
	BySeverity map[models.Severity]int `json:"bySeverity"`
}

func (a *Aggregator) Statistics() Statistics {
	stats := Statistics{
		BySource:   make(map[models.Source]int),
		BySeverity: make(map[models.Severity]int),
	}
	for _, alert := range a.cache.snapshot() {
		stats.Total++
		stats.BySource[alert.Source]++
		stats.BySeverity[alert.Severity]++
		if !alert.IsRead {
			stats.Unread++
		}
	}
	return stats
}

// MarkRead flags one cached alert as read. It is idempotent; subscribers
// are only notified when the flag actually changed.
func (a *Aggregator) MarkRead(id string) bool {
	if !a.cache.markRead(id) {
		return false
	}
	a.metrics.ReadMutations.Inc()
	a.broadcaster.Broadcast(Change{Reason: ChangeReadState})
	return true
}

// MarkAllRead flags every cached alert as read and returns how many changed.
func (a *Aggregator) MarkAllRead() int {
	changed := a.cache.markAllRead()
	if changed > 0 {
		a.metrics.ReadMutations.Add(float64(changed))
		a.broadcaster.Broadcast(Change{Reason: ChangeReadState})
	}
	return changed
}

func (a *Aggregator) UnreadCount() int {
	return a.cache.unreadCount()
}

// Subscribe registers a cache-change observer. The returned id releases the
// subscription via Unsubscribe.
func (a *Aggregator) Subscribe() (uint64, <-chan Change) {
	id, ch := a.broadcaster.Subscribe()
	a.metrics.Subscribers.Set(float64(a.broadcaster.SubscriberCount()))
	return id, ch
}

func (a *Aggregator) Unsubscribe(id uint64) {
	a.broadcaster.Unsubscribe(id)
	a.metrics.Subscribers.Set(float64(a.broadcaster.SubscriberCount()))
}
