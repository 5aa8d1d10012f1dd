package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus instruments for the alert aggregation path.
type Metrics struct {
	FeedFetches    *prometheus.CounterVec   // labels: source, outcome={success,error,skipped}
	FetchDuration  *prometheus.HistogramVec // labels: source
	CacheSize      prometheus.Gauge
	CacheRefreshes prometheus.Counter
	Subscribers    prometheus.Gauge
	ReadMutations  prometheus.Counter

	registry *prometheus.Registry
}

// NewMetrics creates and registers all aggregator metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	m := newMetrics()
	m.registry = prometheus.NewRegistry()
	m.registry.MustRegister(m.collectors()...)
	return m
}

func newMetrics() *Metrics {
	return &Metrics{
		FeedFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "alerthub",
			Name:      "feed_fetches_total",
			Help:      "Feed adapter fetches by source and outcome.",
		}, []string{"source", "outcome"}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "alerthub",
			Name:      "feed_fetch_duration_seconds",
			Help:      "Feed adapter fetch duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
		}, []string{"source"}),
		CacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "alerthub",
			Name:      "cache_alerts",
			Help:      "Number of alerts currently held in the in-memory cache.",
		}),
		CacheRefreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "alerthub",
			Name:      "cache_refreshes_total",
			Help:      "Total complete fetch-merge-cache cycles.",
		}),
		Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "alerthub",
			Name:      "subscribers",
			Help:      "Active cache-change subscribers.",
		}),
		ReadMutations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "alerthub",
			Name:      "read_mutations_total",
			Help:      "Total mark-as-read state changes applied to the cache.",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.FeedFetches,
		m.FetchDuration,
		m.CacheSize,
		m.CacheRefreshes,
		m.Subscribers,
		m.ReadMutations,
	}
}
