package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments exported by the engine.
type Metrics struct {
	DistributionsTotal  *prometheus.CounterVec
	DeliveriesTotal     *prometheus.CounterVec
	DeliveryDuration    prometheus.Histogram
	QueueDepth          *prometheus.GaugeVec
	ResolverCacheHits   prometheus.Counter
	ResolverCacheMisses prometheus.Counter
	ReviewsTotal        *prometheus.CounterVec
}

// New registers the engine's instruments on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		DistributionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "syndicate",
			Name:      "distributions_total",
			Help:      "Completed distribution executions by terminal status.",
		}, []string{"status"}),
		DeliveriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "syndicate",
			Name:      "deliveries_total",
			Help:      "Per-destination item deliveries by destination kind and outcome.",
		}, []string{"kind", "state"}),
		DeliveryDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "syndicate",
			Name:      "delivery_duration_seconds",
			Help:      "Duration of one distribution execution.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "syndicate",
			Name:      "queue_depth",
			Help:      "Distribution queue depth by status.",
		}, []string{"status"}),
		ResolverCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "syndicate",
			Name:      "resolver_cache_hits_total",
			Help:      "Global ID resolutions served from cache.",
		}),
		ResolverCacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "syndicate",
			Name:      "resolver_cache_misses_total",
			Help:      "Global ID resolutions that required a lookup.",
		}),
		ReviewsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "syndicate",
			Name:      "reviews_total",
			Help:      "Review decisions by final state.",
		}, []string{"state"}),
	}
}

// NewNop returns metrics bound to a throwaway registry, for tests.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
