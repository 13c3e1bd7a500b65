// Package observe provides Prometheus metrics and OpenTelemetry tracing
// setup for the sync core.
package observe

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for ForgetfulMe.
// Pass to components that need to record metrics.
type Metrics struct {
	AuthTransitions *prometheus.CounterVec
	QueueDepth      prometheus.Gauge

	CacheHits          prometheus.Counter
	CacheMisses        prometheus.Counter
	CacheEvictions     prometheus.Counter
	CacheInvalidations prometheus.Counter

	StorageOps      *prometheus.CounterVec
	QuotaRejections prometheus.Counter

	RemoteRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		AuthTransitions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "forgetfulme",
				Name:      "auth_transitions_total",
				Help:      "Auth session transitions by type and outcome",
			},
			[]string{"transition", "outcome"}, // transition=sign_in/sign_up/sign_out/refresh/restore, outcome=ok/error
		),
		QueueDepth: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "forgetfulme",
				Name:      "auth_queue_depth",
				Help:      "Pending operations in the session serialization queue",
			},
		),
		CacheHits: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "forgetfulme",
				Name:      "cache_hits_total",
				Help:      "Cache lookups served from memory",
			},
		),
		CacheMisses: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "forgetfulme",
				Name:      "cache_misses_total",
				Help:      "Cache lookups that fell through to storage",
			},
		),
		CacheEvictions: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "forgetfulme",
				Name:      "cache_evictions_total",
				Help:      "Entries evicted by the cache size bound",
			},
		),
		CacheInvalidations: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "forgetfulme",
				Name:      "cache_invalidations_total",
				Help:      "Entries dropped by TTL expiry or external change",
			},
		),
		StorageOps: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "forgetfulme",
				Name:      "storage_ops_total",
				Help:      "Storage operations by op, namespace, and outcome",
			},
			[]string{"op", "namespace", "outcome"},
		),
		QuotaRejections: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "forgetfulme",
				Name:      "storage_quota_rejections_total",
				Help:      "Writes rejected by the synced-namespace size ceiling",
			},
		),
		RemoteRequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "forgetfulme",
				Name:      "remote_request_duration_seconds",
				Help:      "Remote auth/REST request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
	}
}

// NopMetrics returns a Metrics registered against a throwaway registry.
// Useful as a default for components constructed without observability.
func NopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
