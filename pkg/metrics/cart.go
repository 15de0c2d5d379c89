package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	OpFetch = "fetch"
	OpPush  = "push"

	ResultSuccess = "success"
	ResultFailure = "failure"
)

// CartMetrics records cart persistence and remote synchronisation outcomes.
// A nil *CartMetrics is valid and records nothing.
type CartMetrics struct {
	syncTotal       *prometheus.CounterVec
	syncDuration    *prometheus.HistogramVec
	debounceResets  prometheus.Counter
	storageFailures *prometheus.CounterVec
	activeSessions  prometheus.Gauge
}

// NewCartMetrics registers the cart metrics on the provided registerer.
func NewCartMetrics(reg prometheus.Registerer) *CartMetrics {
	if reg == nil {
		return &CartMetrics{}
	}
	syncTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_sync_operations_total",
		Help: "Remote cart sync operations by operation and result.",
	}, []string{"op", "result"})
	syncDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cart_sync_duration_seconds",
		Help:    "Duration of remote cart sync operations in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})
	debounceResets := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cart_sync_debounce_resets_total",
		Help: "Pending pushes superseded by a newer mutation inside the quiet period.",
	})
	storageFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_storage_failures_total",
		Help: "Local persistence failures swallowed by the cart store.",
	}, []string{"op"})
	activeSessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cart_sessions_active",
		Help: "Cart sessions currently held in memory.",
	})
	reg.MustRegister(syncTotal, syncDuration, debounceResets, storageFailures, activeSessions)
	return &CartMetrics{
		syncTotal:       syncTotal,
		syncDuration:    syncDuration,
		debounceResets:  debounceResets,
		storageFailures: storageFailures,
		activeSessions:  activeSessions,
	}
}

// ObserveSync records the outcome and duration of a remote operation.
func (c *CartMetrics) ObserveSync(op string, duration time.Duration, err error) {
	if c == nil || c.syncTotal == nil {
		return
	}
	result := ResultSuccess
	if err != nil {
		result = ResultFailure
	}
	c.syncTotal.WithLabelValues(normalizeLabel(op), result).Inc()
	c.syncDuration.WithLabelValues(normalizeLabel(op)).Observe(duration.Seconds())
}

// IncDebounceReset counts a pending push that was rescheduled.
func (c *CartMetrics) IncDebounceReset() {
	if c == nil || c.debounceResets == nil {
		return
	}
	c.debounceResets.Inc()
}

// IncStorageFailure counts a swallowed local persistence failure.
func (c *CartMetrics) IncStorageFailure(op string) {
	if c == nil || c.storageFailures == nil {
		return
	}
	c.storageFailures.WithLabelValues(normalizeLabel(op)).Inc()
}

// SetActiveSessions reports the number of live cart sessions.
func (c *CartMetrics) SetActiveSessions(n int) {
	if c == nil || c.activeSessions == nil {
		return
	}
	c.activeSessions.Set(float64(n))
}

func normalizeLabel(label string) string {
	if label == "" {
		return "unknown"
	}
	return label
}
