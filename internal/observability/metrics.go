package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Operations       *prometheus.CounterVec
	OperationLatency *prometheus.HistogramVec
	CacheLookups     *prometheus.CounterVec
	PersistFailures  *prometheus.CounterVec
	ExpiredUsers     prometheus.Counter
	CachedUsers      prometheus.Gauge
	WSMessages       *prometheus.CounterVec

	latency *latencyTracker
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		Operations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Memory operations by name and result.",
		}, []string{"op", "result"}),
		OperationLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_latency_ms",
			Help:      "Memory operation latency in milliseconds.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 25, 50, 100, 250, 1000},
		}, []string{"op"}),
		CacheLookups: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "User memory cache lookups by result.",
		}, []string{"result"}),
		PersistFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_failures_total",
			Help:      "Backend write failures by operation.",
		}, []string{"op"}),
		ExpiredUsers: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expired_users_total",
			Help:      "Users removed by expiry sweeps.",
		}),
		CachedUsers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cached_users",
			Help:      "User memories currently held in the cache.",
		}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		latency: newLatencyTracker(256),
	}
}

// ObserveOperation records one façade call.
func (m *Metrics) ObserveOperation(op, result string, d time.Duration) {
	if m == nil {
		return
	}
	ms := float64(d.Microseconds()) / 1000
	m.Operations.WithLabelValues(op, result).Inc()
	m.OperationLatency.WithLabelValues(op).Observe(ms)
	m.latency.record(op, ms, result != "ok")
}

func (m *Metrics) ObserveCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) ObservePersistFailure(op string) {
	if m == nil {
		return
	}
	m.PersistFailures.WithLabelValues(op).Inc()
}

func (m *Metrics) ObserveExpired(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.ExpiredUsers.Add(float64(count))
}

func (m *Metrics) SetCachedUsers(n int) {
	if m == nil {
		return
	}
	m.CachedUsers.Set(float64(n))
}

func (m *Metrics) ObserveWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// SnapshotLatency returns rolling latency percentiles per operation.
func (m *Metrics) SnapshotLatency() LatencySnapshot {
	if m == nil {
		return LatencySnapshot{GeneratedAt: time.Now().UTC(), Operations: []OperationLatency{}}
	}
	return m.latency.snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
