package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	Queries        *prometheus.CounterVec
	QueryLatency   *prometheus.HistogramVec
	MemoryWrites   *prometheus.CounterVec
	SyncOps        *prometheus.CounterVec
	SyncQueueDepth prometheus.Gauge
	EventStreams   prometheus.Gauge
	DroppedMetrics prometheus.Counter
}

// NewMetrics registers the instruments with reg, or with the default
// registerer when reg is nil.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		Queries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Routed queries by response path, intent and success.",
		}, []string{"path", "intent", "success"}),
		QueryLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_latency_ms",
			Help:      "End-to-end query latency in milliseconds by response path.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		}, []string{"path"}),
		MemoryWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_writes_total",
			Help:      "Memory mutations by operation and outcome.",
		}, []string{"op", "outcome"}),
		SyncOps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "graph_sync_ops_total",
			Help:      "Remote graph mirror operations by operation and outcome.",
		}, []string{"op", "outcome"}),
		SyncQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "graph_sync_queue_depth",
			Help:      "Mirror jobs waiting for a worker.",
		}),
		EventStreams: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_event_streams",
			Help:      "Open memory event websocket streams.",
		}),
		DroppedMetrics: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_metrics_dropped_total",
			Help:      "Query metrics dropped because the collector buffer was full.",
		}),
	}
}

func (m *Metrics) ObserveQuery(path, intent string, success bool, d time.Duration) {
	if m == nil {
		return
	}
	m.Queries.WithLabelValues(path, intent, strconv.FormatBool(success)).Inc()
	m.QueryLatency.WithLabelValues(path).Observe(float64(d.Microseconds()) / 1000)
}

func (m *Metrics) ObserveMemoryWrite(op, outcome string) {
	if m == nil {
		return
	}
	m.MemoryWrites.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) ObserveSync(op, outcome string) {
	if m == nil {
		return
	}
	m.SyncOps.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) SetSyncQueueDepth(n int) {
	if m == nil {
		return
	}
	m.SyncQueueDepth.Set(float64(n))
}

func (m *Metrics) AddEventStreams(delta int) {
	if m == nil {
		return
	}
	m.EventStreams.Add(float64(delta))
}

func (m *Metrics) incDropped() {
	if m == nil {
		return
	}
	m.DroppedMetrics.Inc()
}

// MetricsHandler serves the registry the metrics were registered with.
func MetricsHandler(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
