package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the collectors exported on /metrics. A nil *Metrics is
// valid and records nothing, so tests can skip wiring a registry.
type Metrics struct {
	events     prometheus.Gauge
	mutations  *prometheus.CounterVec
	conflicts  *prometheus.CounterVec
	blobWrites prometheus.Histogram
}

// New registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		events: f.NewGauge(prometheus.GaugeOpts{
			Name: "evcal_events",
			Help: "Number of events currently held by the store",
		}),
		mutations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "evcal_store_mutations_total",
			Help: "Store mutations by operation",
		}, []string{"op"}),
		conflicts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "evcal_conflicts_total",
			Help: "Detected scheduling conflicts by code path",
		}, []string{"path"}),
		blobWrites: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "evcal_blob_write_seconds",
			Help:    "Latency of persisting the events blob",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
	}
}

func (m *Metrics) SetEvents(n int) {
	if m == nil {
		return
	}
	m.events.Set(float64(n))
}

func (m *Metrics) Mutation(op string) {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues(op).Inc()
}

func (m *Metrics) Conflict(path string) {
	if m == nil {
		return
	}
	m.conflicts.WithLabelValues(path).Inc()
}

func (m *Metrics) ObserveBlobWrite(d time.Duration) {
	if m == nil {
		return
	}
	m.blobWrites.Observe(d.Seconds())
}
