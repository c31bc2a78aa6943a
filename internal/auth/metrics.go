package auth

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "visitorid"

// Metrics is safe to use as a nil pointer; every recorder becomes a no-op.
type Metrics struct {
	identities     *prometheus.CounterVec
	errors         *prometheus.CounterVec
	opLatency      *prometheus.HistogramVec
	throttled      prometheus.Counter
	metadataWrites *prometheus.CounterVec
}

// NewMetrics registers the auth collectors on reg. A nil reg keeps the
// collectors unregistered, which is convenient in tests.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		identities: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "auth",
			Name:      "identities_total",
			Help:      "Identities served, by whether they were recovered or generated.",
		}, []string{"outcome"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "auth",
			Name:      "errors_total",
			Help:      "Failed operations by error category.",
		}, []string{"category"}),
		opLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "auth",
			Name:      "operation_seconds",
			Help:      "Latency of auth operations.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}, []string{"operation"}),
		throttled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "auth",
			Name:      "generations_throttled_total",
			Help:      "Identity generations refused by the per-client limiter.",
		}),
		metadataWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "auth",
			Name:      "metadata_writes_total",
			Help:      "Metadata writes by result.",
		}, []string{"result"}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.identities, m.errors, m.opLatency, m.throttled, m.metadataWrites} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) RecordIdentity(outcome string) {
	if m == nil {
		return
	}
	m.identities.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordError(category string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(category).Inc()
}

func (m *Metrics) RecordOp(operation string, started, finished time.Time) {
	if m == nil {
		return
	}
	m.opLatency.WithLabelValues(operation).Observe(finished.Sub(started).Seconds())
}

func (m *Metrics) RecordThrottled() {
	if m == nil {
		return
	}
	m.throttled.Inc()
}

func (m *Metrics) RecordMetadataWrite(result string) {
	if m == nil {
		return
	}
	m.metadataWrites.WithLabelValues(result).Inc()
}
