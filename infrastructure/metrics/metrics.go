// Package metrics provides the Prometheus collectors for UDF invocations.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Invocation results.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Metrics holds the UDF host collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	invocations *prometheus.CounterVec
	faults      *prometheus.CounterVec
	duration    prometheus.Histogram
	outstanding *prometheus.GaugeVec
	abandoned   prometheus.Counter
}

// NewMetrics registers the collectors on reg. A nil reg creates unregistered
// collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		invocations: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "udf_invocations_total",
			Help: "Total number of UDF invocations by result.",
		}, []string{"result"}),
		faults: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "udf_faults_total",
			Help: "Total number of failed UDF invocations by failure kind.",
		}, []string{"kind"}),
		duration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "udf_invocation_duration_seconds",
			Help:    "Time spent in one UDF invocation, including marshaling and release.",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
		outstanding: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "udf_guest_outstanding_bytes",
			Help: "Guest memory currently held by the host, per sandbox instance.",
		}, []string{"instance"}),
		abandoned: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "udf_guest_abandoned_allocations_total",
			Help: "Guest allocations abandoned because their instance faulted.",
		}),
	}
}

// ObserveInvocation records one invocation. kind is empty on success.
func (m *Metrics) ObserveInvocation(kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.duration.Observe(d.Seconds())
	if kind == "" {
		m.invocations.WithLabelValues(ResultOK).Inc()
		return
	}
	m.invocations.WithLabelValues(ResultError).Inc()
	m.faults.WithLabelValues(kind).Inc()
}

// SetOutstanding records the bytes an instance currently holds in its guest.
func (m *Metrics) SetOutstanding(instance string, bytes uint64) {
	if m == nil {
		return
	}
	m.outstanding.WithLabelValues(instance).Set(float64(bytes))
}

// Abandon counts allocations lost with a faulted instance.
func (m *Metrics) Abandon(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.abandoned.Add(float64(n))
}

// Forget drops the per-instance series of a closed instance.
func (m *Metrics) Forget(instance string) {
	if m == nil {
		return
	}
	m.outstanding.DeleteLabelValues(instance)
}
