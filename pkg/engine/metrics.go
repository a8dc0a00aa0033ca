package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/0xmhha/checko-go/pkg/rpc"
)

// Metrics holds Prometheus metrics for the dispatch pipeline
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge
}

// NewMetrics creates the pipeline metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "requests_total",
			Help:      "Requests executed by method and outcome",
		}, []string{"method", "outcome"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "request_duration_seconds",
			Help:      "Pipeline duration by method, confirmation wait included",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		RequestsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "requests_in_flight",
			Help:      "Requests currently in the pipeline",
		}),
	}
}

func (m *Metrics) begin() func() {
	if m == nil {
		return func() {}
	}
	m.RequestsInFlight.Inc()
	return m.RequestsInFlight.Dec
}

func (m *Metrics) observe(method rpc.Method, err error, duration time.Duration) {
	if m == nil {
		return
	}
	// Unknown methods share one label value to bound cardinality
	label := string(method)
	if !rpc.Registered(method) {
		label = "unknown"
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.RequestsTotal.WithLabelValues(label, outcome).Inc()
	m.RequestDuration.WithLabelValues(label).Observe(duration.Seconds())
}
