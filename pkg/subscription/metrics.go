package subscription

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the topic registry
type Metrics struct {
	SubscribersTotal     prometheus.Gauge
	SubscriptionsTotal   prometheus.Counter
	UnsubscriptionsTotal prometheus.Counter

	EventsHandledTotal   *prometheus.CounterVec
	EventsDeliveredTotal *prometheus.CounterVec
	CallbackPanicsTotal  prometheus.Counter

	HandleDuration prometheus.Histogram
}

// NewMetrics creates the registry metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "checko"
	}
	const subsystem = "subscription"
	factory := promauto.With(reg)

	return &Metrics{
		SubscribersTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "subscribers",
			Help:      "Current number of topic subscriptions",
		}),
		SubscriptionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "subscriptions_total",
			Help:      "Total number of subscribe calls",
		}),
		UnsubscriptionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "unsubscriptions_total",
			Help:      "Total number of effective unsubscribe calls",
		}),
		EventsHandledTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "events_handled_total",
			Help:      "Total number of events dispatched through the registry",
		}, []string{"topic"}),
		EventsDeliveredTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "events_delivered_total",
			Help:      "Total number of callback deliveries",
		}, []string{"topic"}),
		CallbackPanicsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "callback_panics_total",
			Help:      "Total number of subscriber callbacks that panicked",
		}),
		HandleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "handle_duration_seconds",
			Help:      "Time spent dispatching one event to all matching callbacks",
			Buckets:   []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),
	}
}

// RecordSubscribe records a new subscription
func (m *Metrics) RecordSubscribe(active int) {
	m.SubscriptionsTotal.Inc()
	m.SubscribersTotal.Set(float64(active))
}

// RecordUnsubscribe records a removed subscription
func (m *Metrics) RecordUnsubscribe(active int) {
	m.UnsubscriptionsTotal.Inc()
	m.SubscribersTotal.Set(float64(active))
}

// RecordHandled records one dispatched event
func (m *Metrics) RecordHandled(topic string, delivered int, duration time.Duration) {
	m.EventsHandledTotal.WithLabelValues(topic).Inc()
	m.EventsDeliveredTotal.WithLabelValues(topic).Add(float64(delivered))
	m.HandleDuration.Observe(duration.Seconds())
}
