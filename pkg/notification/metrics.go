package notification

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the notification manager
type Metrics struct {
	ClientRebuildsTotal  prometheus.Counter
	ChainSubscriptions   prometheus.Gauge
	EventsTotal          *prometheus.CounterVec
	MalformedEventsTotal prometheus.Counter
	TickFailuresTotal    prometheus.Counter
	LostTotal            prometheus.Counter
}

// NewMetrics creates the manager metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "checko"
	}
	const subsystem = "notification"
	factory := promauto.With(reg)

	return &Metrics{
		ClientRebuildsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "client_rebuilds_total",
			Help:      "Stream clients created after an endpoint change",
		}),
		ChainSubscriptions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "chain_subscriptions",
			Help:      "Microchains currently subscribed for notifications",
		}),
		EventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "events_total",
			Help:      "Notification events dispatched by topic",
		}, []string{"topic"}),
		MalformedEventsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "malformed_events_total",
			Help:      "Notification results that could not be decoded",
		}),
		TickFailuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "tick_failures_total",
			Help:      "Reconcile ticks skipped because of an error",
		}),
		LostTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "subscriptions_lost_total",
			Help:      "Chain subscriptions ended by the node",
		}),
	}
}

func (m *Metrics) recordRebuild() {
	if m != nil {
		m.ClientRebuildsTotal.Inc()
	}
}

func (m *Metrics) setChains(n int) {
	if m != nil {
		m.ChainSubscriptions.Set(float64(n))
	}
}

func (m *Metrics) recordEvent(topic string) {
	if m != nil {
		m.EventsTotal.WithLabelValues(topic).Inc()
	}
}

func (m *Metrics) recordMalformed() {
	if m != nil {
		m.MalformedEventsTotal.Inc()
	}
}

func (m *Metrics) recordTickFailure() {
	if m != nil {
		m.TickFailuresTotal.Inc()
	}
}

func (m *Metrics) recordLost() {
	if m != nil {
		m.LostTotal.Inc()
	}
}
