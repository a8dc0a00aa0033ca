package bridge

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the bridge
type Metrics struct {
	PeersConnected      *prometheus.GaugeVec
	FramesReceivedTotal *prometheus.CounterVec
	FramesSentTotal     *prometheus.CounterVec
	FramesDroppedTotal  prometheus.Counter
	SendDuration        *prometheus.HistogramVec
}

// NewMetrics creates the bridge metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "checko"
	}
	const subsystem = "bridge"
	factory := promauto.With(reg)

	return &Metrics{
		PeersConnected: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "peers",
			Help:      "Connected peers by role",
		}, []string{"role"}),
		FramesReceivedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "frames_received_total",
			Help:      "Frames received from peers by event",
		}, []string{"event"}),
		FramesSentTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "frames_sent_total",
			Help:      "Frames queued to peers by event",
		}, []string{"event"}),
		FramesDroppedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "frames_dropped_total",
			Help:      "Frames dropped because a peer buffer was full",
		}),
		SendDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "send_duration_seconds",
			Help:      "Time until the UI replied to a message",
			Buckets:   []float64{.01, .1, .5, 1, 5, 15, 60, 300},
		}, []string{"channel"}),
	}
}

func (m *Metrics) peerConnected(role Role) {
	if m != nil {
		m.PeersConnected.WithLabelValues(string(role)).Inc()
	}
}

func (m *Metrics) peerDisconnected(role Role) {
	if m != nil {
		m.PeersConnected.WithLabelValues(string(role)).Dec()
	}
}

func (m *Metrics) frameReceived(event string) {
	if m != nil {
		m.FramesReceivedTotal.WithLabelValues(event).Inc()
	}
}

func (m *Metrics) frameSent(event string) {
	if m != nil {
		m.FramesSentTotal.WithLabelValues(event).Inc()
	}
}

func (m *Metrics) frameDropped() {
	if m != nil {
		m.FramesDroppedTotal.Inc()
	}
}

func (m *Metrics) observeSend(channel string, d time.Duration) {
	if m != nil {
		m.SendDuration.WithLabelValues(channel).Observe(d.Seconds())
	}
}
