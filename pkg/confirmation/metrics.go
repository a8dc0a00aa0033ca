package confirmation

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/0xmhha/checko-go/pkg/rpc"
)

const (
	outcomeSkipped   = "skipped"
	outcomeApproved  = "approved"
	outcomeDenied    = "denied"
	outcomeDismissed = "dismissed"
	outcomeError     = "error"
)

// Metrics holds Prometheus metrics for the confirmation gate
type Metrics struct {
	ConfirmationsTotal   *prometheus.CounterVec
	ConfirmationDuration prometheus.Histogram
}

// NewMetrics creates the gate metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ConfirmationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "confirmation",
			Name:      "total",
			Help:      "Confirmation gate decisions by outcome",
		}, []string{"outcome"}),
		ConfirmationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "confirmation",
			Name:      "wait_seconds",
			Help:      "Time the user took to answer a confirmation",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}),
	}
}

func (m *Metrics) record(outcome string, wait time.Duration) {
	if m == nil {
		return
	}
	m.ConfirmationsTotal.WithLabelValues(outcome).Inc()
	if outcome != outcomeSkipped {
		m.ConfirmationDuration.Observe(wait.Seconds())
	}
}

func classify(err error) string {
	switch {
	case err == nil:
		return outcomeApproved
	case errors.Is(err, rpc.ErrUnauthorized):
		return outcomeDenied
	case errors.Is(err, rpc.ErrRejectedByUser):
		return outcomeDismissed
	case errors.Is(err, context.Canceled):
		return outcomeDismissed
	default:
		return outcomeError
	}
}
