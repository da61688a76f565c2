package validation

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	resultConfirmed          = "confirmed"
	resultManualConfirmation = "manual_confirmation"
	resultRetry              = "retry"
	resultManualReview       = "manual_review"
	resultPrecondition       = "precondition"
	resultSkipped            = "skipped"
)

type Metrics struct {
	outcomes *prometheus.CounterVec
	duration prometheus.Histogram
}

var (
	metricsOnce sync.Once
	metrics     *Metrics
)

func DefaultMetrics() *Metrics {
	metricsOnce.Do(func() {
		metrics = newMetrics(prometheus.DefaultRegisterer)
	})
	return metrics
}

func newMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "order_validations_total",
			Help: "Order validation attempts by result.",
		}, []string{"result"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "order_validation_duration_seconds",
			Help:    "Wall time of one order validation attempt.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	if err := registerer.Register(m.outcomes); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			m.outcomes = are.ExistingCollector.(*prometheus.CounterVec)
		}
	}
	if err := registerer.Register(m.duration); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			m.duration = are.ExistingCollector.(prometheus.Histogram)
		}
	}
	return m
}

func (m *Metrics) observe(result string, seconds float64) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(result).Inc()
	m.duration.Observe(seconds)
}
