package earning

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeProcessed = "processed"
	outcomeCompleted = "completed"
	outcomeSkipped   = "skipped"
	outcomeFailed    = "failed"
)

const (
	cycleResultOK       = "ok"
	cycleResultDisabled = "disabled"
	cycleResultError    = "error"
)

type Metrics struct {
	cycles        *prometheus.CounterVec
	licenses      *prometheus.CounterVec
	cycleDuration prometheus.Histogram
}

var (
	metricsOnce sync.Once
	metrics     *Metrics
)

// DefaultMetrics returns the process-wide accrual metrics.
func DefaultMetrics() *Metrics {
	metricsOnce.Do(func() {
		metrics = newMetrics(prometheus.DefaultRegisterer)
	})
	return metrics
}

func newMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "earnings_cycles_total",
			Help: "Accrual cycles by result.",
		}, []string{"result"}),
		licenses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "earnings_licenses_total",
			Help: "Licenses handled by accrual cycles, by outcome.",
		}, []string{"outcome"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "earnings_cycle_duration_seconds",
			Help:    "Wall time of one accrual cycle.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	m.cycles = registerOrExisting(registerer, m.cycles)
	m.licenses = registerOrExisting(registerer, m.licenses)
	m.cycleDuration = registerOrExisting(registerer, m.cycleDuration)
	return m
}

func registerOrExisting[C prometheus.Collector](registerer prometheus.Registerer, c C) C {
	if err := registerer.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

func (m *Metrics) observeLicense(outcome string) {
	if m == nil {
		return
	}
	m.licenses.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeCycle(result string, seconds float64) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(result).Inc()
	if result == cycleResultOK {
		m.cycleDuration.Observe(seconds)
	}
}
