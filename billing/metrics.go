package billing

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "billing_"

	resultSuccess = "success"
	resultError   = "error"
)

// Metrics holds the sweep collectors. A nil *Metrics records nothing.
type Metrics struct {
	sweepRuns        *prometheus.CounterVec
	sweepLatency     *prometheus.HistogramVec
	billsTransitions *prometheus.CounterVec
	allocations      *prometheus.CounterVec
}

// NewMetrics creates the billing collectors and registers them with reg.
// Pass prometheus.DefaultRegisterer in production, a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sweepRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "sweep_runs_total",
				Help: "Total billing sweep runs by trigger and result",
			},
			[]string{"trigger", "result"},
		),
		sweepLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "sweep_duration_seconds",
				Help:    "Billing sweep duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"trigger"},
		),
		billsTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "bills_transitioned_total",
				Help: "Total bills moved between statuses by the sweep",
			},
			[]string{"transition"},
		),
		allocations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "transaction_hooks_total",
				Help: "Total transaction hook executions by operation and result",
			},
			[]string{"operation", "result"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.sweepRuns, m.sweepLatency, m.billsTransitions, m.allocations)
	}
	return m
}

func (m *Metrics) observeSweep(trigger Trigger, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.sweepRuns.WithLabelValues(string(trigger), resultLabel(err)).Inc()
	m.sweepLatency.WithLabelValues(string(trigger)).Observe(duration.Seconds())
}

func (m *Metrics) addTransitioned(t Transition, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.billsTransitions.WithLabelValues(t.String()).Add(float64(n))
}

func (m *Metrics) observeHook(operation string, err error) {
	if m == nil {
		return
	}
	m.allocations.WithLabelValues(operation, resultLabel(err)).Inc()
}

func resultLabel(err error) string {
	if err != nil {
		return resultError
	}
	return resultSuccess
}
