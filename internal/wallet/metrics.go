package wallet

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records wallet operation counters and latencies. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	lockWait   *prometheus.HistogramVec
}

// NewMetrics registers the wallet metrics on the provided registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return &Metrics{}
	}
	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_operations_total",
		Help: "Wallet operations by outcome.",
	}, []string{"operation", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wallet_operation_duration_seconds",
		Help:    "Duration of wallet operations in seconds, lock wait included.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
	lockWait := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wallet_lock_wait_seconds",
		Help:    "Time spent waiting for the mutation lock.",
		Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
	}, []string{"operation"})
	reg.MustRegister(operations, duration, lockWait)
	return &Metrics{
		operations: operations,
		duration:   duration,
		lockWait:   lockWait,
	}
}

// ObserveOperation counts one completed operation and its duration.
func (m *Metrics) ObserveOperation(op string, outcome Outcome, d time.Duration) {
	if m == nil || m.operations == nil {
		return
	}
	m.operations.WithLabelValues(op, string(outcome)).Inc()
	m.duration.WithLabelValues(op).Observe(d.Seconds())
}

// ObserveLockWait records how long op waited for its lock.
func (m *Metrics) ObserveLockWait(op string, d time.Duration) {
	if m == nil || m.lockWait == nil {
		return
	}
	m.lockWait.WithLabelValues(op).Observe(d.Seconds())
}
