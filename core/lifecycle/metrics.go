package lifecycle

import "github.com/prometheus/client_golang/prometheus"

var (
	transitionsTotal   *prometheus.CounterVec
	invalidTransitions prometheus.Counter
	lockBusy           prometheus.Counter
	responseTime       prometheus.Histogram
)

func newCollectors() (*prometheus.CounterVec, prometheus.Counter, prometheus.Counter, prometheus.Histogram) {
	tr := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_transitions_total",
			Help: "Number of committed dispatch status transitions",
		},
		[]string{"target"},
	)
	inv := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_invalid_transitions_total",
			Help: "Number of rejected dispatch transitions",
		},
	)
	busy := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_lock_busy_total",
			Help: "Number of transitions rejected due to per-dispatch lock contention",
		},
	)
	resp := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dispatch_response_time_seconds",
			Help:    "Time from dispatched to on-scene",
			Buckets: []float64{60, 120, 240, 480, 600, 900, 1200, 1800},
		},
	)
	return tr, inv, busy, resp
}

func init() {
	transitionsTotal, invalidTransitions, lockBusy, responseTime = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers lifecycle metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(transitionsTotal, invalidTransitions, lockBusy, responseTime)
}

// ResetMetrics reinitializes the collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	transitionsTotal, invalidTransitions, lockBusy, responseTime = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
