package metrics

import (
	coremetrics "github.com/emsgo/dispatch/core/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// PromSink records dispatch completions and fleet telemetry in Prometheus
// metrics.
type PromSink struct {
	completions   *prometheus.CounterVec
	responseTime  *prometheus.HistogramVec
	transportTime *prometheus.HistogramVec
	locations     *prometheus.CounterVec
}

// NewPromSink registers dispatch metrics on the default Prometheus registerer.
// The Prometheus server should be started separately using cfg.PrometheusPort.
func NewPromSink(cfg coremetrics.Config) (coremetrics.Sink, error) {
	return NewPromSinkWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(_ coremetrics.Config, reg prometheus.Registerer) (coremetrics.Sink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	completions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_completions_total",
		Help: "Total number of dispatches reaching a terminal state",
	}, []string{"priority", "final_status"})
	responseTime := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dispatch_completion_response_seconds",
		Help:    "Response time (dispatched to on-scene) of completed dispatches",
		Buckets: []float64{60, 120, 240, 480, 600, 900, 1200, 1800},
	}, []string{"priority"})
	transportTime := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dispatch_completion_transport_seconds",
		Help:    "Transport time (patient loaded to destination) of completed dispatches",
		Buckets: []float64{120, 300, 600, 900, 1800, 2700, 3600},
	}, []string{"priority"})
	locations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vehicle_location_points_total",
		Help: "Total number of vehicle location points recorded",
	}, []string{"vehicle_id"})

	for _, c := range []prometheus.Collector{completions, responseTime, transportTime, locations} {
		if err := reg.Register(c); err != nil {
			are, ok := err.(prometheus.AlreadyRegisteredError)
			if !ok {
				return nil, err
			}
			switch existing := are.ExistingCollector.(type) {
			case *prometheus.CounterVec:
				if c == completions {
					completions = existing
				} else {
					locations = existing
				}
			case *prometheus.HistogramVec:
				if c == responseTime {
					responseTime = existing
				} else {
					transportTime = existing
				}
			}
		}
	}

	return &PromSink{
		completions:   completions,
		responseTime:  responseTime,
		transportTime: transportTime,
		locations:     locations,
	}, nil
}

// RecordDispatchCompletion increments the completion counter and observes the
// derived durations when present.
func (s *PromSink) RecordDispatchCompletion(rec coremetrics.DispatchCompletion) error {
	s.completions.WithLabelValues(rec.Priority, rec.FinalStatus).Inc()
	if rec.ResponseTimeSec > 0 {
		s.responseTime.WithLabelValues(rec.Priority).Observe(rec.ResponseTimeSec)
	}
	if rec.TransportTimeSec > 0 {
		s.transportTime.WithLabelValues(rec.Priority).Observe(rec.TransportTimeSec)
	}
	return nil
}

// RecordLocation counts location points per vehicle.
func (s *PromSink) RecordLocation(p coremetrics.LocationPoint) error {
	s.locations.WithLabelValues(p.VehicleID).Inc()
	return nil
}
