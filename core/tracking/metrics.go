package tracking

import "github.com/prometheus/client_golang/prometheus"

var (
	samplesIngested prometheus.Counter
	samplesStale    prometheus.Counter
	geofenceEvents  *prometheus.CounterVec
)

func newCollectors() (prometheus.Counter, prometheus.Counter, *prometheus.CounterVec) {
	ing := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tracking_samples_ingested_total",
			Help: "Number of accepted tracking samples",
		},
	)
	stale := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tracking_samples_stale_total",
			Help: "Number of samples dropped because a newer fix was already recorded",
		},
	)
	gf := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracking_geofence_transitions_total",
			Help: "Number of detected geofence crossings",
		},
		[]string{"direction"},
	)
	return ing, stale, gf
}

func init() {
	samplesIngested, samplesStale, geofenceEvents = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers tracking metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(samplesIngested, samplesStale, geofenceEvents)
}

// ResetMetrics reinitializes the collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	samplesIngested, samplesStale, geofenceEvents = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
