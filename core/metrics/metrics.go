package metrics

import "time"

// DispatchCompletion is the per-dispatch KPI record written when a dispatch
// reaches a terminal state.
type DispatchCompletion struct {
	DispatchID       string
	Number           string
	VehicleID        string
	FacilityID       string
	Priority         string
	FinalStatus      string
	ResponseTimeSec  float64
	TransportTimeSec float64
	RequestedAt      time.Time
	CompletedAt      time.Time
}

// LocationPoint is a vehicle position snapshot recorded for fleet telemetry.
type LocationPoint struct {
	VehicleID  string
	DispatchID string
	Lat        float64
	Lon        float64
	SpeedKmh   float64
	Timestamp  time.Time
}

// Sink records dispatch and tracking observations.
type Sink interface {
	RecordDispatchCompletion(rec DispatchCompletion) error
	RecordLocation(p LocationPoint) error
}

// NopSink discards all records.
type NopSink struct{}

func (NopSink) RecordDispatchCompletion(DispatchCompletion) error { return nil }
func (NopSink) RecordLocation(LocationPoint) error                { return nil }

// Config defines settings for metrics sinks.
type Config struct {
	PrometheusEnabled bool   `json:"prometheus_enabled"`
	PrometheusPort    string `json:"prometheus_port"`
	InfluxEnabled     bool   `json:"influx_enabled"`
	InfluxURL         string `json:"influx_url"`
	InfluxToken       string `json:"influx_token"`
	InfluxOrg         string `json:"influx_org"`
	InfluxBucket      string `json:"influx_bucket"`
}
