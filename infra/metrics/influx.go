package metrics

import (
	"context"
	"math"
	"net/http"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/emsgo/dispatch/core/metrics"
	"github.com/emsgo/dispatch/infra/logger"
)

// InfluxSink writes dispatch KPIs and vehicle telemetry to an InfluxDB
// instance using the official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	base := strings.TrimSuffix(url, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and
// returns a NopSink if the health check fails.
func NewInfluxSinkWithFallback(url, token, org, bucket string) coremetrics.Sink {
	sink := NewInfluxSink(url, token, org, bucket)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// RecordDispatchCompletion writes the completed dispatch as a KPI point.
func (s *InfluxSink) RecordDispatchCompletion(rec coremetrics.DispatchCompletion) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("dispatch_completion").
		AddTag("dispatch_id", rec.DispatchID).
		AddTag("number", rec.Number).
		AddTag("priority", rec.Priority).
		AddTag("final_status", rec.FinalStatus).
		AddTag("component", "dispatch_lifecycle")
	if rec.VehicleID != "" {
		p = p.AddTag("vehicle_id", rec.VehicleID)
	}
	if rec.FacilityID != "" {
		p = p.AddTag("facility_id", rec.FacilityID)
	}
	p = p.AddField("response_time_sec", round3(rec.ResponseTimeSec)).
		AddField("transport_time_sec", round3(rec.TransportTimeSec)).
		AddField("total_time_sec", round3(rec.CompletedAt.Sub(rec.RequestedAt).Seconds())).
		SetTime(rec.CompletedAt)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordLocation writes a vehicle position snapshot.
func (s *InfluxSink) RecordLocation(pt coremetrics.LocationPoint) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("vehicle_location").
		AddTag("vehicle_id", pt.VehicleID).
		AddTag("component", "tracking")
	if pt.DispatchID != "" {
		p = p.AddTag("dispatch_id", pt.DispatchID)
	}
	p = p.AddField("lat", pt.Lat).
		AddField("lon", pt.Lon).
		AddField("speed_kmh", round3(pt.SpeedKmh)).
		SetTime(pt.Timestamp)
	return s.writeAPI.WritePoint(ctx, p)
}

// Close releases the underlying client.
func (s *InfluxSink) Close() {
	s.client.Close()
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
