package model

import (
	"fmt"
	"time"

	"github.com/emsgo/dispatch/core/geo"
)

// TrackingSample is one GPS fix for a vehicle. Samples are append-only and
// ordered by timestamp per vehicle; out-of-order samples are dropped at
// ingestion, never reordered.
type TrackingSample struct {
	ID         string    `json:"id"`
	VehicleID  string    `json:"vehicle_id"`
	DispatchID string    `json:"dispatch_id,omitempty"` // set while the vehicle is assigned
	Position   geo.Point `json:"position"`
	SpeedKmh   float64   `json:"speed_kmh"`
	HeadingDeg float64   `json:"heading_deg"`
	AccuracyM  float64   `json:"accuracy_m"`
	Timestamp  time.Time `json:"timestamp"`
}

// Validate checks coordinate ranges and required references.
func (s TrackingSample) Validate() error {
	if s.VehicleID == "" {
		return fmt.Errorf("sample vehicle id must not be empty")
	}
	if !s.Position.Valid() {
		return fmt.Errorf("sample coordinates out of range: lat=%v lon=%v", s.Position.Lat, s.Position.Lon)
	}
	return nil
}
