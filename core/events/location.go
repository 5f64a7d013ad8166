package events

import (
	"time"

	"github.com/emsgo/dispatch/core/geo"
	"github.com/emsgo/dispatch/core/model"
)

// LocationUpdate is published for every accepted tracking sample.
type LocationUpdate struct {
	VehicleID  string              `json:"vehicle_id"`
	DispatchID string              `json:"dispatch_id,omitempty"`
	Position   geo.Point           `json:"position"`
	SpeedKmh   float64             `json:"speed_kmh"`
	HeadingDeg float64             `json:"heading_deg"`
	Status     model.VehicleStatus `json:"status"`
	Timestamp  time.Time           `json:"timestamp"`

	// Progress toward the active dispatch destination, when known.
	DistanceToDestKm *float64   `json:"distance_to_dest_km,omitempty"`
	ETA              *time.Time `json:"eta,omitempty"`
}
