package events

import (
	"time"

	"github.com/emsgo/dispatch/core/model"
)

// GeofenceTransition describes the direction of a zone crossing.
type GeofenceTransition string

const (
	GeofenceEntered GeofenceTransition = "entered"
	GeofenceExited  GeofenceTransition = "exited"
)

// GeofenceEvent is published when a vehicle crosses a zone boundary with
// notifications enabled.
type GeofenceEvent struct {
	VehicleID  string              `json:"vehicle_id"`
	ZoneID     string              `json:"zone_id"`
	ZoneName   string              `json:"zone_name"`
	ZoneType   model.ZoneType      `json:"zone_type"`
	Transition GeofenceTransition  `json:"transition"`
	NewStatus  model.VehicleStatus `json:"new_status,omitempty"` // set when the zone forced a status change
	Timestamp  time.Time           `json:"timestamp"`
}
