package model

import "github.com/emsgo/dispatch/core/geo"

// ZoneType classifies a geofence zone.
type ZoneType string

const (
	ZoneFacility   ZoneType = "facility"
	ZoneStation    ZoneType = "station"
	ZonePickupArea ZoneType = "pickup_area"
)

// GeofenceZone is a named region with optional automatic status-change and
// notification behaviour on entry. Zones are read-mostly and safely cacheable.
// The boundary is either a polygon ring or, for legacy zones, a center with a
// radius in meters.
type GeofenceZone struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Type       ZoneType    `json:"type"`
	Boundary   []geo.Point `json:"boundary,omitempty"`
	Center     *geo.Point  `json:"center,omitempty"`
	RadiusM    float64     `json:"radius_m,omitempty"`
	FacilityID string      `json:"facility_id,omitempty"`

	// TargetStatus, when non-empty, is applied to a vehicle entering the zone.
	TargetStatus VehicleStatus `json:"target_status,omitempty"`
	Notify       bool          `json:"notify"`
	Active       bool          `json:"active"`
}

// Contains reports whether p lies inside the zone.
func (z GeofenceZone) Contains(p geo.Point) bool {
	if len(z.Boundary) >= 3 {
		return geo.PointInPolygon(p, z.Boundary)
	}
	if z.Center != nil && z.RadiusM > 0 {
		return geo.DistanceMeters(*z.Center, p) <= z.RadiusM
	}
	return false
}
