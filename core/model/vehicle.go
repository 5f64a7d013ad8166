package model

import (
	"fmt"
	"time"

	"github.com/emsgo/dispatch/core/geo"
)

// VehicleStatus is the closed set of operational states for an ambulance.
type VehicleStatus string

const (
	VehicleAvailable    VehicleStatus = "available"
	VehicleDispatched   VehicleStatus = "dispatched"
	VehicleEnRoute      VehicleStatus = "en_route"
	VehicleOnScene      VehicleStatus = "on_scene"
	VehicleTransporting VehicleStatus = "transporting"
	VehicleAtFacility   VehicleStatus = "at_facility"
	VehicleReturning    VehicleStatus = "returning"
	VehicleOutOfService VehicleStatus = "out_of_service"
	VehicleMaintenance  VehicleStatus = "maintenance"
	VehicleOffline      VehicleStatus = "offline"
)

// Valid reports whether the status is a known member of the enumeration.
func (s VehicleStatus) Valid() bool {
	switch s {
	case VehicleAvailable, VehicleDispatched, VehicleEnRoute, VehicleOnScene,
		VehicleTransporting, VehicleAtFacility, VehicleReturning,
		VehicleOutOfService, VehicleMaintenance, VehicleOffline:
		return true
	}
	return false
}

// Operational reports whether the vehicle can take part in dispatch work.
func (s VehicleStatus) Operational() bool {
	switch s {
	case VehicleOutOfService, VehicleMaintenance, VehicleOffline:
		return false
	}
	return true
}

// Vehicle represents one ambulance in the fleet. Vehicles are provisioned
// externally and never deleted, only deactivated.
type Vehicle struct {
	ID              string        `json:"id"`
	Callsign        string        `json:"callsign"`
	Status          VehicleStatus `json:"status"`
	Position        *geo.Point    `json:"position,omitempty"` // nil until first fix
	LastFix         *time.Time    `json:"last_fix,omitempty"`
	SpeedKmh        float64       `json:"speed_kmh"`
	HeadingDeg      float64       `json:"heading_deg"`
	HomeFacilityID  string        `json:"home_facility_id,omitempty"`
	PatientCapacity int           `json:"patient_capacity"`
	Equipment       []string      `json:"equipment,omitempty"`
	Active          bool          `json:"active"`
}

// Validate checks that the vehicle record is sound.
func (v Vehicle) Validate() error {
	if v.ID == "" {
		return fmt.Errorf("vehicle id must not be empty")
	}
	if !v.Status.Valid() {
		return fmt.Errorf("unknown vehicle status %q", v.Status)
	}
	return nil
}

// Dispatchable reports whether the vehicle is a candidate for assignment.
func (v Vehicle) Dispatchable() bool {
	return v.Active && v.Status == VehicleAvailable
}
