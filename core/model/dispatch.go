package model

import (
	"fmt"
	"time"

	"github.com/emsgo/dispatch/core/geo"
)

// DispatchStatus is the closed set of lifecycle states for a dispatch.
type DispatchStatus string

const (
	DispatchRequested          DispatchStatus = "requested"
	DispatchAssigned           DispatchStatus = "assigned"
	DispatchDispatched         DispatchStatus = "dispatched"
	DispatchEnRoutePickup      DispatchStatus = "en_route_pickup"
	DispatchOnScene            DispatchStatus = "on_scene"
	DispatchPatientLoaded      DispatchStatus = "patient_loaded"
	DispatchEnRouteDestination DispatchStatus = "en_route_destination"
	DispatchAtDestination      DispatchStatus = "at_destination"
	DispatchCompleted          DispatchStatus = "completed"
	DispatchCancelled          DispatchStatus = "cancelled"
	DispatchFailed             DispatchStatus = "failed"
)

// Valid reports whether the status is a known member of the enumeration.
func (s DispatchStatus) Valid() bool {
	switch s {
	case DispatchRequested, DispatchAssigned, DispatchDispatched,
		DispatchEnRoutePickup, DispatchOnScene, DispatchPatientLoaded,
		DispatchEnRouteDestination, DispatchAtDestination,
		DispatchCompleted, DispatchCancelled, DispatchFailed:
		return true
	}
	return false
}

// Terminal reports whether the status ends the lifecycle.
func (s DispatchStatus) Terminal() bool {
	return s == DispatchCompleted || s == DispatchCancelled || s == DispatchFailed
}

// Priority classifies the urgency of a dispatch request.
type Priority string

const (
	PriorityRoutine   Priority = "routine"
	PriorityUrgent    Priority = "urgent"
	PriorityEmergency Priority = "emergency"
	PriorityCritical  Priority = "critical"
)

// Valid reports whether the priority is a known member of the enumeration.
func (p Priority) Valid() bool {
	switch p {
	case PriorityRoutine, PriorityUrgent, PriorityEmergency, PriorityCritical:
		return true
	}
	return false
}

// Urgent reports whether the priority asks for the closest destination.
func (p Priority) Urgent() bool {
	return p == PriorityUrgent || p == PriorityEmergency || p == PriorityCritical
}

// Timestamps records when each lifecycle milestone was first reached. A field
// is written at most once; replayed transitions never overwrite it.
type Timestamps struct {
	RequestedAt     time.Time  `json:"requested_at"`
	DispatchedAt    *time.Time `json:"dispatched_at,omitempty"`
	EnRouteAt       *time.Time `json:"en_route_at,omitempty"`
	OnSceneAt       *time.Time `json:"on_scene_at,omitempty"`
	PatientLoadedAt *time.Time `json:"patient_loaded_at,omitempty"`
	AtDestinationAt *time.Time `json:"at_destination_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// StatusChange is one append-only history row. Rows are never updated.
type StatusChange struct {
	ID         string         `json:"id"`
	DispatchID string         `json:"dispatch_id"`
	OldStatus  DispatchStatus `json:"old_status"`
	NewStatus  DispatchStatus `json:"new_status"`
	Actor      string         `json:"actor"`
	Note       string         `json:"note,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Dispatch is one end-to-end assignment of a vehicle to transport a patient.
type Dispatch struct {
	ID                 string         `json:"id"`
	Number             string         `json:"number"`
	CaseID             string         `json:"case_id"`
	VehicleID          string         `json:"vehicle_id,omitempty"` // empty until assigned
	Priority           Priority       `json:"priority"`
	Status             DispatchStatus `json:"status"`
	Pickup             geo.Point      `json:"pickup"`
	PickupAddress      string         `json:"pickup_address"`
	Destination        *geo.Point     `json:"destination,omitempty"` // nil until a facility is matched
	DestinationAddress string         `json:"destination_address,omitempty"`
	FacilityID         string         `json:"facility_id,omitempty"`
	PatientInfo        string         `json:"patient_info,omitempty"`
	Times              Timestamps     `json:"times"`

	// Derived metrics, computed once both endpoints exist. Never hand-set.
	ResponseTime  *time.Duration `json:"response_time,omitempty"`
	TransportTime *time.Duration `json:"transport_time,omitempty"`

	History []StatusChange `json:"history,omitempty"`
}

// Validate checks the invariants a dispatch record must hold.
func (d Dispatch) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("dispatch id must not be empty")
	}
	if !d.Status.Valid() {
		return fmt.Errorf("unknown dispatch status %q", d.Status)
	}
	if !d.Priority.Valid() {
		return fmt.Errorf("unknown priority %q", d.Priority)
	}
	if !d.Pickup.Valid() {
		return fmt.Errorf("pickup coordinates out of range")
	}
	return nil
}

// Active reports whether the dispatch is still in flight.
func (d Dispatch) Active() bool { return !d.Status.Terminal() }

// DeriveMetrics fills in response and transport time once their endpoints
// exist. Already-derived values are left untouched.
func (d *Dispatch) DeriveMetrics() {
	if d.ResponseTime == nil && d.Times.DispatchedAt != nil && d.Times.OnSceneAt != nil {
		rt := d.Times.OnSceneAt.Sub(*d.Times.DispatchedAt)
		d.ResponseTime = &rt
	}
	if d.TransportTime == nil && d.Times.PatientLoadedAt != nil && d.Times.AtDestinationAt != nil {
		tt := d.Times.AtDestinationAt.Sub(*d.Times.PatientLoadedAt)
		d.TransportTime = &tt
	}
}
