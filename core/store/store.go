// Package store defines the persistence interfaces consumed by the tracking
// and lifecycle services. Implementations must serialize updates per entity:
// two concurrent updates for the same vehicle or dispatch never interleave,
// and the second sees the first's committed state. Lock acquisition is
// bounded; contention surfaces as a fault of kind Busy rather than queueing
// indefinitely.
package store

import (
	"context"

	"github.com/emsgo/dispatch/core/model"
)

// VehicleStore provides access to vehicle records.
type VehicleStore interface {
	Vehicle(ctx context.Context, id string) (model.Vehicle, error)
	ListVehicles(ctx context.Context) ([]model.Vehicle, error)
	PutVehicle(ctx context.Context, v model.Vehicle) error

	// UpdateVehicle applies fn to the vehicle under its exclusive per-entity
	// lock and commits the result. If fn returns an error nothing is written
	// and the error is returned unchanged.
	UpdateVehicle(ctx context.Context, id string, fn func(*model.Vehicle) error) (model.Vehicle, error)
}

// DispatchStore provides access to dispatch records and their append-only
// history. History rows live inside the dispatch record so a transition and
// its history row commit atomically.
type DispatchStore interface {
	Dispatch(ctx context.Context, id string) (model.Dispatch, error)
	CreateDispatch(ctx context.Context, d model.Dispatch) error

	// ActiveDispatchForVehicle returns the non-terminal dispatch currently
	// assigned to the vehicle, if any.
	ActiveDispatchForVehicle(ctx context.Context, vehicleID string) (model.Dispatch, bool, error)

	// UpdateDispatch applies fn under the per-dispatch exclusive lock.
	UpdateDispatch(ctx context.Context, id string, fn func(*model.Dispatch) error) (model.Dispatch, error)
}

// SampleStore persists the append-only tracking log.
type SampleStore interface {
	AppendSample(ctx context.Context, s model.TrackingSample) error
	LastSample(ctx context.Context, vehicleID string) (model.TrackingSample, bool, error)
	RecentSamples(ctx context.Context, vehicleID string, n int) ([]model.TrackingSample, error)
}

// ZoneStore serves the read-mostly geofence zone set.
type ZoneStore interface {
	ActiveZones(ctx context.Context) ([]model.GeofenceZone, error)
}

// FacilityStore serves facility status snapshots to the matcher. Writes go
// through the facility service's own store seam.
type FacilityStore interface {
	FacilityStatuses(ctx context.Context) ([]model.FacilityStatus, error)
	FacilityStatus(ctx context.Context, facilityID string) (model.FacilityStatus, error)
}

// Store aggregates all persistence capabilities.
type Store interface {
	VehicleStore
	DispatchStore
	SampleStore
	ZoneStore
	FacilityStore
}
