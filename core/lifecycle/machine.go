package lifecycle

import (
	"time"

	"github.com/emsgo/dispatch/core/model"
)

// successors is the static transition table. Forward movement is strictly
// sequential; the two terminal-exit states are reachable from any
// non-terminal state.
var successors = map[model.DispatchStatus][]model.DispatchStatus{
	model.DispatchRequested:          {model.DispatchAssigned},
	model.DispatchAssigned:           {model.DispatchDispatched},
	model.DispatchDispatched:         {model.DispatchEnRoutePickup},
	model.DispatchEnRoutePickup:      {model.DispatchOnScene},
	model.DispatchOnScene:            {model.DispatchPatientLoaded},
	model.DispatchPatientLoaded:      {model.DispatchEnRouteDestination},
	model.DispatchEnRouteDestination: {model.DispatchAtDestination},
	model.DispatchAtDestination:      {model.DispatchCompleted},
	model.DispatchCompleted:          {},
	model.DispatchCancelled:          {},
	model.DispatchFailed:             {},
}

// CanTransition reports whether the state machine allows from → to.
func CanTransition(from, to model.DispatchStatus) bool {
	if from.Terminal() {
		return false
	}
	if to == model.DispatchCancelled || to == model.DispatchFailed {
		return true
	}
	for _, s := range successors[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Successors returns the allowed next states for from, including the
// terminal-exit states for non-terminal inputs.
func Successors(from model.DispatchStatus) []model.DispatchStatus {
	if from.Terminal() {
		return nil
	}
	out := append([]model.DispatchStatus{}, successors[from]...)
	return append(out, model.DispatchCancelled, model.DispatchFailed)
}

// stamp writes the milestone timestamp matching the target state. A field is
// written at most once; replays and later passes never overwrite it.
func stamp(d *model.Dispatch, target model.DispatchStatus, now time.Time) {
	set := func(f **time.Time) {
		if *f == nil {
			t := now
			*f = &t
		}
	}
	switch target {
	case model.DispatchDispatched:
		set(&d.Times.DispatchedAt)
	case model.DispatchEnRoutePickup:
		set(&d.Times.EnRouteAt)
	case model.DispatchOnScene:
		set(&d.Times.OnSceneAt)
	case model.DispatchPatientLoaded:
		set(&d.Times.PatientLoadedAt)
	case model.DispatchAtDestination:
		set(&d.Times.AtDestinationAt)
	case model.DispatchCompleted:
		set(&d.Times.CompletedAt)
	}
}

// vehicleStatusFor maps a dispatch state onto the vehicle status the fleet
// board should show while the vehicle works that dispatch.
func vehicleStatusFor(target model.DispatchStatus) (model.VehicleStatus, bool) {
	switch target {
	case model.DispatchAssigned, model.DispatchDispatched:
		return model.VehicleDispatched, true
	case model.DispatchEnRoutePickup:
		return model.VehicleEnRoute, true
	case model.DispatchOnScene:
		return model.VehicleOnScene, true
	case model.DispatchPatientLoaded, model.DispatchEnRouteDestination:
		return model.VehicleTransporting, true
	case model.DispatchAtDestination:
		return model.VehicleAtFacility, true
	case model.DispatchCompleted, model.DispatchCancelled, model.DispatchFailed:
		return model.VehicleAvailable, true
	}
	return "", false
}
