package tracking

import (
	"context"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/emsgo/dispatch/core/geo"
	"github.com/emsgo/dispatch/core/model"
	"github.com/emsgo/dispatch/core/store"
)

// speedWindow is how many recent samples feed the smoothed speed estimate.
const speedWindow = 5

// progressTarget returns the point the vehicle is currently driving toward:
// the pickup until the patient is loaded, the matched destination afterwards.
// Nothing to report before assignment or after arrival.
func progressTarget(d model.Dispatch) (geo.Point, bool) {
	switch d.Status {
	case model.DispatchDispatched, model.DispatchEnRoutePickup:
		return d.Pickup, true
	case model.DispatchPatientLoaded, model.DispatchEnRouteDestination:
		if d.Destination != nil {
			return *d.Destination, true
		}
	}
	return geo.Point{}, false
}

// smoothedSpeed averages the speed over the last few samples so a single
// stop-and-go reading does not swing the ETA. Falls back to the current
// sample's speed when there is no history.
func smoothedSpeed(ctx context.Context, samples store.SampleStore, vehicleID string, current float64) float64 {
	recent, err := samples.RecentSamples(ctx, vehicleID, speedWindow)
	if err != nil || len(recent) == 0 {
		return current
	}
	speeds := make([]float64, 0, len(recent)+1)
	for _, s := range recent {
		speeds = append(speeds, s.SpeedKmh)
	}
	speeds = append(speeds, current)
	return stat.Mean(speeds, nil)
}

// progress computes the remaining distance and ETA for the active dispatch.
// The routing provider is consulted with a bounded timeout; when it does not
// answer, the straight-line fallback keeps the ETA estimate alive.
func (s *Service) progress(ctx context.Context, d model.Dispatch, from geo.Point, speedKmh float64, now time.Time) (*float64, *time.Time) {
	target, ok := progressTarget(d)
	if !ok {
		return nil, nil
	}
	speed := smoothedSpeed(ctx, s.store, d.VehicleID, speedKmh)
	route, answered := s.estimator.Estimate(ctx, from, target, speed)
	if !answered && s.log != nil {
		s.log.Debugf("tracking: routing provider unavailable for dispatch %s, using straight-line estimate", d.Number)
	}
	dist := route.DistanceKm
	eta := now.Add(time.Duration(route.DurationMinutes * float64(time.Minute)))
	return &dist, &eta
}
