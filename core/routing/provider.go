// Package routing defines the external routing-provider boundary. The
// provider is a black box returning distance, duration and a polyline for an
// origin/destination pair; it is always called with a bounded timeout and its
// failures degrade to a straight-line estimate, never to a caller-visible
// error.
package routing

import (
	"context"
	"time"

	"github.com/emsgo/dispatch/core/fault"
	"github.com/emsgo/dispatch/core/geo"
)

// Route is the provider's answer for one origin/destination pair.
type Route struct {
	DistanceKm          float64 `json:"distance_km"`
	DurationMinutes     float64 `json:"duration_minutes"`
	Polyline            string  `json:"polyline,omitempty"`
	TrafficDelayMinutes float64 `json:"traffic_delay_minutes"`
}

// Provider computes a route between two coordinates.
type Provider interface {
	Route(ctx context.Context, origin, dest geo.Point) (Route, error)
}

// minFallbackSpeedKmh keeps the straight-line estimate finite for a vehicle
// that is stopped or barely moving.
const minFallbackSpeedKmh = 20.0

// Estimator wraps a Provider with a timeout and a straight-line fallback so
// callers never block on the provider and never see its errors.
type Estimator struct {
	Provider Provider
	Timeout  time.Duration
}

// Estimate returns the provider's route when it answers within the timeout,
// or a fallback computed from the Haversine distance and the given current
// speed. The second return value reports whether the provider answered.
func (e Estimator) Estimate(ctx context.Context, origin, dest geo.Point, speedKmh float64) (Route, bool) {
	if e.Provider != nil {
		timeout := e.Timeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		rctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if r, err := e.Provider.Route(rctx, origin, dest); err == nil {
			return r, true
		}
	}
	return Fallback(origin, dest, speedKmh), false
}

// Fallback builds a straight-line route estimate from distance and speed.
func Fallback(origin, dest geo.Point, speedKmh float64) Route {
	if speedKmh < minFallbackSpeedKmh {
		speedKmh = minFallbackSpeedKmh
	}
	d := geo.DistanceKm(origin, dest)
	return Route{
		DistanceKm:      d,
		DurationMinutes: d / speedKmh * 60,
	}
}

// ErrUnavailable classifies a provider failure for callers that need to log it.
func ErrUnavailable(err error) error {
	return fault.Wrap(fault.KindUpstream, err, "routing provider")
}
