package routing

import (
	"context"

	"github.com/emsgo/dispatch/core/geo"
	corerouting "github.com/emsgo/dispatch/core/routing"
)

// StaticProvider answers every route with the great-circle distance at a
// fixed average speed. Useful for development and load testing where a real
// routing backend is not available.
type StaticProvider struct {
	SpeedKmh float64
}

func (p StaticProvider) Route(_ context.Context, origin, dest geo.Point) (corerouting.Route, error) {
	speed := p.SpeedKmh
	if speed <= 0 {
		speed = 40
	}
	d := geo.DistanceKm(origin, dest)
	return corerouting.Route{
		DistanceKm:      d,
		DurationMinutes: d / speed * 60,
	}, nil
}
