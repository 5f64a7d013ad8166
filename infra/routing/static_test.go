package routing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emsgo/dispatch/core/geo"
)

func TestStaticProvider(t *testing.T) {
	p := StaticProvider{SpeedKmh: 60}
	origin := geo.Point{Lat: 40.7128, Lon: -74.0060}
	dest := geo.Point{Lat: 40.7580, Lon: -73.9855}

	r, err := p.Route(context.Background(), origin, dest)
	require.NoError(t, err)
	assert.InDelta(t, geo.DistanceKm(origin, dest), r.DistanceKm, 1e-9)
	assert.InDelta(t, r.DistanceKm/60*60, r.DurationMinutes, 1e-9)
}

func TestStaticProvider_DefaultSpeed(t *testing.T) {
	p := StaticProvider{}
	r, err := p.Route(context.Background(), geo.Point{}, geo.Point{Lat: 0.5})
	require.NoError(t, err)
	assert.InDelta(t, r.DistanceKm/40*60, r.DurationMinutes, 1e-9)
}
