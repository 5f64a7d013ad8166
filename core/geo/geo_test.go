package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistanceKm_Zero(t *testing.T) {
	p := Point{Lat: 40.7128, Lon: -74.0060}
	assert.Equal(t, 0.0, DistanceKm(p, p))
}

func TestDistanceKm_Symmetry(t *testing.T) {
	a := Point{Lat: 40.7128, Lon: -74.0060}
	b := Point{Lat: 34.0522, Lon: -118.2437}
	assert.Equal(t, DistanceKm(a, b), DistanceKm(b, a))
}

func TestDistanceKm_KnownDistance(t *testing.T) {
	paris := Point{Lat: 48.8566, Lon: 2.3522}
	london := Point{Lat: 51.5074, Lon: -0.1278}
	d := DistanceKm(paris, london)
	assert.InDelta(t, 344, d, 2)
}

func TestDistanceKm_Deterministic(t *testing.T) {
	a := Point{Lat: 40.7128, Lon: -74.0060}
	b := Point{Lat: 40.7130, Lon: -74.0062}
	first := DistanceKm(a, b)
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, DistanceKm(a, b))
	}
}

func TestDistanceMeters(t *testing.T) {
	a := Point{Lat: 40.7128, Lon: -74.0060}
	b := Point{Lat: 40.7138, Lon: -74.0060}
	assert.InDelta(t, 111, DistanceMeters(a, b), 1)
}

func TestPointValid(t *testing.T) {
	assert.True(t, Point{Lat: 40.7, Lon: -74.0}.Valid())
	assert.True(t, Point{Lat: -90, Lon: 180}.Valid())
	assert.False(t, Point{Lat: 90.0001, Lon: 0}.Valid())
	assert.False(t, Point{Lat: 0, Lon: -180.5}.Valid())
}

func TestPointInPolygon_Square(t *testing.T) {
	square := []Point{
		{Lat: 0, Lon: 0},
		{Lat: 0, Lon: 10},
		{Lat: 10, Lon: 10},
		{Lat: 10, Lon: 0},
	}
	assert.True(t, PointInPolygon(Point{Lat: 5, Lon: 5}, square))
	assert.False(t, PointInPolygon(Point{Lat: 15, Lon: 5}, square))
	assert.False(t, PointInPolygon(Point{Lat: -1, Lon: -1}, square))
}

func TestPointInPolygon_Concave(t *testing.T) {
	// A "U" shape: the notch between the arms is outside.
	u := []Point{
		{Lat: 0, Lon: 0},
		{Lat: 10, Lon: 0},
		{Lat: 10, Lon: 3},
		{Lat: 3, Lon: 3},
		{Lat: 3, Lon: 7},
		{Lat: 10, Lon: 7},
		{Lat: 10, Lon: 10},
		{Lat: 0, Lon: 10},
	}
	assert.True(t, PointInPolygon(Point{Lat: 1, Lon: 5}, u))   // base
	assert.True(t, PointInPolygon(Point{Lat: 8, Lon: 1}, u))   // left arm
	assert.False(t, PointInPolygon(Point{Lat: 8, Lon: 5}, u))  // notch
	assert.False(t, PointInPolygon(Point{Lat: 11, Lon: 5}, u)) // above
}

func TestPointInPolygon_TooFewVertices(t *testing.T) {
	assert.False(t, PointInPolygon(Point{Lat: 1, Lon: 1}, []Point{{Lat: 0, Lon: 0}, {Lat: 2, Lon: 2}}))
	assert.False(t, PointInPolygon(Point{Lat: 1, Lon: 1}, nil))
}
