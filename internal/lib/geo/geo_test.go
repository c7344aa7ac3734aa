package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistance(t *testing.T) {
	// Highway 4: Angels Camp to Murphys
	angelsCamp := Point{Latitude: 38.0675, Longitude: -120.5436}
	murphys := Point{Latitude: 38.1391, Longitude: -120.4561}

	assert.InDelta(t, 11046, Distance(angelsCamp, murphys), 100, "Distance should be approximately 11.0km")
	assert.Equal(t, 0.0, Distance(murphys, murphys), "Distance from point to itself should be 0")

	// 0.01 degrees of longitude on the equator
	assert.InDelta(t, 1111.95, Distance(Point{0, 0}, Point{0, 0.01}), 0.5)
}

func TestPointToPoint(t *testing.T) {
	origin := Point{Latitude: 38.0675, Longitude: -120.5436}

	_, err := PointToPoint(origin, Point{Latitude: 200, Longitude: -300})
	assert.Error(t, err, "Should return error for invalid coordinates")

	_, err = PointToPoint(origin, Point{Latitude: math.NaN(), Longitude: 0})
	assert.Error(t, err, "NaN is not a coordinate")

	d, err := PointToPoint(origin, origin)
	require.NoError(t, err)
	assert.Equal(t, 0.0, d)
}

func TestInterpolate(t *testing.T) {
	start := Point{Latitude: 0, Longitude: 0}
	end := Point{Latitude: 1, Longitude: 2}

	assert.Equal(t, start, Interpolate(start, end, 0))
	assert.Equal(t, end, Interpolate(start, end, 1))

	mid := Interpolate(start, end, 0.5)
	assert.InDelta(t, 0.5, mid.Latitude, 1e-12)
	assert.InDelta(t, 1.0, mid.Longitude, 1e-12)
}

func TestPolylineRoundTrip(t *testing.T) {
	encoded := "_p~iF~ps|U_ulLnnqC_mqNvxq`@"

	points, err := DecodePolyline(encoded)
	require.NoError(t, err)
	require.Len(t, points, 3)
	assert.InDelta(t, 38.5, points[0].Latitude, 1e-5)
	assert.InDelta(t, -120.2, points[0].Longitude, 1e-5)

	assert.Equal(t, encoded, EncodePolyline(points))

	line := NewPolyline(points)
	assert.Equal(t, encoded, line.EncodedPolyline)
	assert.Equal(t, points, line.Points)
}

func TestPolylineEdgeCases(t *testing.T) {
	_, err := DecodePolyline("")
	assert.Error(t, err, "Should return error for empty polyline")

	_, err = DecodePolyline("invalid_polyline_data")
	assert.Error(t, err, "Should return error for invalid polyline")

	assert.Equal(t, "", EncodePolyline(nil))
}

func TestNewPoint(t *testing.T) {
	p, err := NewPoint(51.5028, -0.1513)
	require.NoError(t, err)
	assert.Equal(t, Point{Latitude: 51.5028, Longitude: -0.1513}, p)

	_, err = NewPoint(91, 0)
	assert.Error(t, err)
}
