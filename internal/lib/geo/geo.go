package geo

import (
	"errors"
	"math"

	"github.com/golang/geo/s2"
	"github.com/twpayne/go-polyline"
)

var errInvalidCoordinates = errors.New("invalid coordinates: latitude must be [-90, 90], longitude must be [-180, 180]")

// Distance calculates the great-circle distance between two points in meters
func Distance(p1, p2 Point) float64 {
	// If points are the same, distance is 0
	if p1 == p2 {
		return 0
	}

	a := s2.LatLngFromDegrees(p1.Latitude, p1.Longitude)
	b := s2.LatLngFromDegrees(p2.Latitude, p2.Longitude)
	return a.Distance(b).Radians() * EarthRadiusMeters
}

// PointToPoint calculates great-circle distance between two validated points
func PointToPoint(p1, p2 Point) (float64, error) {
	if !p1.IsValid() || !p2.IsValid() {
		return 0, errInvalidCoordinates
	}
	return Distance(p1, p2), nil
}

// Interpolate calculates a point along the straight lat/lon line between two points.
// t=0 returns start, t=1 returns end, t=0.5 returns midpoint
func Interpolate(start, end Point, t float64) Point {
	// Route segments are short, so linear interpolation in degrees is
	// what every other calculation in the engine assumes too.
	lat := start.Latitude + t*(end.Latitude-start.Latitude)
	lon := start.Longitude + t*(end.Longitude-start.Longitude)

	return Point{Latitude: lat, Longitude: lon}
}

// DecodePolyline decodes Google polyline string to point sequence
func DecodePolyline(encoded string) ([]Point, error) {
	if encoded == "" {
		return nil, errors.New("encoded polyline string is empty")
	}

	coords, _, err := polyline.DecodeCoords([]byte(encoded))
	if err != nil {
		return nil, errors.New("failed to decode polyline: " + err.Error())
	}

	points := make([]Point, len(coords))
	for i, coord := range coords {
		points[i] = Point{
			Latitude:  coord[0],
			Longitude: coord[1],
		}

		if !points[i].IsValid() {
			return nil, errors.New("decoded polyline contains invalid coordinates")
		}
	}

	return points, nil
}

// EncodePolyline encodes a point sequence using the Google polyline algorithm
func EncodePolyline(points []Point) string {
	if len(points) == 0 {
		return ""
	}

	coords := make([][]float64, len(points))
	for i, p := range points {
		coords[i] = []float64{p.Latitude, p.Longitude}
	}
	return string(polyline.EncodeCoords(coords))
}

// NewPolyline builds a Polyline carrying both the points and their encoding
func NewPolyline(points []Point) Polyline {
	return Polyline{
		EncodedPolyline: EncodePolyline(points),
		Points:          points,
	}
}

// NewPoint creates a Point from latitude and longitude values with validation
func NewPoint(latitude, longitude float64) (Point, error) {
	point := Point{Latitude: latitude, Longitude: longitude}
	if !point.IsValid() {
		return Point{}, errInvalidCoordinates
	}
	return point, nil
}

// IsValid validates latitude and longitude values
func (p Point) IsValid() bool {
	if math.IsNaN(p.Latitude) || math.IsNaN(p.Longitude) {
		return false
	}
	return p.Latitude >= -90 && p.Latitude <= 90 &&
		p.Longitude >= -180 && p.Longitude <= 180
}
