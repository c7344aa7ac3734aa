package route

import (
	"google.golang.org/grpc/codes"

	"github.com/dpup/journey.ersn.net/server/internal/lib/geo"
	"github.com/dpup/journey.ersn.net/server/internal/lib/journey"
)

var (
	// ErrEmptyRoute is returned when a route has no waypoints
	ErrEmptyRoute = journey.NewError("route has no waypoints", codes.InvalidArgument)

	// ErrInsufficientRoute is returned when an operation needs at least one segment
	ErrInsufficientRoute = journey.NewError("route must have at least 2 points", codes.FailedPrecondition)
)

// DistanceModel is the arc-length table of a route. It is built once per
// route and never mutated; a changed route means a new model.
type DistanceModel struct {
	points        []geo.Point
	cumulative    []float64
	segmentLength []float64
}

// Build computes cumulative great-circle distances for an ordered waypoint sequence
func Build(points []geo.Point) (*DistanceModel, error) {
	if len(points) == 0 {
		return nil, ErrEmptyRoute
	}

	m := &DistanceModel{
		points:        append([]geo.Point(nil), points...),
		cumulative:    make([]float64, len(points)),
		segmentLength: make([]float64, len(points)-1),
	}

	for i := 1; i < len(points); i++ {
		d := geo.Distance(points[i-1], points[i])
		m.segmentLength[i-1] = d
		m.cumulative[i] = m.cumulative[i-1] + d
	}

	return m, nil
}

// TotalLengthMeters returns the length of the whole route
func (m *DistanceModel) TotalLengthMeters() float64 {
	return m.cumulative[len(m.cumulative)-1]
}

// CumulativeAt returns the distance from the start to waypoint i
func (m *DistanceModel) CumulativeAt(i int) float64 {
	if i < 0 || i >= len(m.cumulative) {
		return 0
	}
	return m.cumulative[i]
}

// SegmentLengthAt returns the distance from waypoint i to waypoint i+1
func (m *DistanceModel) SegmentLengthAt(i int) float64 {
	if i < 0 || i >= len(m.segmentLength) {
		return 0
	}
	return m.segmentLength[i]
}

// WaypointCount returns the number of waypoints in the route
func (m *DistanceModel) WaypointCount() int {
	return len(m.points)
}

// Waypoint returns waypoint i, or the zero Point when out of range
func (m *DistanceModel) Waypoint(i int) geo.Point {
	if i < 0 || i >= len(m.points) {
		return geo.Point{}
	}
	return m.points[i]
}

// Points returns a copy of the route's waypoints
func (m *DistanceModel) Points() []geo.Point {
	return append([]geo.Point(nil), m.points...)
}
