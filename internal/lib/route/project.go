package route

import (
	"math"

	"github.com/dpup/journey.ersn.net/server/internal/lib/geo"
)

// Projection is the closest point on the route to some coordinate
type Projection struct {
	ArcLengthMeters             float64   `json:"arc_length_meters"`
	PerpendicularDistanceMeters float64   `json:"perpendicular_distance_meters"`
	SegmentIndex                int       `json:"segment_index"`
	Point                       geo.Point `json:"point"`
}

// ProjectOntoRoute finds the nearest point of the route polyline to point and
// returns its arc-length position.
//
// Segment parameters are computed treating latitude/longitude as planar
// coordinates. This is only accurate for short segments; long routes get
// skewed offsets, which is accepted rather than switching projections.
func ProjectOntoRoute(point geo.Point, model *DistanceModel) (Projection, error) {
	if model == nil || model.WaypointCount() < 2 {
		return Projection{}, ErrInsufficientRoute
	}

	best := Projection{PerpendicularDistanceMeters: math.Inf(1)}

	for i := 1; i < model.WaypointCount(); i++ {
		start := model.Waypoint(i - 1)
		end := model.Waypoint(i)

		t := 0.0
		if model.SegmentLengthAt(i-1) > 0 {
			t = segmentParameter(point, start, end)
		}

		projected := geo.Interpolate(start, end, t)
		distance := geo.Distance(point, projected)

		// Strict comparison keeps the earliest segment on ties, so a
		// waypoint shared by two segments resolves to the first one.
		if distance < best.PerpendicularDistanceMeters {
			best = Projection{
				ArcLengthMeters:             model.CumulativeAt(i-1) + t*model.SegmentLengthAt(i-1),
				PerpendicularDistanceMeters: distance,
				SegmentIndex:                i - 1,
				Point:                       projected,
			}
		}
	}

	return best, nil
}

// segmentParameter returns the clamped planar projection parameter of p onto start→end
func segmentParameter(p, start, end geo.Point) float64 {
	dx := end.Longitude - start.Longitude
	dy := end.Latitude - start.Latitude
	lengthSquared := dx*dx + dy*dy
	if lengthSquared == 0 {
		return 0
	}

	t := ((p.Longitude-start.Longitude)*dx + (p.Latitude-start.Latitude)*dy) / lengthSquared
	return math.Max(0, math.Min(1, t))
}
