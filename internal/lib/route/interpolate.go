package route

import (
	"math"
	"sort"

	"github.com/dpup/journey.ersn.net/server/internal/lib/geo"
)

// Mode selects how progress maps onto the route's waypoints
type Mode int

const (
	// IndexSpace spreads progress evenly across waypoint indices regardless of
	// segment lengths. Meter targets are normalised by the total length first.
	IndexSpace Mode = iota

	// ArcLength places progress by distance travelled along the route.
	// Percent targets are scaled to meters first.
	ArcLength
)

// String returns the configuration name of the mode
func (m Mode) String() string {
	switch m {
	case ArcLength:
		return "arc_length"
	default:
		return "index_space"
	}
}

// ParseMode converts a configuration value to a Mode, defaulting to IndexSpace
func ParseMode(s string) Mode {
	if s == "arc_length" {
		return ArcLength
	}
	return IndexSpace
}

// Target is a position along the route expressed either as a percentage or in meters
type Target struct {
	value    float64
	isMeters bool
}

// AtPercent targets a completion percentage in [0,100]
func AtPercent(percent float64) Target {
	return Target{value: percent}
}

// AtMeters targets a distance from the start of the route
func AtMeters(meters float64) Target {
	return Target{value: meters, isMeters: true}
}

// Position is an interpolated point on the route
type Position struct {
	Point geo.Point `json:"point"`

	// ExactIndex is the fractional waypoint index of Point, used to split the route
	ExactIndex float64 `json:"exact_index"`
}

// Interpolate returns the virtual position for target using index-space interpolation
func Interpolate(model *DistanceModel, target Target) (Position, error) {
	return InterpolateWithMode(model, target, IndexSpace)
}

// InterpolateWithMode returns the virtual position for target using the given mode
func InterpolateWithMode(model *DistanceModel, target Target, mode Mode) (Position, error) {
	if model == nil || model.WaypointCount() == 0 {
		return Position{}, ErrEmptyRoute
	}

	n := model.WaypointCount()
	if n == 1 {
		return Position{Point: model.Waypoint(0)}, nil
	}

	total := model.TotalLengthMeters()
	value := target.value
	if math.IsNaN(value) {
		value = 0
	}

	var exactIndex float64
	switch {
	case mode == ArcLength && target.isMeters:
		exactIndex = model.indexAtMeters(value)
	case mode == ArcLength:
		exactIndex = model.indexAtMeters(clamp(value, 0, 100) / 100 * total)
	case target.isMeters:
		percent := 0.0
		if total > 0 {
			percent = 100 * clamp(value, 0, total) / total
		}
		exactIndex = indexAtPercent(n, percent)
	default:
		exactIndex = indexAtPercent(n, value)
	}

	return Position{Point: model.pointAtIndex(exactIndex), ExactIndex: exactIndex}, nil
}

func indexAtPercent(n int, percent float64) float64 {
	return float64(n-1) * clamp(percent, 0, 100) / 100
}

// indexAtMeters locates the segment containing meters by binary search over the
// cumulative table and returns the fractional index within it
func (m *DistanceModel) indexAtMeters(meters float64) float64 {
	n := m.WaypointCount()
	meters = clamp(meters, 0, m.TotalLengthMeters())

	i := sort.SearchFloat64s(m.cumulative, meters)
	switch {
	case i == 0:
		return 0
	case i >= n:
		return float64(n - 1)
	case m.cumulative[i] == meters:
		return float64(i)
	}

	// cumulative[i-1] < meters <= cumulative[i], so the segment has length
	seg := m.segmentLength[i-1]
	return float64(i-1) + (meters-m.cumulative[i-1])/seg
}

func (m *DistanceModel) pointAtIndex(exactIndex float64) geo.Point {
	n := m.WaypointCount()
	exactIndex = clamp(exactIndex, 0, float64(n-1))

	before := int(math.Floor(exactIndex))
	after := min(before+1, n-1)
	return geo.Interpolate(m.points[before], m.points[after], exactIndex-float64(before))
}

// Split divides a route into the part already travelled and the part ahead
type Split struct {
	Completed []geo.Point `json:"completed"`
	Remaining []geo.Point `json:"remaining"`
}

// EncodedSplit is a Split with both lines as encoded polylines
type EncodedSplit struct {
	Completed geo.Polyline `json:"completed"`
	Remaining geo.Polyline `json:"remaining"`
}

// Encoded returns the split as encoded polylines for map renderers
func (s Split) Encoded() EncodedSplit {
	return EncodedSplit{
		Completed: geo.NewPolyline(s.Completed),
		Remaining: geo.NewPolyline(s.Remaining),
	}
}

// SplitRoute splits the route at exactIndex. When liveFix is set it terminates
// the completed line and starts the remaining line, so both meet at the marker.
// Once the route is finished the remaining line holds at most the live fix.
func SplitRoute(model *DistanceModel, exactIndex float64, liveFix *geo.Point) Split {
	if model == nil || model.WaypointCount() == 0 {
		return Split{}
	}

	n := model.WaypointCount()
	if math.IsNaN(exactIndex) {
		exactIndex = 0
	}
	before := int(math.Floor(clamp(exactIndex, 0, float64(n-1))))
	after := min(before+1, n-1)

	completed := make([]geo.Point, 0, before+2)
	completed = append(completed, model.points[:before+1]...)

	var remaining []geo.Point
	if before < n-1 {
		remaining = make([]geo.Point, 0, n-after+1)
	}

	if liveFix != nil {
		completed = append(completed, *liveFix)
		remaining = append(remaining, *liveFix)
	}
	if before < n-1 {
		remaining = append(remaining, model.points[after:]...)
	}

	return Split{Completed: completed, Remaining: remaining}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
