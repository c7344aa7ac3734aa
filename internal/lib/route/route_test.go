package route

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"

	"github.com/dpup/journey.ersn.net/server/internal/lib/geo"
	"github.com/dpup/journey.ersn.net/server/internal/lib/journey"
)

var (
	equatorRoute = []geo.Point{
		{Latitude: 0, Longitude: 0},
		{Latitude: 0, Longitude: 0.01},
	}

	// Unevenly spaced so index space and arc length disagree
	unevenRoute = []geo.Point{
		{Latitude: 0, Longitude: 0},
		{Latitude: 0, Longitude: 0.01},
		{Latitude: 0, Longitude: 0.03},
	}

	calaverasRoute = []geo.Point{
		{Latitude: 38.0682, Longitude: -120.5398}, // Angels Camp
		{Latitude: 38.1123, Longitude: -120.4812},
		{Latitude: 38.1396, Longitude: -120.4560}, // Murphys
		{Latitude: 38.1396, Longitude: -120.4560}, // duplicate
		{Latitude: 38.1735, Longitude: -120.3908},
	}
)

func mustBuild(t *testing.T, points []geo.Point) *DistanceModel {
	t.Helper()
	m, err := Build(points)
	require.NoError(t, err)
	return m
}

func TestBuild(t *testing.T) {
	t.Run("empty route", func(t *testing.T) {
		m, err := Build(nil)
		assert.Nil(t, m)
		assert.ErrorIs(t, err, ErrEmptyRoute)
		assert.Equal(t, codes.InvalidArgument, journey.StatusCode(err))
	})

	t.Run("single point", func(t *testing.T) {
		m := mustBuild(t, equatorRoute[:1])
		assert.Equal(t, 1, m.WaypointCount())
		assert.Equal(t, 0.0, m.TotalLengthMeters())
		assert.Equal(t, 0.0, m.CumulativeAt(0))
		assert.Equal(t, 0.0, m.SegmentLengthAt(0))
	})

	t.Run("cumulative is non-decreasing and ends at total", func(t *testing.T) {
		m := mustBuild(t, calaverasRoute)
		n := m.WaypointCount()

		assert.Equal(t, 0.0, m.CumulativeAt(0))
		for i := 1; i < n; i++ {
			assert.GreaterOrEqual(t, m.CumulativeAt(i), m.CumulativeAt(i-1))
			assert.InDelta(t, m.CumulativeAt(i-1)+m.SegmentLengthAt(i-1), m.CumulativeAt(i), 1e-9)
		}
		assert.Equal(t, m.CumulativeAt(n-1), m.TotalLengthMeters())
	})

	t.Run("duplicate points give zero-length segment", func(t *testing.T) {
		m := mustBuild(t, calaverasRoute)
		assert.Equal(t, 0.0, m.SegmentLengthAt(2))
	})

	t.Run("equator route length", func(t *testing.T) {
		m := mustBuild(t, equatorRoute)
		assert.InDelta(t, 1111.95, m.TotalLengthMeters(), 0.5)
	})

	t.Run("out of range queries", func(t *testing.T) {
		m := mustBuild(t, equatorRoute)
		assert.Equal(t, 0.0, m.CumulativeAt(-1))
		assert.Equal(t, 0.0, m.CumulativeAt(5))
		assert.Equal(t, geo.Point{}, m.Waypoint(2))
	})

	t.Run("owns its points", func(t *testing.T) {
		points := []geo.Point{{Latitude: 1, Longitude: 1}, {Latitude: 1, Longitude: 2}}
		m := mustBuild(t, points)
		points[0].Latitude = 50

		assert.Equal(t, 1.0, m.Waypoint(0).Latitude)
		copied := m.Points()
		copied[1].Longitude = 99
		assert.Equal(t, 2.0, m.Waypoint(1).Longitude)
	})
}

func TestProjectOntoRoute(t *testing.T) {
	t.Run("requires a segment", func(t *testing.T) {
		_, err := ProjectOntoRoute(geo.Point{}, mustBuild(t, equatorRoute[:1]))
		assert.ErrorIs(t, err, ErrInsufficientRoute)

		_, err = ProjectOntoRoute(geo.Point{}, nil)
		assert.ErrorIs(t, err, ErrInsufficientRoute)
	})

	t.Run("own waypoints project onto themselves", func(t *testing.T) {
		m := mustBuild(t, calaverasRoute)
		for i, p := range calaverasRoute {
			proj, err := ProjectOntoRoute(p, m)
			require.NoError(t, err)
			assert.InDelta(t, 0, proj.PerpendicularDistanceMeters, 1e-6, "waypoint %d", i)
			assert.InDelta(t, m.CumulativeAt(i), proj.ArcLengthMeters, 1e-6, "waypoint %d", i)
		}
	})

	t.Run("off-route point", func(t *testing.T) {
		m := mustBuild(t, equatorRoute)
		// ~11m north of the 500m mark
		proj, err := ProjectOntoRoute(geo.Point{Latitude: 0.0001, Longitude: 0.0045}, m)
		require.NoError(t, err)

		assert.InDelta(t, 11.1, proj.PerpendicularDistanceMeters, 0.2)
		assert.InDelta(t, 500.4, proj.ArcLengthMeters, 0.5)
		assert.Equal(t, 0, proj.SegmentIndex)
		assert.InDelta(t, 0, proj.Point.Latitude, 1e-12)
	})

	t.Run("no extrapolation past endpoints", func(t *testing.T) {
		m := mustBuild(t, equatorRoute)

		before, err := ProjectOntoRoute(geo.Point{Latitude: 0, Longitude: -0.005}, m)
		require.NoError(t, err)
		assert.Equal(t, 0.0, before.ArcLengthMeters)
		assert.InDelta(t, 556, before.PerpendicularDistanceMeters, 1)

		after, err := ProjectOntoRoute(geo.Point{Latitude: 0, Longitude: 0.02}, m)
		require.NoError(t, err)
		assert.InDelta(t, m.TotalLengthMeters(), after.ArcLengthMeters, 1e-9)
	})

	t.Run("degenerate segment", func(t *testing.T) {
		m := mustBuild(t, []geo.Point{
			{Latitude: 0, Longitude: 0},
			{Latitude: 0, Longitude: 0},
		})
		proj, err := ProjectOntoRoute(geo.Point{Latitude: 0.001, Longitude: 0}, m)
		require.NoError(t, err)
		assert.Equal(t, 0.0, proj.ArcLengthMeters)
		assert.Equal(t, geo.Point{}, proj.Point)
	})

	t.Run("ties keep the earliest segment", func(t *testing.T) {
		m := mustBuild(t, unevenRoute)
		proj, err := ProjectOntoRoute(unevenRoute[1], m)
		require.NoError(t, err)
		assert.Equal(t, 0, proj.SegmentIndex)
	})
}

func TestInterpolate(t *testing.T) {
	t.Run("empty model", func(t *testing.T) {
		_, err := Interpolate(nil, AtPercent(50))
		assert.ErrorIs(t, err, ErrEmptyRoute)
	})

	t.Run("single point", func(t *testing.T) {
		pos, err := Interpolate(mustBuild(t, equatorRoute[:1]), AtPercent(80))
		require.NoError(t, err)
		assert.Equal(t, equatorRoute[0], pos.Point)
		assert.Equal(t, 0.0, pos.ExactIndex)
	})

	t.Run("endpoints", func(t *testing.T) {
		m := mustBuild(t, calaverasRoute)
		for _, mode := range []Mode{IndexSpace, ArcLength} {
			start, err := InterpolateWithMode(m, AtPercent(0), mode)
			require.NoError(t, err)
			assert.Equal(t, calaverasRoute[0], start.Point, mode.String())

			end, err := InterpolateWithMode(m, AtPercent(100), mode)
			require.NoError(t, err)
			assert.Equal(t, calaverasRoute[len(calaverasRoute)-1], end.Point, mode.String())
			assert.Equal(t, float64(len(calaverasRoute)-1), end.ExactIndex, mode.String())
		}
	})

	t.Run("percent is clamped", func(t *testing.T) {
		m := mustBuild(t, equatorRoute)
		over, err := Interpolate(m, AtPercent(140))
		require.NoError(t, err)
		assert.Equal(t, 1.0, over.ExactIndex)

		under, err := Interpolate(m, AtPercent(-5))
		require.NoError(t, err)
		assert.Equal(t, 0.0, under.ExactIndex)
	})

	t.Run("index space ignores segment lengths", func(t *testing.T) {
		m := mustBuild(t, unevenRoute)
		pos, err := Interpolate(m, AtPercent(50))
		require.NoError(t, err)
		assert.Equal(t, 1.0, pos.ExactIndex)
		assert.InDelta(t, 0.01, pos.Point.Longitude, 1e-12)
	})

	t.Run("arc length follows distance", func(t *testing.T) {
		m := mustBuild(t, unevenRoute)
		pos, err := InterpolateWithMode(m, AtPercent(50), ArcLength)
		require.NoError(t, err)
		// The second segment is two thirds of the route
		assert.InDelta(t, 1.25, pos.ExactIndex, 1e-6)
		assert.InDelta(t, 0.015, pos.Point.Longitude, 1e-6)
	})

	t.Run("percent and meters agree", func(t *testing.T) {
		m := mustBuild(t, unevenRoute)
		total := m.TotalLengthMeters()

		for _, mode := range []Mode{IndexSpace, ArcLength} {
			for _, percent := range []float64{0, 12.5, 33, 50, 77.7, 100} {
				byPercent, err := InterpolateWithMode(m, AtPercent(percent), mode)
				require.NoError(t, err)
				byMeters, err := InterpolateWithMode(m, AtMeters(total*percent/100), mode)
				require.NoError(t, err)

				assert.InDelta(t, byPercent.ExactIndex, byMeters.ExactIndex, 1e-9, "%s %.1f%%", mode, percent)
				assert.InDelta(t, byPercent.Point.Longitude, byMeters.Point.Longitude, 1e-12)
			}
		}
	})

	t.Run("meters on segment boundary", func(t *testing.T) {
		m := mustBuild(t, unevenRoute)
		pos, err := InterpolateWithMode(m, AtMeters(m.CumulativeAt(1)), ArcLength)
		require.NoError(t, err)
		assert.InDelta(t, 1.0, pos.ExactIndex, 1e-12)
	})

	t.Run("meters across zero-length segment", func(t *testing.T) {
		m := mustBuild(t, calaverasRoute)
		pos, err := InterpolateWithMode(m, AtMeters(m.CumulativeAt(3)+1), ArcLength)
		require.NoError(t, err)
		assert.Greater(t, pos.ExactIndex, 3.0)
		assert.Less(t, pos.ExactIndex, 4.0)
	})
}

func TestSplitRoute(t *testing.T) {
	m := mustBuild(t, calaverasRoute)
	n := len(calaverasRoute)
	fix := geo.Point{Latitude: 38.12, Longitude: -120.47}

	t.Run("start of route", func(t *testing.T) {
		split := SplitRoute(m, 0, nil)
		assert.Equal(t, calaverasRoute[:1], split.Completed)
		assert.Equal(t, calaverasRoute[1:], split.Remaining)
	})

	t.Run("mid segment with live fix", func(t *testing.T) {
		split := SplitRoute(m, 1.4, &fix)

		require.Len(t, split.Completed, 3)
		assert.Equal(t, calaverasRoute[:2], split.Completed[:2])
		assert.Equal(t, fix, split.Completed[2])

		require.Len(t, split.Remaining, n-1)
		assert.Equal(t, fix, split.Remaining[0])
		assert.Equal(t, calaverasRoute[2:], split.Remaining[1:])
	})

	t.Run("finished route", func(t *testing.T) {
		pos, err := Interpolate(m, AtPercent(100))
		require.NoError(t, err)

		split := SplitRoute(m, pos.ExactIndex, nil)
		assert.Equal(t, calaverasRoute, split.Completed)
		assert.Empty(t, split.Remaining)

		withFix := SplitRoute(m, pos.ExactIndex, &fix)
		assert.Equal(t, []geo.Point{fix}, withFix.Remaining)
		assert.Len(t, withFix.Completed, n+1)
	})

	t.Run("fresh slices", func(t *testing.T) {
		split := SplitRoute(m, 2, nil)
		split.Completed[0].Latitude = 0
		assert.Equal(t, calaverasRoute[0], m.Waypoint(0))
	})

	t.Run("nil model", func(t *testing.T) {
		assert.Equal(t, Split{}, SplitRoute(nil, 1, &fix))
	})

	t.Run("encoded", func(t *testing.T) {
		split := SplitRoute(mustBuild(t, equatorRoute), 0.5, nil)
		enc := split.Encoded()

		decoded, err := geo.DecodePolyline(enc.Remaining.EncodedPolyline)
		require.NoError(t, err)
		assert.Len(t, decoded, 1)
		assert.Equal(t, split.Completed, enc.Completed.Points)
	})
}

func TestParseMode(t *testing.T) {
	assert.Equal(t, ArcLength, ParseMode("arc_length"))
	assert.Equal(t, IndexSpace, ParseMode("index_space"))
	assert.Equal(t, IndexSpace, ParseMode(""))
	assert.Equal(t, "arc_length", ArcLength.String())
}
