package journey

import (
	"context"

	"github.com/dpup/journey.ersn.net/server/internal/lib/geo"
)

// RouteFetcher returns the ordered waypoints of a journey
type RouteFetcher interface {
	FetchRoute(ctx context.Context, journeyID string) ([]geo.Point, error)
}

// LandmarkFetcher returns a journey's landmarks, with offsets when the backend knows them
type LandmarkFetcher interface {
	FetchLandmarks(ctx context.Context, journeyID string) ([]Landmark, error)
}

// ProgressStateFetcher is the authoritative per-(user, journey) progress lookup
type ProgressStateFetcher interface {
	FetchProgressState(ctx context.Context, userID, journeyID string) (ProgressState, error)
}

// StampCollector performs the external "collect" call for one landmark.
// A rejection is reported through CollectOutcome, not as an error; errors
// are reserved for transport failures.
type StampCollector interface {
	CollectStamp(ctx context.Context, req CollectRequest) (CollectOutcome, error)
}

// Backend bundles every collaborator a journey session needs
type Backend interface {
	RouteFetcher
	LandmarkFetcher
	ProgressStateFetcher
	StampCollector
}
