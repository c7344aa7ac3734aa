// Package memory provides an in-process journey backend for simulations and tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/grpc/codes"

	"github.com/dpup/journey.ersn.net/server/internal/lib/geo"
	"github.com/dpup/journey.ersn.net/server/internal/lib/journey"
)

// ErrUnknownJourney is returned for journeys that were never added
var ErrUnknownJourney = journey.NewError("unknown journey", codes.NotFound)

// Backend is a thread-safe in-memory implementation of journey.Backend
type Backend struct {
	mu        sync.Mutex
	routes    map[string][]geo.Point
	landmarks map[string][]journey.Landmark
	progress  map[string]journey.ProgressState
	collected map[journey.SessionID]map[string]bool

	// CaptureRadiusMeters makes CollectStamp reject fixes further than this
	// from the landmark. Zero disables the check.
	CaptureRadiusMeters float64

	collectCalls int
}

var _ journey.Backend = (*Backend)(nil)

// NewBackend creates an empty backend
func NewBackend() *Backend {
	return &Backend{
		routes:    make(map[string][]geo.Point),
		landmarks: make(map[string][]journey.Landmark),
		progress:  make(map[string]journey.ProgressState),
		collected: make(map[journey.SessionID]map[string]bool),
	}
}

func progressKey(userID, journeyID string) string {
	return userID + "\x00" + journeyID
}

// AddJourney registers a route and its landmarks
func (b *Backend) AddJourney(journeyID string, route []geo.Point, landmarks []journey.Landmark) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.routes[journeyID] = append([]geo.Point(nil), route...)
	b.landmarks[journeyID] = append([]journey.Landmark(nil), landmarks...)
}

// SetProgress sets the progress state returned for a user on a journey
func (b *Backend) SetProgress(userID, journeyID string, state journey.ProgressState) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.progress[progressKey(userID, journeyID)] = state
}

// CollectCalls returns how many collection requests were received
func (b *Backend) CollectCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.collectCalls
}

// FetchRoute implements journey.RouteFetcher
func (b *Backend) FetchRoute(ctx context.Context, journeyID string) ([]geo.Point, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	points, ok := b.routes[journeyID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJourney, journeyID)
	}
	return append([]geo.Point(nil), points...), nil
}

// FetchLandmarks implements journey.LandmarkFetcher
func (b *Backend) FetchLandmarks(ctx context.Context, journeyID string) ([]journey.Landmark, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	landmarks, ok := b.landmarks[journeyID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJourney, journeyID)
	}
	return append([]journey.Landmark(nil), landmarks...), nil
}

// FetchProgressState implements journey.ProgressStateFetcher
func (b *Backend) FetchProgressState(ctx context.Context, userID, journeyID string) (journey.ProgressState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, ok := b.progress[progressKey(userID, journeyID)]
	if !ok {
		return journey.ProgressState{}, fmt.Errorf("%w: no progress for %s", ErrUnknownJourney, journeyID)
	}
	return state, nil
}

// CollectStamp implements journey.StampCollector
func (b *Backend) CollectStamp(ctx context.Context, req journey.CollectRequest) (journey.CollectOutcome, error) {
	if err := ctx.Err(); err != nil {
		return journey.CollectOutcome{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.collectCalls++

	if b.collected[req.SessionID][req.LandmarkID] {
		return journey.CollectOutcome{Reason: journey.ReasonAlreadyCollected}, nil
	}

	if b.CaptureRadiusMeters > 0 && req.LiveCoordinate != nil {
		if l, ok := b.findLandmark(req.LandmarkID); ok &&
			geo.Distance(*req.LiveCoordinate, l.Position) >= b.CaptureRadiusMeters {
			return journey.CollectOutcome{Reason: journey.ReasonTooFar}, nil
		}
	}

	if b.collected[req.SessionID] == nil {
		b.collected[req.SessionID] = make(map[string]bool)
	}
	b.collected[req.SessionID][req.LandmarkID] = true
	return journey.CollectOutcome{Collected: true}, nil
}

func (b *Backend) findLandmark(id string) (journey.Landmark, bool) {
	for _, landmarks := range b.landmarks {
		for _, l := range landmarks {
			if l.ID == id {
				return l, true
			}
		}
	}
	return journey.Landmark{}, false
}
