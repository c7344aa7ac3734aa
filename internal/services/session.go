package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dpup/prefab/logging"

	"github.com/dpup/journey.ersn.net/server/internal/cache"
	"github.com/dpup/journey.ersn.net/server/internal/lib/geo"
	"github.com/dpup/journey.ersn.net/server/internal/lib/journey"
	"github.com/dpup/journey.ersn.net/server/internal/lib/progress"
	"github.com/dpup/journey.ersn.net/server/internal/lib/route"
	"github.com/dpup/journey.ersn.net/server/internal/lib/stamps"
)

// SessionConfig controls how a session derives positions and unlocks landmarks
type SessionConfig struct {
	Gate       stamps.Config
	Mode       route.Mode
	Reconciler progress.Reconciler
}

// DefaultSessionConfig returns the default thresholds with index-space interpolation
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Gate:       stamps.DefaultConfig(),
		Mode:       route.IndexSpace,
		Reconciler: progress.DefaultReconciler{},
	}
}

// ProgressUpdate is one input to a session. Either field may be nil: a tracking
// tick carries only a fix, a progress refresh only a state.
type ProgressUpdate struct {
	State   *journey.ProgressState
	LiveFix *geo.Point
}

// Snapshot is everything a screen needs to render the journey
type Snapshot struct {
	Percent         float64   `json:"percent"`
	ProgressMeters  float64   `json:"progress_meters"`
	VirtualPosition geo.Point `json:"virtual_position"`

	// LiveFix is the last GPS fix, nil in virtual or offline mode
	LiveFix *geo.Point `json:"live_fix,omitempty"`

	// Marker is the live fix when present, else the virtual position
	Marker geo.Point `json:"marker"`

	Completed []geo.Point `json:"completed"`
	Remaining []geo.Point `json:"remaining"`

	Landmarks    []stamps.Status `json:"landmarks"`
	Next         *stamps.Tracked `json:"next,omitempty"`
	AllCollected bool            `json:"all_collected"`

	RunningTogetherCount int `json:"running_together_count"`
}

// JourneySession owns the route model, landmark offsets and collection state
// of one active journey. Discard it with Close when the journey is left.
type JourneySession struct {
	userID    string
	journeyID string
	backend   journey.Backend
	identity  *cache.IdentityCache
	cfg       SessionConfig
	model     *route.DistanceModel
	gate      *stamps.Gate

	mu       sync.Mutex
	percent  float64
	liveFix  *geo.Point
	running  int
	snapshot Snapshot
	closed   bool

	inflight sync.WaitGroup
}

// OpenSession loads the route and landmarks for a journey and builds its
// distance model. Landmark offsets missing from the backend are projected
// onto the route here, once. Gate listeners passed in opts run while the
// session is updating and must not call back into it.
func OpenSession(ctx context.Context, backend journey.Backend, identity *cache.IdentityCache, userID, journeyID string, cfg SessionConfig, opts ...stamps.Option) (*JourneySession, error) {
	ctx = logging.EnsureLogger(ctx)

	if cfg.Reconciler == nil {
		cfg.Reconciler = progress.DefaultReconciler{}
	}

	points, err := backend.FetchRoute(ctx, journeyID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch route for %s: %w", journeyID, err)
	}

	model, err := route.Build(points)
	if err != nil {
		return nil, fmt.Errorf("failed to build route for %s: %w", journeyID, err)
	}

	landmarks, err := backend.FetchLandmarks(ctx, journeyID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch landmarks for %s: %w", journeyID, err)
	}

	s := &JourneySession{
		userID:    userID,
		journeyID: journeyID,
		backend:   backend,
		identity:  identity,
		cfg:       cfg,
		model:     model,
		gate:      stamps.NewGate(cfg.Gate, trackLandmarks(landmarks, model), backend, opts...),
	}
	s.snapshot = s.derive()

	logging.Infow(ctx, "Journey session opened",
		"journey_id", journeyID, "waypoints", model.WaypointCount(),
		"length_meters", model.TotalLengthMeters(), "landmarks", len(landmarks))

	return s, nil
}

// trackLandmarks resolves every landmark's arc-length offset
func trackLandmarks(landmarks []journey.Landmark, model *route.DistanceModel) []stamps.Tracked {
	tracked := make([]stamps.Tracked, len(landmarks))
	for i, l := range landmarks {
		tracked[i] = stamps.Tracked{Landmark: l}
		if l.DistanceFromStartMeters != nil {
			tracked[i].OffsetMeters = *l.DistanceFromStartMeters
			continue
		}

		// A single-point route has no segment to project onto; offset stays 0
		if proj, err := route.ProjectOntoRoute(l.Position, model); err == nil {
			tracked[i].OffsetMeters = proj.ArcLengthMeters
		}
	}
	return tracked
}

// Model returns the session's route distance model
func (s *JourneySession) Model() *route.DistanceModel {
	return s.model
}

// JourneyID returns the journey this session tracks
func (s *JourneySession) JourneyID() string {
	return s.journeyID
}

// Update applies a progress state and/or live fix and returns the new snapshot
func (s *JourneySession) Update(u ProgressUpdate) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.State != nil {
		s.percent = progress.ReconcileState(s.cfg.Reconciler, *u.State, s.model.TotalLengthMeters())
		s.running = u.State.RunningTogetherCount
	}
	if u.LiveFix != nil {
		fix := *u.LiveFix
		s.liveFix = &fix
	}

	s.snapshot = s.derive()
	return s.snapshot
}

// Refresh fetches the authoritative progress state and applies it. On
// failure the previous snapshot is kept.
func (s *JourneySession) Refresh(ctx context.Context) (Snapshot, error) {
	state, err := s.backend.FetchProgressState(ctx, s.userID, s.journeyID)
	if err != nil {
		return s.Snapshot(), fmt.Errorf("failed to refresh progress for %s: %w", s.journeyID, err)
	}
	return s.Update(ProgressUpdate{State: &state}), nil
}

// Snapshot returns the most recent snapshot
func (s *JourneySession) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

// derive recomputes the snapshot; callers hold s.mu
func (s *JourneySession) derive() Snapshot {
	meters := s.percent / 100 * s.model.TotalLengthMeters()

	// Build never returns an empty model, so Interpolate cannot fail here
	pos, _ := route.InterpolateWithMode(s.model, route.AtPercent(s.percent), s.cfg.Mode)

	s.gate.Evaluate(stamps.Observation{LiveFix: s.liveFix, ProgressMeters: meters})

	split := route.SplitRoute(s.model, pos.ExactIndex, s.liveFix)
	snap := Snapshot{
		Percent:              s.percent,
		ProgressMeters:       meters,
		VirtualPosition:      pos.Point,
		LiveFix:              s.liveFix,
		Marker:               pos.Point,
		Completed:            split.Completed,
		Remaining:            split.Remaining,
		Landmarks:            s.gate.Snapshot(),
		RunningTogetherCount: s.running,
	}
	if s.liveFix != nil {
		snap.Marker = *s.liveFix
	}

	if next, ok := s.gate.NextCollectible(); ok {
		snap.Next = &next
	} else {
		snap.AllCollected = true
	}
	return snap
}

// Collect collects a landmark's stamp using the session's latest live fix
func (s *JourneySession) Collect(ctx context.Context, landmarkID string) (stamps.State, error) {
	ctx = logging.EnsureLogger(ctx)

	s.mu.Lock()
	fix := s.liveFix
	s.mu.Unlock()

	// Only an eligible landmark is worth a session lookup
	switch state, known := s.gate.State(landmarkID); {
	case !known:
		return stamps.Locked, fmt.Errorf("%w: %s", stamps.ErrUnknownLandmark, landmarkID)
	case state == stamps.Locked:
		return state, stamps.ErrNotEligible
	case state == stamps.Collected:
		return state, nil
	}

	sessionID, err := s.identity.Resolve(ctx, s.userID, s.journeyID)
	if err != nil {
		state, _ := s.gate.State(landmarkID)
		return state, fmt.Errorf("failed to resolve progress session: %w", err)
	}

	state, err := s.gate.Collect(ctx, sessionID, landmarkID, fix)
	switch rejected, isRejected := stamps.IsRejected(err); {
	case err == nil:
		logging.Infow(ctx, "Stamp collection", "journey_id", s.journeyID, "landmark_id", landmarkID, "state", state.String())
	case isRejected:
		logging.Infow(ctx, "Stamp collection rejected", "journey_id", s.journeyID,
			"landmark_id", landmarkID, "reason", string(rejected.Reason))
	case errors.Is(err, stamps.ErrNotEligible):
		// Locked landmarks are a UI state, not a failure
	default:
		logging.Warnw(ctx, "Stamp collection failed", "journey_id", s.journeyID, "landmark_id", landmarkID, "error", err)
	}

	s.mu.Lock()
	s.snapshot = s.derive()
	s.mu.Unlock()

	return state, err
}

// CollectAsync runs Collect in the background. done is called with the
// result unless the session has been closed by then; a successful capture
// is applied either way.
func (s *JourneySession) CollectAsync(ctx context.Context, landmarkID string, done func(stamps.State, error)) {
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()

		state, err := s.Collect(ctx, landmarkID)

		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if !closed && done != nil {
			done(state, err)
		}
	}()
}

// Wait blocks until background collections have finished
func (s *JourneySession) Wait() {
	s.inflight.Wait()
}

// Collected returns collected landmark ids in collection order
func (s *JourneySession) Collected() []string {
	return s.gate.Collected()
}

// Close ends the session. Listener and CollectAsync callbacks stop firing.
func (s *JourneySession) Close(ctx context.Context) {
	ctx = logging.EnsureLogger(ctx)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.gate.Close()
	logging.Infow(ctx, "Journey session closed", "journey_id", s.journeyID, "collected", len(s.gate.Collected()))
}
