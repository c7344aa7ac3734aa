package stamps

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/dpup/journey.ersn.net/server/internal/lib/geo"
	"github.com/dpup/journey.ersn.net/server/internal/lib/journey"
)

// Listener receives state transitions. It is called without the gate's lock
// held and never after Close.
type Listener func(Transition)

// Option configures a Gate
type Option func(*Gate)

// WithListener registers a transition listener
func WithListener(l Listener) Option {
	return func(g *Gate) {
		g.listeners = append(g.listeners, l)
	}
}

type entry struct {
	tracked        Tracked
	state          State
	inFlight       bool
	idempotencyKey string
}

// Gate owns the collection state of every landmark in one journey session
type Gate struct {
	cfg       Config
	collector journey.StampCollector
	listeners []Listener

	mu        sync.Mutex
	order     []*entry
	byID      map[string]*entry
	collected []string
	closed    bool
}

// NewGate creates a gate with every landmark Locked. Landmarks are ordered by
// offset; equal offsets keep their input order.
func NewGate(cfg Config, landmarks []Tracked, collector journey.StampCollector, opts ...Option) *Gate {
	g := &Gate{
		cfg:       cfg,
		collector: collector,
		order:     make([]*entry, 0, len(landmarks)),
		byID:      make(map[string]*entry, len(landmarks)),
	}
	for _, opt := range opts {
		opt(g)
	}

	for _, t := range landmarks {
		if _, dup := g.byID[t.Landmark.ID]; dup {
			continue
		}
		e := &entry{tracked: t, state: Locked}
		g.order = append(g.order, e)
		g.byID[t.Landmark.ID] = e
	}
	sort.SliceStable(g.order, func(i, j int) bool {
		return g.order[i].tracked.OffsetMeters < g.order[j].tracked.OffsetMeters
	})

	return g
}

// Evaluate unlocks every Locked landmark whose conditions hold for obs and
// returns the transitions made
func (g *Gate) Evaluate(obs Observation) []Transition {
	g.mu.Lock()
	var transitions []Transition
	for _, e := range g.order {
		if e.state != Locked || !g.eligible(e.tracked, obs) {
			continue
		}
		e.state = Eligible
		transitions = append(transitions, Transition{LandmarkID: e.tracked.Landmark.ID, From: Locked, To: Eligible})
	}
	closed := g.closed
	g.mu.Unlock()

	if !closed {
		g.notify(transitions)
	}
	return transitions
}

func (g *Gate) eligible(t Tracked, obs Observation) bool {
	if obs.ProgressMeters < t.OffsetMeters-g.cfg.ProgressToleranceMeters {
		return false
	}
	if obs.LiveFix == nil {
		return g.cfg.AllowProgressOnly
	}
	return geo.Distance(*obs.LiveFix, t.Landmark.Position) < g.cfg.CaptureRadiusMeters
}

// Collect issues the external collection call for an Eligible landmark. Calls
// made while one is in flight, or after success, return the current state
// without contacting the backend. On rejection or failure the landmark stays
// Eligible.
func (g *Gate) Collect(ctx context.Context, sessionID journey.SessionID, landmarkID string, liveFix *geo.Point) (State, error) {
	g.mu.Lock()
	e, ok := g.byID[landmarkID]
	if !ok {
		g.mu.Unlock()
		return Locked, fmt.Errorf("%w: %s", ErrUnknownLandmark, landmarkID)
	}

	switch {
	case e.state == Locked:
		g.mu.Unlock()
		return Locked, ErrNotEligible
	case e.state == Collected, e.inFlight:
		state := e.state
		g.mu.Unlock()
		return state, nil
	}

	e.inFlight = true
	if e.idempotencyKey == "" {
		e.idempotencyKey = uuid.NewString()
	}
	req := journey.CollectRequest{
		SessionID:      sessionID,
		LandmarkID:     landmarkID,
		LiveCoordinate: liveFix,
		IdempotencyKey: e.idempotencyKey,
	}
	g.mu.Unlock()

	outcome, err := g.collector.CollectStamp(ctx, req)

	g.mu.Lock()
	e.inFlight = false

	if err != nil {
		g.mu.Unlock()
		if !errors.Is(err, journey.ErrNetworkFailure) {
			err = fmt.Errorf("%w: %w", journey.ErrNetworkFailure, err)
		}
		return Eligible, fmt.Errorf("failed to collect landmark %s: %w", landmarkID, err)
	}

	// The backend already holding the stamp means the capture happened
	if !outcome.Collected && outcome.Reason != journey.ReasonAlreadyCollected {
		g.mu.Unlock()
		return Eligible, &RejectedError{LandmarkID: landmarkID, Reason: outcome.Reason}
	}

	e.state = Collected
	g.collected = append(g.collected, landmarkID)
	closed := g.closed
	g.mu.Unlock()

	if !closed {
		g.notify([]Transition{{LandmarkID: landmarkID, From: Eligible, To: Collected}})
	}
	return Collected, nil
}

// NextCollectible returns the lowest-offset landmark not yet collected. It
// returns false once every landmark is collected.
func (g *Gate) NextCollectible() (Tracked, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, e := range g.order {
		if e.state != Collected {
			return e.tracked, true
		}
	}
	return Tracked{}, false
}

// State returns the state of one landmark
func (g *Gate) State(landmarkID string) (State, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.byID[landmarkID]
	if !ok {
		return Locked, false
	}
	return e.state, true
}

// Snapshot lists every landmark with its state, in offset order
func (g *Gate) Snapshot() []Status {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]Status, len(g.order))
	for i, e := range g.order {
		out[i] = Status{Tracked: e.tracked, State: e.state}
	}
	return out
}

// Collected returns landmark ids in the order they were collected
func (g *Gate) Collected() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.collected...)
}

// Close stops listener callbacks. Collections still in flight are applied
// when they succeed.
func (g *Gate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
}

func (g *Gate) notify(transitions []Transition) {
	for _, t := range transitions {
		for _, l := range g.listeners {
			l(t)
		}
	}
}
