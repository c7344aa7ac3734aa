package services

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/dpup/prefab/errors"
	"github.com/dpup/prefab/logging"

	"github.com/dpup/journey.ersn.net/server/internal/lib/geo"
)

// SnapshotSink receives every snapshot the tracker produces
type SnapshotSink func(Snapshot)

// Tracker drives a session from a live location stream and a periodic
// progress refresh. The location stream may be nil in virtual mode.
type Tracker struct {
	session   *JourneySession
	locations <-chan geo.Point
	interval  time.Duration
	sink      SnapshotSink

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	done     chan struct{}
}

// NewTracker creates a new tracker. An interval of zero disables progress refreshes.
func NewTracker(session *JourneySession, locations <-chan geo.Point, interval time.Duration, sink SnapshotSink) *Tracker {
	return &Tracker{
		session:   session,
		locations: locations,
		interval:  interval,
		sink:      sink,
	}
}

// Start begins tracking in the background
func (t *Tracker) Start(ctx context.Context) {
	ctx = logging.EnsureLogger(ctx)

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return
	}
	t.running = true
	t.stopChan = make(chan struct{})
	t.done = make(chan struct{})

	logging.Infow(ctx, "Starting journey tracker",
		"journey_id", t.session.JourneyID(), "refresh_interval", t.interval.String())

	go t.loop(ctx, t.stopChan, t.done)
}

// Stop stops the tracker and waits for the loop to exit
func (t *Tracker) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	close(t.stopChan)
	done := t.done
	t.mu.Unlock()

	<-done
}

// IsRunning returns whether the tracker is active
func (t *Tracker) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

func (t *Tracker) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer func() {
		t.mu.Lock()
		if t.stopChan == stop {
			t.running = false
		}
		t.mu.Unlock()
	}()
	defer func() {
		if r := recover(); r != nil {
			err, _ := errors.ParseStack(debug.Stack())
			skipFrames := 3
			numFrames := 5
			logging.Errorw(ctx, "Tracker: recovered from panic",
				"error", r, "error.stack_trace", err.MinimalStack(skipFrames, numFrames))
		}
	}()

	var tick <-chan time.Time
	if t.interval > 0 {
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	// Initial refresh so the first snapshot reflects server progress
	t.refresh(ctx)

	locations := t.locations
	for {
		select {
		case <-ctx.Done():
			logging.Debugw(ctx, "Tracker stopping due to context cancellation", "journey_id", t.session.JourneyID())
			return
		case <-stop:
			return
		case <-tick:
			t.refresh(ctx)
		case fix, ok := <-locations:
			if !ok {
				// Stream ended; keep refreshing progress in degraded mode
				locations = nil
				continue
			}
			t.emit(t.session.Update(ProgressUpdate{LiveFix: &fix}))
		}
	}
}

func (t *Tracker) refresh(ctx context.Context) {
	snap, err := t.session.Refresh(ctx)
	if err != nil {
		logging.Warnw(ctx, "Tracker: progress refresh failed", "journey_id", t.session.JourneyID(), "error", err)
		return
	}
	t.emit(snap)
}

func (t *Tracker) emit(snap Snapshot) {
	if t.sink != nil {
		t.sink(snap)
	}
}
