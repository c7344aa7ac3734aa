package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dpup/journey.ersn.net/server/internal/lib/geo"
	"github.com/dpup/journey.ersn.net/server/internal/lib/journey"
	"github.com/dpup/journey.ersn.net/server/internal/lib/stamps"
)

func nextSnapshot(t *testing.T, snaps <-chan Snapshot) Snapshot {
	t.Helper()
	select {
	case snap := <-snaps:
		return snap
	case <-time.After(time.Second):
		t.Fatal("no snapshot")
		return Snapshot{}
	}
}

// offer drops snapshots when the test is not reading, so the loop never blocks
func offer(snaps chan<- Snapshot) SnapshotSink {
	return func(snap Snapshot) {
		select {
		case snaps <- snap:
		default:
		}
	}
}

func TestTracker(t *testing.T) {
	backend := newTestBackend()
	s := openTestSession(t, backend)

	locations := make(chan geo.Point)
	snaps := make(chan Snapshot, 16)
	tracker := NewTracker(s, locations, time.Hour, offer(snaps))

	tracker.Start(context.Background())
	tracker.Start(context.Background()) // no-op while running
	assert.True(t, tracker.IsRunning())

	// Initial refresh
	snap := nextSnapshot(t, snaps)
	assert.Equal(t, 45.0, snap.Percent)
	assert.Nil(t, snap.LiveFix)
	assert.Equal(t, stamps.Eligible, landmarkState(snap, "bridge"))

	locations <- nearLandmark
	snap = nextSnapshot(t, snaps)
	require.NotNil(t, snap.LiveFix)
	assert.Equal(t, nearLandmark, snap.Marker)
	assert.Equal(t, 45.0, snap.Percent, "location ticks keep the last progress")

	tracker.Stop()
	assert.False(t, tracker.IsRunning())
	tracker.Stop()
}

func TestTracker_ProgressOnlyStream(t *testing.T) {
	backend := newTestBackend()
	s := openTestSession(t, backend)

	snaps := make(chan Snapshot, 16)
	tracker := NewTracker(s, nil, 5*time.Millisecond, offer(snaps))

	ctx, cancel := context.WithCancel(context.Background())
	tracker.Start(ctx)

	assert.Equal(t, 45.0, nextSnapshot(t, snaps).Percent)

	backend.SetProgress(testUser, testJourney, journey.ProgressState{SessionID: "ps-1", Percent: journey.Float(80)})
	assert.Eventually(t, func() bool {
		select {
		case snap := <-snaps:
			return snap.Percent == 80
		default:
			return false
		}
	}, time.Second, time.Millisecond)

	cancel()
	tracker.Stop()
}

func TestTracker_ClosedLocationStream(t *testing.T) {
	s := openTestSession(t, newTestBackend())

	locations := make(chan geo.Point)
	snaps := make(chan Snapshot, 16)
	tracker := NewTracker(s, locations, 0, offer(snaps))
	tracker.Start(context.Background())
	nextSnapshot(t, snaps)

	close(locations)
	time.Sleep(10 * time.Millisecond)
	assert.True(t, tracker.IsRunning())
	tracker.Stop()
}

func TestTracker_RestartAfterCancel(t *testing.T) {
	s := openTestSession(t, newTestBackend())

	snaps := make(chan Snapshot, 16)
	tracker := NewTracker(s, nil, 0, offer(snaps))

	ctx, cancel := context.WithCancel(context.Background())
	tracker.Start(ctx)
	nextSnapshot(t, snaps)

	cancel()
	assert.Eventually(t, func() bool { return !tracker.IsRunning() }, time.Second, time.Millisecond)

	tracker.Start(context.Background())
	assert.True(t, tracker.IsRunning())
	nextSnapshot(t, snaps)
	tracker.Stop()
	assert.False(t, tracker.IsRunning())
}
