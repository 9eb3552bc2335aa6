package tracking

import (
	"math"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/neuraflow/internal/config"
)

func newTestTracker(t *testing.T) (*Tracker, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	tr, err := NewTracker(config.DefaultTracking(), clk)
	require.NoError(t, err)
	return tr, clk
}

func TestNewTrackerRejectsInvalidConfig(t *testing.T) {
	cfg := config.DefaultTracking()
	cfg.DistanceThreshold = 0
	cfg.MaxFramesLost = -1

	tr, err := NewTracker(cfg, nil)
	require.Error(t, err)
	assert.Nil(t, tr)
	assert.Contains(t, err.Error(), "distance_threshold")
	assert.Contains(t, err.Error(), "max_frames_lost")
}

func TestTrackerCreatesTrackPerUnmatchedDetection(t *testing.T) {
	tr, _ := newTestTracker(t)

	updates := tr.Update([]Detection{
		{X1: 100, Y1: 400, X2: 140, Y2: 500, Confidence: 0.9},
		{X1: 500, Y1: 100, X2: 540, Y2: 200, Confidence: 0.8},
	})

	require.Len(t, updates, 2)
	assert.True(t, updates[0].IsNew)
	assert.True(t, updates[1].IsNew)
	assert.Equal(t, 1, updates[0].Track.ID)
	assert.Equal(t, 2, updates[1].Track.ID)
	assert.Equal(t, 2, tr.TrackCount())

	first := updates[0].Track
	assert.Equal(t, 1, first.TotalDetections)
	assert.Equal(t, 0, first.FramesLost)
	last, ok := first.Last()
	require.True(t, ok)
	assert.Equal(t, 120, last.CenterX)
	assert.Equal(t, 500, last.BottomY)
	assert.Equal(t, 100, last.Height)
	assert.Equal(t, 40, last.Width)
}

func TestTrackerMatchesNearbyDetection(t *testing.T) {
	tr, clk := newTestTracker(t)

	tr.Update([]Detection{{X1: 100, Y1: 400, X2: 140, Y2: 500, Confidence: 0.9}})
	clk.Add(100 * time.Millisecond)
	updates := tr.Update([]Detection{{X1: 110, Y1: 405, X2: 150, Y2: 505, Confidence: 0.85}})

	require.Len(t, updates, 1)
	assert.False(t, updates[0].IsNew)
	track := updates[0].Track
	assert.Equal(t, 1, track.ID)
	assert.Equal(t, 2, track.TotalDetections)
	assert.Equal(t, 0, track.FramesLost)
	assert.InDelta(t, 0.85, track.Confidence, 1e-9)
	assert.Equal(t, clk.Now(), track.LastSeen)
	assert.Equal(t, 2, track.Len())
	assert.Equal(t, 1, tr.TrackCount())
}

func TestTrackerDistanceThresholdIsStrict(t *testing.T) {
	tr, _ := newTestTracker(t)

	// feet at (120, 500)
	tr.Update([]Detection{{X1: 100, Y1: 400, X2: 140, Y2: 500, Confidence: 0.9}})
	// feet exactly 150 px below
	updates := tr.Update([]Detection{{X1: 100, Y1: 550, X2: 140, Y2: 650, Confidence: 0.9}})

	require.Len(t, updates, 1)
	assert.True(t, updates[0].IsNew)
	assert.Equal(t, 2, updates[0].Track.ID)
}

func TestTrackerHigherConfidenceWinsContestedTrack(t *testing.T) {
	tr, _ := newTestTracker(t)
	tr.Update([]Detection{{X1: 100, Y1: 400, X2: 140, Y2: 500, Confidence: 0.9}})

	// Both are within range of track 1; the weaker one comes first in input.
	updates := tr.Update([]Detection{
		{X1: 100, Y1: 402, X2: 140, Y2: 502, Confidence: 0.5},
		{X1: 104, Y1: 410, X2: 144, Y2: 510, Confidence: 0.9},
	})

	require.Len(t, updates, 2)
	assert.False(t, updates[0].IsNew)
	assert.Equal(t, 1, updates[0].Track.ID)
	assert.InDelta(t, 0.9, updates[0].Track.Confidence, 1e-9)
	assert.True(t, updates[1].IsNew)
	assert.Equal(t, 2, updates[1].Track.ID)
}

func TestTrackerEqualConfidenceKeepsInputOrder(t *testing.T) {
	tr, _ := newTestTracker(t)
	tr.Update([]Detection{{X1: 100, Y1: 400, X2: 140, Y2: 500, Confidence: 0.9}})

	updates := tr.Update([]Detection{
		{X1: 120, Y1: 420, X2: 160, Y2: 520, Confidence: 0.7},
		{X1: 100, Y1: 401, X2: 140, Y2: 501, Confidence: 0.7},
	})

	require.Len(t, updates, 2)
	last, _ := updates[0].Track.Last()
	assert.Equal(t, 1, updates[0].Track.ID)
	assert.Equal(t, 520, last.BottomY)
	assert.True(t, updates[1].IsNew)
}

func TestTrackerScoreTieGoesToLowerID(t *testing.T) {
	tr, _ := newTestTracker(t)
	// two tracks equidistant from the next detection, same confidence
	tr.Update([]Detection{
		{X1: 80, Y1: 400, X2: 120, Y2: 500, Confidence: 0.8},
		{X1: 120, Y1: 400, X2: 160, Y2: 500, Confidence: 0.8},
	})

	updates := tr.Update([]Detection{{X1: 100, Y1: 400, X2: 140, Y2: 500, Confidence: 0.8}})

	require.Len(t, updates, 1)
	assert.Equal(t, 1, updates[0].Track.ID)
}

// seedByFeet creates one track per detection and returns their ids keyed by feet x.
func seedByFeet(t *testing.T, tr *Tracker, dets []Detection) map[int]int {
	t.Helper()
	ids := map[int]int{}
	for _, u := range tr.Update(dets) {
		require.True(t, u.IsNew)
		last, ok := u.Track.Last()
		require.True(t, ok)
		ids[last.CenterX] = u.Track.ID
	}
	require.Len(t, ids, len(dets))
	return ids
}

var penaltySeed = []Detection{
	{X1: 100, Y1: 400, X2: 140, Y2: 500, Confidence: 0.3}, // feet (120, 500)
	{X1: 120, Y1: 400, X2: 160, Y2: 500, Confidence: 0.9}, // feet (140, 500)
}

func TestTrackerConfidencePenaltyChangesChoice(t *testing.T) {
	tr, _ := newTestTracker(t)
	ids := seedByFeet(t, tr, penaltySeed)

	// 5 px from the weak track, 15 px from the strong one; 0.6 confidence apart costs 30.
	updates := tr.Update([]Detection{{X1: 105, Y1: 400, X2: 145, Y2: 500, Confidence: 0.9}})

	require.Len(t, updates, 1)
	assert.Equal(t, ids[140], updates[0].Track.ID)
	assert.False(t, updates[0].IsNew)
}

func TestTrackerZeroConfidenceWeightMatchesByDistance(t *testing.T) {
	cfg := config.DefaultTracking()
	cfg.ConfidenceWeight = 0
	tr, err := NewTracker(cfg, clock.NewMock())
	require.NoError(t, err)
	ids := seedByFeet(t, tr, penaltySeed)

	updates := tr.Update([]Detection{{X1: 105, Y1: 400, X2: 145, Y2: 500, Confidence: 0.9}})

	require.Len(t, updates, 1)
	assert.Equal(t, ids[120], updates[0].Track.ID)
}

func TestTrackerSkipsDegenerateDetections(t *testing.T) {
	tr, _ := newTestTracker(t)

	updates := tr.Update([]Detection{
		{X1: 100, Y1: 400, X2: 100, Y2: 500, Confidence: 0.9},
		{X1: 100, Y1: 400, X2: 140, Y2: 390, Confidence: 0.9},
		{X1: 100, Y1: 400, X2: 140, Y2: 500, Confidence: math.NaN()},
		{X1: 100, Y1: 400, X2: 140, Y2: 500, Confidence: math.Inf(1)},
	})

	assert.Empty(t, updates)
	assert.Equal(t, 0, tr.TrackCount())
}

func TestTrackerExpiresAfterTimeout(t *testing.T) {
	tr, clk := newTestTracker(t)
	tr.Update([]Detection{{X1: 100, Y1: 400, X2: 140, Y2: 500, Confidence: 0.9}})

	clk.Add(1500 * time.Millisecond)
	tr.Update(nil)
	assert.Equal(t, 1, tr.TrackCount(), "exactly at timeout the track survives")

	clk.Add(time.Millisecond)
	tr.Update(nil)
	assert.Equal(t, 0, tr.TrackCount())

	// cleanup runs before matching, so the same spot gets a fresh id
	updates := tr.Update([]Detection{{X1: 100, Y1: 400, X2: 140, Y2: 500, Confidence: 0.9}})
	require.Len(t, updates, 1)
	assert.True(t, updates[0].IsNew)
	assert.Equal(t, 2, updates[0].Track.ID)
}

func TestTrackerExpiresAfterMaxFramesLost(t *testing.T) {
	tr, _ := newTestTracker(t)
	tr.Update([]Detection{{X1: 100, Y1: 400, X2: 140, Y2: 500, Confidence: 0.9}})

	for range 10 {
		tr.Update(nil)
	}
	require.Equal(t, 1, tr.TrackCount())
	track, ok := tr.Store().Get(1)
	require.True(t, ok)
	assert.Equal(t, 10, track.FramesLost)

	tr.Update(nil)
	assert.Equal(t, 0, tr.TrackCount())
}

func TestTrackerActiveRequiresMinHitsAndCurrentMatch(t *testing.T) {
	tr, _ := newTestTracker(t)
	det := Detection{X1: 100, Y1: 400, X2: 140, Y2: 500, Confidence: 0.9}

	tr.Update([]Detection{det})
	tr.Update([]Detection{det})
	assert.Empty(t, tr.Active())

	tr.Update([]Detection{det})
	active := tr.Active()
	require.Len(t, active, 1)
	assert.Equal(t, 1, active[0].ID)

	tr.Update(nil)
	assert.Empty(t, tr.Active(), "unmatched this frame")
}

func TestTrackerHistoryIsBounded(t *testing.T) {
	tr, clk := newTestTracker(t)
	for i := range 20 {
		tr.Update([]Detection{{X1: 100, Y1: 400 + i, X2: 140, Y2: 500 + i, Confidence: 0.9}})
		clk.Add(50 * time.Millisecond)
	}

	track, ok := tr.Store().Get(1)
	require.True(t, ok)
	assert.Equal(t, 15, track.Len())
	assert.Equal(t, 20, track.TotalDetections)

	positions := track.Positions()
	assert.Equal(t, 505, positions[0].BottomY)
	assert.Equal(t, 519, positions[14].BottomY)
	for i := 1; i < len(positions); i++ {
		assert.False(t, positions[i].ObservedAt.Before(positions[i-1].ObservedAt))
	}
}

func TestTrackerResetRestartsIDs(t *testing.T) {
	tr, _ := newTestTracker(t)
	tr.Update([]Detection{
		{X1: 100, Y1: 400, X2: 140, Y2: 500, Confidence: 0.9},
		{X1: 500, Y1: 400, X2: 540, Y2: 500, Confidence: 0.9},
	})
	require.True(t, tr.Store().MarkCounted(1))

	tr.Reset()
	assert.Equal(t, 0, tr.TrackCount())

	updates := tr.Update([]Detection{{X1: 100, Y1: 400, X2: 140, Y2: 500, Confidence: 0.9}})
	require.Len(t, updates, 1)
	assert.Equal(t, 1, updates[0].Track.ID)
	assert.False(t, updates[0].Track.Counted())
}

func TestTrackerIDsAreUnique(t *testing.T) {
	tr, clk := newTestTracker(t)
	seen := make(map[int]bool)

	for frame := range 30 {
		// a new far-away person every frame, old ones expire
		x := (frame % 5) * 300
		y := (frame / 5) * 200
		for _, u := range tr.Update([]Detection{{X1: x, Y1: y, X2: x + 40, Y2: y + 100, Confidence: 0.8}}) {
			if u.IsNew {
				assert.False(t, seen[u.Track.ID], "id %d reused", u.Track.ID)
				seen[u.Track.ID] = true
			}
		}
		clk.Add(400 * time.Millisecond)
	}
	assert.NotEmpty(t, seen)
}
