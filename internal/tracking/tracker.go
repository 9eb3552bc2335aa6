package tracking

import (
	"fmt"
	"math"
	"slices"

	"github.com/benbjohnson/clock"

	"github.com/your-org/neuraflow/internal/config"
)

// Tracker assigns detections to persistent tracks by nearest feet position.
type Tracker struct {
	cfg   config.TrackingConfig
	clock clock.Clock
	store *Store
}

// TrackUpdate reports what happened to a track in the last Update call.
type TrackUpdate struct {
	Track *Track
	IsNew bool
}

// NewTracker validates cfg and returns an empty tracker. A nil clock means wall time.
func NewTracker(cfg config.TrackingConfig, clk clock.Clock) (*Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("tracker config: %w", err)
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Tracker{
		cfg:   cfg,
		clock: clk,
		store: NewStore(cfg.HistorySize),
	}, nil
}

// Update ages every track, drops expired ones, then greedily matches
// detections (highest confidence first) to the closest remaining track.
// Unmatched detections start new tracks.
func (t *Tracker) Update(detections []Detection) []TrackUpdate {
	now := t.clock.Now()

	for _, tr := range t.store.All() {
		tr.FramesLost++
	}

	for _, tr := range t.store.All() {
		if tr.expired(now, t.cfg.MaxFramesLost, t.cfg.Timeout) {
			t.store.Remove(tr.ID)
		}
	}

	dets := make([]Detection, 0, len(detections))
	for _, d := range detections {
		if !d.Degenerate() {
			dets = append(dets, d)
		}
	}
	slices.SortStableFunc(dets, func(a, b Detection) int {
		switch {
		case a.Confidence > b.Confidence:
			return -1
		case a.Confidence < b.Confidence:
			return 1
		}
		return 0
	})

	candidates := t.store.All()
	assigned := make(map[int]bool, len(candidates))
	updates := make([]TrackUpdate, 0, len(dets))

	for _, det := range dets {
		best := t.match(det, candidates, assigned)
		if best == nil {
			tr := t.store.Create(det, now)
			updates = append(updates, TrackUpdate{Track: tr, IsNew: true})
			continue
		}

		assigned[best.ID] = true
		best.Append(det.position(now))
		best.Confidence = det.Confidence
		best.LastSeen = now
		best.FramesLost = 0
		best.TotalDetections++
		updates = append(updates, TrackUpdate{Track: best})
	}

	return updates
}

// match returns the unassigned track with the lowest score within range of det.
// candidates are in ascending id order, so score ties go to the lower id.
func (t *Tracker) match(det Detection, candidates []*Track, assigned map[int]bool) *Track {
	var best *Track
	bestScore := math.Inf(1)
	cx, by := float64(det.CenterX()), float64(det.BottomY())

	for _, tr := range candidates {
		if assigned[tr.ID] {
			continue
		}
		last, ok := tr.Last()
		if !ok {
			continue
		}
		dist := math.Hypot(cx-float64(last.CenterX), by-float64(last.BottomY))
		if dist >= t.cfg.DistanceThreshold {
			continue
		}
		score := dist + math.Abs(det.Confidence-tr.Confidence)*t.cfg.ConfidenceWeight
		if score < bestScore {
			bestScore = score
			best = tr
		}
	}
	return best
}

// Active returns the stable tracks matched in the last update.
func (t *Tracker) Active() []*Track {
	return t.store.Active(t.cfg.MinHits)
}

// Store exposes the underlying track store to the frame loop.
func (t *Tracker) Store() *Store { return t.store }

// Reset discards all tracks and restarts ids at 1.
func (t *Tracker) Reset() { t.store.Reset() }

// TrackCount returns the number of live tracks.
func (t *Tracker) TrackCount() int { return t.store.Len() }
