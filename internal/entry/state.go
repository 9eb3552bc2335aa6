package entry

import "github.com/your-org/neuraflow/internal/tracking"

// State is the lifecycle stage of a track from the counter's point of view.
type State string

const (
	StateNew                State = "NEW"
	StateTracked            State = "TRACKED"
	StateCrossedApproaching State = "CROSSED_APPROACHING"
	StateCounted            State = "COUNTED"
	StateExpired            State = "EXPIRED"
)

// Classify places a live track in its lifecycle. minHits is the stability
// gate used by the tracker. Expired tracks are gone from the store, so
// StateExpired is only reported for nil.
func (v *Validator) Classify(t *tracking.Track, line Line, minHits int) State {
	switch {
	case t == nil:
		return StateExpired
	case t.Counted():
		return StateCounted
	case t.TotalDetections < minHits:
		return StateNew
	}
	last, ok := t.Last()
	if ok && line.Crosses(last) && v.Analyze(t).Approaching {
		return StateCrossedApproaching
	}
	return StateTracked
}
