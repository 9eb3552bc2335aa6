// Package entry decides when a tracked person has walked toward the camera
// across the counting line.
package entry

import (
	"fmt"

	"gonum.org/v1/gonum/stat"

	"github.com/your-org/neuraflow/internal/config"
	"github.com/your-org/neuraflow/internal/tracking"
)

// Rejection reasons returned by Validate.
const (
	ReasonAlreadyCounted     = "already counted"
	ReasonNotCrossed         = "did not cross line"
	ReasonInsufficientFrames = "insufficient frames"
	ReasonNotApproaching     = "not approaching"
)

// Approach holds the motion metrics computed over the validation window.
type Approach struct {
	Growth      float64 // relative bbox area growth, first two vs last two frames
	Trend       float64 // least-squares slope of bottom_y, pixels per frame
	Consistency float64 // share of frame steps moving down by more than min_step
	Approaching bool
}

func (a Approach) String() string {
	return fmt.Sprintf("growth=%.2f trend=%.2f consistency=%.2f", a.Growth, a.Trend, a.Consistency)
}

// Validator applies the entry rules to tracks. It holds no per-track state.
type Validator struct {
	cfg config.EntryConfig
}

// NewValidator validates cfg and returns a ready validator.
func NewValidator(cfg config.EntryConfig) (*Validator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("entry config: %w", err)
	}
	return &Validator{cfg: cfg}, nil
}

// Validate reports whether t is a new entry across line, with a reason.
// Checks short-circuit: counted, then crossing, then approach.
func (v *Validator) Validate(t *tracking.Track, line Line) (bool, string) {
	if t.Counted() {
		return false, ReasonAlreadyCounted
	}

	last, ok := t.Last()
	if !ok || !line.Crosses(last) {
		return false, ReasonNotCrossed
	}

	if t.Len() < v.cfg.MinFramesDetection {
		return false, ReasonInsufficientFrames
	}

	a := v.Analyze(t)
	if !a.Approaching {
		return false, ReasonNotApproaching
	}
	return true, "valid entry (" + a.String() + ")"
}

// Analyze computes the approach metrics over the last min_frames_detection
// positions. With a shorter history it returns the zero Approach.
func (v *Validator) Analyze(t *tracking.Track) Approach {
	n := v.cfg.MinFramesDetection
	if t.Len() < n {
		return Approach{}
	}
	window := t.Tail(n)

	xs := make([]float64, n)
	ys := make([]float64, n)
	for i, p := range window {
		xs[i] = float64(i)
		ys[i] = float64(p.BottomY)
	}

	var a Approach
	a.Growth = areaGrowth(window)
	_, a.Trend = stat.LinearRegression(xs, ys, nil, false)

	down := 0
	for i := 1; i < n; i++ {
		if window[i].BottomY-window[i-1].BottomY > v.cfg.MinStep {
			down++
		}
	}
	a.Consistency = float64(down) / float64(n-1)

	minTrend := float64(v.cfg.DirectionThreshold) / float64(n)
	a.Approaching = a.Growth > v.cfg.RatioApproachThreshold &&
		a.Trend > minTrend &&
		a.Consistency >= v.cfg.ConsistencyRatio
	return a
}

// ApproachScore maps area growth onto [0, 1] relative to the approach threshold.
func (v *Validator) ApproachScore(t *tracking.Track) float64 {
	if t.Len() < v.cfg.MinFramesDetection || v.cfg.RatioApproachThreshold <= 0 {
		return 0
	}
	growth := areaGrowth(t.Tail(v.cfg.MinFramesDetection))
	return min(1, max(0, growth/v.cfg.RatioApproachThreshold))
}

// areaGrowth compares the mean area of the first two and last two positions.
func areaGrowth(window []tracking.Position) float64 {
	if len(window) < 2 {
		return 0
	}
	initial := float64(window[0].Area()+window[1].Area()) / 2
	final := float64(window[len(window)-2].Area()+window[len(window)-1].Area()) / 2
	if initial == 0 {
		return 0
	}
	return (final - initial) / initial
}
