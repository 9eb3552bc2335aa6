package engine

import (
	"time"

	"github.com/benbjohnson/clock"
)

// FPSCalculator recomputes throughput every interval frames.
type FPSCalculator struct {
	interval  int64
	clock     clock.Clock
	lastTime  time.Time
	lastCount int64
	fps       float64
}

func NewFPSCalculator(interval int, clk clock.Clock) *FPSCalculator {
	if interval < 1 {
		interval = 1
	}
	return &FPSCalculator{
		interval: int64(interval),
		clock:    clk,
		lastTime: clk.Now(),
	}
}

// Update takes the running frame count and returns the current estimate.
func (f *FPSCalculator) Update(frameCount int64) float64 {
	if frameCount <= f.lastCount || frameCount%f.interval != 0 {
		return f.fps
	}
	now := f.clock.Now()
	elapsed := now.Sub(f.lastTime).Seconds()
	if elapsed > 0 {
		f.fps = float64(frameCount-f.lastCount) / elapsed
		f.lastTime = now
		f.lastCount = frameCount
	}
	return f.fps
}

// FPS returns the last estimate.
func (f *FPSCalculator) FPS() float64 { return f.fps }
