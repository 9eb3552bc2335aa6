package engine

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
)

func TestFPSCalculator(t *testing.T) {
	clk := clock.NewMock()
	f := NewFPSCalculator(10, clk)

	assert.Zero(t, f.Update(0))
	for i := int64(1); i < 10; i++ {
		clk.Add(50 * time.Millisecond)
		assert.Zero(t, f.Update(i))
	}
	clk.Add(50 * time.Millisecond)
	assert.InDelta(t, 20, f.Update(10), 1e-9)

	// holds between intervals
	clk.Add(time.Second)
	assert.InDelta(t, 20, f.Update(11), 1e-9)

	for i := int64(12); i <= 20; i++ {
		clk.Add(100 * time.Millisecond)
	}
	// 10 frames over 1.9s
	assert.InDelta(t, 10/1.9, f.Update(20), 1e-9)
	assert.InDelta(t, 10/1.9, f.FPS(), 1e-9)
}
