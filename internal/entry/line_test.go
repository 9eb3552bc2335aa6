package entry

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/your-org/neuraflow/internal/tracking"
)

func TestLineCrossingBoundary(t *testing.T) {
	l := Line{X1: 0, Y1: 300, X2: 640, Y2: 300}

	tests := []struct {
		name   string
		bottom int
		height int
		want   bool
	}{
		{"head one pixel above, feet on line", 300, 1, true},
		{"zero height box on line", 300, 0, false},
		{"feet below, head above", 350, 100, true},
		{"whole box above", 299, 50, false},
		{"whole box below", 450, 100, false},
		{"head on line", 400, 100, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := l.Crosses(tracking.Position{BottomY: tt.bottom, Height: tt.height})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLineEffectiveYIgnoresSlope(t *testing.T) {
	l := Line{X1: 0, Y1: 201, X2: 640, Y2: 400}
	assert.Equal(t, 300, l.EffectiveY())
	assert.True(t, l.Crosses(tracking.Position{BottomY: 300, Height: 10}))
}

func TestLineFromConfig(t *testing.T) {
	_, ok := LineFromConfig([4]int{})
	assert.False(t, ok)

	l, ok := LineFromConfig([4]int{0, 120, 640, 130})
	assert.True(t, ok)
	assert.Equal(t, Line{X1: 0, Y1: 120, X2: 640, Y2: 130}, l)
	assert.Equal(t, [4]int{0, 120, 640, 130}, l.Coords())

	assert.Equal(t, Line{X1: 0, Y1: 240, X2: 640, Y2: 240}, MidFrame(640, 480))
}

func TestClassify(t *testing.T) {
	v := newValidator(t)
	store := tracking.NewStore(15)

	assert.Equal(t, StateExpired, v.Classify(nil, line300, 3))

	fresh := walk(t, store, 100, 10, []int{100, 100})
	assert.Equal(t, StateNew, v.Classify(fresh, line300, 3))

	idle := walk(t, store, 100, 0, []int{100, 100, 100})
	assert.Equal(t, StateTracked, v.Classify(idle, line300, 3))

	entering := walk(t, store, 250, 10, []int{100, 100, 110, 120, 130, 140, 150, 150})
	assert.Equal(t, StateCrossedApproaching, v.Classify(entering, line300, 3))

	store.MarkCounted(entering.ID)
	assert.Equal(t, StateCounted, v.Classify(entering, line300, 3))
}
