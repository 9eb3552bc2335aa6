package entry

import "github.com/your-org/neuraflow/internal/tracking"

// Line is the counting line in detector input pixels.
type Line struct {
	X1, Y1, X2, Y2 int
}

// LineFromConfig converts the configured coordinates. ok is false when
// none were configured.
func LineFromConfig(c [4]int) (Line, bool) {
	if c == [4]int{} {
		return Line{}, false
	}
	return Line{X1: c[0], Y1: c[1], X2: c[2], Y2: c[3]}, true
}

// MidFrame returns a horizontal line at half the frame height.
func MidFrame(width, height int) Line {
	return Line{X1: 0, Y1: height / 2, X2: width, Y2: height / 2}
}

// EffectiveY is the height tested for crossings. Sloped lines are treated as
// horizontal at the mean of their endpoints.
func (l Line) EffectiveY() int { return (l.Y1 + l.Y2) / 2 }

// Crosses reports whether the box ending at p straddles the line:
// head above it, feet on or below it.
func (l Line) Crosses(p tracking.Position) bool {
	y := l.EffectiveY()
	return p.TopY() < y && p.BottomY >= y
}

// Coords returns the line as x1, y1, x2, y2.
func (l Line) Coords() [4]int { return [4]int{l.X1, l.Y1, l.X2, l.Y2} }
