package tracking

import (
	"math"
	"time"
)

// Detection is a single person box from the detector, in detector input pixels.
type Detection struct {
	X1, Y1, X2, Y2 int
	Confidence     float64
}

// CenterX returns the horizontal center of the box.
func (d Detection) CenterX() int { return (d.X1 + d.X2) / 2 }

// BottomY returns the feet coordinate of the box.
func (d Detection) BottomY() int { return d.Y2 }

func (d Detection) Width() int  { return d.X2 - d.X1 }
func (d Detection) Height() int { return d.Y2 - d.Y1 }

// Degenerate reports boxes the tracker refuses to use.
func (d Detection) Degenerate() bool {
	return d.Width() <= 0 || d.Height() <= 0 ||
		math.IsNaN(d.Confidence) || math.IsInf(d.Confidence, 0)
}

func (d Detection) position(at time.Time) Position {
	return Position{
		CenterX:    d.CenterX(),
		BottomY:    d.BottomY(),
		ObservedAt: at,
		Height:     d.Height(),
		Width:      d.Width(),
	}
}

// Position is one observation of a tracked person.
type Position struct {
	CenterX    int
	BottomY    int
	ObservedAt time.Time
	Height     int
	Width      int
}

// TopY returns the head coordinate of the observed box.
func (p Position) TopY() int { return p.BottomY - p.Height }

// Area returns the box area in square pixels.
func (p Position) Area() int { return p.Height * p.Width }

// Track is a persistent identity built from matched detections.
type Track struct {
	ID              int
	Confidence      float64
	LastSeen        time.Time
	FramesLost      int // consecutive frames without a match
	TotalDetections int

	counted bool

	// ring buffer of the most recent positions
	history []Position
	head    int
	size    int
}

// NewTrack creates a track holding at most capacity positions.
func NewTrack(id, capacity int) *Track {
	if capacity < 1 {
		capacity = 1
	}
	return &Track{
		ID:      id,
		history: make([]Position, capacity),
	}
}

// Counted reports whether an entry was already registered for this track.
func (t *Track) Counted() bool { return t.counted }

// Append records a new position, evicting the oldest when the history is full.
// ObservedAt is clamped so the history never goes back in time.
func (t *Track) Append(p Position) {
	if last, ok := t.Last(); ok && p.ObservedAt.Before(last.ObservedAt) {
		p.ObservedAt = last.ObservedAt
	}
	idx := (t.head + t.size) % len(t.history)
	if t.size == len(t.history) {
		t.history[t.head] = p
		t.head = (t.head + 1) % len(t.history)
		return
	}
	t.history[idx] = p
	t.size++
}

// Len returns the number of stored positions.
func (t *Track) Len() int { return t.size }

// Capacity returns the history bound.
func (t *Track) Capacity() int { return len(t.history) }

// Last returns the most recent position.
func (t *Track) Last() (Position, bool) {
	if t.size == 0 {
		return Position{}, false
	}
	return t.history[(t.head+t.size-1)%len(t.history)], true
}

// Positions returns a copy of the history, oldest first.
func (t *Track) Positions() []Position {
	out := make([]Position, t.size)
	for i := range t.size {
		out[i] = t.history[(t.head+i)%len(t.history)]
	}
	return out
}

// Tail returns a copy of the last n positions, oldest first.
// It returns fewer when the history is shorter.
func (t *Track) Tail(n int) []Position {
	if n > t.size {
		n = t.size
	}
	if n <= 0 {
		return nil
	}
	out := make([]Position, n)
	start := t.size - n
	for i := range n {
		out[i] = t.history[(t.head+start+i)%len(t.history)]
	}
	return out
}

func (t *Track) expired(now time.Time, maxFramesLost int, timeout time.Duration) bool {
	return t.FramesLost > maxFramesLost || now.Sub(t.LastSeen) > timeout
}
