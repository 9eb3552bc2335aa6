package tracking

import (
	"slices"
	"time"
)

// Store owns the tracks of one camera. It is not safe for concurrent use:
// the frame loop is the only writer and reader.
type Store struct {
	tracks      map[int]*Track
	order       []int // ascending ids
	nextID      int
	historySize int
}

// NewStore creates an empty store whose tracks keep historySize positions.
func NewStore(historySize int) *Store {
	return &Store{
		tracks:      make(map[int]*Track),
		nextID:      1,
		historySize: historySize,
	}
}

// Get returns the track with the given id.
func (s *Store) Get(id int) (*Track, bool) {
	t, ok := s.tracks[id]
	return t, ok
}

// All returns every track in ascending id order.
func (s *Store) All() []*Track {
	out := make([]*Track, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.tracks[id])
	}
	return out
}

// Active returns tracks matched in the current frame that have at least minHits detections.
func (s *Store) Active(minHits int) []*Track {
	var out []*Track
	for _, id := range s.order {
		t := s.tracks[id]
		if t.FramesLost == 0 && t.TotalDetections >= minHits {
			out = append(out, t)
		}
	}
	return out
}

// Create starts a new track from a detection. Ids are never reused until Reset.
func (s *Store) Create(det Detection, at time.Time) *Track {
	t := NewTrack(s.nextID, s.historySize)
	s.nextID++
	t.Confidence = det.Confidence
	t.LastSeen = at
	t.TotalDetections = 1
	t.Append(det.position(at))

	s.tracks[t.ID] = t
	s.order = append(s.order, t.ID)
	return t
}

// Remove deletes a track. Unknown ids are ignored.
func (s *Store) Remove(id int) {
	if _, ok := s.tracks[id]; !ok {
		return
	}
	delete(s.tracks, id)
	if i, found := slices.BinarySearch(s.order, id); found {
		s.order = slices.Delete(s.order, i, i+1)
	}
}

// MarkCounted flags a track as counted. It returns false when the track
// is unknown or was already counted.
func (s *Store) MarkCounted(id int) bool {
	t, ok := s.tracks[id]
	if !ok || t.counted {
		return false
	}
	t.counted = true
	return true
}

// Reset drops every track and restarts ids at 1.
func (s *Store) Reset() {
	clear(s.tracks)
	s.order = s.order[:0]
	s.nextID = 1
}

// Len returns the number of live tracks.
func (s *Store) Len() int { return len(s.tracks) }
