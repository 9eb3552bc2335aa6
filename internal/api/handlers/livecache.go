package handlers

import (
	"slices"
	"strings"
	"sync"

	"github.com/your-org/neuraflow/internal/models"
)

// LiveCache keeps the latest stats snapshot of every camera.
type LiveCache struct {
	mu    sync.RWMutex
	stats map[string]models.LiveStats
}

func NewLiveCache() *LiveCache {
	return &LiveCache{stats: make(map[string]models.LiveStats)}
}

// Set stores s unless a newer snapshot for the same camera is already held.
func (l *LiveCache) Set(s models.LiveStats) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.stats[s.CameraID]; ok && cur.UpdatedAt.After(s.UpdatedAt) {
		return
	}
	l.stats[s.CameraID] = s
}

func (l *LiveCache) Get(cameraID string) (models.LiveStats, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.stats[cameraID]
	return s, ok
}

// All returns every snapshot ordered by camera id.
func (l *LiveCache) All() []models.LiveStats {
	l.mu.RLock()
	out := make([]models.LiveStats, 0, len(l.stats))
	for _, s := range l.stats {
		out = append(out, s)
	}
	l.mu.RUnlock()

	slices.SortFunc(out, func(a, b models.LiveStats) int {
		return strings.Compare(a.CameraID, b.CameraID)
	})
	return out
}
