package handlers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/neuraflow/internal/models"
)

func TestLiveCacheKeepsNewest(t *testing.T) {
	c := NewLiveCache()
	c.Set(models.LiveStats{CameraID: "door", TotalEntries: 5, UpdatedAt: ts})
	c.Set(models.LiveStats{CameraID: "door", TotalEntries: 4, UpdatedAt: ts.Add(-time.Second)})

	got, ok := c.Get("door")
	require.True(t, ok)
	assert.Equal(t, int64(5), got.TotalEntries, "late snapshot must not win")

	c.Set(models.LiveStats{CameraID: "door", TotalEntries: 0, UpdatedAt: ts.Add(time.Second)})
	got, _ = c.Get("door")
	assert.Equal(t, int64(0), got.TotalEntries)

	_, ok = c.Get("garage")
	assert.False(t, ok)
}
