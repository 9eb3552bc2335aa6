package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/neuraflow/internal/config"
	"github.com/your-org/neuraflow/internal/models"
	"github.com/your-org/neuraflow/internal/storage"
	"github.com/your-org/neuraflow/pkg/dto"
)

const (
	defaultRecentLimit = 5
	maxRecentLimit     = 100
	defaultStatsDays   = 7
	maxStatsDays       = 90
)

// SnapshotReader fetches stored snapshot images.
type SnapshotReader interface {
	GetObject(ctx context.Context, key string) ([]byte, error)
}

// ControlPublisher sends commands to running counters.
type ControlPublisher interface {
	PublishControl(cmd models.ControlCommand) error
}

type EntryHandler struct {
	store     storage.EntryStore
	snapshots SnapshotReader
	control   ControlPublisher
	live      *LiveCache
	now       func() time.Time
}

// NewEntryHandler serves the entry log. snapshots and control may be nil.
func NewEntryHandler(store storage.EntryStore, snapshots SnapshotReader, control ControlPublisher, live *LiveCache) *EntryHandler {
	if live == nil {
		live = NewLiveCache()
	}
	return &EntryHandler{
		store:     store,
		snapshots: snapshots,
		control:   control,
		live:      live,
		now:       time.Now,
	}
}

func (h *EntryHandler) Recent(c *gin.Context) {
	var q dto.RecentQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	limit = min(limit, maxRecentLimit)

	entries, err := h.store.RecentEntries(c.Request.Context(), c.Query("camera_id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.EntryResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, EntryResponse(e))
	}
	c.JSON(http.StatusOK, dto.EntryListResponse{Entries: resp, Count: len(resp)})
}

func (h *EntryHandler) Total(c *gin.Context) {
	total, err := h.store.TotalEntries(c.Request.Context(), c.Query("camera_id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, dto.TotalResponse{TotalEntries: total})
}

// Stats combines the stored aggregates with the latest live snapshots.
func (h *EntryHandler) Stats(c *gin.Context) {
	var q dto.StatsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	days := q.Days
	if days <= 0 {
		days = defaultStatsDays
	}
	days = min(days, maxStatsDays)
	cameraID := c.Query("camera_id")

	st, err := h.store.Statistics(c.Request.Context(), cameraID, days, h.now().UTC())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := dto.StatsResponse{
		TotalEntries:  st.TotalEntries,
		AvgConfidence: st.AvgConfidence,
		Daily:         make([]dto.DailyCount, 0, len(st.Daily)),
	}
	for _, d := range st.Daily {
		resp.Daily = append(resp.Daily, dto.DailyCount{Date: d.Date, Count: d.Count})
	}
	for _, s := range h.live.All() {
		if cameraID == "" || s.CameraID == cameraID {
			resp.Live = append(resp.Live, LiveStatsResponse(s))
		}
	}
	c.JSON(http.StatusOK, resp)
}

// Snapshot streams the frame stored when the entry was counted.
func (h *EntryHandler) Snapshot(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}
	if h.snapshots == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "snapshots disabled"})
		return
	}

	e, err := h.store.EntryByEventID(c.Request.Context(), eventID)
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "entry not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if e.SnapshotKey == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "entry has no snapshot"})
		return
	}

	data, err := h.snapshots.GetObject(c.Request.Context(), e.SnapshotKey)
	if err != nil {
		slog.Warn("get snapshot", "key", e.SnapshotKey, "error", err)
		c.JSON(http.StatusNotFound, gin.H{"error": "snapshot not found"})
		return
	}
	c.Data(http.StatusOK, "image/jpeg", data)
}

// Reset asks the counter of a camera to zero its total and drop its tracks.
// The command is fire-and-forget; the new total shows up in the next stats.
func (h *EntryHandler) Reset(c *gin.Context) {
	cameraID := c.Param("id")
	if !config.ValidCameraID(cameraID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid camera id"})
		return
	}
	if h.control == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "control channel unavailable"})
		return
	}

	cmd := models.ControlCommand{
		Command:   models.CommandReset,
		CameraID:  cameraID,
		RequestID: uuid.New(),
		IssuedAt:  h.now().UTC(),
	}
	if err := h.control.PublishControl(cmd); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	slog.Info("reset requested", "camera_id", cameraID, "request_id", cmd.RequestID)

	c.JSON(http.StatusAccepted, dto.ResetResponse{
		Status:    "requested",
		CameraID:  cameraID,
		RequestID: cmd.RequestID,
	})
}

// EntryResponse converts a stored entry for the wire.
func EntryResponse(e models.Entry) dto.EntryResponse {
	r := dto.EntryResponse{
		ID:           e.ID,
		EventID:      e.EventID,
		CameraID:     e.CameraID,
		TrackID:      e.TrackID,
		Timestamp:    e.Timestamp.UTC().Format(time.RFC3339Nano),
		TotalEntries: e.TotalEntries,
		XCenter:      e.XCenter,
		YBottom:      e.YBottom,
		Confidence:   e.Confidence,
		ModelVersion: e.ModelVersion,
	}
	if e.SnapshotKey != "" {
		r.SnapshotURL = "/v1/entries/" + e.EventID.String() + "/snapshot"
	}
	return r
}

// LiveStatsResponse converts a live snapshot for the wire.
func LiveStatsResponse(s models.LiveStats) dto.LiveStats {
	r := dto.LiveStats{
		CameraID:     s.CameraID,
		TotalEntries: s.TotalEntries,
		ActiveTracks: s.ActiveTracks,
		Tracked:      s.Tracked,
		FPS:          s.FPS,
		FrameCount:   s.FrameCount,
		Line:         s.Line,
	}
	if !s.UpdatedAt.IsZero() {
		r.UpdatedAt = s.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return r
}
