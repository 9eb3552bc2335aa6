package handlers

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/neuraflow/internal/models"
	"github.com/your-org/neuraflow/pkg/dto"
)

const mjpegBoundary = "frame"

// LiveEngine is the part of a running counter the live endpoints need.
type LiveEngine interface {
	Stats() models.LiveStats
	LatestFrame() []byte
	Reset()
}

// LiveHandler serves a counter's in-memory state.
type LiveHandler struct {
	engine        LiveEngine
	frameInterval time.Duration
}

// NewLiveHandler creates the handler; frameInterval paces the MJPEG feed.
func NewLiveHandler(engine LiveEngine, frameInterval time.Duration) *LiveHandler {
	if frameInterval <= 0 {
		frameInterval = 100 * time.Millisecond
	}
	return &LiveHandler{engine: engine, frameInterval: frameInterval}
}

func (h *LiveHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, LiveStatsResponse(h.engine.Stats()))
}

// Reset is applied by the frame loop before the next frame.
func (h *LiveHandler) Reset(c *gin.Context) {
	h.engine.Reset()
	c.JSON(http.StatusAccepted, dto.ResetResponse{
		Status:   "requested",
		CameraID: h.engine.Stats().CameraID,
	})
}

func (h *LiveHandler) Frame(c *gin.Context) {
	data := h.engine.LatestFrame()
	if len(data) == 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no frame yet"})
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/jpeg", data)
}

// VideoFeed streams the latest frames as multipart MJPEG until the client leaves.
func (h *LiveHandler) VideoFeed(c *gin.Context) {
	c.Header("Content-Type", "multipart/x-mixed-replace; boundary="+mjpegBoundary)
	c.Header("Cache-Control", "no-store")
	c.Status(http.StatusOK)

	ticker := time.NewTicker(h.frameInterval)
	defer ticker.Stop()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		if data := h.engine.LatestFrame(); len(data) > 0 {
			if err := writePart(w, data); err != nil {
				return false
			}
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			return true
		}
	})
}

func writePart(w io.Writer, jpeg []byte) error {
	if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", mjpegBoundary, len(jpeg)); err != nil {
		return err
	}
	if _, err := w.Write(jpeg); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\r\n")
	return err
}
