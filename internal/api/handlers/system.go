package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/neuraflow/pkg/dto"
)

// Check is a named readiness probe.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

type SystemHandler struct {
	info   dto.InfoResponse
	checks []Check
	live   *LiveCache
}

// NewSystemHandler creates the health and info handler. live may be nil.
func NewSystemHandler(info dto.InfoResponse, live *LiveCache, checks ...Check) *SystemHandler {
	return &SystemHandler{info: info, checks: checks, live: live}
}

func (h *SystemHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *SystemHandler) Readyz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]string, len(h.checks))
	healthy := true

	for _, chk := range h.checks {
		if err := chk.Ping(ctx); err != nil {
			checks[chk.Name] = err.Error()
			healthy = false
			continue
		}
		checks[chk.Name] = "ok"
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"status": map[bool]string{true: "ready", false: "not ready"}[healthy],
		"checks": checks,
	})
}

// Info describes the service. With a live cache, the camera list is the set
// of cameras that have published stats.
func (h *SystemHandler) Info(c *gin.Context) {
	resp := h.info
	if h.live != nil {
		resp.Cameras = nil
		for _, s := range h.live.All() {
			resp.Cameras = append(resp.Cameras, s.CameraID)
		}
	}
	if resp.Cameras == nil {
		resp.Cameras = []string{}
	}
	c.JSON(http.StatusOK, resp)
}
