package api

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/neuraflow/internal/api/handlers"
	"github.com/your-org/neuraflow/internal/api/ws"
	"github.com/your-org/neuraflow/internal/auth"
	"github.com/your-org/neuraflow/internal/storage"
	"github.com/your-org/neuraflow/pkg/dto"
)

// RouterConfig wires the API service. Snapshots and Control may be nil.
type RouterConfig struct {
	APIKey    string
	Info      dto.InfoResponse
	Store     storage.EntryStore
	Snapshots handlers.SnapshotReader
	Control   handlers.ControlPublisher
	Live      *handlers.LiveCache
	Hub       *ws.Hub
	Checks    []handlers.Check
}

func newEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

// NewRouter builds the API service router: entry history, statistics,
// counter control and the WebSocket feed.
func NewRouter(cfg RouterConfig) *gin.Engine {
	r := newEngine()

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.Info, cfg.Live, cfg.Checks...)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)

	// API v1 (with auth)
	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))

	v1.GET("/info", systemH.Info)
	if cfg.Hub != nil {
		v1.GET("/ws", cfg.Hub.HandleWS)
	}

	entryH := handlers.NewEntryHandler(cfg.Store, cfg.Snapshots, cfg.Control, cfg.Live)
	v1.GET("/entries/recent", entryH.Recent)
	v1.GET("/entries/total", entryH.Total)
	v1.GET("/entries/:id/snapshot", entryH.Snapshot)
	v1.GET("/stats", entryH.Stats)
	v1.POST("/cameras/:id/reset", entryH.Reset)

	return r
}

// LiveRouterConfig wires a counter's local HTTP surface.
type LiveRouterConfig struct {
	APIKey        string
	Info          dto.InfoResponse
	Engine        handlers.LiveEngine
	FrameInterval time.Duration
	Checks        []handlers.Check
}

// NewLiveRouter builds the counter's router: live stats, reset and video.
func NewLiveRouter(cfg LiveRouterConfig) *gin.Engine {
	r := newEngine()

	systemH := handlers.NewSystemHandler(cfg.Info, nil, cfg.Checks...)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)

	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))

	liveH := handlers.NewLiveHandler(cfg.Engine, cfg.FrameInterval)
	v1.GET("/info", systemH.Info)
	v1.GET("/stats", liveH.Stats)
	v1.POST("/reset", liveH.Reset)
	v1.GET("/frame.jpg", liveH.Frame)
	v1.GET("/video_feed", liveH.VideoFeed)

	return r
}
