package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-co-op/gocron/v2"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/neuraflow/internal/api"
	"github.com/your-org/neuraflow/internal/api/handlers"
	"github.com/your-org/neuraflow/internal/config"
	"github.com/your-org/neuraflow/internal/engine"
	"github.com/your-org/neuraflow/internal/ingest"
	"github.com/your-org/neuraflow/internal/models"
	"github.com/your-org/neuraflow/internal/observability"
	"github.com/your-org/neuraflow/internal/queue"
	"github.com/your-org/neuraflow/internal/storage"
	"github.com/your-org/neuraflow/internal/vision"
	"github.com/your-org/neuraflow/pkg/dto"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting NeuraFlow counter",
		"camera_id", cfg.Camera.ID,
		"source", cfg.Camera.Source,
		"cpu_cores", runtime.NumCPU(),
	)

	// Initialize ONNX Runtime
	ort.SetSharedLibraryPath(getONNXLibPath())
	if err := ort.InitializeEnvironment(); err != nil {
		slog.Error("init onnx runtime", "error", err)
		os.Exit(1)
	}
	defer ort.DestroyEnvironment()

	sessionOpts, err := ort.NewSessionOptions()
	if err != nil {
		slog.Error("create onnx session options", "error", err)
		os.Exit(1)
	}
	defer sessionOpts.Destroy()
	if err := sessionOpts.SetIntraOpNumThreads(runtime.NumCPU()); err != nil {
		slog.Warn("set onnx threads", "error", err)
	}

	modelPath := filepath.Join(cfg.Vision.ModelsDir, cfg.Vision.ModelFile)
	slog.Info("loading detection model", "path", modelPath, "version", cfg.Vision.ModelVersion)
	detector, err := vision.NewDetector(modelPath, vision.DetectorOptions{
		InputSize:    cfg.Vision.InputSize,
		Threshold:    float32(cfg.Vision.ConfidenceThreshold),
		NMSThreshold: float32(cfg.Vision.NMSThreshold),
		Filter:       vision.NewBoxFilter(cfg.Vision),
	}, sessionOpts)
	if err != nil {
		slog.Error("load detector", "error", err)
		os.Exit(1)
	}
	defer detector.Close()

	// Connect to NATS
	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats producer", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(context.Background()); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	checks := []handlers.Check{
		{Name: "nats", Ping: func(context.Context) error { return producer.Ping() }},
	}

	var opts []engine.Option
	var minioStore *storage.MinIOStore
	if cfg.Engine.Snapshots {
		minioStore, err = storage.NewMinIOStore(cfg.MinIO)
		if err != nil {
			slog.Error("connect to minio", "error", err)
			os.Exit(1)
		}
		if err := minioStore.EnsureBucket(context.Background()); err != nil {
			slog.Warn("ensure minio bucket", "error", err)
		}
		opts = append(opts, engine.WithSnapshots(minioStore))
		checks = append(checks, handlers.Check{Name: "minio", Ping: minioStore.Ping})
	}

	eng, err := engine.New(engine.Config{
		CameraID:     cfg.Camera.ID,
		ModelVersion: cfg.Vision.ModelVersion,
		Tracking:     cfg.Tracking,
		Entry:        cfg.Entry,
		Engine:       cfg.Engine,
	}, detector, producer, opts...)
	if err != nil {
		slog.Error("init engine", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Control commands from the API service
	controlSub, err := consumer.SubscribeControl(cfg.Camera.ID, func(cmd models.ControlCommand) {
		switch cmd.Command {
		case models.CommandReset:
			slog.Info("reset requested", "request_id", cmd.RequestID)
			eng.Reset()
		default:
			slog.Warn("unknown control command", "command", cmd.Command)
		}
	})
	if err != nil {
		slog.Error("subscribe control", "error", err)
		os.Exit(1)
	}
	defer func() { _ = controlSub.Unsubscribe() }()

	// Periodic jobs: stats broadcast and snapshot retention
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		slog.Error("create scheduler", "error", err)
		os.Exit(1)
	}
	_, err = scheduler.NewJob(
		gocron.DurationJob(cfg.Engine.StatsInterval),
		gocron.NewTask(publishStats, eng, producer),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		slog.Error("schedule stats job", "error", err)
		os.Exit(1)
	}
	if minioStore != nil && cfg.Storage.SnapshotRetention > 0 {
		_, err = scheduler.NewJob(
			gocron.DurationJob(10*time.Minute),
			gocron.NewTask(pruneSnapshots, ctx, minioStore, cfg.Camera.ID, cfg.Storage.SnapshotRetention),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			slog.Error("schedule snapshot pruning", "error", err)
			os.Exit(1)
		}
	}
	scheduler.Start()

	// Live HTTP: stats, reset, MJPEG feed and metrics
	gin.SetMode(gin.ReleaseMode)
	router := api.NewLiveRouter(api.LiveRouterConfig{
		APIKey: cfg.Server.APIKey,
		Info: dto.InfoResponse{
			Service:      "neuraflow-counter",
			Version:      version,
			ModelVersion: cfg.Vision.ModelVersion,
			Cameras:      []string{cfg.Camera.ID},
		},
		Engine:        eng,
		FrameInterval: time.Second / time.Duration(cfg.Camera.FPS),
		Checks:        checks,
	})
	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Server.LivePort),
		Handler:     router,
		ReadTimeout: 30 * time.Second,
		// no write timeout: /v1/video_feed streams indefinitely
		IdleTimeout: 60 * time.Second,
	}
	go func() {
		slog.Info("live server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("live server error", "error", err)
			os.Exit(1)
		}
	}()

	// Capture and count
	camera := ingest.NewCamera(cfg.Camera)
	camera.Start(ctx)

	runErr := make(chan error, 1)
	go func() { runErr <- eng.Run(ctx, camera) }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case <-quit:
		slog.Info("shutting down counter...")
		if err := eng.Stop(cfg.Engine.StopTimeout); err != nil {
			slog.Warn("stop engine", "error", err)
		}
	case err := <-runErr:
		if err != nil {
			slog.Error("frame loop ended", "error", err)
			exitCode = 1
		} else {
			slog.Info("camera stream ended")
		}
	}

	camera.Close()
	cancel()
	if err := scheduler.Shutdown(); err != nil {
		slog.Warn("stop scheduler", "error", err)
	}

	// last stats so the API sees the final total
	if err := producer.PublishStats(eng.Stats()); err != nil {
		slog.Warn("publish final stats", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("live server shutdown error", "error", err)
	}

	slog.Info("counter stopped", "total_entries", eng.Stats().TotalEntries)
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}

// publishStats pushes the live snapshot to NATS.
func publishStats(eng *engine.Engine, producer *queue.Producer) {
	if err := producer.PublishStats(eng.Stats()); err != nil {
		slog.Warn("publish stats", "error", err)
	}
}

// pruneSnapshots keeps the newest keep snapshots of the camera.
func pruneSnapshots(ctx context.Context, minioStore *storage.MinIOStore, cameraID string, keep int) {
	prefix := "snapshots/" + cameraID + "/"
	n, err := minioStore.Prune(ctx, prefix, keep)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			slog.Warn("prune snapshots", "prefix", prefix, "error", err)
		}
		return
	}
	if n > 0 {
		slog.Info("pruned snapshots", "camera_id", cameraID, "deleted", n, "remaining", keep)
	}
}

// getONNXLibPath returns the ONNX Runtime shared library path
// based on the operating system.
func getONNXLibPath() string {
	if p := os.Getenv("ONNXRUNTIME_LIB"); p != "" {
		return p
	}
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "libonnxruntime.so"
	}
}
