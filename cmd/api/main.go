package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/neuraflow/internal/api"
	"github.com/your-org/neuraflow/internal/api/handlers"
	"github.com/your-org/neuraflow/internal/api/ws"
	"github.com/your-org/neuraflow/internal/config"
	"github.com/your-org/neuraflow/internal/models"
	"github.com/your-org/neuraflow/internal/observability"
	"github.com/your-org/neuraflow/internal/queue"
	"github.com/your-org/neuraflow/internal/storage"
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

	slog.Info("starting NeuraFlow API service", "port", cfg.Server.Port, "storage", cfg.Storage.Driver)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Entry log (runs migrations)
	store, err := storage.Open(ctx, cfg)
	if err != nil {
		slog.Error("open entry store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	recorder := storage.NewRecorder(store, cfg.Storage, nil)
	recorderDone := make(chan struct{})
	go func() {
		recorder.Run(ctx)
		close(recorderDone)
	}()

	checks := []handlers.Check{{Name: cfg.Storage.Driver, Ping: store.Ping}}

	// Connect to MinIO for snapshot reads
	var snapshots handlers.SnapshotReader
	minioStore, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		slog.Warn("connect to minio, snapshots unavailable", "error", err)
	} else {
		snapshots = minioStore
		checks = append(checks, handlers.Check{Name: "minio", Ping: minioStore.Ping})
	}

	// Connect to NATS
	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(ctx); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}
	checks = append(checks, handlers.Check{Name: "nats", Ping: func(context.Context) error { return producer.Ping() }})

	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create entry consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	// WebSocket hub
	hub := ws.NewHub()
	go hub.Run(ctx)

	live := handlers.NewLiveCache()

	// Entries: record, then broadcast. A failed write naks the message.
	err = consumer.ConsumeEntries(ctx, "api-entries", func(ctx context.Context, ev models.EntryEvent) error {
		e := ev.Entry()
		if err := recorder.Record(ctx, e); err != nil {
			return fmt.Errorf("record entry %s: %w", ev.EventID, err)
		}
		hub.BroadcastEntry(handlers.EntryResponse(e))
		return nil
	})
	if err != nil {
		slog.Error("start entry consumer", "error", err)
		os.Exit(1)
	}

	statsSub, err := consumer.SubscribeStats(func(s models.LiveStats) {
		live.Set(s)
		hub.BroadcastStats(handlers.LiveStatsResponse(s))
	})
	if err != nil {
		slog.Error("subscribe stats", "error", err)
		os.Exit(1)
	}
	defer func() { _ = statsSub.Unsubscribe() }()

	// Periodically report stream depth
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				depth, err := producer.QueueDepth(ctx)
				if err == nil {
					observability.QueueDepth.Set(float64(depth))
				}
			}
		}
	}()

	// Setup router
	gin.SetMode(gin.ReleaseMode)
	router := api.NewRouter(api.RouterConfig{
		APIKey: cfg.Server.APIKey,
		Info: dto.InfoResponse{
			Service:       "neuraflow-api",
			Version:       version,
			ModelVersion:  cfg.Vision.ModelVersion,
			StorageDriver: cfg.Storage.Driver,
		},
		Store:     store,
		Snapshots: snapshots,
		Control:   producer,
		Live:      live,
		Hub:       hub,
		Checks:    checks,
	})

	// Start HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down API server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	// stops the consumer and hub; the recorder flushes what it holds
	cancel()
	<-recorderDone

	slog.Info("API server stopped", "pending_entries", recorder.Pending())
}
