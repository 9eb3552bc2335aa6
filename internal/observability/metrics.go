package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nf",
		Name:      "frames_processed_total",
		Help:      "Total number of frames processed",
	}, []string{"camera_id"})

	FramesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nf",
		Name:      "frames_dropped_total",
		Help:      "Frames replaced before the engine read them",
	}, []string{"camera_id"})

	PeopleDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nf",
		Name:      "people_detected_total",
		Help:      "Total number of person detections passed to the tracker",
	}, []string{"camera_id"})

	EntriesCounted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nf",
		Name:      "entries_total",
		Help:      "Total number of validated entries",
	}, []string{"camera_id"})

	EmitFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nf",
		Name:      "emit_failures_total",
		Help:      "Entry events that could not be handed to the sink",
	}, []string{"camera_id"})

	ActiveTracks = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "nf",
		Name:      "active_tracks",
		Help:      "Stable tracks matched in the last frame",
	}, []string{"camera_id"})

	TrackedPeople = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "nf",
		Name:      "tracked_people",
		Help:      "Live tracks in the track store",
	}, []string{"camera_id"})

	FPS = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "nf",
		Name:      "fps",
		Help:      "Processed frames per second",
	}, []string{"camera_id"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "nf",
		Name:      "stage_duration_seconds",
		Help:      "Duration of frame processing stages",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
	}, []string{"stage"})

	EntriesRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "nf",
		Name:      "entries_recorded_total",
		Help:      "Entries written to the entry log",
	})

	RecorderPending = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "nf",
		Name:      "recorder_pending",
		Help:      "Entries buffered but not yet written",
	})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "nf",
		Name:      "queue_depth",
		Help:      "Number of pending entry events in the stream",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "nf",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "nf",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
