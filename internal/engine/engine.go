// Package engine runs the per-frame counting loop: detect, track, validate, emit.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/your-org/neuraflow/internal/config"
	"github.com/your-org/neuraflow/internal/entry"
	"github.com/your-org/neuraflow/internal/models"
	"github.com/your-org/neuraflow/internal/observability"
	"github.com/your-org/neuraflow/internal/tracking"
)

var (
	ErrRunning     = errors.New("engine already running")
	ErrStopTimeout = errors.New("engine did not stop in time")
)

// Frame is one decoded camera frame. JPEG is optional and reused for the
// live feed and snapshots when present.
type Frame struct {
	Image      image.Image
	JPEG       []byte
	CapturedAt time.Time
}

// Source yields frames. Read blocks until a frame is available or ctx is done.
// io.EOF ends the run cleanly.
type Source interface {
	Read(ctx context.Context) (Frame, error)
}

// Detector returns person boxes in frame pixel coordinates.
type Detector interface {
	Detect(img image.Image) ([]tracking.Detection, error)
}

// Sink receives entry events.
type Sink interface {
	Emit(ctx context.Context, ev models.EntryEvent) error
}

// SnapshotStore persists entry snapshots.
type SnapshotStore interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
}

// Config is everything the engine needs besides its collaborators.
type Config struct {
	CameraID     string
	ModelVersion string
	Tracking     config.TrackingConfig
	Entry        config.EntryConfig
	Engine       config.EngineConfig
}

type Option func(*Engine)

// WithClock overrides the wall clock for timestamps, tracking and FPS.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithSnapshots uploads the frame at every entry.
func WithSnapshots(s SnapshotStore) Option {
	return func(e *Engine) { e.snapshots = s }
}

// Engine owns the tracker and the running total for one camera.
// Only the frame loop touches the tracker; readers use Stats and LatestFrame.
type Engine struct {
	cfg       Config
	detector  Detector
	sink      Sink
	snapshots SnapshotStore
	clock     clock.Clock

	tracker   *tracking.Tracker
	validator *entry.Validator
	fps       *FPSCalculator

	// frame loop state
	line       entry.Line
	lineSet    bool
	total      int64
	frameCount int64

	// frameMu is held for the whole of ProcessFrame and by an immediate reset
	frameMu      sync.Mutex
	pendingReset atomic.Bool
	stats        atomic.Pointer[models.LiveStats]
	frame        atomic.Pointer[[]byte]

	running    atomic.Bool
	mu         sync.Mutex
	cancelRead context.CancelFunc
	done       chan struct{}
}

// New validates cfg and wires the engine. sink may be nil when entries are
// only counted in memory.
func New(cfg Config, det Detector, sink Sink, opts ...Option) (*Engine, error) {
	if det == nil {
		return nil, errors.New("engine: detector is required")
	}
	var errs []error
	if cfg.CameraID == "" {
		errs = append(errs, errors.New("camera id is required"))
	}
	if cfg.Engine.ProcessEveryNFrames < 1 {
		errs = append(errs, fmt.Errorf("engine.process_every_n_frames must be >= 1, got %d", cfg.Engine.ProcessEveryNFrames))
	}
	if cfg.Engine.FPSUpdateInterval < 1 {
		errs = append(errs, fmt.Errorf("engine.fps_update_interval must be >= 1, got %d", cfg.Engine.FPSUpdateInterval))
	}
	if cfg.Engine.JPEGQuality < 1 || cfg.Engine.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("engine.jpeg_quality must be within [1, 100], got %d", cfg.Engine.JPEGQuality))
	}
	if cfg.Engine.EmitTimeout <= 0 {
		errs = append(errs, fmt.Errorf("engine.emit_timeout must be > 0, got %s", cfg.Engine.EmitTimeout))
	}
	if err := config.CheckWindow(cfg.Tracking, cfg.Entry); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("engine config: %w", err)
	}

	e := &Engine{
		cfg:      cfg,
		detector: det,
		sink:     sink,
		clock:    clock.New(),
	}
	for _, opt := range opts {
		opt(e)
	}

	tracker, err := tracking.NewTracker(cfg.Tracking, e.clock)
	if err != nil {
		return nil, err
	}
	validator, err := entry.NewValidator(cfg.Entry)
	if err != nil {
		return nil, err
	}
	e.tracker = tracker
	e.validator = validator
	e.fps = NewFPSCalculator(cfg.Engine.FPSUpdateInterval, e.clock)
	e.line, e.lineSet = entry.LineFromConfig(cfg.Entry.Line)

	e.publishStats(0)
	return e, nil
}

// Run reads and processes frames until ctx is cancelled, Stop is called or
// the source reports io.EOF.
func (e *Engine) Run(ctx context.Context, src Source) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	readCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	e.mu.Lock()
	e.cancelRead = cancel
	e.done = done
	e.mu.Unlock()

	defer func() {
		cancel()
		e.running.Store(false)
		close(done)
	}()

	slog.Info("engine started", "camera_id", e.cfg.CameraID)

	for e.running.Load() {
		frame, err := src.Read(readCtx)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				slog.Info("source exhausted", "camera_id", e.cfg.CameraID)
				return nil
			case readCtx.Err() != nil:
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return nil // stopped
			default:
				return fmt.Errorf("read frame: %w", err)
			}
		}

		// the in-flight frame runs on the parent context so Stop never cuts it short
		if _, err := e.ProcessFrame(ctx, frame); err != nil {
			slog.Warn("process frame", "error", err, "camera_id", e.cfg.CameraID)
		}
	}

	slog.Info("engine stopped", "camera_id", e.cfg.CameraID, "total_entries", e.Stats().TotalEntries)
	return nil
}

// Stop asks the loop to exit after the current frame and waits up to timeout.
func (e *Engine) Stop(timeout time.Duration) error {
	e.mu.Lock()
	cancel, done := e.cancelRead, e.done
	e.mu.Unlock()

	if !e.running.CompareAndSwap(true, false) || done == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return ErrStopTimeout
	}
}

// Running reports whether the frame loop is active.
func (e *Engine) Running() bool { return e.running.Load() }

// Reset clears the total and all tracks. With no frame in flight it applies
// at once; otherwise the frame loop applies it when the current frame ends.
func (e *Engine) Reset() {
	e.pendingReset.Store(true)
	slog.Info("reset requested", "camera_id", e.cfg.CameraID)
	e.tryReset()
}

// tryReset applies a pending reset unless a frame holds frameMu. The holder
// rechecks after unlocking, so a pending reset is never stranded.
func (e *Engine) tryReset() {
	if e.pendingReset.Load() && e.frameMu.TryLock() {
		e.takeReset()
		e.frameMu.Unlock()
	}
}

// takeReset applies a pending reset. Callers hold frameMu.
func (e *Engine) takeReset() {
	if e.pendingReset.Swap(false) {
		e.applyReset()
	}
}

// ProcessFrame runs one frame through detection, tracking and validation and
// returns the entries it produced. It must only be called from one goroutine.
func (e *Engine) ProcessFrame(ctx context.Context, frame Frame) ([]models.EntryEvent, error) {
	if frame.Image == nil {
		return nil, errors.New("frame has no image")
	}
	e.frameMu.Lock()
	// a reset requested mid-frame must not wait for a frame that may never come
	defer func() {
		e.takeReset()
		e.frameMu.Unlock()
		e.tryReset()
	}()
	e.takeReset()

	if !e.lineSet {
		b := frame.Image.Bounds()
		e.line = entry.MidFrame(b.Dx(), b.Dy())
		e.lineSet = true
		slog.Info("using default counting line", "camera_id", e.cfg.CameraID, "y", e.line.EffectiveY())
	}

	e.frameCount++
	camera := e.cfg.CameraID
	observability.FramesProcessed.WithLabelValues(camera).Inc()

	detect := (e.frameCount-1)%int64(e.cfg.Engine.ProcessEveryNFrames) == 0
	if detect {
		start := time.Now()
		dets, err := e.detector.Detect(frame.Image)
		observability.StageDuration.WithLabelValues("detect").Observe(time.Since(start).Seconds())
		if err != nil {
			e.publishStats(0)
			return nil, fmt.Errorf("detect: %w", err)
		}
		observability.PeopleDetected.WithLabelValues(camera).Add(float64(len(dets)))

		start = time.Now()
		e.tracker.Update(dets)
		observability.StageDuration.WithLabelValues("track").Observe(time.Since(start).Seconds())
	}

	start := time.Now()
	active := e.tracker.Active()
	var events []models.EntryEvent
	if detect {
		for _, tr := range active {
			ok, reason := e.validator.Validate(tr, e.line)
			if !ok {
				if reason == entry.ReasonNotApproaching {
					slog.Debug("crossing rejected", "camera_id", camera, "track_id", tr.ID,
						"approach", e.validator.Analyze(tr).String())
				}
				continue
			}
			ev, registered := e.register(ctx, tr, frame)
			if registered {
				slog.Info("entry registered", "camera_id", camera, "track_id", tr.ID,
					"total_entries", ev.TotalEntries, "detail", reason)
				events = append(events, ev)
			}
		}
	}
	observability.StageDuration.WithLabelValues("validate").Observe(time.Since(start).Seconds())

	e.storeFrame(frame)
	e.publishStats(len(active))
	return events, nil
}

func (e *Engine) register(ctx context.Context, tr *tracking.Track, frame Frame) (models.EntryEvent, bool) {
	if !e.tracker.Store().MarkCounted(tr.ID) {
		return models.EntryEvent{}, false
	}
	e.total++
	observability.EntriesCounted.WithLabelValues(e.cfg.CameraID).Inc()

	last, _ := tr.Last()
	ev := models.EntryEvent{
		EventID:      uuid.New(),
		CameraID:     e.cfg.CameraID,
		TrackID:      tr.ID,
		Timestamp:    e.clock.Now().UTC(),
		XCenter:      last.CenterX,
		YBottom:      last.BottomY,
		Confidence:   tr.Confidence,
		TotalEntries: e.total,
		ModelVersion: e.cfg.ModelVersion,
	}

	if e.snapshots != nil && e.cfg.Engine.Snapshots {
		key := SnapshotKey(ev)
		data := frame.JPEG
		if data == nil {
			data = encodeJPEG(frame.Image, e.cfg.Engine.JPEGQuality)
		}
		putCtx, cancel := context.WithTimeout(ctx, e.cfg.Engine.EmitTimeout)
		err := e.snapshots.PutObject(putCtx, key, data, "image/jpeg")
		cancel()
		if err != nil {
			slog.Warn("save snapshot", "error", err, "camera_id", e.cfg.CameraID, "track_id", tr.ID)
		} else {
			ev.SnapshotKey = key
		}
	}

	if e.sink != nil {
		emitCtx, cancel := context.WithTimeout(ctx, e.cfg.Engine.EmitTimeout)
		err := e.sink.Emit(emitCtx, ev)
		cancel()
		if err != nil {
			observability.EmitFailures.WithLabelValues(e.cfg.CameraID).Inc()
			slog.Error("emit entry", "error", err, "camera_id", e.cfg.CameraID,
				"track_id", tr.ID, "event_id", ev.EventID)
		}
	}
	return ev, true
}

func (e *Engine) applyReset() {
	e.total = 0
	e.tracker.Reset()
	e.publishStats(0)
	slog.Info("counter reset", "camera_id", e.cfg.CameraID)
}

func (e *Engine) publishStats(active int) {
	fps := e.fps.Update(e.frameCount)
	observability.ActiveTracks.WithLabelValues(e.cfg.CameraID).Set(float64(active))
	observability.TrackedPeople.WithLabelValues(e.cfg.CameraID).Set(float64(e.tracker.TrackCount()))
	observability.FPS.WithLabelValues(e.cfg.CameraID).Set(fps)

	e.stats.Store(&models.LiveStats{
		CameraID:     e.cfg.CameraID,
		TotalEntries: e.total,
		ActiveTracks: active,
		Tracked:      e.tracker.TrackCount(),
		FPS:          fps,
		FrameCount:   e.frameCount,
		Line:         e.line.Coords(),
		UpdatedAt:    e.clock.Now().UTC(),
	})
}

func (e *Engine) storeFrame(frame Frame) {
	data := frame.JPEG
	if data == nil {
		data = encodeJPEG(frame.Image, e.cfg.Engine.JPEGQuality)
	}
	if data != nil {
		e.frame.Store(&data)
	}
}

// Stats returns the last published snapshot.
func (e *Engine) Stats() models.LiveStats {
	return *e.stats.Load()
}

// LatestFrame returns the most recent frame as JPEG, or nil before the first frame.
// The returned slice must not be modified.
func (e *Engine) LatestFrame() []byte {
	p := e.frame.Load()
	if p == nil {
		return nil
	}
	return *p
}

// SnapshotKey is the object key of the frame saved for ev.
func SnapshotKey(ev models.EntryEvent) string {
	return fmt.Sprintf("snapshots/%s/%s/%s.jpg",
		ev.CameraID, ev.Timestamp.Format("20060102"), ev.EventID)
}

func encodeJPEG(img image.Image, quality int) []byte {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil
	}
	return buf.Bytes()
}
