package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/your-org/neuraflow/internal/config"
	"github.com/your-org/neuraflow/internal/engine"
	"github.com/your-org/neuraflow/internal/observability"
)

// Camera feeds the engine with the newest decoded frame. Frames that arrive
// while the engine is busy replace the pending one.
type Camera struct {
	cfg       config.CameraConfig
	extractor *FFmpegExtractor

	frames chan engine.Frame
	done   chan struct{}

	mu  sync.Mutex
	err error
}

func NewCamera(cfg config.CameraConfig) *Camera {
	return &Camera{
		cfg:       cfg,
		extractor: &FFmpegExtractor{},
		frames:    make(chan engine.Frame, 1),
		done:      make(chan struct{}),
	}
}

// Start launches capture in the background. The camera stops when ctx is
// cancelled, Close is called or the stream ends.
func (c *Camera) Start(ctx context.Context) {
	go func() {
		defer close(c.done)
		err := c.extractor.StartExtraction(ctx, c.cfg.Source, c.cfg.FPS, c.cfg.FrameWidth, c.push)
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("camera capture ended", "error", err, "source", c.cfg.Source)
			c.mu.Lock()
			c.err = err
			c.mu.Unlock()
		}
	}()
}

// push decodes a JPEG and offers it to the reader, dropping any stale frame.
func (c *Camera) push(data []byte) error {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("decode jpeg: %w", err)
	}
	return c.offer(engine.Frame{Image: img, JPEG: data, CapturedAt: time.Now()})
}

func (c *Camera) offer(f engine.Frame) error {
	for {
		select {
		case c.frames <- f:
			return nil
		default:
		}
		select {
		case <-c.frames:
			observability.FramesDropped.WithLabelValues(c.cfg.ID).Inc()
		default:
		}
	}
}

// Read returns the newest frame. After capture ends it drains the pending
// frame and then returns the capture error, or io.EOF.
func (c *Camera) Read(ctx context.Context) (engine.Frame, error) {
	select {
	case f := <-c.frames:
		return f, nil
	case <-ctx.Done():
		return engine.Frame{}, ctx.Err()
	case <-c.done:
		select {
		case f := <-c.frames:
			return f, nil
		default:
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.err != nil {
			return engine.Frame{}, c.err
		}
		return engine.Frame{}, io.EOF
	}
}

// Close stops FFmpeg.
func (c *Camera) Close() {
	c.extractor.Stop()
}
