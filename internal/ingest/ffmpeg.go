package ingest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

// FrameCallback is called for each extracted JPEG frame.
type FrameCallback func(frameData []byte) error

const maxFrameSize = 10 * 1024 * 1024

var errNoFrames = errors.New("no frames received from ffmpeg")

// FFmpegExtractor pulls JPEG frames out of a camera, file or network stream.
type FFmpegExtractor struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	cmd    *exec.Cmd
}

// StartExtraction runs FFmpeg at the given FPS and width and calls callback
// for every frame. It blocks until ctx is cancelled or the stream ends.
func (f *FFmpegExtractor) StartExtraction(ctx context.Context, source string, fps int, width int, callback FrameCallback) error {
	ctx, cancel := context.WithCancel(ctx)
	f.mu.Lock()
	f.cancel = cancel
	f.mu.Unlock()

	defer cancel()

	args := []string{"-hide_banner", "-loglevel", "warning"}
	args = append(args, inputArgs(source, runtime.GOOS)...)
	args = append(args,
		"-vf", fmt.Sprintf("fps=%d,scale=%d:-2", fps, width),
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "5",
		"pipe:1",
	)

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	f.mu.Lock()
	f.cmd = cmd
	f.mu.Unlock()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}
	slog.Info("ffmpeg started", "source", source, "fps", fps, "width", width)

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			slog.Warn("ffmpeg stderr", "output", scanner.Text())
		}
	}()

	if err := readJPEGFrames(ctx, stdout, callback, 100*time.Millisecond); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_ = cmd.Wait()
		return fmt.Errorf("read frames: %w", err)
	}

	if err := cmd.Wait(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("ffmpeg exited: %w", err)
	}
	return nil
}

// Stop terminates the FFmpeg process.
func (f *FFmpegExtractor) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.cancel != nil {
		f.cancel()
	}
	if f.cmd != nil && f.cmd.Process != nil {
		_ = f.cmd.Process.Kill()
	}
}

// inputArgs maps a camera source to FFmpeg input options.
// A bare number selects a local capture device, as OpenCV does.
func inputArgs(source, goos string) []string {
	if idx, err := strconv.Atoi(source); err == nil {
		switch goos {
		case "darwin":
			return []string{"-f", "avfoundation", "-framerate", "30", "-i", strconv.Itoa(idx)}
		case "windows":
			return []string{"-f", "dshow", "-i", "video=" + strconv.Itoa(idx)}
		default:
			return []string{"-f", "v4l2", "-i", fmt.Sprintf("/dev/video%d", idx)}
		}
	}

	switch {
	case strings.HasPrefix(source, "/dev/video"):
		return []string{"-f", "v4l2", "-i", source}
	case strings.HasPrefix(source, "rtsp://"), strings.HasPrefix(source, "rtsps://"):
		return []string{
			"-rtsp_transport", "tcp",
			"-timeout", "5000000", // microseconds
			"-i", source,
		}
	case strings.HasPrefix(source, "http://"), strings.HasPrefix(source, "https://"):
		return []string{
			"-reconnect", "1",
			"-reconnect_streamed", "1",
			"-reconnect_delay_max", "5",
			"-timeout", "10000000",
			"-i", source,
		}
	}

	// recorded files are played at their native rate
	if st, err := os.Stat(source); err == nil && st.Mode().IsRegular() {
		return []string{"-re", "-i", source}
	}
	return []string{"-i", source}
}

// readJPEGFrames reads a stream of concatenated JPEG images.
// Tolerates initial EOF while ffmpeg is still connecting (50 retries of retryDelay).
func readJPEGFrames(ctx context.Context, r io.Reader, callback FrameCallback, retryDelay time.Duration) error {
	reader := bufio.NewReaderSize(r, 512*1024)
	framesRead := 0
	const maxStartupRetries = 50
	startupRetries := 0

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := findJPEGStart(reader)
		if err != nil {
			if err == io.EOF {
				if framesRead > 0 {
					return nil // stream ended normally after producing frames
				}
				if startupRetries < maxStartupRetries {
					startupRetries++
					time.Sleep(retryDelay)
					continue
				}
				return fmt.Errorf("%w (waited %s)", errNoFrames, time.Duration(startupRetries)*retryDelay)
			}
			return err
		}

		frameData, err := readUntilJPEGEnd(reader)
		if err != nil {
			if err == io.EOF && framesRead > 0 {
				return nil // stream ended mid-frame
			}
			return err
		}

		framesRead++
		if err := callback(frameData); err != nil {
			slog.Warn("frame callback error", "error", err)
		}
	}
}

func findJPEGStart(r *bufio.Reader) error {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		if b != 0xFF {
			continue
		}
		b, err = r.ReadByte()
		if err != nil {
			return err
		}
		if b == 0xD8 {
			return nil
		}
	}
}

func readUntilJPEGEnd(r *bufio.Reader) ([]byte, error) {
	data := []byte{0xFF, 0xD8}

	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		data = append(data, b)

		if b == 0xFF {
			next, err := r.ReadByte()
			if err != nil {
				return nil, err
			}
			data = append(data, next)
			if next == 0xD9 {
				return data, nil
			}
		}

		if len(data) > maxFrameSize {
			return nil, fmt.Errorf("jpeg frame too large: %d bytes", len(data))
		}
	}
}
