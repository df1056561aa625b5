// Package webcam captures frames from a local camera through OpenCV. It is
// the dev-rig stand-in for the head-unit camera: same JPEG payloads, same
// FrameSource contract, so the rest of the pipeline cannot tell them apart.
package webcam

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"

	"github.com/irisware/go-iris/pkg/sense"
)

// ErrClosed is returned when capturing from a closed camera.
var ErrClosed = errors.New("webcam: closed")

// readRetryDelay is how long to wait before re-reading after an empty grab.
// USB cameras return empty mats while auto-exposure settles.
const readRetryDelay = 20 * time.Millisecond

// Camera is a local OpenCV capture device producing JPEG frames.
type Camera struct {
	config Config
	logger *slog.Logger

	mu     sync.Mutex
	cap    *gocv.VideoCapture
	mat    gocv.Mat
	closed bool

	seq atomic.Uint64
}

var _ sense.FrameSource = (*Camera)(nil)

// NewCamera opens the capture device and applies the requested resolution
// and rate. The device keeps its own default for any zero-valued setting.
func NewCamera(opts ...Option) (*Camera, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("webcam: %w", err)
	}

	cap, err := gocv.OpenVideoCapture(cfg.Device)
	if err != nil {
		return nil, fmt.Errorf("webcam: open device %q: %w", cfg.Device, err)
	}

	if cfg.Width > 0 {
		cap.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
	}
	if cfg.Height > 0 {
		cap.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	}
	if cfg.FPS > 0 {
		cap.Set(gocv.VideoCaptureFPS, float64(cfg.FPS))
	}

	c := &Camera{
		config: cfg,
		logger: cfg.Logger.With("component", "webcam"),
		cap:    cap,
		mat:    gocv.NewMat(),
	}

	c.logger.Info("camera opened",
		"device", cfg.Device,
		"width", int(cap.Get(gocv.VideoCaptureFrameWidth)),
		"height", int(cap.Get(gocv.VideoCaptureFrameHeight)))
	return c, nil
}

// CaptureFrame grabs the next frame and encodes it as JPEG. Empty grabs are
// retried until the context expires; a grab that decodes badly is returned
// flagged corrupt along with the error so the gate can count it.
func (c *Camera) CaptureFrame(ctx context.Context) (*sense.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if c.cap.Read(&c.mat) && !c.mat.Empty() {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(readRetryDelay):
		}
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, c.mat,
		[]int{gocv.IMWriteJpegQuality, c.config.Quality})
	if err != nil {
		return nil, fmt.Errorf("webcam: encode frame: %w", err)
	}
	encoded := append([]byte(nil), buf.GetBytes()...)
	buf.Close()

	frame, err := sense.NewFrame(c.seq.Add(1), time.Now(), encoded)
	if err != nil {
		return frame, fmt.Errorf("webcam: %w", err)
	}
	return frame, nil
}

// Captures returns how many frames have been grabbed.
func (c *Camera) Captures() uint64 {
	return c.seq.Load()
}

// Close releases the capture device. Safe to call more than once.
func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.mat.Close()

	c.logger.Info("camera closed", "captures", c.seq.Load())
	return c.cap.Close()
}
