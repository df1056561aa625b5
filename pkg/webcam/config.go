package webcam

import (
	"fmt"
	"log/slog"
)

// Default capture parameters. 720p keeps the JPEG payload small enough for
// the change gate while leaving captions and OCR enough detail to work with.
const (
	DefaultDevice  = "0"
	DefaultWidth   = 1280
	DefaultHeight  = 720
	DefaultFPS     = 30
	DefaultQuality = 85
)

// Config holds camera capture configuration.
type Config struct {
	// Device is the capture device: an index ("0", "1") or a path
	// ("/dev/video2") or stream URL.
	Device string

	// Width and Height request a capture resolution. Zero leaves the
	// device default in place.
	Width  int
	Height int

	// FPS requests a capture rate. Zero leaves the device default.
	FPS int

	// Quality is the JPEG encode quality (1-100).
	Quality int

	Logger *slog.Logger
}

// Option configures the camera.
type Option func(*Config)

// WithDevice sets the capture device index, path, or URL.
func WithDevice(device string) Option {
	return func(c *Config) {
		c.Device = device
	}
}

// WithResolution requests a capture resolution.
func WithResolution(width, height int) Option {
	return func(c *Config) {
		c.Width = width
		c.Height = height
	}
}

// WithFPS requests a capture rate.
func WithFPS(fps int) Option {
	return func(c *Config) {
		c.FPS = fps
	}
}

// WithQuality sets the JPEG encode quality (1-100).
func WithQuality(quality int) Option {
	return func(c *Config) {
		c.Quality = quality
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// DefaultConfig returns the default camera configuration.
func DefaultConfig() Config {
	return Config{
		Device:  DefaultDevice,
		Width:   DefaultWidth,
		Height:  DefaultHeight,
		FPS:     DefaultFPS,
		Quality: DefaultQuality,
		Logger:  slog.Default(),
	}
}

// Apply applies options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Device == "" {
		return fmt.Errorf("device is required")
	}
	if c.Width < 0 || c.Height < 0 {
		return fmt.Errorf("resolution must not be negative")
	}
	if c.FPS < 0 {
		return fmt.Errorf("fps must not be negative")
	}
	if c.Quality < 1 || c.Quality > 100 {
		return fmt.Errorf("quality must be between 1 and 100")
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}
