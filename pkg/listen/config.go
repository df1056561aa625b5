package listen

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/irisware/go-iris/pkg/sense"
)

// Config holds segmenter tuning.
type Config struct {
	// SampleRate of the incoming PCM in Hz.
	SampleRate int

	// FrameDuration is the VAD analysis window.
	FrameDuration time.Duration

	// Threshold is the RMS energy (0..1 of full scale) above which a
	// frame counts as voiced.
	Threshold float64

	// ActivationFrames is how many consecutive voiced frames open an
	// utterance. Raising it rejects clicks and thumps at the cost of
	// onset latency.
	ActivationFrames int

	// Hangover is how much consecutive silence closes an utterance.
	// The silence stays in the segment; trailing context helps the
	// transcriber.
	Hangover time.Duration

	// MaxUtterance caps a single segment. Speech running past the cap
	// is emitted and a fresh segment starts on the next activation.
	MaxUtterance time.Duration

	// Logger is the structured logger.
	Logger *slog.Logger
}

// Option configures the segmenter.
type Option func(*Config)

// WithSampleRate sets the incoming PCM rate.
func WithSampleRate(rate int) Option {
	return func(c *Config) { c.SampleRate = rate }
}

// WithFrameDuration sets the VAD analysis window.
func WithFrameDuration(d time.Duration) Option {
	return func(c *Config) { c.FrameDuration = d }
}

// WithThreshold sets the voiced-frame energy threshold.
func WithThreshold(t float64) Option {
	return func(c *Config) { c.Threshold = t }
}

// WithActivationFrames sets the consecutive voiced frames needed to
// open an utterance.
func WithActivationFrames(n int) Option {
	return func(c *Config) { c.ActivationFrames = n }
}

// WithHangover sets the closing silence duration.
func WithHangover(d time.Duration) Option {
	return func(c *Config) { c.Hangover = d }
}

// WithMaxUtterance caps segment length.
func WithMaxUtterance(d time.Duration) Option {
	return func(c *Config) { c.MaxUtterance = d }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		if logger != nil {
			c.Logger = logger
		}
	}
}

// DefaultConfig returns the microphone-path defaults: 30ms frames of
// 16kHz mono, one second of closing silence, ten second cap.
func DefaultConfig() *Config {
	return &Config{
		SampleRate:       sense.SampleRate,
		FrameDuration:    30 * time.Millisecond,
		Threshold:        0.02,
		ActivationFrames: 2,
		Hangover:         time.Second,
		MaxUtterance:     10 * time.Second,
		Logger:           slog.Default(),
	}
}

// Apply applies options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", c.SampleRate)
	}
	if c.FrameDuration <= 0 {
		return fmt.Errorf("frame duration must be positive, got %v", c.FrameDuration)
	}
	if c.Threshold <= 0 || c.Threshold >= 1 {
		return fmt.Errorf("threshold must be in (0, 1), got %v", c.Threshold)
	}
	if c.ActivationFrames <= 0 {
		return fmt.Errorf("activation frames must be positive, got %d", c.ActivationFrames)
	}
	if c.Hangover < c.FrameDuration {
		return fmt.Errorf("hangover %v shorter than one frame %v", c.Hangover, c.FrameDuration)
	}
	if c.MaxUtterance < c.Hangover {
		return fmt.Errorf("max utterance %v shorter than hangover %v", c.MaxUtterance, c.Hangover)
	}
	return nil
}

// FrameBytes returns the size of one analysis frame in bytes.
func (c *Config) FrameBytes() int {
	samples := c.SampleRate * int(c.FrameDuration/time.Millisecond) / 1000
	return samples * sense.BytesPerSample
}
