package compose

import (
	"fmt"
	"log/slog"
)

// Defaults for composition policy.
const (
	// DefaultMinCoverage is the OCR coverage at which read intent
	// promotes text over the scene description.
	DefaultMinCoverage = 0.35

	// DefaultDominantCoverage is the OCR coverage at which text wins
	// even without read intent (the frame is mostly text, e.g. a page
	// held up to the camera).
	DefaultDominantCoverage = 0.60

	// DefaultMinConfidence filters low-confidence detections out of the
	// spoken description.
	DefaultMinConfidence = 0.5

	// DefaultMaxDetections caps how many objects are appended to the
	// caption; more than a few turns the utterance into a list recital.
	DefaultMaxDetections = 3
)

// Config holds the composition policy knobs.
type Config struct {
	// MinCoverage promotes OCR under read intent.
	MinCoverage float64

	// DominantCoverage promotes OCR unconditionally.
	DominantCoverage float64

	// MinConfidence filters detections below this confidence.
	MinConfidence float64

	// MaxDetections caps appended detections.
	MaxDetections int

	// Logger for composition decisions.
	Logger *slog.Logger
}

// Option configures the composer.
type Option func(*Config)

// DefaultConfig returns the default composition policy.
func DefaultConfig() *Config {
	return &Config{
		MinCoverage:      DefaultMinCoverage,
		DominantCoverage: DefaultDominantCoverage,
		MinConfidence:    DefaultMinConfidence,
		MaxDetections:    DefaultMaxDetections,
		Logger:           slog.Default(),
	}
}

// Apply applies the options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.MinCoverage <= 0 || c.MinCoverage > 1 {
		return fmt.Errorf("min coverage %v out of range (0,1]", c.MinCoverage)
	}
	if c.DominantCoverage <= 0 || c.DominantCoverage > 1 {
		return fmt.Errorf("dominant coverage %v out of range (0,1]", c.DominantCoverage)
	}
	if c.DominantCoverage < c.MinCoverage {
		return fmt.Errorf("dominant coverage %v below min coverage %v", c.DominantCoverage, c.MinCoverage)
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("min confidence %v out of range [0,1]", c.MinConfidence)
	}
	if c.MaxDetections < 1 {
		return fmt.Errorf("max detections %d must be at least 1", c.MaxDetections)
	}
	return nil
}

// WithMinCoverage sets the read-intent OCR coverage floor.
func WithMinCoverage(v float64) Option {
	return func(c *Config) { c.MinCoverage = v }
}

// WithDominantCoverage sets the unconditional OCR coverage floor.
func WithDominantCoverage(v float64) Option {
	return func(c *Config) { c.DominantCoverage = v }
}

// WithMinConfidence sets the detection confidence filter.
func WithMinConfidence(v float64) Option {
	return func(c *Config) { c.MinConfidence = v }
}

// WithMaxDetections caps appended detections.
func WithMaxDetections(n int) Option {
	return func(c *Config) { c.MaxDetections = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}
