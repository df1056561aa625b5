package acquire

import (
	"fmt"
	"log/slog"
	"time"
)

// Defaults trade bandwidth against responsiveness; deployments tune them.
const (
	DefaultHistThreshold  = 0.05
	DefaultPixelThreshold = 0.10
	DefaultMaxQuiet       = 10 * time.Second
)

// Config holds the gate thresholds.
type Config struct {
	// HistThreshold is the Bhattacharyya distance above which a frame is
	// considered changed.
	HistThreshold float64

	// PixelThreshold is the normalized mean grid difference above which a
	// frame is considered changed.
	PixelThreshold float64

	// MaxQuiet is the liveness floor: if no frame has been sent for this
	// long, the next valid frame is sent regardless of score.
	MaxQuiet time.Duration

	// Logger for suppressed-corrupt-frame warnings.
	Logger *slog.Logger
}

// Option configures the gate.
type Option func(*Config)

// DefaultConfig returns the default gate configuration.
func DefaultConfig() *Config {
	return &Config{
		HistThreshold:  DefaultHistThreshold,
		PixelThreshold: DefaultPixelThreshold,
		MaxQuiet:       DefaultMaxQuiet,
		Logger:         slog.Default(),
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
	if c.HistThreshold <= 0 || c.HistThreshold > 1 {
		return fmt.Errorf("histogram threshold %v out of range (0,1]", c.HistThreshold)
	}
	if c.PixelThreshold <= 0 || c.PixelThreshold > 1 {
		return fmt.Errorf("pixel threshold %v out of range (0,1]", c.PixelThreshold)
	}
	if c.MaxQuiet <= 0 {
		return fmt.Errorf("max quiet %v must be positive", c.MaxQuiet)
	}
	return nil
}

// WithHistThreshold sets the histogram distance threshold.
func WithHistThreshold(v float64) Option {
	return func(c *Config) { c.HistThreshold = v }
}

// WithPixelThreshold sets the grid difference threshold.
func WithPixelThreshold(v float64) Option {
	return func(c *Config) { c.PixelThreshold = v }
}

// WithMaxQuiet sets the liveness floor.
func WithMaxQuiet(d time.Duration) Option {
	return func(c *Config) { c.MaxQuiet = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}
