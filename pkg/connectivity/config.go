package connectivity

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Defaults tuned for a wearable on flaky residential or cellular links.
const (
	DefaultProbeInterval  = 5 * time.Second
	DefaultProbeTimeout   = 2 * time.Second
	DefaultWindowSize     = 10
	DefaultMinSuccessRate = 0.7
	DefaultMaxLatency     = 750 * time.Millisecond
	DefaultOfflineAfter   = 3
	DefaultRecoverAfter   = 3
)

// ProbeFunc performs one reachability check. A nil error is a success;
// the monitor measures elapsed time itself.
type ProbeFunc func(ctx context.Context) error

// Config holds the monitor tuning parameters.
type Config struct {
	// Probe is the reachability check, typically HTTPProbe against the
	// gateway health endpoint. Required.
	Probe ProbeFunc

	// ProbeInterval is the time between probe starts.
	ProbeInterval time.Duration

	// ProbeTimeout bounds a single probe.
	ProbeTimeout time.Duration

	// WindowSize is how many recent probes the rolling window keeps.
	WindowSize int

	// MinSuccessRate is the windowed success rate below which ONLINE
	// demotes to DEGRADED.
	MinSuccessRate float64

	// MaxLatency is the average probe latency above which ONLINE
	// demotes to DEGRADED.
	MaxLatency time.Duration

	// OfflineAfter is the consecutive-failure count at which DEGRADED
	// demotes to OFFLINE.
	OfflineAfter int

	// RecoverAfter is the consecutive-success hold-down required for
	// each upward transition (OFFLINE→DEGRADED, DEGRADED→ONLINE).
	RecoverAfter int

	// Logger for transition events.
	Logger *slog.Logger
}

// Option configures the monitor.
type Option func(*Config)

// DefaultConfig returns the default monitor configuration. Probe must
// still be supplied.
func DefaultConfig() *Config {
	return &Config{
		ProbeInterval:  DefaultProbeInterval,
		ProbeTimeout:   DefaultProbeTimeout,
		WindowSize:     DefaultWindowSize,
		MinSuccessRate: DefaultMinSuccessRate,
		MaxLatency:     DefaultMaxLatency,
		OfflineAfter:   DefaultOfflineAfter,
		RecoverAfter:   DefaultRecoverAfter,
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
	if c.Probe == nil {
		return fmt.Errorf("probe function is required")
	}
	if c.ProbeInterval <= 0 {
		return fmt.Errorf("probe interval %v must be positive", c.ProbeInterval)
	}
	if c.ProbeTimeout <= 0 {
		return fmt.Errorf("probe timeout %v must be positive", c.ProbeTimeout)
	}
	if c.WindowSize < 1 {
		return fmt.Errorf("window size %d must be at least 1", c.WindowSize)
	}
	if c.MinSuccessRate <= 0 || c.MinSuccessRate > 1 {
		return fmt.Errorf("min success rate %v out of range (0,1]", c.MinSuccessRate)
	}
	if c.MaxLatency <= 0 {
		return fmt.Errorf("max latency %v must be positive", c.MaxLatency)
	}
	if c.OfflineAfter < 1 {
		return fmt.Errorf("offline-after count %d must be at least 1", c.OfflineAfter)
	}
	if c.RecoverAfter < 1 {
		return fmt.Errorf("recover-after count %d must be at least 1", c.RecoverAfter)
	}
	return nil
}

// WithProbe sets the reachability check.
func WithProbe(p ProbeFunc) Option {
	return func(c *Config) { c.Probe = p }
}

// WithProbeInterval sets the time between probes.
func WithProbeInterval(d time.Duration) Option {
	return func(c *Config) { c.ProbeInterval = d }
}

// WithProbeTimeout sets the single-probe bound.
func WithProbeTimeout(d time.Duration) Option {
	return func(c *Config) { c.ProbeTimeout = d }
}

// WithWindowSize sets the rolling window length.
func WithWindowSize(n int) Option {
	return func(c *Config) { c.WindowSize = n }
}

// WithMinSuccessRate sets the ONLINE demotion rate threshold.
func WithMinSuccessRate(v float64) Option {
	return func(c *Config) { c.MinSuccessRate = v }
}

// WithMaxLatency sets the ONLINE demotion latency bound.
func WithMaxLatency(d time.Duration) Option {
	return func(c *Config) { c.MaxLatency = d }
}

// WithOfflineAfter sets the DEGRADED→OFFLINE consecutive-failure count.
func WithOfflineAfter(n int) Option {
	return func(c *Config) { c.OfflineAfter = n }
}

// WithRecoverAfter sets the upward-transition hold-down count.
func WithRecoverAfter(n int) Option {
	return func(c *Config) { c.RecoverAfter = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}
