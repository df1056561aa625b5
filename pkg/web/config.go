package web

import (
	"fmt"
	"log/slog"
	"time"
)

const (
	// DefaultAddr is the dashboard listen address.
	DefaultAddr = ":8090"

	// DefaultLatencyInterval is how often latency snapshots are pushed
	// to status sockets.
	DefaultLatencyInterval = 2 * time.Second
)

// Buffer depths for the REST-served history rings.
const (
	eventBufferSize        = 500
	conversationBufferSize = 100
)

// Config holds dashboard server configuration.
type Config struct {
	// Addr is the listen address for Start.
	Addr string

	// LatencyInterval spaces the periodic latency broadcasts.
	LatencyInterval time.Duration

	Logger *slog.Logger
}

// Option configures the server.
type Option func(*Config)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(c *Config) {
		c.Addr = addr
	}
}

// WithLatencyInterval sets the latency broadcast period.
func WithLatencyInterval(d time.Duration) Option {
	return func(c *Config) {
		c.LatencyInterval = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// DefaultConfig returns the default dashboard configuration.
func DefaultConfig() Config {
	return Config{
		Addr:            DefaultAddr,
		LatencyInterval: DefaultLatencyInterval,
		Logger:          slog.Default(),
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
	if c.Addr == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.LatencyInterval <= 0 {
		return fmt.Errorf("latency interval must be positive")
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}
