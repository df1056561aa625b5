package uplink

import (
	"fmt"
	"log/slog"
)

// DefaultMaxMessageBytes bounds one WebSocket message. Camera frames travel
// base64-encoded inside the JSON envelope, so the limit sits well above the
// largest plausible JPEG.
const DefaultMaxMessageBytes int64 = 8 << 20

// Config holds ingest hub configuration.
type Config struct {
	// MaxMessageBytes caps a single inbound WebSocket message.
	MaxMessageBytes int64

	Logger *slog.Logger
}

// Option configures the hub.
type Option func(*Config)

// WithMaxMessageBytes caps inbound message size.
func WithMaxMessageBytes(n int64) Option {
	return func(c *Config) {
		c.MaxMessageBytes = n
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// DefaultConfig returns the default hub configuration.
func DefaultConfig() Config {
	return Config{
		MaxMessageBytes: DefaultMaxMessageBytes,
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
	if c.MaxMessageBytes <= 0 {
		return fmt.Errorf("max message bytes must be positive")
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}
