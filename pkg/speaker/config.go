package speaker

import (
	"fmt"
	"log/slog"
	"time"
)

const (
	// DefaultPort is the audio daemon's RTP ingest port.
	DefaultPort = 5000

	// DefaultSampleRate is the Opus egress rate.
	DefaultSampleRate = 48000
)

// Config holds speaker configuration.
type Config struct {
	// Host is the audio daemon address.
	Host string

	// Port is the RTP ingest port.
	Port int

	// SampleRate is the egress rate in Hz. Opus accepts 8000, 12000,
	// 16000, 24000 and 48000.
	SampleRate int

	// FrameDuration is the audio carried by one RTP packet.
	FrameDuration time.Duration

	// PayloadType is the dynamic RTP payload type for Opus.
	PayloadType uint8

	// Bitrate is the Opus encoder bitrate in bits per second.
	Bitrate int

	// Logger is the structured logger.
	Logger *slog.Logger
}

// Option configures the speaker.
type Option func(*Config)

// WithAddress sets the audio daemon host and RTP port.
func WithAddress(host string, port int) Option {
	return func(c *Config) {
		c.Host = host
		c.Port = port
	}
}

// WithSampleRate sets the Opus egress sample rate.
func WithSampleRate(rate int) Option {
	return func(c *Config) { c.SampleRate = rate }
}

// WithFrameDuration sets the per-packet frame duration.
func WithFrameDuration(d time.Duration) Option {
	return func(c *Config) { c.FrameDuration = d }
}

// WithPayloadType sets the RTP payload type.
func WithPayloadType(pt uint8) Option {
	return func(c *Config) { c.PayloadType = pt }
}

// WithBitrate sets the Opus encoder bitrate.
func WithBitrate(bps int) Option {
	return func(c *Config) { c.Bitrate = bps }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		if logger != nil {
			c.Logger = logger
		}
	}
}

// DefaultConfig returns a Config matching the head unit's audio daemon:
// Opus at 48kHz mono in 20ms RTP packets on localhost:5000.
func DefaultConfig() *Config {
	return &Config{
		Host:          "127.0.0.1",
		Port:          DefaultPort,
		SampleRate:    DefaultSampleRate,
		FrameDuration: 20 * time.Millisecond,
		PayloadType:   96,
		Bitrate:       64000,
		Logger:        slog.Default(),
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
	if c.Host == "" {
		return fmt.Errorf("host required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	switch c.SampleRate {
	case 8000, 12000, 16000, 24000, 48000:
	default:
		return fmt.Errorf("sample rate %d not valid for opus", c.SampleRate)
	}
	switch c.FrameDuration {
	case 10 * time.Millisecond, 20 * time.Millisecond,
		40 * time.Millisecond, 60 * time.Millisecond:
	default:
		return fmt.Errorf("frame duration %v not valid for opus", c.FrameDuration)
	}
	if c.Bitrate <= 0 {
		return fmt.Errorf("bitrate must be positive, got %d", c.Bitrate)
	}
	return nil
}

// FrameSamples returns the number of samples in one frame.
func (c *Config) FrameSamples() int {
	return c.SampleRate * int(c.FrameDuration/time.Millisecond) / 1000
}
