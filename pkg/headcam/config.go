package headcam

import (
	"fmt"
	"log/slog"
	"time"
)

// Defaults for the head-unit video link. The signalling server is the
// GStreamer webrtcsink instance running on the head unit.
const (
	DefaultProducer         = "iris-head"
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultConnectTimeout   = 15 * time.Second
	DefaultDecodeInterval   = 200 * time.Millisecond
)

// Config holds head-unit video receiver configuration.
type Config struct {
	// SignallingURL is the ws:// address of the head unit's webrtcsink
	// signalling server.
	SignallingURL string

	// Producer is the producer name announced by the head unit.
	Producer string

	// HandshakeTimeout bounds the signalling WebSocket dial.
	HandshakeTimeout time.Duration

	// ConnectTimeout bounds the wait for the first video track after
	// the session starts.
	ConnectTimeout time.Duration

	// DecodeInterval is the minimum time between JPEG decodes. The
	// perception pipeline samples frames far below the camera rate, so
	// decoding every access unit would be wasted work.
	DecodeInterval time.Duration

	// ICEServers lists STUN/TURN URLs. Empty means direct LAN
	// connectivity, which is the normal deployment.
	ICEServers []string

	Logger *slog.Logger
}

// Option configures the receiver.
type Option func(*Config)

// WithSignallingURL sets the head unit's signalling address.
func WithSignallingURL(url string) Option {
	return func(c *Config) {
		c.SignallingURL = url
	}
}

// WithProducer sets the producer name to attach to.
func WithProducer(name string) Option {
	return func(c *Config) {
		c.Producer = name
	}
}

// WithHandshakeTimeout sets the signalling dial timeout.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.HandshakeTimeout = d
	}
}

// WithConnectTimeout sets the wait for the first video track.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.ConnectTimeout = d
	}
}

// WithDecodeInterval sets the minimum time between JPEG decodes.
func WithDecodeInterval(d time.Duration) Option {
	return func(c *Config) {
		c.DecodeInterval = d
	}
}

// WithICEServers sets STUN/TURN server URLs.
func WithICEServers(urls ...string) Option {
	return func(c *Config) {
		c.ICEServers = urls
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// DefaultConfig returns the default receiver configuration.
func DefaultConfig() Config {
	return Config{
		Producer:         DefaultProducer,
		HandshakeTimeout: DefaultHandshakeTimeout,
		ConnectTimeout:   DefaultConnectTimeout,
		DecodeInterval:   DefaultDecodeInterval,
		Logger:           slog.Default(),
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
	if c.SignallingURL == "" {
		return fmt.Errorf("signalling URL is required")
	}
	if c.Producer == "" {
		return fmt.Errorf("producer name is required")
	}
	if c.HandshakeTimeout <= 0 {
		return fmt.Errorf("handshake timeout must be positive")
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect timeout must be positive")
	}
	if c.DecodeInterval <= 0 {
		return fmt.Errorf("decode interval must be positive")
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}
