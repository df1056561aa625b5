package assistant

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/irisware/go-iris/pkg/acquire"
	"github.com/irisware/go-iris/pkg/capability"
	"github.com/irisware/go-iris/pkg/compose"
	"github.com/irisware/go-iris/pkg/connectivity"
	"github.com/irisware/go-iris/pkg/dispatch"
	"github.com/irisware/go-iris/pkg/listen"
	"github.com/irisware/go-iris/pkg/sense"
	"github.com/irisware/go-iris/pkg/speech"
	"github.com/irisware/go-iris/pkg/turn"
	"github.com/irisware/go-iris/pkg/uplink"
	"github.com/irisware/go-iris/pkg/web"
)

const (
	// DefaultFrameInterval paces the capture loop; the change gate sees
	// one frame per tick.
	DefaultFrameInterval = 200 * time.Millisecond

	// DefaultStatusInterval paces dashboard state refreshes.
	DefaultStatusInterval = 500 * time.Millisecond

	// micBuffer bounds queued mic chunks between the ingest callback
	// and the segmenter feeder.
	micBuffer = 64
)

// Config wires the assistant's components together. The pipeline pieces
// arrive constructed so each binary (daemon, simulator) picks its own
// sources and providers.
type Config struct {
	// Frames is the camera source the capture loop polls. Required.
	Frames sense.FrameSource

	// Dispatcher resolves capabilities against providers. Required.
	Dispatcher *dispatch.Dispatcher

	// Sink plays synthesized speech. Required.
	Sink turn.Sink

	// Monitor supplies connectivity state for the dashboard. Optional;
	// the assistant runs its probe loop when set.
	Monitor *connectivity.Monitor

	// Uplink is the head-unit hub. When set, inbound mic audio feeds
	// the segmenter and the unit count appears on the dashboard.
	Uplink *uplink.Hub

	// Mic is an additional PCM chunk source (dev rigs, simulator).
	Mic sense.AudioChunkSource

	// Speech, when set, is preferred for narration; the dispatcher's
	// speech capability is the fallback.
	Speech speech.Provider

	// Web is the dashboard server. Optional.
	Web *web.Server

	// Gate, Composer and Segmenter override the defaults built by New.
	Gate      *acquire.Gate
	Composer  *compose.Composer
	Segmenter *listen.Segmenter

	// VisionCaps is the capability set fanned out per scene event.
	VisionCaps []capability.Capability

	// UserID is forwarded on dialogue turns.
	UserID string

	// FrameInterval paces the capture loop.
	FrameInterval time.Duration

	// StatusInterval paces dashboard state refreshes.
	StatusInterval time.Duration

	// TurnOpts are extra coordinator options (repeat window, ...).
	TurnOpts []turn.Option

	Logger *slog.Logger
}

// Option configures the assistant.
type Option func(*Config)

// WithFrameSource sets the camera source.
func WithFrameSource(src sense.FrameSource) Option {
	return func(c *Config) { c.Frames = src }
}

// WithDispatcher sets the capability dispatcher.
func WithDispatcher(d *dispatch.Dispatcher) Option {
	return func(c *Config) { c.Dispatcher = d }
}

// WithSink sets the audio output.
func WithSink(s turn.Sink) Option {
	return func(c *Config) { c.Sink = s }
}

// WithMonitor sets the connectivity monitor.
func WithMonitor(m *connectivity.Monitor) Option {
	return func(c *Config) { c.Monitor = m }
}

// WithUplink sets the head-unit hub.
func WithUplink(h *uplink.Hub) Option {
	return func(c *Config) { c.Uplink = h }
}

// WithMicSource sets an additional mic chunk source.
func WithMicSource(src sense.AudioChunkSource) Option {
	return func(c *Config) { c.Mic = src }
}

// WithSpeech sets the preferred narration provider.
func WithSpeech(p speech.Provider) Option {
	return func(c *Config) { c.Speech = p }
}

// WithWeb sets the dashboard server.
func WithWeb(s *web.Server) Option {
	return func(c *Config) { c.Web = s }
}

// WithGate overrides the default change gate.
func WithGate(g *acquire.Gate) Option {
	return func(c *Config) { c.Gate = g }
}

// WithComposer overrides the default composer.
func WithComposer(cp *compose.Composer) Option {
	return func(c *Config) { c.Composer = cp }
}

// WithSegmenter overrides the default voice segmenter.
func WithSegmenter(s *listen.Segmenter) Option {
	return func(c *Config) { c.Segmenter = s }
}

// WithVisionCaps sets the scene fan-out capability set.
func WithVisionCaps(caps ...capability.Capability) Option {
	return func(c *Config) { c.VisionCaps = caps }
}

// WithUserID sets the identity forwarded on dialogue turns.
func WithUserID(id string) Option {
	return func(c *Config) { c.UserID = id }
}

// WithFrameInterval sets the capture loop pace.
func WithFrameInterval(d time.Duration) Option {
	return func(c *Config) { c.FrameInterval = d }
}

// WithStatusInterval sets the dashboard refresh pace.
func WithStatusInterval(d time.Duration) Option {
	return func(c *Config) { c.StatusInterval = d }
}

// WithTurnOptions appends coordinator options.
func WithTurnOptions(opts ...turn.Option) Option {
	return func(c *Config) { c.TurnOpts = append(c.TurnOpts, opts...) }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

// DefaultConfig returns the default assistant configuration. Frame
// source, dispatcher and sink must still be supplied.
func DefaultConfig() Config {
	return Config{
		VisionCaps:     []capability.Capability{capability.Caption, capability.CapDetection, capability.OCR},
		FrameInterval:  DefaultFrameInterval,
		StatusInterval: DefaultStatusInterval,
		Logger:         slog.Default(),
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
	if c.Frames == nil {
		return fmt.Errorf("frame source is required")
	}
	if c.Dispatcher == nil {
		return fmt.Errorf("dispatcher is required")
	}
	if c.Sink == nil {
		return fmt.Errorf("audio sink is required")
	}
	if len(c.VisionCaps) == 0 {
		return fmt.Errorf("at least one vision capability is required")
	}
	if c.FrameInterval <= 0 {
		return fmt.Errorf("frame interval %v must be positive", c.FrameInterval)
	}
	if c.StatusInterval <= 0 {
		return fmt.Errorf("status interval %v must be positive", c.StatusInterval)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}
