package turn

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/irisware/go-iris/pkg/capability"
	"github.com/irisware/go-iris/pkg/compose"
	"github.com/irisware/go-iris/pkg/sense"
)

// DefaultRepeatAfter is how long an identical proactive scene line is
// suppressed before it may be spoken again.
const DefaultRepeatAfter = 30 * time.Second

// Resolver is the slice of the dispatcher the coordinator drives.
// *dispatch.Dispatcher satisfies it.
type Resolver interface {
	// Transcribe resolves ASR for a voice segment.
	Transcribe(ctx context.Context, seg *sense.AudioSegment) capability.Result

	// Ask resolves one dialogue turn.
	Ask(ctx context.Context, req *capability.ChatRequest) capability.Result

	// Narrate synthesizes speech for an utterance.
	Narrate(ctx context.Context, text string) capability.Result
}

// Sink plays synthesized audio. Play blocks until the clip finishes or
// ctx is cancelled; Stop aborts the current clip immediately without
// draining and is safe to call when nothing is playing.
type Sink interface {
	Play(ctx context.Context, clip *capability.Clip) error
	Stop()
}

// ObserveFunc captures a fresh frame, runs the vision fan-out and
// returns the composed utterance. readIntent biases fusion toward
// recognized text. Wired by the assistant; nil leaves the describe and
// read commands answering that vision is unavailable.
type ObserveFunc func(ctx context.Context, readIntent bool) (compose.Utterance, error)

// Config holds the coordinator wiring.
type Config struct {
	// Resolver handles transcription, dialogue and speech synthesis.
	// Required.
	Resolver Resolver

	// Sink is the audio output. Required.
	Sink Sink

	// Observe serves on-demand scene descriptions for the describe and
	// read commands. Optional.
	Observe ObserveFunc

	// UserID is forwarded on dialogue turns.
	UserID string

	// RepeatAfter suppresses a proactive scene line identical to the
	// previous one until this much time has passed. Zero disables
	// suppression.
	RepeatAfter time.Duration

	// Logger for turn transitions and failures.
	Logger *slog.Logger
}

// Option configures the coordinator.
type Option func(*Config)

// DefaultConfig returns the default coordinator configuration. The
// resolver and sink must still be supplied.
func DefaultConfig() *Config {
	return &Config{
		RepeatAfter: DefaultRepeatAfter,
		Logger:      slog.Default(),
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
	if c.Resolver == nil {
		return fmt.Errorf("resolver is required")
	}
	if c.Sink == nil {
		return fmt.Errorf("audio sink is required")
	}
	if c.RepeatAfter < 0 {
		return fmt.Errorf("repeat-after %v must not be negative", c.RepeatAfter)
	}
	return nil
}

// WithResolver sets the capability resolver.
func WithResolver(r Resolver) Option {
	return func(c *Config) { c.Resolver = r }
}

// WithSink sets the audio sink.
func WithSink(s Sink) Option {
	return func(c *Config) { c.Sink = s }
}

// WithObserve sets the on-demand scene hook.
func WithObserve(fn ObserveFunc) Option {
	return func(c *Config) { c.Observe = fn }
}

// WithUserID sets the user identity forwarded on dialogue turns.
func WithUserID(id string) Option {
	return func(c *Config) { c.UserID = id }
}

// WithRepeatAfter sets the identical-scene suppression window.
func WithRepeatAfter(d time.Duration) Option {
	return func(c *Config) { c.RepeatAfter = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}
