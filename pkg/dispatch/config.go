package dispatch

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/irisware/go-iris/pkg/capability"
	"github.com/irisware/go-iris/pkg/connectivity"
)

// Defaults for the event budget and retry machinery.
const (
	DefaultBudget         = 2 * time.Second
	DefaultRetryBackoff   = 200 * time.Millisecond
	DefaultFanoutLimit    = 4
	DefaultDegradedFactor = 0.5
)

// DegradedPolicy selects dispatch behavior while connectivity is DEGRADED.
type DegradedPolicy int

const (
	// DegradedRemoteFirst sends the first attempt to the remote provider
	// with a shortened deadline; a timeout retry lands on the local
	// fallback. Best quality when the link limps along.
	DegradedRemoteFirst DegradedPolicy = iota

	// DegradedLocalOnly skips remote entirely while degraded. Lowest
	// stall risk at the cost of local-model quality.
	DegradedLocalOnly
)

// StateSource reports the current connectivity state. *connectivity.Monitor
// satisfies it; tests use a StateFunc.
type StateSource interface {
	State() connectivity.State
}

// StateFunc adapts a function to StateSource.
type StateFunc func() connectivity.State

// State implements StateSource.
func (f StateFunc) State() connectivity.State { return f() }

// Config holds the dispatcher wiring and tuning.
type Config struct {
	// Remote serves capabilities over the cloud gateway. Required.
	Remote capability.Provider

	// Local is the on-device fallback. Required; use local.NewCanned
	// when no sidecar is deployed.
	Local capability.Provider

	// States supplies the connectivity state read at dispatch time.
	// Required.
	States StateSource

	// Budget is the global responsiveness budget for one event. Each
	// capability's deadline is Budget scaled by its weight.
	Budget time.Duration

	// Weights scales the budget per capability; missing entries default
	// to 1 (the full budget; capabilities run in parallel, so the
	// event still resolves within one budget, not a sum).
	Weights map[capability.Capability]float64

	// RetryBackoff is the fixed pause before the single timeout retry.
	RetryBackoff time.Duration

	// FanoutLimit bounds concurrent requests per event.
	FanoutLimit int

	// DegradedFactor shortens the remote deadline while DEGRADED.
	DegradedFactor float64

	// DegradedPolicy picks the degraded-state strategy.
	DegradedPolicy DegradedPolicy

	// Metrics receives per-attempt latency samples. A fresh collector
	// is created when nil.
	Metrics *Collector

	// Logger for dispatch decisions and failures.
	Logger *slog.Logger
}

// Option configures the dispatcher.
type Option func(*Config)

// DefaultConfig returns the default dispatcher configuration. Providers
// and the state source must still be supplied.
func DefaultConfig() *Config {
	return &Config{
		Budget:         DefaultBudget,
		RetryBackoff:   DefaultRetryBackoff,
		FanoutLimit:    DefaultFanoutLimit,
		DegradedFactor: DefaultDegradedFactor,
		DegradedPolicy: DegradedRemoteFirst,
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
	if c.Remote == nil {
		return fmt.Errorf("remote provider is required")
	}
	if c.Local == nil {
		return fmt.Errorf("local provider is required")
	}
	if c.States == nil {
		return fmt.Errorf("connectivity state source is required")
	}
	if c.Budget <= 0 {
		return fmt.Errorf("event budget %v must be positive", c.Budget)
	}
	if c.RetryBackoff <= 0 {
		return fmt.Errorf("retry backoff %v must be positive", c.RetryBackoff)
	}
	if c.FanoutLimit < 1 {
		return fmt.Errorf("fan-out limit %d must be at least 1", c.FanoutLimit)
	}
	if c.DegradedFactor <= 0 || c.DegradedFactor > 1 {
		return fmt.Errorf("degraded factor %v out of range (0,1]", c.DegradedFactor)
	}
	for cp, w := range c.Weights {
		if w <= 0 || w > 1 {
			return fmt.Errorf("weight %v for %s out of range (0,1]", w, cp)
		}
	}
	return nil
}

// WithProviders sets the remote and local providers.
func WithProviders(remote, local capability.Provider) Option {
	return func(c *Config) {
		c.Remote = remote
		c.Local = local
	}
}

// WithStates sets the connectivity state source.
func WithStates(s StateSource) Option {
	return func(c *Config) { c.States = s }
}

// WithBudget sets the per-event responsiveness budget.
func WithBudget(d time.Duration) Option {
	return func(c *Config) { c.Budget = d }
}

// WithWeight sets one capability's share of the budget.
func WithWeight(cp capability.Capability, w float64) Option {
	return func(c *Config) {
		if c.Weights == nil {
			c.Weights = make(map[capability.Capability]float64)
		}
		c.Weights[cp] = w
	}
}

// WithRetryBackoff sets the pause before the single timeout retry.
func WithRetryBackoff(d time.Duration) Option {
	return func(c *Config) { c.RetryBackoff = d }
}

// WithFanoutLimit bounds concurrent requests per event.
func WithFanoutLimit(n int) Option {
	return func(c *Config) { c.FanoutLimit = n }
}

// WithDegradedFactor sets the degraded remote deadline scale.
func WithDegradedFactor(f float64) Option {
	return func(c *Config) { c.DegradedFactor = f }
}

// WithDegradedPolicy sets the degraded-state strategy.
func WithDegradedPolicy(p DegradedPolicy) Option {
	return func(c *Config) { c.DegradedPolicy = p }
}

// WithMetrics sets the latency collector.
func WithMetrics(m *Collector) Option {
	return func(c *Config) { c.Metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}
