package remote

import (
	"log/slog"
	"net/http"
	"time"
)

// Endpoint paths on the inference gateway.
const (
	PathDetect     = "/v1/detect"
	PathCaption    = "/v1/caption"
	PathOCR        = "/v1/ocr"
	PathTranscribe = "/v1/transcribe"
	PathChat       = "/v1/chat"
	PathSpeech     = "/v1/speech"
	PathHealth     = "/healthz"
)

// Config holds gateway client configuration.
type Config struct {
	// Name is the provider identity in logs and errors. The loopback
	// sidecar reuses this client under its own name.
	Name string

	// Connection
	BaseURL string // gateway base URL, e.g. "https://gw.iris.example.com"

	// OAuth2 client credentials. When ClientID is empty the client sends
	// unauthenticated requests (loopback sidecar, dev gateways).
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string

	// APIKey is a static bearer token, used instead of OAuth2 when set.
	APIKey string

	// Request defaults
	UserID      string  // dialogue session identity
	Temperature float64 // dialogue sampling temperature
	MaxTokens   int     // dialogue reply cap
	Voice       string  // speech voice name
	SampleRate  int     // assumed speech PCM rate when the gateway omits it

	// Timeout is the outer per-request safety net. Per-call deadlines
	// still come from the request context.
	Timeout time.Duration

	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client

	// Observability
	Logger *slog.Logger
}

// Option is a functional option for configuring the client.
type Option func(*Config)

// DefaultConfig returns defaults for a production gateway.
func DefaultConfig() *Config {
	return &Config{
		Name:        "gateway",
		UserID:      "iris",
		Temperature: 0.7,
		MaxTokens:   100,
		Voice:       "en-iris-1",
		SampleRate:  24000,
		Timeout:     30 * time.Second,
		Logger:      slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// WithBaseURL sets the gateway base URL.
func WithBaseURL(url string) Option {
	return func(c *Config) { c.BaseURL = url }
}

// WithName overrides the provider identity in logs and errors.
func WithName(name string) Option {
	return func(c *Config) { c.Name = name }
}

// WithClientCredentials sets the OAuth2 client credentials grant.
func WithClientCredentials(id, secret, tokenURL string, scopes ...string) Option {
	return func(c *Config) {
		c.ClientID = id
		c.ClientSecret = secret
		c.TokenURL = tokenURL
		c.Scopes = scopes
	}
}

// WithAPIKey sets a static bearer token.
func WithAPIKey(key string) Option {
	return func(c *Config) { c.APIKey = key }
}

// WithUserID sets the dialogue session identity.
func WithUserID(id string) Option {
	return func(c *Config) { c.UserID = id }
}

// WithTemperature sets the dialogue sampling temperature.
func WithTemperature(t float64) Option {
	return func(c *Config) { c.Temperature = t }
}

// WithMaxTokens sets the dialogue reply cap.
func WithMaxTokens(n int) Option {
	return func(c *Config) { c.MaxTokens = n }
}

// WithVoice sets the speech voice.
func WithVoice(voice string) Option {
	return func(c *Config) { c.Voice = voice }
}

// WithTimeout sets the outer request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithHTTPClient overrides the HTTP transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Config) { c.HTTPClient = hc }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}
