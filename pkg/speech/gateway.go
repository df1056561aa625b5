package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/irisware/go-iris/internal/httpc"
)

const (
	// PathSpeech is the gateway's one-shot synthesis endpoint.
	PathSpeech = "/v1/speech"

	// PathSpeechStream is the gateway's stream-input WebSocket endpoint.
	PathSpeechStream = "/v1/speech/stream"

	// PathHealth is the gateway's liveness probe.
	PathHealth = "/healthz"

	providerGateway = "gateway"
)

// Gateway implements Provider against the inference gateway's HTTP
// synthesis endpoint. The gateway answers with raw S16LE PCM; the actual
// sample rate rides the X-Sample-Rate response header.
type Gateway struct {
	config   *Config
	client   *http.Client
	logger   *slog.Logger
	endpoint string
}

// NewGateway creates a new HTTP gateway TTS provider.
func NewGateway(opts ...Option) (*Gateway, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := cfg.HTTPClient
	if client == nil {
		client = httpc.NewClient(cfg.Timeout)
	}

	return &Gateway{
		config:   cfg,
		client:   client,
		logger:   cfg.Logger.With("component", "speech.gateway"),
		endpoint: strings.TrimSuffix(cfg.Endpoint, "/"),
	}, nil
}

// Synthesize converts text to audio, returning the complete audio buffer.
func (g *Gateway) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	start := time.Now()

	req, err := g.newRequest(ctx, text)
	if err != nil {
		return nil, err
	}

	resp, err := g.doWithRetry(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	latency := time.Since(start).Milliseconds()

	if resp.StatusCode != http.StatusOK {
		return nil, g.parseError(resp)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, WrapError(providerGateway, fmt.Errorf("read response: %w", err))
	}

	format := g.responseFormat(resp)

	g.logger.Debug("synthesized audio",
		"chars", len(text),
		"bytes", len(audio),
		"latency_ms", latency,
		"voice", g.config.Voice,
	)

	return &AudioResult{
		Audio:     audio,
		Format:    format,
		CharCount: len(text),
		LatencyMs: latency,
		Duration:  estimatePCMDuration(len(audio), format.SampleRate),
	}, nil
}

// Stream converts text to audio, reading the response body incrementally.
// The gateway's chunked response begins before synthesis finishes, so the
// first audio is available well ahead of the full buffer.
func (g *Gateway) Stream(ctx context.Context, text string) (AudioStream, error) {
	req, err := g.newRequest(ctx, text)
	if err != nil {
		return nil, err
	}

	// Use stream timeout for streaming requests
	client := &http.Client{
		Timeout:   g.config.StreamTimeout,
		Transport: g.client.Transport,
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, WrapError(providerGateway, fmt.Errorf("stream request: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, g.parseError(resp)
	}

	return &httpStream{
		body:   resp.Body,
		format: g.responseFormat(resp),
	}, nil
}

// Health probes the gateway health endpoint.
func (g *Gateway) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint+PathHealth, nil)
	if err != nil {
		return WrapError(providerGateway, err)
	}
	if g.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.config.APIKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return WrapError(providerGateway, fmt.Errorf("health check: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return g.parseError(resp)
	}
	return nil
}

// Close releases resources held by the provider.
func (g *Gateway) Close() error {
	g.client.CloseIdleConnections()
	return nil
}

// Voice returns the configured voice name.
func (g *Gateway) Voice() string {
	return g.config.Voice
}

// newRequest builds the synthesis POST with payload and headers set.
func (g *Gateway) newRequest(ctx context.Context, text string) (*http.Request, error) {
	payload := map[string]interface{}{
		"text":          text,
		"format":        string(g.config.OutputFormat),
		"speaking_rate": g.config.SpeakingRate,
	}
	if g.config.Voice != "" {
		payload["voice"] = g.config.Voice
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, WrapError(providerGateway, fmt.Errorf("marshal payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint+PathSpeech, bytes.NewReader(body))
	if err != nil {
		return nil, WrapError(providerGateway, fmt.Errorf("create request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/pcm")
	if g.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.config.APIKey)
	}
	return req, nil
}

// doWithRetry performs the request with retry logic.
func (g *Gateway) doWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= g.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(g.config.RetryDelay * time.Duration(attempt)):
			}

			// Rewind the body for the retry attempt
			if req.GetBody != nil {
				req.Body, _ = req.GetBody()
			}
		}

		resp, err := g.client.Do(req)
		if err != nil {
			lastErr = WrapError(providerGateway, err)
			continue
		}

		// Check if retryable
		if resp.StatusCode == 429 || resp.StatusCode >= 500 {
			lastErr = g.parseError(resp)
			resp.Body.Close()
			g.logger.Warn("retrying request",
				"attempt", attempt+1,
				"status", resp.StatusCode,
			)
			continue
		}

		return resp, nil
	}

	return nil, lastErr
}

// parseError reads and parses an error response. The gateway wraps errors
// either as {"error": {...}} or as a bare FastAPI-style {"detail"}.
func (g *Gateway) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Code    string `json:"code"`
		} `json:"error"`
		Detail string `json:"detail"`
	}

	message := strings.TrimSpace(string(body))
	code := ""
	if json.Unmarshal(body, &errResp) == nil {
		if errResp.Error.Message != "" {
			message = errResp.Error.Message
			code = errResp.Error.Code
		} else if errResp.Detail != "" {
			message = errResp.Detail
		}
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    message,
		Code:       code,
		Provider:   providerGateway,
	}
}

// responseFormat returns the audio format, honoring the gateway's
// X-Sample-Rate header when it disagrees with the requested encoding.
func (g *Gateway) responseFormat(resp *http.Response) AudioFormat {
	format := AudioFormat{
		Encoding:   g.config.OutputFormat,
		SampleRate: SampleRateFromEncoding(g.config.OutputFormat),
		Channels:   1,
		BitDepth:   16,
	}
	if v := resp.Header.Get("X-Sample-Rate"); v != "" {
		if rate, err := strconv.Atoi(v); err == nil && rate > 0 {
			format.SampleRate = rate
		}
	}
	return format
}

// httpStream wraps an HTTP response body as AudioStream.
type httpStream struct {
	body   io.ReadCloser
	format AudioFormat
	buf    [4096]byte
}

// Read returns the next audio chunk.
func (s *httpStream) Read() ([]byte, error) {
	n, err := s.body.Read(s.buf[:])
	if n > 0 {
		chunk := make([]byte, n)
		copy(chunk, s.buf[:n])
		return chunk, nil
	}
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []byte{}, nil
}

// Close stops the stream.
func (s *httpStream) Close() error {
	return s.body.Close()
}

// Format returns the audio format.
func (s *httpStream) Format() AudioFormat {
	return s.format
}

// Verify Gateway implements Provider at compile time.
var _ Provider = (*Gateway)(nil)
