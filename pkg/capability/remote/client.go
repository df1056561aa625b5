// Package remote implements the capability provider backed by the Iris
// inference gateway: a single HTTPS service fronting detection, captioning,
// OCR, transcription, dialogue, and speech models.
//
// Frames go up as raw JPEG bodies, voice segments as WAV multipart uploads,
// everything else as JSON. Authentication is OAuth2 client credentials; the
// loopback sidecar speaks the same wire shape without auth.
package remote

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/irisware/go-iris/internal/httpc"
	"github.com/irisware/go-iris/pkg/capability"
)

// Client talks to the inference gateway. It implements capability.Provider.
type Client struct {
	name    string
	baseURL string
	cfg     *Config
	http    *http.Client
	logger  *slog.Logger
}

var _ capability.Provider = (*Client)(nil)

// NewClient creates a gateway client.
func NewClient(opts ...Option) (*Client, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if cfg.BaseURL == "" {
		return nil, capability.ErrNoBaseURL
	}

	base := cfg.HTTPClient
	if base == nil {
		base = httpc.NewClient(cfg.Timeout)
	}

	httpClient := base
	if cfg.ClientID != "" {
		cc := &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		// Token requests reuse the base transport and its timeouts.
		octx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
		httpClient = cc.Client(octx)
		httpClient.Timeout = cfg.Timeout
	}

	return &Client{
		name:    cfg.Name,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		cfg:     cfg,
		http:    httpClient,
		logger:  cfg.Logger.With("component", "capability."+cfg.Name),
	}, nil
}

// Detect locates objects in an encoded image.
func (c *Client) Detect(ctx context.Context, image []byte) ([]capability.Detection, error) {
	var out struct {
		Objects []capability.Detection `json:"objects"`
	}
	if err := c.postImage(ctx, PathDetect, image, &out); err != nil {
		return nil, err
	}
	return out.Objects, nil
}

// Caption describes an encoded image in one sentence.
func (c *Client) Caption(ctx context.Context, image []byte) (string, error) {
	var out struct {
		Caption string `json:"caption"`
	}
	if err := c.postImage(ctx, PathCaption, image, &out); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.Caption), nil
}

// OCR extracts visible text from an encoded image.
func (c *Client) OCR(ctx context.Context, image []byte) (*capability.OCRText, error) {
	var out struct {
		Text     string                  `json:"text"`
		Coverage float64                 `json:"coverage"`
		Regions  []capability.TextRegion `json:"regions"`
	}
	if err := c.postImage(ctx, PathOCR, image, &out); err != nil {
		return nil, err
	}
	return &capability.OCRText{
		Text:     strings.TrimSpace(out.Text),
		Coverage: out.Coverage,
		Regions:  out.Regions,
	}, nil
}

// Transcribe converts S16LE mono PCM to text. The segment is shipped as a
// WAV multipart upload, which is what the gateway's ASR service expects.
func (c *Client) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	if len(pcm) == 0 {
		return "", capability.WrapError(c.name, capability.ErrEmptyPayload)
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("audio_file", "utterance.wav")
	if err != nil {
		return "", capability.WrapError(c.name, fmt.Errorf("build upload: %w", err))
	}
	if _, err := part.Write(wavEncode(pcm, sampleRate)); err != nil {
		return "", capability.WrapError(c.name, fmt.Errorf("build upload: %w", err))
	}
	if err := w.Close(); err != nil {
		return "", capability.WrapError(c.name, fmt.Errorf("build upload: %w", err))
	}

	req, err := c.newRequest(ctx, http.MethodPost, PathTranscribe, &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var out struct {
		Transcript string `json:"transcript"`
	}
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.Transcript), nil
}

// Chat generates an assistant reply.
func (c *Client) Chat(ctx context.Context, req *capability.ChatRequest) (string, error) {
	payload := map[string]interface{}{
		"prompt":      req.Prompt,
		"user_id":     req.UserID,
		"temperature": req.Temperature,
		"max_tokens":  req.MaxTokens,
	}
	if req.Context != "" {
		payload["context"] = req.Context
	}
	if req.UserID == "" {
		payload["user_id"] = c.cfg.UserID
	}
	if req.Temperature == 0 {
		payload["temperature"] = c.cfg.Temperature
	}
	if req.MaxTokens == 0 {
		payload["max_tokens"] = c.cfg.MaxTokens
	}

	var out struct {
		Response string `json:"response"`
	}
	if err := c.postJSON(ctx, PathChat, payload, &out); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.Response), nil
}

// Synthesize renders an utterance as audio. The gateway streams back raw
// S16LE PCM; the sample rate rides the X-Sample-Rate header.
func (c *Client) Synthesize(ctx context.Context, text string) (*capability.Clip, error) {
	payload := map[string]interface{}{
		"text":  text,
		"voice": c.cfg.Voice,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, capability.WrapError(c.name, fmt.Errorf("marshal payload: %w", err))
	}

	req, err := c.newRequest(ctx, http.MethodPost, PathSpeech, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, capability.WrapError(c.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseError(resp)
	}

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, capability.WrapError(c.name, fmt.Errorf("read audio: %w", err))
	}

	rate := c.cfg.SampleRate
	if v := resp.Header.Get("X-Sample-Rate"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			rate = parsed
		}
	}

	c.logger.Debug("speech synthesized",
		"chars", len(text),
		"bytes", len(pcm),
		"latency", time.Since(start))

	return &capability.Clip{PCM: pcm, SampleRate: rate, Channels: 1}, nil
}

// Health probes the gateway health endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, PathHealth, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return capability.WrapError(c.name, fmt.Errorf("health check: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseError(resp)
	}
	return nil
}

// Name identifies the provider in logs and errors.
func (c *Client) Name() string { return c.name }

// Close releases idle connections.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// postImage ships an encoded frame as a raw octet-stream body and decodes
// the JSON response into out.
func (c *Client) postImage(ctx context.Context, path string, image []byte, out interface{}) error {
	if len(image) == 0 {
		return capability.WrapError(c.name, capability.ErrEmptyPayload)
	}

	req, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(image))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	return c.do(req, out)
}

// postJSON ships a JSON payload and decodes the JSON response into out.
func (c *Client) postJSON(ctx context.Context, path string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return capability.WrapError(c.name, fmt.Errorf("marshal payload: %w", err))
	}

	req, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, capability.WrapError(c.name, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out interface{}) error {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return capability.WrapError(c.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return capability.WrapError(c.name, fmt.Errorf("decode response: %w", err))
	}

	c.logger.Debug("gateway call",
		"path", req.URL.Path,
		"latency", time.Since(start))
	return nil
}

// parseError maps a non-200 response to an APIError. The gateway wraps
// errors either as {"error": {...}} or as a bare FastAPI-style {"detail"}.
func (c *Client) parseError(resp *http.Response) error {
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

	return &capability.APIError{
		StatusCode: resp.StatusCode,
		Message:    message,
		Code:       code,
		Provider:   c.name,
	}
}

// wavEncode wraps raw S16LE mono PCM in a minimal RIFF header.
func wavEncode(pcm []byte, sampleRate int) []byte {
	const headerLen = 44
	buf := make([]byte, headerLen+len(pcm))

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+len(pcm)))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16) // PCM chunk size
	binary.LittleEndian.PutUint16(buf[20:22], 1)  // PCM format
	binary.LittleEndian.PutUint16(buf[22:24], 1)  // mono
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*2)) // byte rate
	binary.LittleEndian.PutUint16(buf[32:34], 2)                    // block align
	binary.LittleEndian.PutUint16(buf[34:36], 16)                   // bits per sample
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(len(pcm)))
	copy(buf[headerLen:], pcm)

	return buf
}
