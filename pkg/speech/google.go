package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	texttospeech "google.golang.org/api/texttospeech/v1"
)

const providerGoogle = "google"

// Google implements Provider against Google Cloud Text-to-Speech. It is
// the chain's last resort when the gateway is unreachable: credentials
// come from Application Default Credentials, so it works from a service
// account file or ambient GCE metadata with no gateway involvement.
type Google struct {
	config *Config
	client *http.Client
	svc    *texttospeech.Service
	logger *slog.Logger
}

// NewGoogle creates a Google Cloud TTS provider. Pass WithHTTPClient to
// supply pre-authenticated transport (tests do); otherwise Application
// Default Credentials are resolved at construction time.
func NewGoogle(opts ...Option) (*Google, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	ctx := context.Background()

	client := cfg.HTTPClient
	if client == nil {
		var err error
		client, err = google.DefaultClient(ctx, texttospeech.CloudPlatformScope)
		if err != nil {
			return nil, WrapError(providerGoogle, fmt.Errorf("default credentials: %w", err))
		}
		client.Timeout = cfg.Timeout
	}

	gopts := []option.ClientOption{option.WithHTTPClient(client)}
	if cfg.Endpoint != "" {
		gopts = append(gopts, option.WithEndpoint(cfg.Endpoint))
	}

	svc, err := texttospeech.NewService(ctx, gopts...)
	if err != nil {
		return nil, WrapError(providerGoogle, fmt.Errorf("create service: %w", err))
	}

	return &Google{
		config: cfg,
		client: client,
		svc:    svc,
		logger: cfg.Logger.With("component", "speech.google"),
	}, nil
}

// Synthesize converts text to audio, returning the complete audio buffer.
func (g *Google) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	start := time.Now()

	rate := SampleRateFromEncoding(g.config.OutputFormat)
	req := &texttospeech.SynthesizeSpeechRequest{
		Input: &texttospeech.SynthesisInput{Text: text},
		Voice: &texttospeech.VoiceSelectionParams{
			LanguageCode: g.config.Language,
			Name:         g.config.Voice,
		},
		AudioConfig: &texttospeech.AudioConfig{
			AudioEncoding:   "LINEAR16",
			SampleRateHertz: int64(rate),
			SpeakingRate:    g.config.SpeakingRate,
		},
	}

	resp, err := g.svc.Text.Synthesize(req).Context(ctx).Do()
	if err != nil {
		return nil, g.mapError(err)
	}

	audio, err := base64.StdEncoding.DecodeString(resp.AudioContent)
	if err != nil {
		return nil, WrapError(providerGoogle, fmt.Errorf("decode audio: %w", err))
	}

	// LINEAR16 responses arrive wrapped in a WAV container; the speaker
	// wants raw S16LE frames.
	audio = stripWAVHeader(audio)

	latency := time.Since(start).Milliseconds()

	g.logger.Debug("synthesized audio",
		"chars", len(text),
		"bytes", len(audio),
		"latency_ms", latency,
	)

	return &AudioResult{
		Audio:     audio,
		Format:    g.outputFormat(),
		CharCount: len(text),
		LatencyMs: latency,
		Duration:  estimatePCMDuration(len(audio), rate),
	}, nil
}

// Stream converts text to audio. Google's REST endpoint does not stream,
// so the full synthesis is wrapped as a single-chunk stream.
func (g *Google) Stream(ctx context.Context, text string) (AudioStream, error) {
	result, err := g.Synthesize(ctx, text)
	if err != nil {
		return nil, err
	}
	return &bufferStream{data: result.Audio, format: result.Format}, nil
}

// Health checks credential validity by listing voices for the configured
// language.
func (g *Google) Health(ctx context.Context) error {
	_, err := g.svc.Voices.List().LanguageCode(g.config.Language).Context(ctx).Do()
	if err != nil {
		return g.mapError(err)
	}
	return nil
}

// Close releases resources held by the provider.
func (g *Google) Close() error {
	g.client.CloseIdleConnections()
	return nil
}

// mapError converts Google API errors to the package error types.
func (g *Google) mapError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return &APIError{
			StatusCode: gerr.Code,
			Message:    gerr.Message,
			Provider:   providerGoogle,
		}
	}
	return WrapError(providerGoogle, err)
}

// outputFormat returns the audio format configuration.
func (g *Google) outputFormat() AudioFormat {
	return AudioFormat{
		Encoding:   g.config.OutputFormat,
		SampleRate: SampleRateFromEncoding(g.config.OutputFormat),
		Channels:   1,
		BitDepth:   16,
	}
}

// stripWAVHeader returns the PCM payload of a RIFF/WAVE buffer, or the
// buffer unchanged if it is not one. Walks the chunk list rather than
// assuming a 44-byte header; Google sometimes emits extra chunks.
func stripWAVHeader(b []byte) []byte {
	if len(b) < 44 || !bytes.HasPrefix(b, []byte("RIFF")) || string(b[8:12]) != "WAVE" {
		return b
	}

	off := 12
	for off+8 <= len(b) {
		id := string(b[off : off+4])
		size := int(binary.LittleEndian.Uint32(b[off+4 : off+8]))
		off += 8
		if id == "data" {
			end := off + size
			if size <= 0 || end > len(b) {
				end = len(b)
			}
			return b[off:end]
		}
		off += size
	}
	return b
}

// bufferStream wraps a byte slice as AudioStream.
type bufferStream struct {
	data   []byte
	offset int
	format AudioFormat
}

// Read returns the next audio chunk.
func (s *bufferStream) Read() ([]byte, error) {
	if s.offset >= len(s.data) {
		return nil, nil
	}
	chunk := s.data[s.offset:]
	s.offset = len(s.data)
	return chunk, nil
}

// Close releases resources.
func (s *bufferStream) Close() error {
	return nil
}

// Format returns the audio format.
func (s *bufferStream) Format() AudioFormat {
	return s.format
}

// Verify Google implements Provider at compile time.
var _ Provider = (*Google)(nil)
