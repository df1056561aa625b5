package assistant

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/irisware/go-iris/pkg/capability"
	"github.com/irisware/go-iris/pkg/sense"
	"github.com/irisware/go-iris/pkg/speech"
	"github.com/irisware/go-iris/pkg/web"
)

func newResolverConfig(t *testing.T, remote, local *capability.Mock) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Dispatcher = newTestDispatcher(t, remote, local)
	cfg.Logger = discardLogger()
	return cfg
}

func TestNarratePrefersSpeechChain(t *testing.T) {
	remote := capability.NewMock()
	cfg := newResolverConfig(t, remote, capability.NewMock())
	cfg.Speech = speech.NewMock()
	r := newResolver(&cfg)

	res := r.Narrate(context.Background(), "hello there")
	if !res.OK() {
		t.Fatalf("Narrate failed: %s", res.Err)
	}
	if res.Capability != capability.Speech {
		t.Errorf("capability = %q, want %q", res.Capability, capability.Speech)
	}
	if res.Clip == nil || res.Clip.SampleRate != 24000 {
		t.Errorf("clip = %+v, want 24kHz audio from the chain", res.Clip)
	}
	if got := remote.CallCount("Synthesize"); got != 0 {
		t.Errorf("dispatcher synthesized %d times, want 0", got)
	}
}

func TestNarrateFallsBackToDispatcher(t *testing.T) {
	tests := []struct {
		name string
		fn   func(ctx context.Context, text string) (*speech.AudioResult, error)
	}{
		{
			name: "chain error",
			fn: func(ctx context.Context, text string) (*speech.AudioResult, error) {
				return nil, errors.New("gateway down")
			},
		},
		{
			name: "empty audio",
			fn: func(ctx context.Context, text string) (*speech.AudioResult, error) {
				return &speech.AudioResult{}, nil
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			remote := capability.NewMock()
			local := capability.NewMock()
			cfg := newResolverConfig(t, remote, local)
			chain := speech.NewMock()
			chain.SynthesizeFunc = tt.fn
			cfg.Speech = chain
			r := newResolver(&cfg)

			res := r.Narrate(context.Background(), "hello there")
			if !res.OK() {
				t.Fatalf("Narrate failed: %s", res.Err)
			}
			if res.Clip == nil || res.Clip.SampleRate != 16000 {
				t.Errorf("clip = %+v, want the dispatcher's 16kHz audio", res.Clip)
			}
			if remote.CallCount("Synthesize")+local.CallCount("Synthesize") == 0 {
				t.Error("dispatcher was never asked to synthesize")
			}
		})
	}
}

func TestTranscribeMirrorsConversation(t *testing.T) {
	srv, err := web.NewServer(web.WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("web.NewServer error: %v", err)
	}
	cfg := newResolverConfig(t, capability.NewMock(), capability.NewMock())
	cfg.Web = srv
	r := newResolver(&cfg)

	seg := &sense.AudioSegment{
		Seq:        1,
		Start:      time.Now(),
		PCM:        make([]byte, 3200),
		SampleRate: sense.SampleRate,
	}
	res := r.Transcribe(context.Background(), seg)
	if !res.OK() {
		t.Fatalf("Transcribe failed: %s", res.Err)
	}
	if got := srv.CurrentState().LastHeard; got != "what do you see" {
		t.Errorf("LastHeard = %q, want the transcript", got)
	}
}

func TestNarrateMirrorsConversation(t *testing.T) {
	srv, err := web.NewServer(web.WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("web.NewServer error: %v", err)
	}
	cfg := newResolverConfig(t, capability.NewMock(), capability.NewMock())
	cfg.Speech = speech.NewMock()
	cfg.Web = srv
	r := newResolver(&cfg)

	res := r.Narrate(context.Background(), "there is a door ahead")
	if !res.OK() {
		t.Fatalf("Narrate failed: %s", res.Err)
	}
	if got := srv.CurrentState().LastSpoken; got != "there is a door ahead" {
		t.Errorf("LastSpoken = %q, want the narrated text", got)
	}
}

func TestClipFromAudioDefaults(t *testing.T) {
	tests := []struct {
		name         string
		format       speech.AudioFormat
		wantRate     int
		wantChannels int
	}{
		{
			name:         "explicit format",
			format:       speech.AudioFormat{SampleRate: 24000, Channels: 1},
			wantRate:     24000,
			wantChannels: 1,
		},
		{
			name:         "rate from encoding",
			format:       speech.AudioFormat{Encoding: speech.EncodingPCM16},
			wantRate:     16000,
			wantChannels: 1,
		},
		{
			name:         "bare result",
			format:       speech.AudioFormat{},
			wantRate:     24000,
			wantChannels: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clip := clipFromAudio(&speech.AudioResult{
				Audio:  make([]byte, 64),
				Format: tt.format,
			})
			if clip.SampleRate != tt.wantRate {
				t.Errorf("SampleRate = %d, want %d", clip.SampleRate, tt.wantRate)
			}
			if clip.Channels != tt.wantChannels {
				t.Errorf("Channels = %d, want %d", clip.Channels, tt.wantChannels)
			}
		})
	}
}
