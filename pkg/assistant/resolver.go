package assistant

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/irisware/go-iris/pkg/capability"
	"github.com/irisware/go-iris/pkg/dispatch"
	"github.com/irisware/go-iris/pkg/sense"
	"github.com/irisware/go-iris/pkg/speech"
	"github.com/irisware/go-iris/pkg/turn"
	"github.com/irisware/go-iris/pkg/web"
)

// resolver adapts the dispatcher to the coordinator's turn interface and
// mirrors the conversation onto the dashboard. Narration prefers the
// dedicated speech chain when one is configured; the dispatcher's speech
// capability is the fallback.
type resolver struct {
	dispatcher *dispatch.Dispatcher
	speech     speech.Provider
	web        *web.Server
	logger     *slog.Logger
}

var _ turn.Resolver = (*resolver)(nil)

func newResolver(cfg *Config) *resolver {
	return &resolver{
		dispatcher: cfg.Dispatcher,
		speech:     cfg.Speech,
		web:        cfg.Web,
		logger:     cfg.Logger.With("component", "resolver"),
	}
}

// Transcribe resolves ASR for a voice segment.
func (r *resolver) Transcribe(ctx context.Context, seg *sense.AudioSegment) capability.Result {
	res := r.dispatcher.Transcribe(ctx, seg)
	if res.OK() && res.Transcript != "" {
		r.noteHeard(res.Transcript)
	}
	return res
}

// Ask resolves one dialogue turn.
func (r *resolver) Ask(ctx context.Context, req *capability.ChatRequest) capability.Result {
	return r.dispatcher.Ask(ctx, req)
}

// Narrate synthesizes speech for an utterance.
func (r *resolver) Narrate(ctx context.Context, text string) capability.Result {
	r.noteSpoken(text)
	if r.speech != nil {
		start := time.Now()
		out, err := r.speech.Synthesize(ctx, text)
		if err == nil && out != nil && len(out.Audio) > 0 {
			return capability.Result{
				EventID:    uuid.NewString(),
				Capability: capability.Speech,
				Target:     capability.TargetRemote,
				Status:     capability.StatusOK,
				Latency:    time.Since(start),
				Clip:       clipFromAudio(out),
			}
		}
		r.logger.Warn("speech chain failed, using dispatcher", "error", err)
	}
	return r.dispatcher.Narrate(ctx, text)
}

func (r *resolver) noteHeard(transcript string) {
	if r.web == nil {
		return
	}
	r.web.AddConversation("wearer", transcript)
	r.web.UpdateState(func(st *web.State) {
		st.LastHeard = transcript
	})
}

func (r *resolver) noteSpoken(text string) {
	if r.web == nil {
		return
	}
	r.web.AddConversation("assistant", text)
	r.web.UpdateState(func(st *web.State) {
		st.LastSpoken = text
	})
	r.web.AddEvent("speak", snippet(text, 80))
}

// clipFromAudio converts a synthesis result to a playable clip. The
// chain providers report the format on every result; missing fields fall
// back to the encoding's rate and mono.
func clipFromAudio(out *speech.AudioResult) *capability.Clip {
	rate := out.Format.SampleRate
	if rate <= 0 {
		rate = speech.SampleRateFromEncoding(out.Format.Encoding)
	}
	channels := out.Format.Channels
	if channels <= 0 {
		channels = 1
	}
	return &capability.Clip{
		PCM:        out.Audio,
		SampleRate: rate,
		Channels:   channels,
	}
}
