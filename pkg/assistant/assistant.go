// Package assistant wires the perception pipeline into a running device:
// frame capture through the change gate into the vision fan-out, mic audio
// through the segmenter into the turn coordinator, and both paths onto the
// operator dashboard. The assistant owns the background goroutines; the
// components stay passive and testable on their own.
package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/irisware/go-iris/pkg/acquire"
	"github.com/irisware/go-iris/pkg/capability"
	"github.com/irisware/go-iris/pkg/compose"
	"github.com/irisware/go-iris/pkg/dispatch"
	"github.com/irisware/go-iris/pkg/listen"
	"github.com/irisware/go-iris/pkg/protocol"
	"github.com/irisware/go-iris/pkg/sense"
	"github.com/irisware/go-iris/pkg/turn"
	"github.com/irisware/go-iris/pkg/web"
)

// Assistant runs the device pipeline. Create with New, start with Run;
// Run blocks until the context is cancelled and all background work has
// drained.
type Assistant struct {
	cfg    Config
	logger *slog.Logger

	gate      *acquire.Gate
	composer  *compose.Composer
	segmenter *listen.Segmenter
	coord     *turn.Coordinator

	// micCh funnels every audio source into one feeder goroutine; the
	// segmenter is not safe for concurrent Process calls.
	micCh chan []byte

	lastFrame    atomic.Int64 // unix nanos of the last good capture
	framesFailed atomic.Uint64
	micDropped   atomic.Uint64
	micRejected  atomic.Uint64

	wg sync.WaitGroup
}

// Stats counts assistant-level drops since startup. The pipeline
// components report their own.
type Stats struct {
	FramesFailed uint64 `json:"frames_failed"`
	MicDropped   uint64 `json:"mic_dropped"`
	MicRejected  uint64 `json:"mic_rejected"`
}

// New wires the assistant. The frame source, dispatcher and sink are
// required; everything else is optional and enables its slice of the
// pipeline when present.
func New(opts ...Option) (*Assistant, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("assistant: %w", err)
	}

	a := &Assistant{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "assistant"),
		micCh:  make(chan []byte, micBuffer),
	}

	var err error
	a.gate = cfg.Gate
	if a.gate == nil {
		if a.gate, err = acquire.NewGate(acquire.WithLogger(cfg.Logger)); err != nil {
			return nil, fmt.Errorf("assistant: %w", err)
		}
	}
	a.composer = cfg.Composer
	if a.composer == nil {
		if a.composer, err = compose.NewComposer(compose.WithLogger(cfg.Logger)); err != nil {
			return nil, fmt.Errorf("assistant: %w", err)
		}
	}
	a.segmenter = cfg.Segmenter
	if a.segmenter == nil {
		if a.segmenter, err = listen.NewSegmenter(listen.WithLogger(cfg.Logger)); err != nil {
			return nil, fmt.Errorf("assistant: %w", err)
		}
	}

	turnOpts := []turn.Option{
		turn.WithResolver(newResolver(&a.cfg)),
		turn.WithSink(cfg.Sink),
		turn.WithObserve(a.observe),
		turn.WithLogger(cfg.Logger),
	}
	if cfg.UserID != "" {
		turnOpts = append(turnOpts, turn.WithUserID(cfg.UserID))
	}
	turnOpts = append(turnOpts, cfg.TurnOpts...)
	if a.coord, err = turn.NewCoordinator(turnOpts...); err != nil {
		return nil, fmt.Errorf("assistant: %w", err)
	}

	a.segmenter.OnVoice = a.coord.VoiceActivity
	a.segmenter.OnSegment = a.handleSegment

	if cfg.Uplink != nil {
		cfg.Uplink.OnMic(a.handleMic)
	}
	if cfg.Web != nil {
		a.registerDashboard()
	}
	return a, nil
}

// Run starts the pipeline and blocks until ctx is cancelled. It returns
// the context's error once every background goroutine has stopped.
func (a *Assistant) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.logger.Info("assistant starting",
		"vision_caps", len(a.cfg.VisionCaps),
		"frame_interval", a.cfg.FrameInterval,
		"uplink", a.cfg.Uplink != nil,
		"dashboard", a.cfg.Web != nil)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		_ = a.coord.Run(ctx)
	}()

	if a.cfg.Monitor != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			_ = a.cfg.Monitor.Run(ctx)
		}()
	}

	a.wg.Add(1)
	go a.captureLoop(ctx)

	a.wg.Add(1)
	go a.micPump(ctx)

	if a.cfg.Mic != nil {
		a.wg.Add(1)
		go a.chunkPump(ctx)
	}
	if a.cfg.Web != nil {
		a.wg.Add(1)
		go a.statusLoop(ctx)
	}

	<-ctx.Done()
	a.wg.Wait()
	a.logger.Info("assistant stopped")
	return ctx.Err()
}

// Stats returns assistant-level drop counters.
func (a *Assistant) Stats() Stats {
	return Stats{
		FramesFailed: a.framesFailed.Load(),
		MicDropped:   a.micDropped.Load(),
		MicRejected:  a.micRejected.Load(),
	}
}

// Coordinator exposes the turn coordinator for state inspection.
func (a *Assistant) Coordinator() *turn.Coordinator {
	return a.coord
}

// captureLoop polls the frame source and pushes gated frames into the
// vision fan-out.
func (a *Assistant) captureLoop(ctx context.Context) {
	defer a.wg.Done()
	ticker := time.NewTicker(a.cfg.FrameInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.captureOnce(ctx)
		}
	}
}

func (a *Assistant) captureOnce(ctx context.Context) {
	cctx, cancel := context.WithTimeout(ctx, 2*a.cfg.FrameInterval)
	frame, err := a.cfg.Frames.CaptureFrame(cctx)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		n := a.framesFailed.Add(1)
		if n == 1 || n%50 == 0 {
			a.logger.Warn("frame capture failed", "failures", n, "error", err)
		}
		return
	}
	a.lastFrame.Store(time.Now().UnixNano())

	if a.cfg.Web != nil && len(frame.Pixels) > 0 {
		a.cfg.Web.SendCameraFrame(frame.Pixels)
	}

	score := a.gate.Evaluate(frame)
	if !score.Sent() {
		return
	}
	if a.cfg.Web != nil {
		a.cfg.Web.AddEvent("frame", fmt.Sprintf("scene change: %s (hist %.3f, pixel %.3f)",
			score.Reason, score.HistDelta, score.PixelDelta))
	}
	a.wg.Add(1)
	go a.runVision(ctx, frame)
}

// runVision fans one gated frame out, composes the results and offers
// the scene to the coordinator. Fallback utterances are not offered;
// a failed fan-out is not worth interrupting the wearer for.
func (a *Assistant) runVision(ctx context.Context, frame *sense.Frame) {
	defer a.wg.Done()

	ev := dispatch.NewVisionEvent(frame, a.cfg.VisionCaps...)
	results := make([]capability.Result, 0, len(ev.Caps))
	var resolved int
	for res := range a.cfg.Dispatcher.Submit(ctx, ev) {
		if res.OK() {
			resolved++
		}
		results = append(results, res)
	}

	if a.cfg.Web != nil {
		a.cfg.Web.AddEvent("dispatch", fmt.Sprintf("frame %d: %d/%d capabilities resolved",
			frame.Seq, resolved, len(results)))
	}

	u := a.composer.Compose(results, false)
	if u.Source == compose.SourceFallback {
		return
	}
	if a.cfg.Web != nil {
		a.cfg.Web.UpdateState(func(st *web.State) {
			st.SceneBrief = u.Text
		})
	}
	a.coord.OfferScene(u)
}

// observe serves the coordinator's describe and read commands: a fresh
// capture straight into the fan-out, bypassing the change gate so a
// static scene still gets an answer.
func (a *Assistant) observe(ctx context.Context, readIntent bool) (compose.Utterance, error) {
	frame, err := a.cfg.Frames.CaptureFrame(ctx)
	if err != nil {
		return compose.Utterance{}, fmt.Errorf("assistant: capture: %w", err)
	}
	a.lastFrame.Store(time.Now().UnixNano())

	caps := a.cfg.VisionCaps
	if readIntent && !hasCapability(caps, capability.OCR) {
		caps = append(append([]capability.Capability{}, caps...), capability.OCR)
	}
	ev := dispatch.NewVisionEvent(frame, caps...)
	ev.ReadIntent = readIntent

	results := make([]capability.Result, 0, len(ev.Caps))
	for res := range a.cfg.Dispatcher.Submit(ctx, ev) {
		results = append(results, res)
	}
	return a.composer.Compose(results, readIntent), nil
}

// micPump is the only goroutine that feeds the segmenter.
func (a *Assistant) micPump(ctx context.Context) {
	defer a.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case pcm := <-a.micCh:
			a.segmenter.Process(pcm)
		}
	}
}

// chunkPump forwards a local chunk source into the mic funnel.
func (a *Assistant) chunkPump(ctx context.Context) {
	defer a.wg.Done()
	chunks := a.cfg.Mic.Chunks()
	for {
		select {
		case <-ctx.Done():
			return
		case pcm, ok := <-chunks:
			if !ok {
				a.logger.Info("mic source closed")
				return
			}
			a.offerMic(pcm)
		}
	}
}

// offerMic queues PCM for the segmenter without blocking the caller.
// Head-unit callbacks run on connection read loops; stalling them
// stalls the socket.
func (a *Assistant) offerMic(pcm []byte) {
	select {
	case a.micCh <- pcm:
	default:
		n := a.micDropped.Add(1)
		if n == 1 || n%100 == 0 {
			a.logger.Warn("mic queue full, dropping audio", "dropped", n)
		}
	}
}

// handleMic ingests head-unit audio. Chunks that are not plain PCM at
// the pipeline rate are rejected; transcoding belongs on the unit.
func (a *Assistant) handleMic(unitID string, mic *protocol.MicData) {
	if mic.Format != "" && mic.Format != "pcm16" {
		n := a.micRejected.Add(1)
		if n == 1 || n%100 == 0 {
			a.logger.Warn("unsupported mic format",
				"unit", unitID, "format", mic.Format)
		}
		return
	}
	if mic.SampleRate != 0 && mic.SampleRate != sense.SampleRate {
		n := a.micRejected.Add(1)
		if n == 1 || n%100 == 0 {
			a.logger.Warn("unexpected mic sample rate",
				"unit", unitID, "rate", mic.SampleRate, "want", sense.SampleRate)
		}
		return
	}
	pcm, err := mic.DecodeMicData()
	if err != nil {
		a.logger.Warn("bad mic payload", "unit", unitID, "error", err)
		return
	}
	a.offerMic(pcm)
}

func (a *Assistant) handleSegment(seg *sense.AudioSegment) {
	if a.cfg.Web != nil {
		a.cfg.Web.AddEvent("segment", fmt.Sprintf("utterance %v",
			seg.Duration().Round(10*time.Millisecond)))
	}
	a.coord.Segment(seg)
}

// registerDashboard hooks the pipeline's snapshots into the web server.
func (a *Assistant) registerDashboard() {
	w := a.cfg.Web
	w.AddStatsSource("assistant", func() any { return a.Stats() })
	w.AddStatsSource("dispatch", func() any { return a.cfg.Dispatcher.Stats() })
	w.AddStatsSource("gate", func() any { return a.gate.Stats() })
	w.AddStatsSource("listen", func() any { return a.segmenter.Stats() })
	w.AddStatsSource("turn", func() any { return a.coord.Stats() })
	if a.cfg.Uplink != nil {
		w.AddStatsSource("uplink", func() any { return a.cfg.Uplink.GetStats() })
	}
	if a.cfg.Monitor != nil {
		w.AddStatsSource("connectivity", func() any { return a.cfg.Monitor.Snapshot() })
	}
	w.LatencySnapshot = func() any { return a.cfg.Dispatcher.Metrics().Snapshot() }
}

// liveStatus is the slice of dashboard state the status loop owns. The
// resolver owns the conversation fields and runVision owns the scene
// brief; the loop never touches those.
type liveStatus struct {
	link      string
	headUnits int
	videoUp   bool
	listening bool
	speaking  bool
}

// statusLoop refreshes the dashboard's live fields, publishing only on
// change so idle devices stay quiet on the status socket.
func (a *Assistant) statusLoop(ctx context.Context) {
	defer a.wg.Done()
	ticker := time.NewTicker(a.cfg.StatusInterval)
	defer ticker.Stop()

	last := liveStatus{headUnits: -1}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cur := a.statusNow()
			if cur == last {
				continue
			}
			last = cur
			a.cfg.Web.UpdateState(func(st *web.State) {
				if a.cfg.Monitor != nil {
					st.Link = cur.link
				}
				st.HeadUnits = cur.headUnits
				st.VideoUp = cur.videoUp
				st.Listening = cur.listening
				st.Speaking = cur.speaking
			})
		}
	}
}

func (a *Assistant) statusNow() liveStatus {
	cur := liveStatus{
		listening: a.segmenter.Active(),
		speaking:  a.coord.State() == turn.Speaking,
	}
	if last := a.lastFrame.Load(); last != 0 {
		cur.videoUp = time.Since(time.Unix(0, last)) < 3*a.cfg.FrameInterval
	}
	if a.cfg.Monitor != nil {
		cur.link = a.cfg.Monitor.Snapshot().StateName
	}
	if a.cfg.Uplink != nil {
		cur.headUnits = a.cfg.Uplink.UnitCount()
	}
	return cur
}

func hasCapability(caps []capability.Capability, c capability.Capability) bool {
	for _, have := range caps {
		if have == c {
			return true
		}
	}
	return false
}

func snippet(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
