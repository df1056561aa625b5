// Package turn owns the conversational state machine of the device.
//
// One run loop serializes every transition between IDLE, LISTENING,
// THINKING and SPEAKING. Voice onset while the device is speaking is a
// barge-in: the sink is stopped immediately, the interrupted turn is
// cancelled, and the coordinator listens. Only one turn owns the
// THINKING/SPEAKING slot at a time; output from a superseded turn is
// discarded, so the wearer never hears a stale answer. Proactive scene
// descriptions are spoken only from IDLE.
package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/irisware/go-iris/pkg/capability"
	"github.com/irisware/go-iris/pkg/compose"
	"github.com/irisware/go-iris/pkg/sense"
)

// Canned replies for turns that cannot reach a backend.
const (
	ReplyDidNotHear      = "Sorry, I did not catch that."
	ReplyNothingToRepeat = "I have not said anything yet."
	ReplyNoVision        = "I cannot see anything right now."
	ReplyHelp            = "You can ask me to describe the scene, read text aloud, repeat the last answer, or tell me to stop."
)

// Stats counts coordinator activity since startup.
type Stats struct {
	Turns         uint64 `json:"turns"`          // voice turns accepted
	BargeIns      uint64 `json:"barge_ins"`      // playbacks cut off by the wearer
	ScenesSpoken  uint64 `json:"scenes_spoken"`  // proactive utterances played
	ScenesDropped uint64 `json:"scenes_dropped"` // proactive utterances suppressed
	StaleDropped  uint64 `json:"stale_dropped"`  // superseded turn output discarded
}

// sayRequest hands text from a turn worker to the loop for playback.
// An empty text ends the turn silently. scene marks text that
// describes the current view, which feeds later dialogue context.
type sayRequest struct {
	gen   uint64
	text  string
	scene bool
}

// spokenEvent reports the end of one playback.
type spokenEvent struct {
	gen uint64
	err error
}

// turnInput is the loop state snapshot a think worker runs with.
type turnInput struct {
	gen      uint64
	seg      *sense.AudioSegment
	scene    string
	lastSaid string
}

// Coordinator runs the turn-taking state machine. Inputs arrive over
// VoiceActivity, Segment and OfferScene; Run's goroutine is the sole
// writer of the state and of turn ownership.
type Coordinator struct {
	cfg Config
	log *slog.Logger

	state atomic.Int32
	scene atomic.Value // string; latest scene description

	wake     chan struct{}
	segments chan *sense.AudioSegment
	scenes   chan compose.Utterance
	say      chan sayRequest
	spoken   chan spokenEvent

	// Loop-owned; touched only from Run's goroutine. gen identifies
	// the turn holding the THINKING/SPEAKING slot; worker output
	// carrying any other generation is stale and dropped.
	gen         uint64
	turnCtx     context.Context
	turnCancel  context.CancelFunc
	lastSaid    string
	lastScene   string
	lastSceneAt time.Time

	wg sync.WaitGroup

	turns         uint64
	bargeIns      uint64
	scenesSpoken  uint64
	scenesDropped uint64
	staleDropped  uint64
}

// NewCoordinator creates a coordinator in the IDLE state.
func NewCoordinator(opts ...Option) (*Coordinator, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("turn: %w", err)
	}

	c := &Coordinator{
		cfg:      *cfg,
		log:      cfg.Logger.With("component", "turn"),
		wake:     make(chan struct{}, 1),
		segments: make(chan *sense.AudioSegment, 1),
		scenes:   make(chan compose.Utterance, 1),
		say:      make(chan sayRequest, 4),
		spoken:   make(chan spokenEvent, 4),
	}
	c.scene.Store("")
	return c, nil
}

// State returns the current conversational state.
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

// Stats returns a snapshot of the coordinator counters.
func (c *Coordinator) Stats() Stats {
	return Stats{
		Turns:         atomic.LoadUint64(&c.turns),
		BargeIns:      atomic.LoadUint64(&c.bargeIns),
		ScenesSpoken:  atomic.LoadUint64(&c.scenesSpoken),
		ScenesDropped: atomic.LoadUint64(&c.scenesDropped),
		StaleDropped:  atomic.LoadUint64(&c.staleDropped),
	}
}

// SceneContext returns the latest scene description, as carried on
// dialogue turns.
func (c *Coordinator) SceneContext() string {
	return c.scene.Load().(string)
}

// VoiceActivity signals speech onset from the VAD or the push button.
// While the device is speaking this is a barge-in: the sink is stopped
// on the caller's goroutine, before the signal is even queued, so the
// audio dies within one scheduling quantum.
func (c *Coordinator) VoiceActivity() {
	if c.State() == Speaking {
		c.cfg.Sink.Stop()
		atomic.AddUint64(&c.bargeIns, 1)
	}
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Segment hands a completed utterance to the coordinator. A newer
// segment supersedes whatever is queued or in flight (last wins).
func (c *Coordinator) Segment(seg *sense.AudioSegment) {
	if seg.Empty() {
		return
	}
	for {
		select {
		case c.segments <- seg:
			return
		default:
			select {
			case <-c.segments:
			default:
			}
		}
	}
}

// OfferScene hands a proactively composed scene utterance to the
// coordinator. Only the newest offer is kept; it is spoken only if the
// device is idle when the loop picks it up.
func (c *Coordinator) OfferScene(u compose.Utterance) {
	for {
		select {
		case c.scenes <- u:
			return
		default:
			select {
			case <-c.scenes:
			default:
			}
		}
	}
}

// Run drives the state machine until ctx is cancelled. It owns every
// state write; handlers never block the loop.
func (c *Coordinator) Run(ctx context.Context) error {
	c.log.Info("coordinator started")
	defer c.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			c.supersede()
			c.cfg.Sink.Stop()
			c.setState(Idle)
			c.log.Info("coordinator stopped")
			return ctx.Err()
		case <-c.wake:
			c.onWake()
		case seg := <-c.segments:
			c.onSegment(ctx, seg)
		case u := <-c.scenes:
			c.onScene(ctx, u)
		case req := <-c.say:
			c.onSay(req)
		case ev := <-c.spoken:
			c.onSpoken(ev)
		}
	}
}

// onWake handles speech onset.
func (c *Coordinator) onWake() {
	switch c.State() {
	case Speaking:
		// Barge-in. VoiceActivity already stopped the sink when it saw
		// SPEAKING; stop again here for onsets that raced a scene
		// playback starting, then retire the interrupted turn.
		c.cfg.Sink.Stop()
		c.supersede()
		c.setState(Listening)
	case Thinking:
		// The wearer started over before the answer arrived.
		c.supersede()
		c.setState(Listening)
	case Idle:
		c.setState(Listening)
	case Listening:
		// Still collecting; nothing to do.
	}
}

// onSegment starts a turn for a completed utterance, superseding any
// turn still in flight.
func (c *Coordinator) onSegment(ctx context.Context, seg *sense.AudioSegment) {
	if c.State() == Speaking {
		// Segment without a prior onset signal; stop the audio before
		// taking the slot.
		c.cfg.Sink.Stop()
	}
	c.supersede()
	c.turnCtx, c.turnCancel = context.WithCancel(ctx)
	c.setState(Thinking)
	atomic.AddUint64(&c.turns, 1)

	in := turnInput{
		gen:      c.gen,
		seg:      seg,
		scene:    c.SceneContext(),
		lastSaid: c.lastSaid,
	}
	c.wg.Add(1)
	go c.think(c.turnCtx, in)
}

// onScene speaks a proactive scene description if the device is idle.
// The text is remembered as dialogue context either way.
func (c *Coordinator) onScene(ctx context.Context, u compose.Utterance) {
	if u.Source != compose.SourceFallback && u.Text != "" {
		c.scene.Store(u.Text)
	}

	if c.State() != Idle {
		atomic.AddUint64(&c.scenesDropped, 1)
		return
	}
	if u.Source == compose.SourceFallback || u.Text == "" {
		// Nothing recognizable; a proactive apology would be noise.
		atomic.AddUint64(&c.scenesDropped, 1)
		return
	}
	if c.cfg.RepeatAfter > 0 && u.Text == c.lastScene &&
		time.Since(c.lastSceneAt) < c.cfg.RepeatAfter {
		atomic.AddUint64(&c.scenesDropped, 1)
		c.log.Debug("scene unchanged, staying quiet", "event", u.EventID)
		return
	}

	c.supersede()
	c.turnCtx, c.turnCancel = context.WithCancel(ctx)
	c.lastScene = u.Text
	c.lastSceneAt = time.Now()
	c.lastSaid = u.Text
	c.setState(Speaking)
	atomic.AddUint64(&c.scenesSpoken, 1)

	c.log.Info("speaking scene", "event", u.EventID, "source", u.Source)
	c.wg.Add(1)
	go c.speak(c.turnCtx, sayRequest{gen: c.gen, text: u.Text})
}

// onSay moves a finished turn into SPEAKING, unless it was superseded
// while thinking.
func (c *Coordinator) onSay(req sayRequest) {
	if req.gen != c.gen {
		atomic.AddUint64(&c.staleDropped, 1)
		c.log.Debug("stale answer discarded", "gen", req.gen, "current", c.gen)
		return
	}
	if strings.TrimSpace(req.text) == "" {
		c.setState(Idle)
		return
	}
	if req.scene {
		c.scene.Store(req.text)
	}
	c.lastSaid = req.text
	c.setState(Speaking)

	c.wg.Add(1)
	go c.speak(c.turnCtx, req)
}

// onSpoken settles the state after a playback ends.
func (c *Coordinator) onSpoken(ev spokenEvent) {
	if ev.gen != c.gen {
		return
	}
	if ev.err != nil && !errors.Is(ev.err, context.Canceled) {
		c.log.Warn("playback ended early", "error", ev.err)
	}
	c.setState(Idle)
}

// think runs one voice turn: transcription, intent parsing, and the
// backend round trip. It reports back through the say channel; if the
// turn was superseded the loop discards the answer by generation.
func (c *Coordinator) think(ctx context.Context, in turnInput) {
	defer c.wg.Done()

	res := c.cfg.Resolver.Transcribe(ctx, in.seg)
	if ctx.Err() != nil {
		return
	}
	transcript := strings.TrimSpace(res.Transcript)
	if !res.OK() || transcript == "" {
		c.log.Warn("transcription failed",
			"status", res.Status, "target", res.Target, "error", res.Err)
		c.submitSay(ctx, sayRequest{gen: in.gen, text: ReplyDidNotHear})
		return
	}

	intent := ParseIntent(transcript)
	c.log.Info("utterance understood",
		"transcript", transcript, "intent", intent.String())

	switch intent {
	case IntentStop:
		c.submitSay(ctx, sayRequest{gen: in.gen})

	case IntentRepeat:
		text := in.lastSaid
		if text == "" {
			text = ReplyNothingToRepeat
		}
		c.submitSay(ctx, sayRequest{gen: in.gen, text: text})

	case IntentHelp:
		c.submitSay(ctx, sayRequest{gen: in.gen, text: ReplyHelp})

	case IntentDescribe, IntentRead:
		c.observe(ctx, in, intent == IntentRead)

	default:
		c.chat(ctx, in, transcript)
	}
}

// observe answers a describe or read command with a fresh capture.
func (c *Coordinator) observe(ctx context.Context, in turnInput, readIntent bool) {
	if c.cfg.Observe == nil {
		c.submitSay(ctx, sayRequest{gen: in.gen, text: ReplyNoVision})
		return
	}
	u, err := c.cfg.Observe(ctx, readIntent)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.log.Warn("observe failed", "error", err)
		c.submitSay(ctx, sayRequest{gen: in.gen, text: compose.FallbackUtterance})
		return
	}
	c.submitSay(ctx, sayRequest{
		gen:   in.gen,
		text:  u.Text,
		scene: u.Source != compose.SourceFallback,
	})
}

// chat forwards the transcript to the dialogue backend with the scene
// context attached.
func (c *Coordinator) chat(ctx context.Context, in turnInput, transcript string) {
	res := c.cfg.Resolver.Ask(ctx, &capability.ChatRequest{
		Prompt:  transcript,
		Context: in.scene,
		UserID:  c.cfg.UserID,
	})
	if ctx.Err() != nil {
		return
	}
	reply := strings.TrimSpace(res.Reply)
	if !res.OK() || reply == "" {
		c.log.Warn("dialogue failed",
			"status", res.Status, "target", res.Target, "error", res.Err)
		reply = compose.FallbackUtterance
	}
	c.submitSay(ctx, sayRequest{gen: in.gen, text: reply})
}

// speak synthesizes and plays one utterance, then reports completion.
func (c *Coordinator) speak(ctx context.Context, req sayRequest) {
	defer c.wg.Done()

	res := c.cfg.Resolver.Narrate(ctx, req.text)
	if ctx.Err() != nil {
		return
	}
	if !res.OK() || res.Clip == nil {
		c.log.Warn("speech synthesis failed",
			"status", res.Status, "target", res.Target, "error", res.Err)
		c.submitSpoken(ctx, spokenEvent{gen: req.gen})
		return
	}

	err := c.cfg.Sink.Play(ctx, res.Clip)
	c.submitSpoken(ctx, spokenEvent{gen: req.gen, err: err})
}

func (c *Coordinator) submitSay(ctx context.Context, req sayRequest) {
	select {
	case c.say <- req:
	case <-ctx.Done():
	}
}

func (c *Coordinator) submitSpoken(ctx context.Context, ev spokenEvent) {
	select {
	case c.spoken <- ev:
	case <-ctx.Done():
	}
}

// supersede retires the in-flight turn, if any, and invalidates its
// generation so trailing worker output is dropped. Loop-owned.
func (c *Coordinator) supersede() {
	if c.turnCancel != nil {
		c.turnCancel()
		c.turnCancel = nil
	}
	c.gen++
}

func (c *Coordinator) setState(s State) {
	prev := State(c.state.Swap(int32(s)))
	if prev != s {
		c.log.Debug("state changed", "from", prev.String(), "to", s.String())
	}
}
