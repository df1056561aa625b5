// Command iris-sim runs the full pipeline against scripted inputs: a
// synthetic camera that changes scenes on a schedule, a synthetic wearer
// who asks questions, and canned inference. It needs no hardware or
// network and serves as a demo and soak tool for the orchestration layer.
//
// Usage:
//
//	go run ./cmd/iris-sim -run 30s
//	go run ./cmd/iris-sim -run 2m -scene-every 5s -ask-every 8s
//	go run ./cmd/iris-sim -fast -web :8090
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/irisware/go-iris/internal/log"
	"github.com/irisware/go-iris/pkg/acquire"
	"github.com/irisware/go-iris/pkg/assistant"
	"github.com/irisware/go-iris/pkg/capability"
	"github.com/irisware/go-iris/pkg/connectivity"
	"github.com/irisware/go-iris/pkg/dispatch"
	"github.com/irisware/go-iris/pkg/sense"
	"github.com/irisware/go-iris/pkg/speech"
	"github.com/irisware/go-iris/pkg/turn"
	"github.com/irisware/go-iris/pkg/web"
)

var captions = []string{
	"a kitchen counter with a kettle and two mugs",
	"a hallway with an open door at the end",
	"a desk with a laptop and a stack of papers",
	"a living room with a sofa facing a window",
}

var signs = []string{
	"", "EXIT 12", "", "CAUTION WET FLOOR",
}

var questions = []string{
	"what do you see",
	"read the sign",
	"is anyone here",
	"repeat that",
}

var replies = []string{
	"I don't see anyone nearby right now.",
	"It looks quiet in here.",
}

func main() {
	runFor := flag.Duration("run", 30*time.Second, "how long to run the simulation")
	sceneEvery := flag.Duration("scene-every", 4*time.Second, "how often the synthetic scene changes")
	askEvery := flag.Duration("ask-every", 7*time.Second, "how often the synthetic wearer speaks")
	fast := flag.Bool("fast", false, "skip real-time playback pacing")
	webAddr := flag.String("web", "", "serve the dashboard on this address (empty = off)")
	logLevel := flag.String("log-level", "warn", "log level: debug, info, warn, error")
	flag.Parse()

	log.Init(*logLevel)
	logger := log.L()
	started := time.Now()

	fmt.Println("iris pipeline simulation")
	fmt.Printf("  run %s, scene change every %s, wearer speaks every %s\n\n",
		*runFor, *sceneEvery, *askEvery)

	// Scripted camera: the luma level steps on a schedule, so the change
	// gate sees a new scene exactly when the script says so.
	camera := &sceneScript{started: started, every: *sceneEvery}

	// Both providers run the same script; the dispatcher's routing is
	// what's under test, not the answers.
	script := newInferenceScript(started, *sceneEvery)
	d, err := dispatch.New(
		dispatch.WithProviders(script.provider("cloud"), script.provider("sidecar")),
		dispatch.WithStates(dispatch.StateFunc(func() connectivity.State { return connectivity.Online })),
		dispatch.WithLogger(logger),
	)
	if err != nil {
		fatal("dispatcher: %v", err)
	}

	voice := speech.NewMock()
	synth := voice.SynthesizeFunc
	voice.SynthesizeFunc = func(ctx context.Context, text string) (*speech.AudioResult, error) {
		fmt.Printf("%7s  [iris]   %s\n", since(started), text)
		return synth(ctx, text)
	}

	gate, err := acquire.NewGate(acquire.WithLogger(logger))
	if err != nil {
		fatal("gate: %v", err)
	}

	mic := sense.NewMockChunkSource(256)
	sink := &consoleSink{fast: *fast}

	opts := []assistant.Option{
		assistant.WithFrameSource(camera),
		assistant.WithDispatcher(d),
		assistant.WithSink(sink),
		assistant.WithSpeech(voice),
		assistant.WithMicSource(mic),
		assistant.WithGate(gate),
		assistant.WithFrameInterval(200 * time.Millisecond),
		assistant.WithTurnOptions(turn.WithRepeatAfter(time.Minute)),
		assistant.WithLogger(logger),
	}

	var dashboard *web.Server
	if *webAddr != "" {
		dashboard, err = web.NewServer(web.WithAddr(*webAddr), web.WithLogger(logger))
		if err != nil {
			fatal("dashboard: %v", err)
		}
		opts = append(opts, assistant.WithWeb(dashboard))
		go func() {
			if err := dashboard.Start(); err != nil {
				fmt.Fprintf(os.Stderr, "dashboard: %v\n", err)
			}
		}()
		defer dashboard.Shutdown()
		fmt.Printf("  dashboard on http://localhost%s\n\n", *webAddr)
	}

	asst, err := assistant.New(opts...)
	if err != nil {
		fatal("assistant: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *runFor)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The synthetic wearer: an utterance of voiced PCM, then enough
	// silence to close the segment.
	go func() {
		ticker := time.NewTicker(*askEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				speakInto(mic)
			}
		}
	}()

	asst.Run(ctx)

	printSummary(started, gate, d, asst, script)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func since(started time.Time) string {
	return time.Since(started).Round(100 * time.Millisecond).String()
}

// speakInto pushes one spoken utterance: ten voiced frames (300ms), then
// silence past the segmenter's hangover.
func speakInto(mic *sense.MockChunkSource) {
	voiced := pcmFrame(4000)
	silent := pcmFrame(0)
	for i := 0; i < 10; i++ {
		mic.Push(voiced)
	}
	for i := 0; i < 40; i++ {
		mic.Push(silent)
	}
}

// pcmFrame builds 30ms of 16kHz mono S16LE at constant amplitude.
func pcmFrame(amp int16) []byte {
	data := make([]byte, 960)
	for i := 0; i < len(data); i += 2 {
		data[i] = byte(amp)
		data[i+1] = byte(amp >> 8)
	}
	return data
}

// sceneScript is the synthetic camera. Luma steps through fixed levels
// on a schedule; consecutive frames within a step are identical, so the
// change gate fires once per scene change.
type sceneScript struct {
	mu      sync.Mutex
	seq     uint64
	started time.Time
	every   time.Duration
}

var sceneLevels = []float64{40, 110, 180, 230}

func (s *sceneScript) CaptureFrame(ctx context.Context) (*sense.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	step := int(time.Since(s.started)/s.every) % len(sceneLevels)
	return sense.SyntheticFrame(s.seq, time.Now(), sceneLevels[step]), nil
}

func (s *sceneScript) Close() error { return nil }

// inferenceScript hands out canned answers that advance with the scene
// schedule, so captions, signs and replies stay in step across both
// providers.
type inferenceScript struct {
	started time.Time
	every   time.Duration

	mu      sync.Mutex
	asked   int
	replied int
}

func newInferenceScript(started time.Time, every time.Duration) *inferenceScript {
	return &inferenceScript{started: started, every: every}
}

func (s *inferenceScript) step() int {
	return int(time.Since(s.started) / s.every)
}

// provider builds one scripted capability backend.
func (s *inferenceScript) provider(name string) *capability.Mock {
	m := capability.NewMock()
	m.CaptionFunc = func(ctx context.Context, image []byte) (string, error) {
		return captions[s.step()%len(captions)], nil
	}
	m.OCRFunc = func(ctx context.Context, image []byte) (*capability.OCRText, error) {
		text := signs[s.step()%len(signs)]
		cov := 0.0
		if text != "" {
			cov = 0.4
		}
		return &capability.OCRText{Text: text, Coverage: cov}, nil
	}
	m.TranscribeFunc = func(ctx context.Context, pcm []byte, rate int) (string, error) {
		s.mu.Lock()
		q := questions[s.asked%len(questions)]
		s.asked++
		s.mu.Unlock()
		fmt.Printf("%7s  [wearer] %s\n", since(s.started), q)
		return q, nil
	}
	m.ChatFunc = func(ctx context.Context, req *capability.ChatRequest) (string, error) {
		s.mu.Lock()
		r := replies[s.replied%len(replies)]
		s.replied++
		s.mu.Unlock()
		return r, nil
	}
	return m
}

func (s *inferenceScript) questionsAsked() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.asked
}

// consoleSink paces playback in real time so barge-ins and overlap
// suppression behave as they would against the audio daemon.
type consoleSink struct {
	fast bool

	mu     sync.Mutex
	stopCh chan struct{}
}

func (s *consoleSink) Play(ctx context.Context, clip *capability.Clip) error {
	if s.fast {
		return nil
	}
	s.mu.Lock()
	stopCh := make(chan struct{})
	s.stopCh = stopCh
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-stopCh:
		return nil
	case <-time.After(clip.Duration()):
		return nil
	}
}

func (s *consoleSink) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		close(s.stopCh)
		s.stopCh = nil
	}
}

func printSummary(started time.Time, gate *acquire.Gate, d *dispatch.Dispatcher, asst *assistant.Assistant, script *inferenceScript) {
	fmt.Printf("\n--- %s simulated ---\n", time.Since(started).Round(time.Second))

	gs := gate.Stats()
	fmt.Printf("gate:      sent=%d suppressed=%d corrupt=%d\n", gs.Sent, gs.Suppressed, gs.Corrupt)

	ds := d.Stats()
	fmt.Printf("dispatch:  submitted=%d resolved=%d results=%d retries=%d\n",
		ds.Submitted, ds.Resolved, ds.Results, ds.Retries)

	ts := asst.Coordinator().Stats()
	fmt.Printf("turns:     taken=%d barge-ins=%d scenes spoken=%d dropped=%d\n",
		ts.Turns, ts.BargeIns, ts.ScenesSpoken, ts.ScenesDropped)

	fmt.Printf("wearer:    questions asked=%d\n", script.questionsAsked())

	snap := d.Metrics().Snapshot()
	if len(snap) == 0 {
		return
	}
	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Println("\nlatency by capability/target:")
	for _, k := range keys {
		ls := snap[k]
		fmt.Printf("  %-22s count=%-4d avg=%-10s min=%-10s max=%-10s failures=%d\n",
			k, ls.Count, ls.Average.Round(time.Microsecond),
			ls.Min.Round(time.Microsecond), ls.Max.Round(time.Microsecond), ls.Failures)
	}
}
