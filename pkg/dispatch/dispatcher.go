// Package dispatch fans sensing events out to inference providers.
//
// For each event the dispatcher issues all requested capabilities
// concurrently, picking a remote or local target per the connectivity
// state at dispatch time. Every capability gets an independent deadline
// derived from the event budget, at most one retry (timeout-class
// failures only, after a fixed backoff), and always resolves to exactly
// one result, synthesized on failure, so the composer never waits on
// a hole in the result set. An event is fully resolved no later than
// its largest capability deadline plus one backoff.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/irisware/go-iris/pkg/capability"
	"github.com/irisware/go-iris/pkg/connectivity"
	"github.com/irisware/go-iris/pkg/sense"
)

// Stats counts dispatcher activity since startup.
type Stats struct {
	Submitted uint64 `json:"submitted"` // events accepted
	Resolved  uint64 `json:"resolved"`  // events fully resolved
	Results   uint64 `json:"results"`   // capability results emitted
	Retries   uint64 `json:"retries"`   // timeout retries attempted
}

// Dispatcher routes capability requests to providers. Safe for
// concurrent use; each Submit runs its own fan-out.
type Dispatcher struct {
	cfg     Config
	log     *slog.Logger
	metrics *Collector

	submitted uint64
	resolved  uint64
	results   uint64
	retries   uint64
}

// New creates a dispatcher.
func New(opts ...Option) (*Dispatcher, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("dispatch: %w", err)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewCollector()
	}
	return &Dispatcher{
		cfg:     *cfg,
		log:     cfg.Logger.With("component", "dispatch"),
		metrics: cfg.Metrics,
	}, nil
}

// Submit fans the event's capabilities out concurrently and returns the
// result stream. The channel is buffered for the full capability set,
// so workers never block on a slow or departed consumer, and closes
// once every capability has resolved. Cancelling ctx cancels in-flight
// requests best-effort; their synthetic results are still emitted.
func (d *Dispatcher) Submit(ctx context.Context, ev *Event) <-chan capability.Result {
	out := make(chan capability.Result, len(ev.Caps))
	state := d.cfg.States.State()
	atomic.AddUint64(&d.submitted, 1)

	d.log.Debug("event submitted",
		"event", ev.ID,
		"kind", ev.Kind,
		"capabilities", len(ev.Caps),
		"connectivity", state)

	go func() {
		defer close(out)

		sem := make(chan struct{}, d.cfg.FanoutLimit)
		var wg sync.WaitGroup
		for _, c := range ev.Caps {
			wg.Add(1)
			go func(c capability.Capability) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()

				out <- d.resolve(ctx, ev, c, state)
				atomic.AddUint64(&d.results, 1)
			}(c)
		}
		wg.Wait()
		atomic.AddUint64(&d.resolved, 1)
	}()
	return out
}

// Transcribe resolves one ASR call for a voice segment through the
// standard deadline/retry machinery.
func (d *Dispatcher) Transcribe(ctx context.Context, seg *sense.AudioSegment) capability.Result {
	return d.single(ctx, NewVoiceEvent(seg))
}

// Ask resolves one dialogue turn.
func (d *Dispatcher) Ask(ctx context.Context, req *capability.ChatRequest) capability.Result {
	return d.single(ctx, newChatEvent(req))
}

// Narrate synthesizes speech for an utterance.
func (d *Dispatcher) Narrate(ctx context.Context, text string) capability.Result {
	return d.single(ctx, newSpeechEvent(text))
}

func (d *Dispatcher) single(ctx context.Context, ev *Event) capability.Result {
	return <-d.Submit(ctx, ev)
}

// Stats returns a snapshot of the dispatcher counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Submitted: atomic.LoadUint64(&d.submitted),
		Resolved:  atomic.LoadUint64(&d.resolved),
		Results:   atomic.LoadUint64(&d.results),
		Retries:   atomic.LoadUint64(&d.retries),
	}
}

// Metrics returns the latency collector.
func (d *Dispatcher) Metrics() *Collector {
	return d.metrics
}

// resolve runs one capability to its terminal result: first attempt,
// optional timeout retry, or a synthetic failure. It returns within the
// capability's wall (deadline + one backoff) regardless of provider
// behavior.
func (d *Dispatcher) resolve(ctx context.Context, ev *Event, c capability.Capability, state connectivity.State) capability.Result {
	started := time.Now()
	deadline := d.deadlineFor(c)

	wallCtx, cancel := context.WithDeadline(ctx, started.Add(deadline+d.cfg.RetryBackoff))
	defer cancel()

	target, attemptTimeout := d.firstAttempt(state, deadline)
	res, err := d.attempt(wallCtx, ev, c, target, attemptTimeout)
	if err == nil {
		res.Latency = time.Since(started)
		return res
	}
	if !capability.IsTimeout(err) {
		return d.synthetic(ev, c, target, capability.StatusError, err, started)
	}

	// Timeout-class: one retry after a fixed backoff, inside the wall.
	select {
	case <-wallCtx.Done():
		return d.synthetic(ev, c, target, capability.StatusTimeout, err, started)
	case <-time.After(d.cfg.RetryBackoff):
	}
	atomic.AddUint64(&d.retries, 1)

	target = d.retryTarget(state, target)
	res, err = d.attempt(wallCtx, ev, c, target, deadline)
	if err == nil {
		res.Latency = time.Since(started)
		return res
	}
	return d.synthetic(ev, c, target, capability.StatusOf(err), err, started)
}

// attempt invokes the provider once, bounded by timeout within the
// caller's wall context, and records the attempt latency.
func (d *Dispatcher) attempt(ctx context.Context, ev *Event, c capability.Capability, target capability.Target, timeout time.Duration) (capability.Result, error) {
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	attemptStart := time.Now()
	res, err := d.invoke(actx, d.provider(target), ev, c)
	elapsed := time.Since(attemptStart)
	d.metrics.Record(c, target, capability.StatusOf(err), elapsed)

	if err != nil {
		return capability.Result{}, err
	}
	res.EventID = ev.ID
	res.Capability = c
	res.Target = target
	res.Status = capability.StatusOK
	return res, nil
}

// invoke maps a capability to the provider call and packs the payload.
func (d *Dispatcher) invoke(ctx context.Context, p capability.Provider, ev *Event, c capability.Capability) (capability.Result, error) {
	var res capability.Result
	switch c {
	case capability.CapDetection:
		if ev.Frame == nil {
			return res, capability.ErrEmptyPayload
		}
		dets, err := p.Detect(ctx, ev.Frame.Pixels)
		if err != nil {
			return res, err
		}
		res.Detections = dets
	case capability.Caption:
		if ev.Frame == nil {
			return res, capability.ErrEmptyPayload
		}
		text, err := p.Caption(ctx, ev.Frame.Pixels)
		if err != nil {
			return res, err
		}
		res.Caption = text
	case capability.OCR:
		if ev.Frame == nil {
			return res, capability.ErrEmptyPayload
		}
		ocr, err := p.OCR(ctx, ev.Frame.Pixels)
		if err != nil {
			return res, err
		}
		res.OCR = ocr
	case capability.ASR:
		if ev.Segment.Empty() {
			return res, capability.ErrEmptyPayload
		}
		text, err := p.Transcribe(ctx, ev.Segment.PCM, ev.Segment.SampleRate)
		if err != nil {
			return res, err
		}
		res.Transcript = text
	case capability.Dialogue:
		if ev.Chat == nil {
			return res, capability.ErrEmptyPayload
		}
		reply, err := p.Chat(ctx, ev.Chat)
		if err != nil {
			return res, err
		}
		res.Reply = reply
	case capability.Speech:
		if ev.Utterance == "" {
			return res, capability.ErrEmptyPayload
		}
		clip, err := p.Synthesize(ctx, ev.Utterance)
		if err != nil {
			return res, err
		}
		res.Clip = clip
	default:
		return res, capability.ErrUnsupported
	}
	return res, nil
}

// synthetic builds the terminal result for a failed capability.
func (d *Dispatcher) synthetic(ev *Event, c capability.Capability, target capability.Target, status capability.Status, err error, started time.Time) capability.Result {
	d.log.Warn("capability failed",
		"event", ev.ID,
		"capability", c,
		"target", target,
		"status", status,
		"error", err)
	return capability.Result{
		EventID:    ev.ID,
		Capability: c,
		Target:     target,
		Status:     status,
		Latency:    time.Since(started),
		Err:        err.Error(),
	}
}

// deadlineFor returns the capability's share of the event budget.
func (d *Dispatcher) deadlineFor(c capability.Capability) time.Duration {
	if w, ok := d.cfg.Weights[c]; ok {
		return time.Duration(float64(d.cfg.Budget) * w)
	}
	return d.cfg.Budget
}

// firstAttempt picks the initial target and its deadline for the
// connectivity state captured at submit time.
func (d *Dispatcher) firstAttempt(state connectivity.State, deadline time.Duration) (capability.Target, time.Duration) {
	switch state {
	case connectivity.Online:
		return capability.TargetRemote, deadline
	case connectivity.Offline:
		return capability.TargetLocal, deadline
	default: // Degraded
		if d.cfg.DegradedPolicy == DegradedLocalOnly {
			return capability.TargetLocal, deadline
		}
		return capability.TargetRemote, time.Duration(float64(deadline) * d.cfg.DegradedFactor)
	}
}

// retryTarget picks where the single timeout retry lands. While
// DEGRADED the retry abandons remote for the local fallback instead of
// hitting a struggling gateway twice.
func (d *Dispatcher) retryTarget(state connectivity.State, first capability.Target) capability.Target {
	if state == connectivity.Degraded {
		return capability.TargetLocal
	}
	return first
}

func (d *Dispatcher) provider(t capability.Target) capability.Provider {
	if t == capability.TargetLocal {
		return d.cfg.Local
	}
	return d.cfg.Remote
}
