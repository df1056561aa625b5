// Package acquire decides which captured frames are worth dispatching.
//
// The gate compares each incoming frame against the last frame it let
// through, using two cheap measures: the Bhattacharyya distance between
// luminance histograms (lighting / scene identity) and the mean absolute
// difference over a down-sampled luma grid (spatial change). Static scenes
// are suppressed to save uplink bandwidth and inference cost; a liveness
// floor forces one frame through per MaxQuiet interval so downstream
// consumers can tell "nothing changed" from "camera died".
package acquire

import (
	"fmt"
	"sync"
	"time"

	"github.com/irisware/go-iris/pkg/sense"
)

// Decision is the gate verdict for one frame.
type Decision int

const (
	// Suppress drops the frame; no event is created.
	Suppress Decision = iota

	// Send forwards the frame for dispatch and makes it the new reference.
	Send
)

// String returns the wire form of the decision.
func (d Decision) String() string {
	if d == Send {
		return "send"
	}
	return "suppress"
}

// Reasons attached to gate decisions.
const (
	ReasonFirstFrame = "first_frame"
	ReasonHistogram  = "histogram"
	ReasonPixel      = "pixel"
	ReasonMaxQuiet   = "max_quiet"
	ReasonStatic     = "static"
	ReasonCorrupt    = "corrupt"
)

// ChangeScore is the scored outcome for one evaluated frame.
type ChangeScore struct {
	Seq        uint64   `json:"seq"`
	HistDelta  float64  `json:"hist_delta"`
	PixelDelta float64  `json:"pixel_delta"`
	Decision   Decision `json:"-"`
	Reason     string   `json:"reason"`
}

// Sent reports whether the frame passed the gate.
func (s ChangeScore) Sent() bool { return s.Decision == Send }

// Stats counts gate outcomes since startup.
type Stats struct {
	Sent       uint64 `json:"sent"`
	Suppressed uint64 `json:"suppressed"`
	Corrupt    uint64 `json:"corrupt"`
}

// Gate scores frames against a rolling reference. The reference only
// advances on Send, so a scene drifting slowly still trips the thresholds
// eventually instead of being chased frame by frame.
//
// Gate is safe for concurrent use, though a single capture loop is the
// normal caller.
type Gate struct {
	cfg Config

	mu       sync.Mutex
	ref      *sense.Frame
	lastSent time.Time
	stats    Stats
}

// NewGate creates a gate with the given options.
func NewGate(opts ...Option) (*Gate, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("acquire: %w", err)
	}
	return &Gate{cfg: *cfg}, nil
}

// Evaluate scores one frame and decides whether it should be dispatched.
// Timing uses the frame clock (capture timestamps), which keeps replayed
// and simulated feeds deterministic.
func (g *Gate) Evaluate(f *sense.Frame) ChangeScore {
	g.mu.Lock()
	defer g.mu.Unlock()

	if f.Corrupt() {
		g.stats.Suppressed++
		g.stats.Corrupt++
		g.cfg.Logger.Warn("suppressing corrupt frame",
			"seq", frameSeq(f))
		// A corrupt frame never becomes the reference and never
		// satisfies the liveness floor.
		return ChangeScore{Seq: frameSeq(f), Decision: Suppress, Reason: ReasonCorrupt}
	}

	if g.ref == nil {
		g.accept(f)
		return ChangeScore{Seq: f.Seq, HistDelta: 1, PixelDelta: 1, Decision: Send, Reason: ReasonFirstFrame}
	}

	score := ChangeScore{
		Seq:        f.Seq,
		HistDelta:  sense.Bhattacharyya(g.ref.Hist, f.Hist),
		PixelDelta: g.ref.Grid.Delta(f.Grid),
	}

	switch {
	case score.HistDelta > g.cfg.HistThreshold:
		score.Decision, score.Reason = Send, ReasonHistogram
	case score.PixelDelta > g.cfg.PixelThreshold:
		score.Decision, score.Reason = Send, ReasonPixel
	case f.Timestamp.Sub(g.lastSent) >= g.cfg.MaxQuiet:
		score.Decision, score.Reason = Send, ReasonMaxQuiet
	default:
		score.Decision, score.Reason = Suppress, ReasonStatic
	}

	if score.Decision == Send {
		g.accept(f)
		g.cfg.Logger.Debug("frame passed gate",
			"seq", f.Seq,
			"reason", score.Reason,
			"hist_delta", score.HistDelta,
			"pixel_delta", score.PixelDelta)
	} else {
		g.stats.Suppressed++
	}
	return score
}

// accept installs f as the new reference. Caller holds g.mu.
func (g *Gate) accept(f *sense.Frame) {
	g.ref = f
	g.lastSent = f.Timestamp
	g.stats.Sent++
}

// Reset clears the reference so the next valid frame is sent unconditionally.
// Used when the camera source is swapped at runtime.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ref = nil
	g.lastSent = time.Time{}
}

// Stats returns a copy of the gate counters.
func (g *Gate) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stats
}

func frameSeq(f *sense.Frame) uint64 {
	if f == nil {
		return 0
	}
	return f.Seq
}
