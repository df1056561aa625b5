// Package listen segments microphone audio into utterances. Incoming
// PCM is sliced into fixed analysis frames and gated by RMS energy: a
// run of voiced frames opens a segment, sustained silence closes it,
// and a hard cap bounds runaway input. Leading silence never enters a
// segment; the closing hangover does, because transcription likes the
// trailing context.
//
// Process must be fed from a single goroutine; stats reads are safe
// from anywhere.
package listen

import (
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/irisware/go-iris/pkg/sense"
)

// Segmenter turns a PCM byte stream into voice-gated AudioSegments.
type Segmenter struct {
	// OnVoice fires once at speech onset, when an utterance opens.
	// This is the barge-in trigger.
	OnVoice func()

	// OnSegment receives each completed utterance.
	OnSegment func(*sense.AudioSegment)

	config *Config
	logger *slog.Logger

	frameBytes     int
	hangoverFrames int
	maxBytes       int

	// feeder-goroutine state
	rem    []byte // partial frame awaiting more bytes
	buf    []byte // open utterance
	run    []byte // activation run not yet committed
	voiced int    // consecutive voiced frames while idle
	silent int    // consecutive silent frames while open
	start  time.Time
	active atomic.Bool

	seq      atomic.Uint64
	frames   atomic.Uint64
	segments atomic.Uint64
}

// NewSegmenter creates a voice-activity segmenter.
func NewSegmenter(opts ...Option) (*Segmenter, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}

	return &Segmenter{
		config:         cfg,
		logger:         cfg.Logger.With("component", "listen"),
		frameBytes:     cfg.FrameBytes(),
		hangoverFrames: int(cfg.Hangover / cfg.FrameDuration),
		maxBytes:       int(cfg.MaxUtterance/cfg.FrameDuration) * cfg.FrameBytes(),
	}, nil
}

// Process consumes a chunk of S16LE PCM, of any size. Whole frames are
// analyzed immediately; a trailing partial frame waits for more bytes.
func (s *Segmenter) Process(pcm []byte) {
	if len(pcm) == 0 {
		return
	}

	data := pcm
	if len(s.rem) > 0 {
		data = append(s.rem, pcm...)
	}

	off := 0
	for ; off+s.frameBytes <= len(data); off += s.frameBytes {
		s.step(data[off : off+s.frameBytes])
	}
	s.rem = append(s.rem[:0], data[off:]...)
}

// Active reports whether an utterance is currently open.
func (s *Segmenter) Active() bool {
	return s.active.Load()
}

// Stats reports segmenter counters.
func (s *Segmenter) Stats() Stats {
	return Stats{
		FramesProcessed: s.frames.Load(),
		SegmentsEmitted: s.segments.Load(),
		Active:          s.active.Load(),
	}
}

// Stats contains segmenter counters for the dashboard.
type Stats struct {
	FramesProcessed uint64 `json:"frames_processed"`
	SegmentsEmitted uint64 `json:"segments_emitted"`
	Active          bool   `json:"active"`
}

// step runs the VAD gate for one frame.
func (s *Segmenter) step(frame []byte) {
	s.frames.Add(1)
	voiced := rms(frame) >= s.config.Threshold

	if !s.active.Load() {
		if !voiced {
			s.voiced = 0
			s.run = s.run[:0]
			return
		}
		if s.voiced == 0 {
			s.start = time.Now()
		}
		s.voiced++
		s.run = append(s.run, frame...)
		if s.voiced >= s.config.ActivationFrames {
			s.open()
		}
		return
	}

	s.buf = append(s.buf, frame...)
	if voiced {
		s.silent = 0
	} else {
		s.silent++
		if s.silent >= s.hangoverFrames {
			s.emit()
			return
		}
	}
	if len(s.buf) >= s.maxBytes {
		s.logger.Debug("utterance hit cap", "max", s.config.MaxUtterance)
		s.emit()
	}
}

// open commits the activation run as the start of an utterance.
func (s *Segmenter) open() {
	s.buf = append(s.buf[:0], s.run...)
	s.run = s.run[:0]
	s.voiced = 0
	s.silent = 0
	s.active.Store(true)

	s.logger.Debug("speech onset")
	if s.OnVoice != nil {
		s.OnVoice()
	}
}

// emit hands off the open utterance and returns to idle.
func (s *Segmenter) emit() {
	seg := &sense.AudioSegment{
		Seq:        s.seq.Add(1),
		Start:      s.start,
		PCM:        append([]byte(nil), s.buf...),
		SampleRate: s.config.SampleRate,
	}

	s.buf = s.buf[:0]
	s.silent = 0
	s.active.Store(false)
	s.segments.Add(1)

	s.logger.Debug("utterance closed", "seq", seg.Seq, "duration", seg.Duration())
	if s.OnSegment != nil {
		s.OnSegment(seg)
	}
}

// rms computes frame energy as a fraction of full scale.
func rms(frame []byte) float64 {
	n := len(frame) / sense.BytesPerSample
	if n == 0 {
		return 0
	}

	var sum float64
	for i := 0; i < n; i++ {
		sample := float64(int16(frame[i*2]) | int16(frame[i*2+1])<<8)
		sum += sample * sample
	}
	return math.Sqrt(sum/float64(n)) / 32768
}
