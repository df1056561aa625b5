// Package speaker plays synthesized speech to the wearable's audio
// daemon. Clips are downmixed to mono, resampled to the egress rate,
// encoded as Opus and sent as RTP over UDP, the transport the head
// unit's playback pipeline consumes. Frames are paced in real time so
// a barge-in Stop truncates what the wearer hears, not just what has
// been queued.
package speaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
	"gopkg.in/hraban/opus.v2"

	"github.com/irisware/go-iris/pkg/capability"
)

// ErrClosed is returned by Play after the speaker has been closed.
var ErrClosed = errors.New("speaker: closed")

// maxOpusPacket is the largest payload one Opus frame can produce.
const maxOpusPacket = 1275

// Speaker is the audio sink for synthesized speech.
type Speaker struct {
	config *Config
	logger *slog.Logger

	conn *net.UDPConn
	enc  *opus.Encoder
	pkt  packetizer

	frameSamples int

	// playMu serializes clips; the state mutex below stays free so
	// Stop can interrupt a clip mid-frame.
	playMu sync.Mutex

	mu       sync.Mutex
	stopCh   chan struct{}
	speaking bool
	closed   bool

	clipsPlayed atomic.Int64
	framesSent  atomic.Int64
}

// NewSpeaker creates a speaker sending Opus RTP to the audio daemon.
func NewSpeaker(opts ...Option) (*Speaker, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("speaker: %w", err)
	}

	raddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)))
	if err != nil {
		return nil, fmt.Errorf("speaker: resolve audio daemon: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("speaker: dial audio daemon: %w", err)
	}

	enc, err := opus.NewEncoder(cfg.SampleRate, 1, opus.AppVoIP)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("speaker: create opus encoder: %w", err)
	}
	if err := enc.SetBitrate(cfg.Bitrate); err != nil {
		conn.Close()
		return nil, fmt.Errorf("speaker: set opus bitrate: %w", err)
	}

	return &Speaker{
		config:       cfg,
		logger:       cfg.Logger.With("component", "speaker"),
		conn:         conn,
		enc:          enc,
		pkt:          newPacketizer(cfg.PayloadType),
		frameSamples: cfg.FrameSamples(),
	}, nil
}

// Play blocks until the clip has been sent in full, the context is
// cancelled, or Stop aborts it. An aborted clip returns nil: barge-in
// is the normal way speech ends here.
func (s *Speaker) Play(ctx context.Context, clip *capability.Clip) error {
	if clip == nil || len(clip.PCM) == 0 {
		return nil
	}

	s.playMu.Lock()
	defer s.playMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	stopCh := make(chan struct{})
	s.stopCh = stopCh
	s.speaking = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.speaking = false
		if s.stopCh == stopCh {
			s.stopCh = nil
		}
		s.mu.Unlock()
	}()

	samples := s.prepare(clip)
	if len(samples) == 0 {
		return nil
	}

	frames := (len(samples) + s.frameSamples - 1) / s.frameSamples
	s.logger.Debug("playing clip", "duration", clip.Duration(), "frames", frames)

	frame := make([]int16, s.frameSamples)
	encBuf := make([]byte, maxOpusPacket)

	ticker := time.NewTicker(s.config.FrameDuration)
	defer ticker.Stop()

	for off := 0; off < len(samples); off += s.frameSamples {
		n := copy(frame, samples[off:])
		for i := n; i < len(frame); i++ {
			frame[i] = 0
		}

		nb, err := s.enc.Encode(frame, encBuf)
		if err != nil {
			return fmt.Errorf("speaker: opus encode: %w", err)
		}

		// Marker flags the first packet of a talkspurt (RFC 7587).
		pkt := s.pkt.next(encBuf[:nb], s.frameSamples, off == 0)
		data, err := pkt.Marshal()
		if err != nil {
			return fmt.Errorf("speaker: marshal rtp: %w", err)
		}
		if _, err := s.conn.Write(data); err != nil {
			return fmt.Errorf("speaker: send rtp: %w", err)
		}
		s.framesSent.Add(1)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stopCh:
			s.logger.Debug("clip aborted", "sent_frames", off/s.frameSamples+1, "frames", frames)
			return nil
		case <-ticker.C:
		}
	}

	s.clipsPlayed.Add(1)
	return nil
}

// Stop aborts the current clip immediately. Safe to call when nothing
// is playing.
func (s *Speaker) Stop() {
	s.mu.Lock()
	ch := s.stopCh
	s.stopCh = nil
	s.mu.Unlock()

	if ch != nil {
		close(ch)
	}
}

// IsSpeaking reports whether a clip is currently playing.
func (s *Speaker) IsSpeaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaking
}

// Stats reports playback counters for the dashboard.
func (s *Speaker) Stats() Stats {
	return Stats{
		ClipsPlayed: s.clipsPlayed.Load(),
		FramesSent:  s.framesSent.Load(),
		Speaking:    s.IsSpeaking(),
	}
}

// Close aborts playback and releases the UDP socket.
func (s *Speaker) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ch := s.stopCh
	s.stopCh = nil
	s.mu.Unlock()

	if ch != nil {
		close(ch)
	}
	return s.conn.Close()
}

// prepare downmixes and resamples the clip to the egress format.
func (s *Speaker) prepare(clip *capability.Clip) []int16 {
	samples := bytesToSamples(clip.PCM)
	if clip.Channels == 2 {
		samples = stereoToMono(samples)
	}
	rate := clip.SampleRate
	if rate <= 0 {
		rate = s.config.SampleRate
	}
	return resample(samples, rate, s.config.SampleRate)
}

// Stats contains playback statistics.
type Stats struct {
	ClipsPlayed int64 `json:"clips_played"`
	FramesSent  int64 `json:"frames_sent"`
	Speaking    bool  `json:"speaking"`
}

// packetizer stamps RTP headers onto Opus frames. Sequence number,
// timestamp and SSRC start random per RFC 3550.
type packetizer struct {
	payloadType uint8
	ssrc        uint32
	seq         uint16
	ts          uint32
}

func newPacketizer(payloadType uint8) packetizer {
	return packetizer{
		payloadType: payloadType,
		ssrc:        rand.Uint32(),
		seq:         uint16(rand.Uint32()),
		ts:          rand.Uint32(),
	}
}

// next builds the packet for one frame. The timestamp advances by the
// frame's sample count regardless of wall time.
func (p *packetizer) next(payload []byte, samples int, marker bool) *rtp.Packet {
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         marker,
			PayloadType:    p.payloadType,
			SequenceNumber: p.seq,
			Timestamp:      p.ts,
			SSRC:           p.ssrc,
		},
		Payload: payload,
	}
	p.seq++
	p.ts += uint32(samples)
	return pkt
}
