// Package headcam receives the head unit's camera stream over WebRTC and
// serves decoded JPEG frames to the perception pipeline. Signalling speaks
// the GStreamer webrtcsink protocol: welcome, producer listing, session
// start, then SDP and ICE exchange over the same socket.
package headcam

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"

	"github.com/irisware/go-iris/pkg/sense"
)

var (
	// ErrClosed is returned when capturing from a closed receiver.
	ErrClosed = errors.New("headcam: closed")

	// ErrNotConnected is returned when no video session is up.
	ErrNotConnected = errors.New("headcam: not connected")
)

// Receiver is a recv-only WebRTC peer attached to the head unit camera.
type Receiver struct {
	config Config
	logger *slog.Logger

	wsMu sync.Mutex
	ws   *websocket.Conn
	pc   *webrtc.PeerConnection

	peerID     string
	producerID string

	sessMu    sync.Mutex
	sessionID string

	frameMu    sync.RWMutex
	latestJPEG []byte

	trackOnce  sync.Once
	trackReady chan struct{}
	frameReady chan struct{}

	connected atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
	closeCh   chan struct{}

	packets atomic.Uint64
	frames  atomic.Uint64
	seq     atomic.Uint64
}

var _ sense.FrameSource = (*Receiver)(nil)

// NewReceiver creates a receiver for the head unit's video stream. It does
// not dial; call Connect.
func NewReceiver(opts ...Option) (*Receiver, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("headcam: %w", err)
	}

	return &Receiver{
		config:     cfg,
		logger:     cfg.Logger.With("component", "headcam"),
		trackReady: make(chan struct{}),
		frameReady: make(chan struct{}, 1),
		closeCh:    make(chan struct{}),
	}, nil
}

// Connect dials the signalling server, pairs with the head unit producer
// and waits for the first video track. Connect may be called once; create
// a new Receiver to redial after a drop.
func (r *Receiver) Connect(ctx context.Context) error {
	if r.closed.Load() {
		return ErrClosed
	}

	dialer := websocket.Dialer{HandshakeTimeout: r.config.HandshakeTimeout}
	ws, _, err := dialer.DialContext(ctx, r.config.SignallingURL, nil)
	if err != nil {
		return fmt.Errorf("headcam: signalling dial: %w", err)
	}
	r.ws = ws

	if err := r.waitForWelcome(); err != nil {
		ws.Close()
		return fmt.Errorf("headcam: welcome: %w", err)
	}
	r.logger.Debug("registered with signalling server", "peer_id", r.peerID)

	if err := r.findProducer(); err != nil {
		ws.Close()
		return fmt.Errorf("headcam: %w", err)
	}

	if err := r.createPeerConnection(); err != nil {
		ws.Close()
		return fmt.Errorf("headcam: peer connection: %w", err)
	}

	if err := r.startSession(); err != nil {
		r.pc.Close()
		ws.Close()
		return fmt.Errorf("headcam: start session: %w", err)
	}

	go r.signalLoop()

	select {
	case <-r.trackReady:
	case <-ctx.Done():
		r.teardown()
		return ctx.Err()
	case <-time.After(r.config.ConnectTimeout):
		r.teardown()
		return fmt.Errorf("headcam: no video track within %s", r.config.ConnectTimeout)
	}

	r.connected.Store(true)
	r.logger.Info("head unit video up", "producer", r.config.Producer)
	return nil
}

// createPeerConnection builds the recv-only peer and installs callbacks.
func (r *Receiver) createPeerConnection() error {
	var cfg webrtc.Configuration
	if len(r.config.ICEServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: r.config.ICEServers}}
	}

	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return err
	}

	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		pc.Close()
		return err
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		r.logger.Info("track attached",
			"kind", track.Kind().String(),
			"codec", track.Codec().MimeType)
		if track.Kind() == webrtc.RTPCodecTypeVideo {
			go r.readTrack(track)
		}
	})

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate != nil {
			r.sendICECandidate(candidate)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		r.logger.Debug("peer connection state", "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			r.markDisconnected()
		}
	})

	r.pc = pc
	return nil
}

// readTrack drains the video track, reassembling access units and decoding
// at most one JPEG per DecodeInterval. Windows without a keyframe decode
// to nothing and the previous picture stays current.
func (r *Receiver) readTrack(track *webrtc.TrackRemote) {
	r.trackOnce.Do(func() { close(r.trackReady) })

	var (
		asm        auAssembler
		pending    []byte
		params     []byte
		lastDecode time.Time
	)

	for !r.closed.Load() {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if !r.closed.Load() {
				r.logger.Warn("track read failed", "error", err)
			}
			return
		}
		r.packets.Add(1)

		au, ok := asm.push(pkt)
		if !ok {
			continue
		}
		if p := scanParams(au); p != nil {
			params = p
		}
		pending = append(pending, au...)

		if len(pending) < minDecodeBytes || time.Since(lastDecode) < r.config.DecodeInterval {
			continue
		}
		lastDecode = time.Now()

		buf := pending
		if params != nil && !hasParams(buf) {
			// The decoder needs parameter sets ahead of the first slice.
			buf = append(append([]byte(nil), params...), pending...)
		}
		pending = pending[:0]

		jpeg, err := decodeJPEG(buf)
		if err != nil {
			continue
		}
		r.storeFrame(jpeg)
	}
}

// storeFrame publishes a decoded JPEG and wakes one waiting capture.
func (r *Receiver) storeFrame(jpeg []byte) {
	r.frameMu.Lock()
	r.latestJPEG = jpeg
	r.frameMu.Unlock()
	r.frames.Add(1)

	select {
	case r.frameReady <- struct{}{}:
	default:
	}
}

// CaptureFrame returns the most recently decoded frame, blocking until one
// exists or the context expires. Calls between decodes serve the same
// picture; the change gate suppresses those downstream.
func (r *Receiver) CaptureFrame(ctx context.Context) (*sense.Frame, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}
	if !r.connected.Load() {
		return nil, ErrNotConnected
	}

	for {
		r.frameMu.RLock()
		jpeg := r.latestJPEG
		r.frameMu.RUnlock()

		if jpeg != nil {
			encoded := append([]byte(nil), jpeg...)
			frame, err := sense.NewFrame(r.seq.Add(1), time.Now(), encoded)
			if err != nil {
				return frame, fmt.Errorf("headcam: %w", err)
			}
			return frame, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-r.closeCh:
			return nil, ErrClosed
		case <-r.frameReady:
		}
	}
}

// Connected reports whether the video session is up.
func (r *Receiver) Connected() bool {
	return r.connected.Load()
}

func (r *Receiver) markDisconnected() {
	if r.connected.Swap(false) && !r.closed.Load() {
		r.logger.Warn("head unit video down")
	}
}

func (r *Receiver) setSessionID(id string) {
	r.sessMu.Lock()
	r.sessionID = id
	r.sessMu.Unlock()
}

func (r *Receiver) session() string {
	r.sessMu.Lock()
	defer r.sessMu.Unlock()
	return r.sessionID
}

func (r *Receiver) isClosed() bool {
	return r.closed.Load()
}

// Stats reports receiver counters.
func (r *Receiver) Stats() Stats {
	return Stats{
		PacketsReceived: r.packets.Load(),
		FramesDecoded:   r.frames.Load(),
		Connected:       r.connected.Load(),
	}
}

// Stats contains receiver counters for the dashboard.
type Stats struct {
	PacketsReceived uint64 `json:"packets_received"`
	FramesDecoded   uint64 `json:"frames_decoded"`
	Connected       bool   `json:"connected"`
}

// teardown releases a half-built connection during Connect.
func (r *Receiver) teardown() {
	if r.pc != nil {
		r.pc.Close()
	}
	if r.ws != nil {
		r.ws.Close()
	}
}

// Close tears down the peer connection and signalling socket. Safe to call
// more than once.
func (r *Receiver) Close() error {
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		r.connected.Store(false)
		close(r.closeCh)
		if r.pc != nil {
			r.pc.Close()
		}
		if r.ws != nil {
			r.ws.Close()
		}
		r.logger.Info("receiver closed", "frames", r.frames.Load())
	})
	return nil
}
