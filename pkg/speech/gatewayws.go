package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	providerGatewayWS = "gateway-ws"

	keepaliveInterval  = 30 * time.Second
	reconnectBaseDelay = 1 * time.Second
	reconnectMaxDelay  = 30 * time.Second
)

// GatewayWS implements Provider over the gateway's stream-input WebSocket.
// The socket is long-lived and carries one utterance at a time: a start/
// text/end message sequence goes up, base64 audio chunks come back until a
// final marker. Lost connections reconnect in the background with
// exponential backoff; while the socket is down, calls fail fast so a
// chain can fall through to the HTTP provider.
type GatewayWS struct {
	config *Config
	logger *slog.Logger

	conn         *websocket.Conn
	connMu       sync.Mutex
	connected    bool
	reconnecting bool

	// One utterance on the wire at a time. The turn coordinator already
	// serializes speech, so waiters are rare and short-lived.
	sem      chan struct{}
	active   *wsStream
	activeMu sync.Mutex

	ctx       context.Context
	cancel    context.CancelFunc
	closeCh   chan struct{}
	closeOnce sync.Once
}

// NewGatewayWS creates a new WebSocket streaming TTS provider.
func NewGatewayWS(opts ...Option) (*GatewayWS, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &GatewayWS{
		config:  cfg,
		logger:  cfg.Logger.With("component", "speech.gateway_ws"),
		sem:     make(chan struct{}, 1),
		closeCh: make(chan struct{}),
	}, nil
}

// Connect establishes the WebSocket connection (pre-warms for low latency)
// and starts the background read and keepalive loops. If the initial dial
// fails, the provider keeps retrying in the background and the error tells
// the caller the stream path is not available yet.
func (g *GatewayWS) Connect(ctx context.Context) error {
	g.ctx, g.cancel = context.WithCancel(ctx)

	go g.readLoop()
	go g.keepaliveLoop()

	if err := g.dial(); err != nil {
		g.handleDisconnect()
		return err
	}
	return nil
}

// dial establishes the WebSocket connection.
func (g *GatewayWS) dial() error {
	g.connMu.Lock()
	defer g.connMu.Unlock()

	headers := http.Header{}
	if g.config.APIKey != "" {
		headers.Set("Authorization", "Bearer "+g.config.APIKey)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, resp, err := dialer.DialContext(g.ctx, g.wsURL(), headers)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("websocket dial failed: %w", err)
	}

	g.conn = conn
	g.connected = true

	g.logger.Info("stream socket connected", "voice", g.config.Voice)
	return nil
}

// Synthesize converts text to audio by draining the stream into a buffer.
func (g *GatewayWS) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	start := time.Now()

	stream, err := g.Stream(ctx, text)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	// Abort the stream if the caller gives up mid-drain.
	stop := context.AfterFunc(ctx, func() { stream.Close() })
	defer stop()

	var buf bytes.Buffer
	var firstByte int64 = -1
	for {
		chunk, err := stream.Read()
		if err != nil {
			if cerr := ctx.Err(); cerr != nil {
				return nil, cerr
			}
			return nil, err
		}
		if chunk == nil {
			break
		}
		if firstByte < 0 {
			firstByte = time.Since(start).Milliseconds()
		}
		buf.Write(chunk)
	}

	format := stream.Format()
	if firstByte < 0 {
		firstByte = time.Since(start).Milliseconds()
	}

	return &AudioResult{
		Audio:     buf.Bytes(),
		Format:    format,
		CharCount: len(text),
		LatencyMs: firstByte,
		Duration:  estimatePCMDuration(buf.Len(), format.SampleRate),
	}, nil
}

// Stream sends one utterance down the socket and returns the audio stream.
// Fails fast with ErrNotConnected while the socket is down.
func (g *GatewayWS) Stream(ctx context.Context, text string) (AudioStream, error) {
	select {
	case g.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	st := &wsStream{
		format: g.outputFormat(),
		chunks: make(chan []byte, 32),
		done:   make(chan struct{}),
		closed: make(chan struct{}),
	}
	st.onDone = func() {
		g.clearActive(st)
		<-g.sem
	}
	st.onAbort = func() { g.sendStop() }

	g.setActive(st)

	if err := g.writeUtterance(text); err != nil {
		st.finish(err)
		// A failed write means the link is gone; not-connected just means
		// the reconnect loop has not caught up yet.
		if !errors.Is(err, ErrNotConnected) {
			g.handleDisconnect()
		}
		return nil, err
	}

	return st, nil
}

// Health reports whether the stream socket is up.
func (g *GatewayWS) Health(ctx context.Context) error {
	if !g.IsConnected() {
		return WrapError(providerGatewayWS, ErrNotConnected)
	}
	return nil
}

// IsConnected returns true if the WebSocket is connected.
func (g *GatewayWS) IsConnected() bool {
	g.connMu.Lock()
	defer g.connMu.Unlock()
	return g.connected
}

// Close terminates the WebSocket connection and cleans up resources.
func (g *GatewayWS) Close() error {
	if g.cancel != nil {
		g.cancel()
	}
	g.closeOnce.Do(func() { close(g.closeCh) })

	g.failActive(ErrStreamClosed)

	g.connMu.Lock()
	defer g.connMu.Unlock()

	if g.conn != nil {
		// Send close message
		g.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		g.conn.Close()
		g.conn = nil
	}
	g.connected = false

	return nil
}

// writeUtterance sends the start/text/end sequence for one utterance.
// Writes hold connMu: gorilla allows only one concurrent writer.
func (g *GatewayWS) writeUtterance(text string) error {
	g.connMu.Lock()
	defer g.connMu.Unlock()

	if !g.connected || g.conn == nil {
		return WrapError(providerGatewayWS, ErrNotConnected)
	}

	start := map[string]interface{}{
		"type":          "start",
		"format":        string(g.config.OutputFormat),
		"speaking_rate": g.config.SpeakingRate,
	}
	if g.config.Voice != "" {
		start["voice"] = g.config.Voice
	}

	msgs := []interface{}{
		start,
		map[string]interface{}{"type": "text", "text": text},
		map[string]interface{}{"type": "end"},
	}
	for _, msg := range msgs {
		if err := g.conn.WriteJSON(msg); err != nil {
			return WrapError(providerGatewayWS, fmt.Errorf("send utterance: %w", err))
		}
	}
	return nil
}

// sendStop aborts the in-flight synthesis. The gateway answers a stop with
// a final marker, which releases the socket for the next utterance.
func (g *GatewayWS) sendStop() {
	g.connMu.Lock()
	defer g.connMu.Unlock()

	if !g.connected || g.conn == nil {
		return
	}
	if err := g.conn.WriteJSON(map[string]string{"type": "stop"}); err != nil {
		g.logger.Warn("failed to send stop", "error", err)
	}
}

// readLoop reads audio chunks from the WebSocket.
func (g *GatewayWS) readLoop() {
	for {
		select {
		case <-g.ctx.Done():
			return
		case <-g.closeCh:
			return
		default:
		}

		g.connMu.Lock()
		conn := g.conn
		g.connMu.Unlock()

		if conn == nil {
			time.Sleep(100 * time.Millisecond)
			continue
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.logger.Error("stream socket read error", "error", err)
			}
			g.handleDisconnect()
			continue
		}

		g.handleMessage(message)
	}
}

// handleMessage parses one server message and routes it to the active stream.
func (g *GatewayWS) handleMessage(message []byte) {
	var msg struct {
		Type  string `json:"type"`
		Audio string `json:"audio"`
		Final bool   `json:"final"`
		Error struct {
			Message string `json:"message"`
			Code    string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(message, &msg); err != nil {
		g.logger.Warn("failed to parse stream message", "error", err)
		return
	}

	g.activeMu.Lock()
	st := g.active
	g.activeMu.Unlock()
	if st == nil {
		// Audio for an utterance nobody is waiting on anymore.
		return
	}

	switch msg.Type {
	case "audio":
		if msg.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(msg.Audio)
			if err != nil {
				g.logger.Warn("failed to decode audio chunk", "error", err)
			} else {
				st.deliver(chunk)
			}
		}
		if msg.Final {
			st.finish(nil)
		}
	case "error":
		st.finish(&APIError{
			Message:  msg.Error.Message,
			Code:     msg.Error.Code,
			Provider: providerGatewayWS,
		})
	default:
		g.logger.Debug("unknown stream message", "type", msg.Type)
	}
}

// keepaliveLoop sends periodic pings to maintain the connection.
func (g *GatewayWS) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-g.ctx.Done():
			return
		case <-g.closeCh:
			return
		case <-ticker.C:
			g.connMu.Lock()
			var err error
			if g.connected && g.conn != nil {
				err = g.conn.WriteMessage(websocket.PingMessage, nil)
			}
			g.connMu.Unlock()

			if err != nil {
				g.logger.Warn("keepalive ping failed", "error", err)
				g.handleDisconnect()
			}
		}
	}
}

// handleDisconnect handles connection loss and triggers reconnection.
func (g *GatewayWS) handleDisconnect() {
	g.connMu.Lock()
	if g.conn != nil {
		g.conn.Close()
		g.conn = nil
	}
	g.connected = false
	wasReconnecting := g.reconnecting
	g.reconnecting = true
	g.connMu.Unlock()

	g.failActive(ErrNotConnected)

	// Only start one reconnection goroutine
	if !wasReconnecting {
		go g.reconnectLoop()
	}
}

// reconnectLoop attempts to reconnect with exponential backoff.
func (g *GatewayWS) reconnectLoop() {
	delay := reconnectBaseDelay

	for {
		select {
		case <-g.ctx.Done():
			return
		case <-g.closeCh:
			return
		case <-time.After(delay):
		}

		g.logger.Info("attempting to reconnect", "delay", delay)
		if err := g.dial(); err != nil {
			g.logger.Warn("reconnect failed", "error", err)
			// Exponential backoff
			delay *= 2
			if delay > reconnectMaxDelay {
				delay = reconnectMaxDelay
			}
			continue
		}

		g.connMu.Lock()
		g.reconnecting = false
		g.connMu.Unlock()
		g.logger.Info("reconnected")
		return
	}
}

// setActive registers the stream receiving server audio.
func (g *GatewayWS) setActive(st *wsStream) {
	g.activeMu.Lock()
	g.active = st
	g.activeMu.Unlock()
}

// clearActive unregisters the stream if it is still the active one.
func (g *GatewayWS) clearActive(st *wsStream) {
	g.activeMu.Lock()
	if g.active == st {
		g.active = nil
	}
	g.activeMu.Unlock()
}

// failActive finishes the in-flight stream with an error, if there is one.
func (g *GatewayWS) failActive(err error) {
	g.activeMu.Lock()
	st := g.active
	g.activeMu.Unlock()
	if st != nil {
		st.finish(err)
	}
}

// outputFormat returns the audio format configuration.
func (g *GatewayWS) outputFormat() AudioFormat {
	return AudioFormat{
		Encoding:   g.config.OutputFormat,
		SampleRate: SampleRateFromEncoding(g.config.OutputFormat),
		Channels:   1,
		BitDepth:   16,
	}
}

// wsURL derives the stream socket URL from the configured endpoint.
func (g *GatewayWS) wsURL() string {
	u := strings.TrimSuffix(g.config.Endpoint, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + PathSpeechStream
}

// wsStream is one utterance's audio arriving over the shared socket.
// The provider's read loop delivers chunks; finish is called exactly once
// when the final marker, an error, or a disconnect ends the utterance.
type wsStream struct {
	format AudioFormat

	chunks chan []byte
	done   chan struct{} // closed by finish
	closed chan struct{} // closed by Close

	closeOnce  sync.Once
	finishOnce sync.Once

	mu  sync.Mutex
	err error

	onDone  func() // releases the socket for the next utterance
	onAbort func() // tells the gateway to stop synthesizing
}

// Read returns the next audio chunk. Returns nil when the utterance is
// complete, or the terminal error if synthesis failed mid-stream.
func (s *wsStream) Read() ([]byte, error) {
	select {
	case chunk := <-s.chunks:
		return chunk, nil
	case <-s.done:
		// Drain chunks buffered before the final marker.
		select {
		case chunk := <-s.chunks:
			return chunk, nil
		default:
		}
		return nil, s.failure()
	case <-s.closed:
		return nil, ErrStreamClosed
	}
}

// Close abandons the stream. If synthesis is still in flight the gateway
// is told to stop; the socket frees up once the stop is acknowledged.
func (s *wsStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)

		select {
		case <-s.done:
			// Already finished; nothing on the wire.
		default:
			if s.onAbort != nil {
				s.onAbort()
			}
		}
	})
	return nil
}

// Format returns the audio format.
func (s *wsStream) Format() AudioFormat {
	return s.format
}

// deliver hands a chunk to the reader, dropping it if the stream has
// already ended or been abandoned.
func (s *wsStream) deliver(chunk []byte) {
	select {
	case s.chunks <- chunk:
	case <-s.done:
	case <-s.closed:
	}
}

// finish ends the utterance exactly once and releases the socket.
func (s *wsStream) finish(err error) {
	s.finishOnce.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
		if s.onDone != nil {
			s.onDone()
		}
	})
}

func (s *wsStream) failure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Verify GatewayWS implements Provider at compile time.
var _ Provider = (*GatewayWS)(nil)
