// Package web serves the operator dashboard: live system state, an
// event timeline, capability latency figures and a mirror of the
// camera feed, pushed over WebSocket to a plain HTML page. It observes
// the pipeline through callbacks and snapshots and sits in no hot path.
package web

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"
)

// State is the live snapshot pushed to status sockets whenever it
// changes.
type State struct {
	Link       string `json:"link"`        // connectivity: online, degraded, offline
	HeadUnits  int    `json:"head_units"`  // connected head units
	VideoUp    bool   `json:"video_up"`    // head-unit video flowing
	Listening  bool   `json:"listening"`   // wearer speech in progress
	Speaking   bool   `json:"speaking"`    // playback in progress
	LastHeard  string `json:"last_heard"`  // newest transcript
	LastSpoken string `json:"last_spoken"` // newest played utterance
	SceneBrief string `json:"scene_brief"` // newest scene description
}

// Event is one line in the dashboard timeline.
type Event struct {
	Time    string `json:"time"`
	Kind    string `json:"kind"` // frame, segment, dispatch, speak, error
	Message string `json:"message"`
}

// ConversationEntry is one exchange between the wearer and the
// assistant.
type ConversationEntry struct {
	Time    string `json:"time"`
	Role    string `json:"role"` // wearer, assistant
	Message string `json:"message"`
}

// statusMessage wraps status-socket payloads so one socket carries both
// state changes and periodic latency snapshots.
type statusMessage struct {
	Type string `json:"type"` // state, latency
	Data any    `json:"data"`
}

// Server is the dashboard HTTP/WebSocket server.
type Server struct {
	config Config
	logger *slog.Logger
	app    *fiber.App

	state   State
	stateMu sync.RWMutex

	events   []Event
	eventsMu sync.RWMutex

	conversation   []ConversationEntry
	conversationMu sync.RWMutex

	statusHub *hub
	eventHub  *hub
	cameraHub *hub

	statsMu sync.RWMutex
	stats   map[string]func() any

	// LatencySnapshot supplies the per-capability latency buckets served
	// at /api/latency and pushed periodically to status sockets. Set
	// before Start.
	LatencySnapshot func() any

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
}

// NewServer creates the dashboard server and registers its routes.
func NewServer(opts ...Option) (*Server, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("web: %w", err)
	}

	logger := cfg.Logger.With("component", "web")
	s := &Server{
		config:       cfg,
		logger:       logger,
		events:       make([]Event, 0, eventBufferSize),
		conversation: make([]ConversationEntry, 0, conversationBufferSize),
		statusHub:    newHub("status", logger),
		eventHub:     newHub("events", logger),
		cameraHub:    newHub("camera", logger),
		stats:        make(map[string]func() any),
		stopCh:       make(chan struct{}),
	}

	app := fiber.New(fiber.Config{
		AppName:               "iris dashboard",
		DisableStartupMessage: true,
	})
	app.Use(cors.New())

	app.Get("/", s.handlePage)

	api := app.Group("/api")
	api.Get("/state", s.handleState)
	api.Get("/events", s.handleEvents)
	api.Get("/conversation", s.handleConversation)
	api.Get("/latency", s.handleLatency)
	api.Get("/stats", s.handleStats)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/status", websocket.New(s.handleStatusWS))
	app.Get("/ws/events", websocket.New(func(conn *websocket.Conn) {
		s.serveStream(s.eventHub, conn)
	}))
	app.Get("/ws/camera", websocket.New(func(conn *websocket.Conn) {
		s.serveStream(s.cameraHub, conn)
	}))

	s.app = app
	return s, nil
}

// Start serves the dashboard on the configured address. Blocks until
// Shutdown or a listen failure.
func (s *Server) Start() error {
	s.begin()
	s.logger.Info("dashboard listening", "addr", s.config.Addr)
	return s.app.Listen(s.config.Addr)
}

// Serve serves the dashboard on an existing listener.
func (s *Server) Serve(ln net.Listener) error {
	s.begin()
	s.logger.Info("dashboard listening", "addr", ln.Addr().String())
	return s.app.Listener(ln)
}

func (s *Server) begin() {
	s.startOnce.Do(func() {
		go s.statusHub.run()
		go s.eventHub.run()
		go s.cameraHub.run()
		go s.latencyLoop()
	})
}

// Shutdown stops the HTTP server and releases every dashboard socket.
func (s *Server) Shutdown() error {
	err := s.app.Shutdown()
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.statusHub.close()
	s.eventHub.close()
	s.cameraHub.close()
	return err
}

// UpdateState applies a mutation to the live state and broadcasts the
// result to status sockets.
func (s *Server) UpdateState(update func(*State)) {
	s.stateMu.Lock()
	update(&s.state)
	state := s.state
	s.stateMu.Unlock()

	s.statusHub.sendJSON(statusMessage{Type: "state", Data: state})
}

// CurrentState returns a copy of the live state.
func (s *Server) CurrentState() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// AddEvent appends a timeline entry and broadcasts it to event sockets.
func (s *Server) AddEvent(kind, msg string) {
	entry := Event{
		Time:    time.Now().Format("15:04:05"),
		Kind:    kind,
		Message: msg,
	}

	s.eventsMu.Lock()
	s.events = append(s.events, entry)
	if len(s.events) > eventBufferSize {
		s.events = s.events[1:]
	}
	s.eventsMu.Unlock()

	s.eventHub.sendJSON(entry)
}

// AddConversation records one exchange for the conversation view.
func (s *Server) AddConversation(role, msg string) {
	entry := ConversationEntry{
		Time:    time.Now().Format("15:04:05"),
		Role:    role,
		Message: msg,
	}

	s.conversationMu.Lock()
	s.conversation = append(s.conversation, entry)
	if len(s.conversation) > conversationBufferSize {
		s.conversation = s.conversation[1:]
	}
	s.conversationMu.Unlock()
}

// SendCameraFrame mirrors a JPEG frame to camera sockets.
func (s *Server) SendCameraFrame(jpeg []byte) {
	s.cameraHub.sendBinary(jpeg)
}

// AddStatsSource exposes a named component snapshot under /api/stats.
// Sources are polled on request, never in a hot path.
func (s *Server) AddStatsSource(name string, fn func() any) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	s.stats[name] = fn
}

// latencyLoop pushes latency snapshots to status sockets while anyone
// is watching.
func (s *Server) latencyLoop() {
	ticker := time.NewTicker(s.config.LatencyInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if s.LatencySnapshot == nil || s.statusHub.clientCount() == 0 {
				continue
			}
			s.statusHub.sendJSON(statusMessage{Type: "latency", Data: s.LatencySnapshot()})
		}
	}
}

// handleStatusWS seeds a new status socket with the current state, then
// hands it to the hub for live updates.
func (s *Server) handleStatusWS(conn *websocket.Conn) {
	seed, err := json.Marshal(statusMessage{Type: "state", Data: s.CurrentState()})
	if err == nil {
		conn.WriteMessage(websocket.TextMessage, seed)
	}
	s.serveStream(s.statusHub, conn)
}

// serveStream subscribes a connection to a hub and pumps it until the
// connection drops.
func (s *Server) serveStream(h *hub, conn *websocket.Conn) {
	client := newWSClient(h, conn)
	if client == nil {
		conn.Close()
		return
	}
	client.run()
}

func (s *Server) handlePage(c *fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
	return c.SendString(indexHTML)
}

func (s *Server) handleState(c *fiber.Ctx) error {
	return c.JSON(s.CurrentState())
}

func (s *Server) handleEvents(c *fiber.Ctx) error {
	s.eventsMu.RLock()
	events := make([]Event, len(s.events))
	copy(events, s.events)
	s.eventsMu.RUnlock()

	return c.JSON(fiber.Map{
		"events": events,
		"count":  len(events),
	})
}

func (s *Server) handleConversation(c *fiber.Ctx) error {
	s.conversationMu.RLock()
	entries := make([]ConversationEntry, len(s.conversation))
	copy(entries, s.conversation)
	s.conversationMu.RUnlock()

	return c.JSON(fiber.Map{
		"conversation": entries,
		"count":        len(entries),
	})
}

func (s *Server) handleLatency(c *fiber.Ctx) error {
	if s.LatencySnapshot == nil {
		return c.JSON(fiber.Map{})
	}
	return c.JSON(s.LatencySnapshot())
}

func (s *Server) handleStats(c *fiber.Ctx) error {
	s.statsMu.RLock()
	out := make(fiber.Map, len(s.stats))
	for name, fn := range s.stats {
		out[name] = fn()
	}
	s.statsMu.RUnlock()
	return c.JSON(out)
}
