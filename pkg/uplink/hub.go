// Package uplink hosts the WebSocket hub the head unit dials into. Camera
// frames, microphone audio and status flow up; synthesized speech and
// configuration changes flow back down the same socket, all wrapped in the
// protocol envelope shared with the head-unit firmware.
package uplink

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/irisware/go-iris/pkg/protocol"
)

// Unit is one connected head unit.
type Unit struct {
	ID        string
	Conn      *websocket.Conn
	Connected time.Time
	LastSeen  time.Time

	mu sync.Mutex
}

// Send writes one envelope to the unit. Writes are serialized per
// connection.
func (u *Unit) Send(msg *protocol.Message) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	data, err := msg.Bytes()
	if err != nil {
		return err
	}
	return u.Conn.WriteMessage(websocket.TextMessage, data)
}

// Hub manages head-unit WebSocket connections.
type Hub struct {
	config Config
	logger *slog.Logger

	mu    sync.RWMutex
	units map[string]*Unit

	onFrame func(unitID string, frame *protocol.FrameData)
	onMic   func(unitID string, mic *protocol.MicData)
	onState func(unitID string, state *protocol.StateData)

	messagesReceived atomic.Uint64
	messagesSent     atomic.Uint64
	framesReceived   atomic.Uint64
	micChunks        atomic.Uint64
}

// NewHub creates an ingest hub.
func NewHub(opts ...Option) (*Hub, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("uplink: %w", err)
	}

	return &Hub{
		config: cfg,
		logger: cfg.Logger.With("component", "uplink"),
		units:  make(map[string]*Unit),
	}, nil
}

// OnFrame sets the callback for incoming camera frames.
func (h *Hub) OnFrame(callback func(unitID string, frame *protocol.FrameData)) {
	h.mu.Lock()
	h.onFrame = callback
	h.mu.Unlock()
}

// OnMic sets the callback for incoming microphone audio.
func (h *Hub) OnMic(callback func(unitID string, mic *protocol.MicData)) {
	h.mu.Lock()
	h.onMic = callback
	h.mu.Unlock()
}

// OnState sets the callback for incoming head-unit status.
func (h *Hub) OnState(callback func(unitID string, state *protocol.StateData)) {
	h.mu.Lock()
	h.onState = callback
	h.mu.Unlock()
}

// RegisterRoutes registers the WebSocket endpoints on a Fiber app.
func (h *Hub) RegisterRoutes(app *fiber.App) {
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/head", websocket.New(h.handleUnit))
	app.Get("/ws/head/:id", websocket.New(h.handleUnit))
}

// handleUnit owns one head-unit connection for its lifetime.
func (h *Hub) handleUnit(c *websocket.Conn) {
	unitID := c.Params("id")
	if unitID == "" {
		unitID = uuid.NewString()
	}

	unit := &Unit{
		ID:        unitID,
		Conn:      c,
		Connected: time.Now(),
		LastSeen:  time.Now(),
	}

	h.mu.Lock()
	h.units[unitID] = unit
	count := len(h.units)
	h.mu.Unlock()

	h.logger.Info("head unit connected", "unit", unitID, "total", count)

	defer func() {
		h.mu.Lock()
		delete(h.units, unitID)
		count := len(h.units)
		h.mu.Unlock()
		h.logger.Info("head unit disconnected", "unit", unitID, "total", count)
	}()

	c.SetReadLimit(h.config.MaxMessageBytes)

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			h.logger.Debug("read ended", "unit", unitID, "error", err)
			return
		}

		unit.mu.Lock()
		unit.LastSeen = time.Now()
		unit.mu.Unlock()

		h.messagesReceived.Add(1)
		h.handleMessage(unitID, data)
	}
}

// handleMessage dispatches one inbound envelope.
func (h *Hub) handleMessage(unitID string, data []byte) {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		h.logger.Warn("bad envelope", "unit", unitID, "error", err)
		return
	}

	h.mu.RLock()
	frameCb := h.onFrame
	micCb := h.onMic
	stateCb := h.onState
	h.mu.RUnlock()

	switch msg.Type {
	case protocol.TypeFrame:
		h.framesReceived.Add(1)
		if frameCb != nil {
			if frame, err := msg.GetFrameData(); err == nil {
				frameCb(unitID, frame)
			}
		}

	case protocol.TypeMic:
		h.micChunks.Add(1)
		if micCb != nil {
			if mic, err := msg.GetMicData(); err == nil {
				micCb(unitID, mic)
			}
		}

	case protocol.TypeState:
		if stateCb != nil {
			if state, err := msg.GetStateData(); err == nil {
				stateCb(unitID, state)
			}
		}

	case protocol.TypePing:
		h.sendPong(unitID, msg.Timestamp)
	}
}

// SendSpeak sends synthesized audio down to a head unit.
func (h *Hub) SendSpeak(unitID string, audio []byte, format string, sampleRate int, final bool) error {
	msg, err := protocol.NewSpeakMessage(audio, format, sampleRate, final)
	if err != nil {
		return err
	}
	return h.sendToUnit(unitID, msg)
}

// SendConfig sends a configuration update to a head unit.
func (h *Hub) SendConfig(unitID string, camera *protocol.CameraConfig, audio *protocol.AudioConfig) error {
	msg, err := protocol.NewConfigMessage(camera, audio)
	if err != nil {
		return err
	}
	return h.sendToUnit(unitID, msg)
}

func (h *Hub) sendPong(unitID string, pingTS int64) {
	msg, err := protocol.NewPongMessage("", pingTS, time.Now().UnixMilli())
	if err != nil {
		return
	}
	if err := h.sendToUnit(unitID, msg); err != nil {
		h.logger.Debug("pong failed", "unit", unitID, "error", err)
	}
}

func (h *Hub) sendToUnit(unitID string, msg *protocol.Message) error {
	h.mu.RLock()
	unit, ok := h.units[unitID]
	h.mu.RUnlock()

	if !ok {
		return fiber.NewError(fiber.StatusNotFound, "head unit not connected")
	}

	h.messagesSent.Add(1)
	return unit.Send(msg)
}

// Broadcast sends one envelope to every connected unit.
func (h *Hub) Broadcast(msg *protocol.Message) {
	h.mu.RLock()
	units := make([]*Unit, 0, len(h.units))
	for _, u := range h.units {
		units = append(units, u)
	}
	h.mu.RUnlock()

	for _, unit := range units {
		h.messagesSent.Add(1)
		if err := unit.Send(msg); err != nil {
			h.logger.Warn("broadcast failed", "unit", unit.ID, "error", err)
		}
	}
}

// GetUnit returns a connected unit by ID, or nil.
func (h *Hub) GetUnit(unitID string) *Unit {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.units[unitID]
}

// UnitCount returns the number of connected units.
func (h *Hub) UnitCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.units)
}

// UnitInfo describes a connected unit for the dashboard.
type UnitInfo struct {
	ID        string    `json:"id"`
	Connected time.Time `json:"connected"`
	LastSeen  time.Time `json:"last_seen"`
}

// Units returns info for every connected unit.
func (h *Hub) Units() []UnitInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()

	infos := make([]UnitInfo, 0, len(h.units))
	for _, u := range h.units {
		u.mu.Lock()
		infos = append(infos, UnitInfo{
			ID:        u.ID,
			Connected: u.Connected,
			LastSeen:  u.LastSeen,
		})
		u.mu.Unlock()
	}
	return infos
}

// Stats contains hub counters.
type Stats struct {
	UnitCount        int    `json:"unit_count"`
	MessagesReceived uint64 `json:"messages_received"`
	MessagesSent     uint64 `json:"messages_sent"`
	FramesReceived   uint64 `json:"frames_received"`
	MicChunks        uint64 `json:"mic_chunks"`
}

// GetStats returns hub counters.
func (h *Hub) GetStats() Stats {
	return Stats{
		UnitCount:        h.UnitCount(),
		MessagesReceived: h.messagesReceived.Load(),
		MessagesSent:     h.messagesSent.Load(),
		FramesReceived:   h.framesReceived.Load(),
		MicChunks:        h.micChunks.Load(),
	}
}

// RegisterAPIRoutes registers the unit management API.
func (h *Hub) RegisterAPIRoutes(api fiber.Router) {
	units := api.Group("/units")

	units.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"units": h.Units(),
			"count": h.UnitCount(),
		})
	})

	units.Get("/stats", func(c *fiber.Ctx) error {
		return c.JSON(h.GetStats())
	})

	units.Post("/:id/config", func(c *fiber.Ctx) error {
		var update protocol.ConfigUpdate
		if err := c.BodyParser(&update); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}

		if err := h.SendConfig(c.Params("id"), update.Camera, update.Audio); err != nil {
			return err
		}
		return c.JSON(fiber.Map{"status": "sent"})
	})
}
