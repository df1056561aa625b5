package web

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// messageKind selects the websocket frame type for a broadcast.
type messageKind int

const (
	jsonMessage messageKind = iota
	binaryMessage
)

// message is one payload queued for fan-out.
type message struct {
	kind messageKind
	data []byte
}

// hub fans messages out to every socket subscribed to one dashboard
// stream. A single run loop owns the client set; clients whose send
// buffer fills are dropped rather than allowed to stall the rest.
type hub struct {
	name   string
	logger *slog.Logger

	clients    map[*wsClient]bool
	broadcast  chan message
	register   chan *wsClient
	unregister chan *wsClient

	mu       sync.RWMutex
	stop     chan struct{}
	stopOnce sync.Once
}

func newHub(name string, logger *slog.Logger) *hub {
	return &hub{
		name:       name,
		logger:     logger,
		clients:    make(map[*wsClient]bool),
		broadcast:  make(chan message, 256),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		stop:       make(chan struct{}),
	}
}

// run owns the client set until close. Call in a goroutine.
func (h *hub) run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("dashboard client connected", "stream", h.name, "total", count)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("dashboard client disconnected", "stream", h.name, "remaining", count)

		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- msg:
				default:
					// Buffer full: the client is not keeping up.
					close(client.send)
					delete(h.clients, client)
					h.logger.Warn("dropped slow dashboard client", "stream", h.name)
				}
			}
			h.mu.Unlock()

		case <-h.stop:
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return
		}
	}
}

// close stops the run loop and releases every client.
func (h *hub) close() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// send enqueues a broadcast without blocking; when the queue is full the
// message is dropped, never the caller.
func (h *hub) send(msg message) {
	select {
	case h.broadcast <- msg:
	case <-h.stop:
	default:
		h.logger.Warn("broadcast queue full, dropping message", "stream", h.name)
	}
}

// sendJSON encodes v and broadcasts it as a text frame.
func (h *hub) sendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.send(message{kind: jsonMessage, data: data})
	return nil
}

// sendBinary broadcasts raw bytes, used for camera frames.
func (h *hub) sendBinary(data []byte) {
	h.send(message{kind: binaryMessage, data: data})
}

// clientCount returns the number of subscribed sockets.
func (h *hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
