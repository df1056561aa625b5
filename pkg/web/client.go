package web

import (
	"time"

	"github.com/gofiber/websocket/v2"
)

const (
	// writeWait bounds a single socket write.
	writeWait = 10 * time.Second

	// pongWait is how long a client may stay silent before the
	// connection is considered dead.
	pongWait = 60 * time.Second

	// pingPeriod must be shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize caps inbound messages. Dashboard clients only
	// send pongs, so this stays small.
	maxMessageSize = 4 * 1024
)

// wsClient is one dashboard socket subscribed to a hub stream.
type wsClient struct {
	hub  *hub
	conn *websocket.Conn
	send chan message
}

// newWSClient registers a connection with the hub. Returns nil when the
// hub has already stopped.
func newWSClient(h *hub, conn *websocket.Conn) *wsClient {
	client := &wsClient{
		hub:  h,
		conn: conn,
		send: make(chan message, 256),
	}
	select {
	case h.register <- client:
		return client
	case <-h.stop:
		return nil
	}
}

// run pumps messages until the connection drops. Blocks; call from the
// websocket handler so fiber keeps the connection open.
func (c *wsClient) run() {
	go c.writePump()
	c.readPump()
}

// readPump drains inbound frames. Clients never send data; reading is
// how disconnects and pongs are noticed.
func (c *wsClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.stop:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump is the only goroutine that writes to the connection.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub released this client.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			wsType := websocket.TextMessage
			if msg.kind == binaryMessage {
				wsType = websocket.BinaryMessage
			}
			if err := c.conn.WriteMessage(wsType, msg.data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
