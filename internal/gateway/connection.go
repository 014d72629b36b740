package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// socket is the slice of *websocket.Conn the gateway relies on. Tests swap in
// fakes; production always uses gorilla connections.
type socket interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Connection is one client's websocket session. The hub owns its lifetime;
// the outbound channel preserves the order events were enqueued.
type Connection struct {
	id     string
	userID string
	sock   socket
	send   chan []byte
	hub    *Hub

	mu     sync.Mutex
	closed bool
}

func newConnection(id, userID string, sock socket, hub *Hub) *Connection {
	return &Connection{
		id:     id,
		userID: userID,
		sock:   sock,
		send:   make(chan []byte, hub.config.SendBufferSize),
		hub:    hub,
	}
}

// UserID returns the user this connection authenticated as.
func (c *Connection) UserID() string { return c.userID }

// enqueue offers data to the outbound channel. It reports false only when the
// buffer is full on a live connection; a connection already shut down accepts
// and drops the event.
func (c *Connection) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// closeSend marks the connection closed and closes the outbound channel,
// which stops the write pump. Idempotent.
func (c *Connection) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// writePump drains the outbound channel onto the socket and keeps the
// connection alive with pings. Any write failure ends the connection.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.hub.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.hub.Unregister(c)
		c.sock.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.sock.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if !ok {
				c.sock.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.sock.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Warn().
					Err(err).
					Str("connection_id", c.id).
					Str("user_id", c.userID).
					Msg("websocket write failed")
				return
			}

		case <-ticker.C:
			c.sock.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Warn().
					Err(err).
					Str("connection_id", c.id).
					Msg("websocket ping failed")
				return
			}
		}
	}
}

// readPump discards inbound frames while tracking liveness via read deadlines
// and pong handling. Clients only listen on this feed; a read error means the
// connection is gone.
func (c *Connection) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.sock.Close()
	}()

	c.sock.SetReadLimit(c.hub.config.MaxMessageSize)
	c.sock.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
	c.sock.SetPongHandler(func(string) error {
		c.sock.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
		return nil
	})

	for {
		if _, _, err := c.sock.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().
					Err(err).
					Str("connection_id", c.id).
					Msg("unexpected websocket close")
			}
			return
		}
		c.sock.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
	}
}
