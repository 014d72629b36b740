package gateway

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/eshcamp/esh/internal/events"
)

// Hub tracks live client connections and fans events out to all of them.
// Registration and broadcast iteration never block each other: Broadcast works
// from a snapshot taken under a read lock, so connections added mid-broadcast
// simply miss that event and connections dropping mid-broadcast fail only
// themselves.
type Hub struct {
	mu    sync.RWMutex
	conns map[*Connection]struct{}

	// Serializes fan-out so that two Broadcast calls enqueue in call order
	// on every connection's outbound stream.
	sendMu sync.Mutex

	config   Config
	upgrader websocket.Upgrader
}

// Config holds connection tuning knobs.
type Config struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	SendBufferSize  int
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConfig returns the default connection configuration.
func DefaultConfig() Config {
	return Config{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024,
		SendBufferSize:  256,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// NewHub creates an empty hub.
func NewHub(config Config) *Hub {
	return &Hub{
		conns:  make(map[*Connection]struct{}),
		config: config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
	}
}

// Register adds a connection to the hub.
func (h *Hub) Register(conn *Connection) {
	h.mu.Lock()
	h.conns[conn] = struct{}{}
	total := len(h.conns)
	h.mu.Unlock()

	log.Debug().
		Str("connection_id", conn.id).
		Str("user_id", conn.userID).
		Int("total_connections", total).
		Msg("connection registered")
}

// Unregister removes a connection and closes its outbound channel. Safe to
// call more than once for the same connection.
func (h *Hub) Unregister(conn *Connection) {
	h.mu.Lock()
	_, ok := h.conns[conn]
	if ok {
		delete(h.conns, conn)
	}
	total := len(h.conns)
	h.mu.Unlock()

	if ok {
		conn.closeSend()
		log.Info().
			Str("connection_id", conn.id).
			Str("user_id", conn.userID).
			Int("total_connections", total).
			Msg("connection unregistered")
	}
}

// Len reports the number of registered connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Broadcast serializes the event once and enqueues it on every registered
// connection. A connection whose outbound buffer is full is evicted rather
// than allowed to stall the others; failures never reach the caller.
func (h *Hub) Broadcast(event events.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(event.EventType())).
			Msg("failed to marshal event for broadcast")
		return
	}
	h.BroadcastRaw(data)

	log.Debug().
		Str("event_type", string(event.EventType())).
		Msg("event broadcast")
}

// BroadcastRaw fans out an already-serialized event. Used by the relay to
// re-deliver events published by peer instances without re-encoding.
func (h *Hub) BroadcastRaw(data []byte) {
	h.sendMu.Lock()
	defer h.sendMu.Unlock()

	h.mu.RLock()
	snapshot := make([]*Connection, 0, len(h.conns))
	for conn := range h.conns {
		snapshot = append(snapshot, conn)
	}
	h.mu.RUnlock()

	for _, conn := range snapshot {
		if !conn.enqueue(data) {
			log.Warn().
				Str("connection_id", conn.id).
				Str("user_id", conn.userID).
				Msg("connection send buffer full, closing connection")
			h.Unregister(conn)
			conn.sock.Close()
		}
	}
}
