package gateway

import (
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eshcamp/esh/internal/events"
)

// fakeSocket records text frames and can be told to fail writes, standing in
// for a client whose connection is already dead.
type fakeSocket struct {
	mu         sync.Mutex
	frames     [][]byte
	failWrites bool
	closed     bool
}

func (f *fakeSocket) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrites || f.closed {
		return errors.New("use of closed network connection")
	}
	if messageType == websocket.TextMessage {
		copied := make([]byte, len(data))
		copy(copied, data)
		f.frames = append(f.frames, copied)
	}
	return nil
}

func (f *fakeSocket) ReadMessage() (int, []byte, error) {
	return 0, nil, errors.New("not used in tests")
}

func (f *fakeSocket) SetReadLimit(int64) {}

func (f *fakeSocket) SetReadDeadline(time.Time) error { return nil }

func (f *fakeSocket) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeSocket) SetPongHandler(func(string) error) {}

func (f *fakeSocket) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSocket) frameCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func (f *fakeSocket) frame(i int) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frames[i]
}

func attach(hub *Hub, id string, sock *fakeSocket) *Connection {
	conn := newConnection(id, "user-"+id, sock, hub)
	hub.Register(conn)
	go conn.writePump()
	return conn
}

func TestBroadcastReachesAllConnections(t *testing.T) {
	hub := NewHub(DefaultConfig())
	socks := []*fakeSocket{{}, {}, {}}
	for i, s := range socks {
		attach(hub, string(rune('a'+i)), s)
	}

	hub.Broadcast(events.NewCoinsUpdate("u1", 42))

	for _, s := range socks {
		require.Eventually(t, func() bool { return s.frameCount() == 1 },
			time.Second, 5*time.Millisecond)
		assert.JSONEq(t, `{"type":"coins_update","user_id":"u1","esh":42}`, string(s.frame(0)))
	}
}

func TestBroadcastIsolatesFailedConnection(t *testing.T) {
	hub := NewHub(DefaultConfig())
	dead := &fakeSocket{failWrites: true}
	alive1, alive2 := &fakeSocket{}, &fakeSocket{}
	attach(hub, "dead", dead)
	attach(hub, "alive1", alive1)
	attach(hub, "alive2", alive2)

	hub.Broadcast(events.NewPinned("hello"))

	// Healthy connections still get the event; the dead one is removed.
	require.Eventually(t, func() bool {
		return alive1.frameCount() == 1 && alive2.frameCount() == 1
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return hub.Len() == 2 },
		time.Second, 5*time.Millisecond)
}

func TestBroadcastOrderPreservedPerConnection(t *testing.T) {
	hub := NewHub(DefaultConfig())
	sock := &fakeSocket{}
	attach(hub, "a", sock)

	for i := 0; i < 20; i++ {
		hub.Broadcast(events.NewCoinsUpdate("u", int64(i)))
	}

	require.Eventually(t, func() bool { return sock.frameCount() == 20 },
		time.Second, 5*time.Millisecond)
	for i := 0; i < 20; i++ {
		assert.Contains(t, string(sock.frame(i)), `"esh":`+strconv.Itoa(i))
	}
}

func TestSlowConnectionIsEvicted(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SendBufferSize = 1
	hub := NewHub(cfg)

	sock := &fakeSocket{}
	conn := newConnection("slow", "user-slow", sock, hub)
	hub.Register(conn)
	// No write pump: the buffer never drains, as with a stalled client.

	hub.Broadcast(events.NewPinned("one"))
	hub.Broadcast(events.NewPinned("two"))

	assert.Equal(t, 0, hub.Len())
	sock.mu.Lock()
	assert.True(t, sock.closed)
	sock.mu.Unlock()
}

func TestUnregisterDuringBroadcastDoesNotPanic(t *testing.T) {
	hub := NewHub(DefaultConfig())
	sock := &fakeSocket{}
	conn := attach(hub, "a", sock)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			hub.Broadcast(events.NewPinned("x"))
		}
	}()
	hub.Unregister(conn)
	<-done

	assert.Equal(t, 0, hub.Len())
}
