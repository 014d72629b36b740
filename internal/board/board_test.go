package board

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eshcamp/esh/internal/events"
)

type captureBroadcaster struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *captureBroadcaster) Broadcast(ev events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func TestPinReplacesAndBroadcasts(t *testing.T) {
	bc := &captureBroadcaster{}
	b := New(bc)

	_, ok := b.Pinned()
	assert.False(t, ok)

	b.Pin("first")
	b.Pin("second")

	text, ok := b.Pinned()
	require.True(t, ok)
	assert.Equal(t, "second", text)

	require.Len(t, bc.events, 2)
	assert.Equal(t, events.NewPinned("first"), bc.events[0])
	assert.Equal(t, events.NewPinned("second"), bc.events[1])
}

func TestUnpinClearsAndBroadcasts(t *testing.T) {
	bc := &captureBroadcaster{}
	b := New(bc)

	b.Pin("hello")
	b.Unpin()

	_, ok := b.Pinned()
	assert.False(t, ok)
	require.Len(t, bc.events, 2)
	assert.Equal(t, events.TypePinRemoved, bc.events[1].EventType())
}
