package timer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
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

func (c *captureBroadcaster) states() []events.TimerSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	var states []events.TimerSnapshot
	for _, ev := range c.events {
		if tu, ok := ev.(events.TimerUpdate); ok {
			states = append(states, tu.State)
		}
	}
	return states
}

func newTestTimer() (*Timer, *clockwork.FakeClock, *captureBroadcaster) {
	fc := clockwork.NewFakeClock()
	bc := &captureBroadcaster{}
	return New(fc, bc), fc, bc
}

func TestStartArmsCountdown(t *testing.T) {
	tm, fc, bc := newTestTimer()

	snap := tm.Start(10)

	require.True(t, snap.IsRunning)
	assert.EqualValues(t, 10, snap.Duration)
	require.NotNil(t, snap.EndTime)
	assert.Equal(t, fc.Now().Add(10*time.Second).Unix(), *snap.EndTime)
	assert.Nil(t, snap.PausedAt)
	assert.Len(t, bc.states(), 1)
}

func TestStartOverwritesPriorTimer(t *testing.T) {
	tm, fc, _ := newTestTimer()

	tm.Start(10)
	tm.TogglePause()
	snap := tm.Start(20)

	require.True(t, snap.IsRunning)
	assert.Nil(t, snap.PausedAt)
	assert.EqualValues(t, 20, snap.Duration)
	require.NotNil(t, snap.EndTime)
	assert.Equal(t, fc.Now().Add(20*time.Second).Unix(), *snap.EndTime)
}

func TestPauseResumePreservesRemaining(t *testing.T) {
	tm, fc, _ := newTestTimer()

	tm.Start(10)
	fc.Advance(3 * time.Second)

	paused := tm.TogglePause()
	require.NotNil(t, paused.PausedAt)
	require.True(t, paused.IsRunning)

	// However long the pause lasts, 7 seconds must remain on resume.
	fc.Advance(5 * time.Minute)
	resumed := tm.TogglePause()

	require.Nil(t, resumed.PausedAt)
	require.NotNil(t, resumed.EndTime)
	assert.Equal(t, int64(7), *resumed.EndTime-fc.Now().Unix())
}

func TestTogglePauseOnIdleIsNoOp(t *testing.T) {
	tm, _, bc := newTestTimer()

	snap := tm.TogglePause()

	assert.False(t, snap.IsRunning)
	assert.Empty(t, bc.states())
}

func TestResetClearsState(t *testing.T) {
	tm, _, _ := newTestTimer()

	tm.Start(10)
	snap := tm.Reset()

	assert.False(t, snap.IsRunning)
	assert.Nil(t, snap.EndTime)
	assert.Nil(t, snap.PausedAt)
	assert.EqualValues(t, 0, snap.Duration)
}

func TestTickBroadcastsWhileRunning(t *testing.T) {
	tm, fc, bc := newTestTimer()

	tm.Start(10)
	require.Len(t, bc.states(), 1)

	fc.Advance(time.Second)
	tm.tick()
	states := bc.states()
	require.Len(t, states, 2)
	assert.True(t, states[1].IsRunning)
}

func TestTickIsSilentWhilePaused(t *testing.T) {
	tm, fc, bc := newTestTimer()

	tm.Start(10)
	tm.TogglePause()
	before := len(bc.states())

	fc.Advance(time.Second)
	tm.tick()

	assert.Len(t, bc.states(), before)
}

func TestExpiryBroadcastsFinalUpdateOnce(t *testing.T) {
	tm, fc, bc := newTestTimer()

	tm.Start(10)
	fc.Advance(11 * time.Second)

	tm.tick()
	states := bc.states()
	// One state broadcast for the tick plus the final not-running update.
	require.Len(t, states, 3)
	assert.False(t, states[2].IsRunning)

	// Expired timer stays quiet on subsequent ticks.
	fc.Advance(time.Second)
	tm.tick()
	fc.Advance(time.Second)
	tm.tick()
	assert.Len(t, bc.states(), 3)
}

func TestDriverTicksOncePerSecond(t *testing.T) {
	tm, fc, bc := newTestTimer()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tm.Run(ctx)

	fc.BlockUntil(1)
	tm.Start(10)
	fc.Advance(time.Second)

	require.Eventually(t, func() bool {
		return len(bc.states()) >= 2
	}, time.Second, 5*time.Millisecond)
}
