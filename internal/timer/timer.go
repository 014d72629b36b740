package timer

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/eshcamp/esh/internal/events"
)

// Timer is the shared countdown. There is exactly one per process; every read
// and write goes through its mutex, and each mutation broadcasts the
// resulting state under that same lock so concurrent transitions cannot
// interleave their updates out of order.
type Timer struct {
	mu          sync.Mutex
	clock       clockwork.Clock
	broadcaster events.Broadcaster

	endTime   time.Time // zero when never started or reset
	duration  int64     // seconds, as of the last start
	pausedAt  time.Time // zero unless currently frozen
	isRunning bool
}

// New creates an idle timer.
func New(clock clockwork.Clock, broadcaster events.Broadcaster) *Timer {
	return &Timer{clock: clock, broadcaster: broadcaster}
}

// Start arms the countdown for the given number of seconds, overwriting any
// prior timer regardless of its state.
func (t *Timer) Start(durationSeconds int64) events.TimerSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.endTime = t.clock.Now().Add(time.Duration(durationSeconds) * time.Second)
	t.duration = durationSeconds
	t.pausedAt = time.Time{}
	t.isRunning = true

	snap := t.snapshotLocked()
	t.broadcaster.Broadcast(events.NewTimerUpdate(snap))
	log.Info().Int64("duration_seconds", durationSeconds).Msg("timer started")
	return snap
}

// TogglePause freezes a running timer or resumes a frozen one. Resuming
// shifts the deadline forward by however long the pause lasted, so the
// remaining time is exactly what it was at the moment of the pause. A timer
// that is not running is left untouched.
func (t *Timer) TogglePause() events.TimerSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.isRunning {
		return t.snapshotLocked()
	}

	if !t.pausedAt.IsZero() {
		pausedFor := t.clock.Now().Sub(t.pausedAt)
		t.endTime = t.endTime.Add(pausedFor)
		t.pausedAt = time.Time{}
		log.Info().Dur("paused_for", pausedFor).Msg("timer resumed")
	} else {
		t.pausedAt = t.clock.Now()
		log.Info().Msg("timer paused")
	}

	snap := t.snapshotLocked()
	t.broadcaster.Broadcast(events.NewTimerUpdate(snap))
	return snap
}

// Reset returns the timer to idle from any state.
func (t *Timer) Reset() events.TimerSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.endTime = time.Time{}
	t.duration = 0
	t.pausedAt = time.Time{}
	t.isRunning = false

	snap := t.snapshotLocked()
	t.broadcaster.Broadcast(events.NewTimerUpdate(snap))
	log.Info().Msg("timer reset")
	return snap
}

// Snapshot returns the current state.
func (t *Timer) Snapshot() events.TimerSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Timer) snapshotLocked() events.TimerSnapshot {
	snap := events.TimerSnapshot{
		Duration:  t.duration,
		IsRunning: t.isRunning,
	}
	if !t.endTime.IsZero() {
		end := t.endTime.Unix()
		snap.EndTime = &end
	}
	if !t.pausedAt.IsZero() {
		paused := t.pausedAt.Unix()
		snap.PausedAt = &paused
	}
	return snap
}

// Run drives the timer at a fixed one-second period until ctx is cancelled.
// While the timer runs unpaused each tick broadcasts the state; the tick that
// observes expiry flips is_running off and broadcasts exactly one final
// update.
func (t *Timer) Run(ctx context.Context) {
	ticker := t.clock.NewTicker(time.Second)
	defer ticker.Stop()

	log.Info().Msg("timer driver started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("timer driver stopped")
			return
		case <-ticker.Chan():
			t.tick()
		}
	}
}

// tick takes the same lock as the manual operations, so a start, pause or
// reset racing the expiry check resolves to whichever transition lands last.
func (t *Timer) tick() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.isRunning || !t.pausedAt.IsZero() {
		return
	}

	t.broadcaster.Broadcast(events.NewTimerUpdate(t.snapshotLocked()))

	if !t.clock.Now().Before(t.endTime) {
		t.isRunning = false
		t.broadcaster.Broadcast(events.NewTimerUpdate(t.snapshotLocked()))
		log.Info().Msg("timer finished")
	}
}
