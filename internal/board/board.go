// Package board owns the process-wide pinned announcement.
package board

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/eshcamp/esh/internal/events"
)

// Board holds at most one pinned message. Writes replace the previous value;
// the mutation and its broadcast happen under one lock so two concurrent pins
// cannot cross their updates.
type Board struct {
	mu          sync.Mutex
	pinned      *string
	broadcaster events.Broadcaster
}

// New creates an empty board.
func New(broadcaster events.Broadcaster) *Board {
	return &Board{broadcaster: broadcaster}
}

// Pin replaces the pinned message and announces it.
func (b *Board) Pin(text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pinned = &text
	b.broadcaster.Broadcast(events.NewPinned(text))
	log.Info().Msg("message pinned")
}

// Unpin clears the pinned message and announces the removal.
func (b *Board) Unpin() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pinned = nil
	b.broadcaster.Broadcast(events.NewPinRemoved())
	log.Info().Msg("pinned message removed")
}

// Pinned returns the current message and whether one is set.
func (b *Board) Pinned() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pinned == nil {
		return "", false
	}
	return *b.pinned, true
}
