package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/eshcamp/esh/internal/events"
	"github.com/eshcamp/esh/internal/ledger"
)

// PinnedSource exposes the current pinned message, if any.
type PinnedSource interface {
	Pinned() (string, bool)
}

// TimerSource exposes the current countdown state.
type TimerSource interface {
	Snapshot() events.TimerSnapshot
}

// Handler performs the websocket handshake: resolve the user key, register
// the connection and replay the current world state before live events flow.
type Handler struct {
	hub             *Hub
	store           ledger.Store
	pinned          PinnedSource
	timer           TimerSource
	leaderboardSize int
}

// NewHandler wires the handshake dependencies.
func NewHandler(hub *Hub, store ledger.Store, pinned PinnedSource, timer TimerSource, leaderboardSize int) *Handler {
	return &Handler{
		hub:             hub,
		store:           store,
		pinned:          pinned,
		timer:           timer,
		leaderboardSize: leaderboardSize,
	}
}

// ServeWS upgrades the request and attaches the client to the event feed.
// An unknown key refuses the connection before the upgrade; no event is sent.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userKey := r.URL.Query().Get("key")
	if userKey == "" {
		http.Error(w, "missing key", http.StatusUnauthorized)
		return
	}

	user, err := h.store.GetUserByKey(r.Context(), userKey)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			http.Error(w, "invalid user key", http.StatusUnauthorized)
			return
		}
		log.Error().Err(err).Msg("handshake user lookup failed")
		http.Error(w, "store unavailable", http.StatusInternalServerError)
		return
	}

	sock, err := h.hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	conn := newConnection(uuid.New().String(), user.UserID, sock, h.hub)
	h.hub.Register(conn)

	if err := h.sendInitialState(r.Context(), conn); err != nil {
		log.Error().Err(err).Str("user_id", user.UserID).Msg("failed to send initial state")
		h.hub.Unregister(conn)
		sock.Close()
		return
	}

	go conn.writePump()
	go conn.readPump()

	log.Info().
		Str("connection_id", conn.id).
		Str("user_id", user.UserID).
		Str("username", user.Name()).
		Msg("websocket connection established")
}

// sendInitialState enqueues, in order: pinned message (if set), full user
// list, leaderboard, timer state. The pumps are not running yet; the events
// wait in the outbound buffer until the write pump starts. A broadcast racing
// the handshake between Register and the replay can land ahead of these.
func (h *Handler) sendInitialState(ctx context.Context, conn *Connection) error {
	var initial []events.Event

	if text, ok := h.pinned.Pinned(); ok {
		initial = append(initial, events.NewPinned(text))
	}

	users, err := h.store.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	initial = append(initial, events.NewUsersUpdate(users))

	top, err := h.store.Leaderboard(ctx, h.leaderboardSize)
	if err != nil {
		return fmt.Errorf("leaderboard: %w", err)
	}
	initial = append(initial, events.NewLeaderboard(top))
	initial = append(initial, events.NewTimerUpdate(h.timer.Snapshot()))

	for _, ev := range initial {
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", ev.EventType(), err)
		}
		conn.enqueue(data)
	}
	return nil
}
