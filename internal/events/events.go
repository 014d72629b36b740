package events

import (
	"github.com/eshcamp/esh/internal/models"
)

// Type tags the event envelope. Clients switch on this field.
type Type string

const (
	TypePinned      Type = "pinned"
	TypePinRemoved  Type = "pin_removed"
	TypeMessage     Type = "message"
	TypeUsersUpdate Type = "users_update"
	TypeLeaderboard Type = "leaderboard"
	TypeCoinsUpdate Type = "coins_update"
	TypeTimerUpdate Type = "timer_update"
)

// Event is anything that can be pushed to connected clients. Every event
// carries its Type inline so the serialized form is a flat tagged object.
type Event interface {
	EventType() Type
}

// Broadcaster delivers an event to every connected client. Implementations
// must tolerate individual delivery failures; Broadcast never returns an
// error to the emitting component.
type Broadcaster interface {
	Broadcast(event Event)
}

// Pinned announces the current pinned message.
type Pinned struct {
	Type Type   `json:"type"`
	Text string `json:"text"`
}

func NewPinned(text string) Pinned { return Pinned{Type: TypePinned, Text: text} }

func (Pinned) EventType() Type { return TypePinned }

// PinRemoved announces that the pinned message was cleared.
type PinRemoved struct {
	Type Type `json:"type"`
}

func NewPinRemoved() PinRemoved { return PinRemoved{Type: TypePinRemoved} }

func (PinRemoved) EventType() Type { return TypePinRemoved }

// Message is a chat message relayed to all clients. Chat is not persisted.
type Message struct {
	Type    Type   `json:"type"`
	From    string `json:"from"`
	Text    string `json:"text"`
	IsAdmin bool   `json:"is_admin"`
}

func NewMessage(from, text string, isAdmin bool) Message {
	return Message{Type: TypeMessage, From: from, Text: text, IsAdmin: isAdmin}
}

func (Message) EventType() Type { return TypeMessage }

// UsersUpdate carries the full user list, admin console included.
type UsersUpdate struct {
	Type  Type          `json:"type"`
	Users []models.User `json:"users"`
}

func NewUsersUpdate(users []models.User) UsersUpdate {
	return UsersUpdate{Type: TypeUsersUpdate, Users: users}
}

func (UsersUpdate) EventType() Type { return TypeUsersUpdate }

// LeaderboardEntry is one row of the public leaderboard. Unlike UsersUpdate
// it never exposes user keys or admin flags.
type LeaderboardEntry struct {
	UserID   string  `json:"user_id"`
	Username *string `json:"username"`
	Esh      int64   `json:"esh"`
}

// Leaderboard carries the top users ordered by balance descending.
type Leaderboard struct {
	Type  Type               `json:"type"`
	Users []LeaderboardEntry `json:"users"`
}

func NewLeaderboard(users []models.User) Leaderboard {
	entries := make([]LeaderboardEntry, 0, len(users))
	for _, u := range users {
		entries = append(entries, LeaderboardEntry{UserID: u.UserID, Username: u.Username, Esh: u.Esh})
	}
	return Leaderboard{Type: TypeLeaderboard, Users: entries}
}

func (Leaderboard) EventType() Type { return TypeLeaderboard }

// CoinsUpdate announces a single user's new balance.
type CoinsUpdate struct {
	Type   Type   `json:"type"`
	UserID string `json:"user_id"`
	Esh    int64  `json:"esh"`
}

func NewCoinsUpdate(userID string, esh int64) CoinsUpdate {
	return CoinsUpdate{Type: TypeCoinsUpdate, UserID: userID, Esh: esh}
}

func (CoinsUpdate) EventType() Type { return TypeCoinsUpdate }

// TimerSnapshot is the full shared-countdown state. Timestamps are unix
// seconds; EndTime is nil until the timer has been started and after a reset,
// PausedAt is nil unless the timer is currently frozen.
type TimerSnapshot struct {
	EndTime   *int64 `json:"end_time"`
	Duration  int64  `json:"duration"`
	PausedAt  *int64 `json:"paused_at"`
	IsRunning bool   `json:"is_running"`
}

// TimerUpdate carries the countdown state after any timer transition and on
// every driver tick while the timer runs.
type TimerUpdate struct {
	Type  Type          `json:"type"`
	State TimerSnapshot `json:"state"`
}

func NewTimerUpdate(state TimerSnapshot) TimerUpdate {
	return TimerUpdate{Type: TypeTimerUpdate, State: state}
}

func (TimerUpdate) EventType() Type { return TypeTimerUpdate }
