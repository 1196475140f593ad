package models

import (
	"time"

	"github.com/segmentio/ksuid"
)

// Session represents one authorized WebSocket connection to a room
type Session struct {
	ID           string     `json:"id"`
	RoomID       string     `json:"room_id"`
	UserID       string     `json:"user_id"`
	UserName     string     `json:"user_name"`
	AvatarURL    string     `json:"avatar_url,omitempty"`
	Permission   Permission `json:"permission"`
	ConnectedAt  time.Time  `json:"connected_at"`
	LastActiveAt time.Time  `json:"last_active_at"`
	// LastRevision is the room revision the client's replica reflects:
	// the state it was sent on attach, then every update forwarded to it.
	LastRevision uint64 `json:"last_revision"`
}

func NewSession(roomID string, auth *AuthResult) *Session {
	now := time.Now()
	return &Session{
		ID:           ksuid.New().String(),
		RoomID:       roomID,
		UserID:       auth.UserID,
		UserName:     auth.Nickname,
		AvatarURL:    auth.AvatarURL,
		Permission:   auth.Permission,
		ConnectedAt:  now,
		LastActiveAt: now,
	}
}

func (s *Session) CanWrite() bool {
	return s.Permission.CanWrite()
}
