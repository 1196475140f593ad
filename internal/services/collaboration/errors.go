package collaboration

import "errors"

var (
	// ErrPermissionDenied rejects a single update from a read-only session.
	// The session stays connected.
	ErrPermissionDenied = errors.New("permission denied: session is read-only")

	// ErrRoomUnavailable means the room could not be brought up, usually
	// because its snapshot failed to load.
	ErrRoomUnavailable = errors.New("room unavailable")

	// ErrSlowConsumer means a session's outbound buffer was full.
	ErrSlowConsumer = errors.New("session outbound buffer full")
)

// WebSocket close codes sent before dropping a connection.
const (
	CloseUnauthorized    = 4401
	CloseRoomUnavailable = 4503
)
