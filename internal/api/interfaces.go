package api

import (
	"context"

	"collab-hub/internal/models"
	"collab-hub/internal/store"
)

/*
LEARNING: CONSUMER-DRIVEN INTERFACES (Go Idiom)

This package is the CONSUMER of the collaboration services, so the interfaces
it needs live HERE. The handlers only declare the methods they call, which
keeps them testable with small fakes and free of import cycles.
*/

// RoomDirectory lists the rooms currently held in memory.
type RoomDirectory interface {
	Rooms() []store.Info
	Room(roomID string) (store.Info, bool)
}

// SessionCounter reports how many connections are being served.
type SessionCounter interface {
	SessionCount() int
}

// SnapshotReader reads persisted snapshots of a room.
type SnapshotReader interface {
	LoadSnapshot(ctx context.Context, roomID string) (*models.Snapshot, error)
	ListSnapshots(ctx context.Context, roomID string, limit int) ([]*models.Snapshot, error)
}
