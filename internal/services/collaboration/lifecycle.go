package collaboration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"collab-hub/internal/crdt"
	"collab-hub/internal/models"
	"collab-hub/internal/store"
	"collab-hub/internal/telemetry"

	"go.uber.org/zap"
)

/*
LEARNING: ROOM LIFECYCLE

  ABSENT ──join──► LOADING ──snapshot loaded──► ACTIVE ◄──join/leave──┐
                      │                           │                   │
                      └─load failed─► ABSENT      └─last leave─► DRAINING ──flush done──► ABSENT

Only the goroutine that created the registry entry loads the snapshot, and
it does so with no lock held. Everyone else waits on the room's ready
signal. A join that finds a DRAINING room waits for the drain to finish and
starts over, so it lands on a fresh instance instead of a half torn down one.
*/

// SnapshotLoader reads the content a new room starts from.
type SnapshotLoader interface {
	LoadSnapshot(ctx context.Context, roomID string) (*models.Snapshot, error)
}

// Persister is the part of the persistence coordinator the lifecycle drives.
type Persister interface {
	Track(roomID string, nextSeq int64)
	FlushNow(ctx context.Context, roomID string) error
	Forget(roomID string)
}

// RoomLifecycle creates rooms on first join and tears them down after the
// last session leaves.
type RoomLifecycle struct {
	registry    *store.Registry
	loader      SnapshotLoader
	persister   Persister
	field       string
	loadTimeout time.Duration
	logger      *zap.Logger
	metrics     *telemetry.Metrics
}

func NewRoomLifecycle(
	registry *store.Registry,
	loader SnapshotLoader,
	persister Persister,
	field string,
	loadTimeout time.Duration,
	logger *zap.Logger,
	metrics *telemetry.Metrics,
) *RoomLifecycle {
	return &RoomLifecycle{
		registry:    registry,
		loader:      loader,
		persister:   persister,
		field:       field,
		loadTimeout: loadTimeout,
		logger:      logger,
		metrics:     metrics,
	}
}

// Join finds or creates the room and runs attach against it once it is
// ACTIVE. attach is retried on a fresh room if the one it saw started
// draining in the meantime.
func (l *RoomLifecycle) Join(ctx context.Context, roomID string, attach func(room *store.Room) error) (*store.Room, error) {
	for {
		room, created := l.registry.GetOrCreate(roomID)
		if created {
			l.load(ctx, room)
		}

		select {
		case <-room.Ready():
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		if err := room.LoadErr(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRoomUnavailable, err)
		}

		err := attach(room)
		if err == nil {
			return room, nil
		}
		if !errors.Is(err, store.ErrRoomNotActive) {
			return nil, err
		}

		l.logger.Debug("room is draining, waiting to rejoin", zap.String("room_id", roomID))
		select {
		case <-room.Drained():
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// load restores the persisted snapshot into a LOADING room and activates it.
// On failure the room is removed again and every waiter sees the error.
func (l *RoomLifecycle) load(ctx context.Context, room *store.Room) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.loadTimeout)
	defer cancel()

	nextSeq, err := l.restore(ctx, room)
	if err != nil {
		l.logger.Error("❌ failed to load room",
			zap.String("room_id", room.ID),
			zap.Error(err),
		)
		room.MarkReady(err)
		l.registry.Remove(room.ID, room)
		room.MarkDrained()
		return
	}

	l.persister.Track(room.ID, nextSeq)
	room.MarkReady(nil)
	l.metrics.ActiveRooms.Inc()
	l.logger.Info("📂 room opened",
		zap.String("room_id", room.ID),
		zap.Int64("next_seq", nextSeq),
	)
}

func (l *RoomLifecycle) restore(ctx context.Context, room *store.Room) (int64, error) {
	snapshot, err := l.loader.LoadSnapshot(ctx, room.ID)
	if err != nil {
		return 0, fmt.Errorf("load snapshot: %w", err)
	}
	if snapshot == nil {
		return 0, nil
	}

	if snapshot.Content != "" {
		seed, err := crdt.SeedUpdate(l.field, snapshot.Content)
		if err != nil {
			return 0, err
		}
		if err := room.Restore(seed); err != nil {
			return 0, fmt.Errorf("restore snapshot: %w", err)
		}
	}
	return snapshot.Seq + 1, nil
}

// Drain flushes a DRAINING room and removes it. Flush failures are logged by
// the coordinator and do not stop the eviction.
func (l *RoomLifecycle) Drain(ctx context.Context, room *store.Room) {
	if err := l.persister.FlushNow(context.WithoutCancel(ctx), room.ID); err != nil {
		l.logger.Warn("room evicted without a final snapshot",
			zap.String("room_id", room.ID),
			zap.Error(err),
		)
	}

	l.persister.Forget(room.ID)
	l.registry.Remove(room.ID, room)
	room.MarkDrained()
	l.metrics.ActiveRooms.Dec()

	l.logger.Info("📁 room closed",
		zap.String("room_id", room.ID),
		zap.Uint64("revision", room.Revision()),
	)
}

// FlushAll writes every live room that has unsaved changes.
func (l *RoomLifecycle) FlushAll(ctx context.Context) {
	for _, room := range l.registry.List() {
		if room.State() != store.StateActive {
			continue
		}
		_ = l.persister.FlushNow(ctx, room.ID)
	}
}

// Rooms describes every room currently held in memory.
func (l *RoomLifecycle) Rooms() []store.Info {
	rooms := l.registry.List()
	infos := make([]store.Info, 0, len(rooms))
	for _, room := range rooms {
		infos = append(infos, room.Info())
	}
	return infos
}

// Room describes one room, if it is held in memory.
func (l *RoomLifecycle) Room(roomID string) (store.Info, bool) {
	room, ok := l.registry.Get(roomID)
	if !ok {
		return store.Info{}, false
	}
	return room.Info(), true
}
