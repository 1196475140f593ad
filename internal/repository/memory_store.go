package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"collab-hub/internal/models"

	"github.com/segmentio/ksuid"
)

// MemoryStore keeps snapshots in process memory. Everything is lost on
// restart; it exists for development and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	rooms map[string][]*models.Snapshot
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rooms: make(map[string][]*models.Snapshot)}
}

func (s *MemoryStore) SaveSnapshot(ctx context.Context, roomID, content string, seq int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.rooms[roomID] = append(s.rooms[roomID], &models.Snapshot{
		ID:        ksuid.New().String(),
		RoomID:    roomID,
		Seq:       seq,
		Content:   content,
		CreatedAt: time.Now(),
	})
	return nil
}

func (s *MemoryStore) LoadSnapshot(ctx context.Context, roomID string) (*models.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *models.Snapshot
	for _, snap := range s.rooms[roomID] {
		if latest == nil || snap.Seq >= latest.Seq {
			latest = snap
		}
	}
	if latest == nil {
		return nil, nil
	}
	copied := *latest
	return &copied, nil
}

// ListSnapshots returns up to limit snapshots for a room, newest first.
func (s *MemoryStore) ListSnapshots(ctx context.Context, roomID string, limit int) ([]*models.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	snaps := make([]*models.Snapshot, 0, len(s.rooms[roomID]))
	for _, snap := range s.rooms[roomID] {
		copied := *snap
		snaps = append(snaps, &copied)
	}
	s.mu.RUnlock()

	sort.SliceStable(snaps, func(i, j int) bool { return snaps[i].Seq > snaps[j].Seq })
	if limit > 0 && len(snaps) > limit {
		snaps = snaps[:limit]
	}
	return snaps, nil
}

func (s *MemoryStore) PruneSnapshots(ctx context.Context, keep int) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for roomID, snaps := range s.rooms {
		if len(snaps) <= keep {
			continue
		}
		sort.SliceStable(snaps, func(i, j int) bool { return snaps[i].Seq < snaps[j].Seq })
		deleted += int64(len(snaps) - keep)
		s.rooms[roomID] = append([]*models.Snapshot(nil), snaps[len(snaps)-keep:]...)
	}
	return deleted, nil
}
