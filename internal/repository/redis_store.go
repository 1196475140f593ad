package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"collab-hub/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/ksuid"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	redisRoomsKey     = "collab:snapshot-rooms"
	redisSnapshotsFmt = "collab:snapshots:%s"
)

// RedisStore keeps each room's snapshots in a Redis list, newest at the
// head. A set tracks which rooms have lists so retention can find them.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func snapshotsKey(roomID string) string {
	return fmt.Sprintf(redisSnapshotsFmt, roomID)
}

func (s *RedisStore) SaveSnapshot(ctx context.Context, roomID, content string, seq int64) error {
	payload, err := msgpack.Marshal(&models.Snapshot{
		ID:        ksuid.New().String(),
		RoomID:    roomID,
		Seq:       seq,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, snapshotsKey(roomID), payload)
		pipe.SAdd(ctx, redisRoomsKey, roomID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

func (s *RedisStore) LoadSnapshot(ctx context.Context, roomID string) (*models.Snapshot, error) {
	data, err := s.rdb.LIndex(ctx, snapshotsKey(roomID), 0).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	return decodeSnapshot(data)
}

// ListSnapshots returns up to limit snapshots for a room, newest first.
func (s *RedisStore) ListSnapshots(ctx context.Context, roomID string, limit int) ([]*models.Snapshot, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	entries, err := s.rdb.LRange(ctx, snapshotsKey(roomID), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}

	snapshots := make([]*models.Snapshot, 0, len(entries))
	for _, entry := range entries {
		snapshot, err := decodeSnapshot([]byte(entry))
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snapshot)
	}
	return snapshots, nil
}

func decodeSnapshot(data []byte) (*models.Snapshot, error) {
	var snapshot models.Snapshot
	if err := msgpack.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &snapshot, nil
}

func (s *RedisStore) PruneSnapshots(ctx context.Context, keep int) (int64, error) {
	roomIDs, err := s.rdb.SMembers(ctx, redisRoomsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list rooms: %w", err)
	}

	var deleted int64
	for _, roomID := range roomIDs {
		key := snapshotsKey(roomID)
		n, err := s.rdb.LLen(ctx, key).Result()
		if err != nil {
			return deleted, fmt.Errorf("failed to count snapshots for %q: %w", roomID, err)
		}
		if n <= int64(keep) {
			continue
		}
		if err := s.rdb.LTrim(ctx, key, 0, int64(keep)-1).Err(); err != nil {
			return deleted, fmt.Errorf("failed to prune snapshots for %q: %w", roomID, err)
		}
		deleted += n - int64(keep)
	}
	return deleted, nil
}
