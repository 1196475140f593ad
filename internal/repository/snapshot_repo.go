package repository

import (
	"context"
	"errors"
	"fmt"

	"collab-hub/internal/models"

	"gorm.io/gorm"
)

/*
LEARNING: SNAPSHOT PERSISTENCE

Rather than storing every update, the hub stores the whole document field
each time the debounce timer fires. One row per save:

  room_id | seq | content | created_at

Query patterns:
- LoadSnapshot: room restore (highest seq wins)
- SaveSnapshot: debounced / drain writes
- PruneSnapshots: retention job keeps the newest N rows per room
*/

// SnapshotRepository stores snapshots through GORM (postgres or sqlite).
type SnapshotRepository struct {
	db *gorm.DB
}

func NewSnapshotRepository(db *gorm.DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

func (r *SnapshotRepository) SaveSnapshot(ctx context.Context, roomID, content string, seq int64) error {
	snapshot := &models.Snapshot{
		RoomID:  roomID,
		Seq:     seq,
		Content: content,
	}

	if err := r.db.WithContext(ctx).Create(snapshot).Error; err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot returns the newest snapshot for the room, or nil when the
// room has never been saved.
func (r *SnapshotRepository) LoadSnapshot(ctx context.Context, roomID string) (*models.Snapshot, error) {
	var snapshot models.Snapshot

	err := r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("seq DESC").
		Order("created_at DESC").
		First(&snapshot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	return &snapshot, nil
}

// ListSnapshots returns up to limit snapshots for a room, newest first.
func (r *SnapshotRepository) ListSnapshots(ctx context.Context, roomID string, limit int) ([]*models.Snapshot, error) {
	var snapshots []*models.Snapshot

	query := r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("seq DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&snapshots).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}

	return snapshots, nil
}

// PruneSnapshots keeps the newest keep snapshots of every room.
func (r *SnapshotRepository) PruneSnapshots(ctx context.Context, keep int) (int64, error) {
	var roomIDs []string
	if err := r.db.WithContext(ctx).
		Model(&models.Snapshot{}).
		Distinct("room_id").
		Pluck("room_id", &roomIDs).Error; err != nil {
		return 0, fmt.Errorf("failed to list rooms: %w", err)
	}

	var deleted int64
	for _, roomID := range roomIDs {
		var ids []string
		err := r.db.WithContext(ctx).
			Model(&models.Snapshot{}).
			Where("room_id = ?", roomID).
			Order("seq DESC").
			Order("created_at DESC").
			Pluck("id", &ids).Error
		if err != nil {
			return deleted, fmt.Errorf("failed to find stale snapshots for %q: %w", roomID, err)
		}
		if len(ids) <= keep {
			continue
		}
		stale := ids[keep:]

		result := r.db.WithContext(ctx).Where("id IN ?", stale).Delete(&models.Snapshot{})
		if result.Error != nil {
			return deleted, fmt.Errorf("failed to prune snapshots for %q: %w", roomID, result.Error)
		}
		deleted += result.RowsAffected
	}

	return deleted, nil
}
