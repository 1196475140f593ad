package models

import (
	"time"

	"github.com/segmentio/ksuid"
	"gorm.io/gorm"
)

// Snapshot is one persisted copy of a room's document content.
// Seq starts at 0 for a room's first save and increments per save.
type Snapshot struct {
	ID        string    `gorm:"type:varchar(27);primaryKey" json:"id"`
	RoomID    string    `gorm:"type:varchar(255);not null;index:idx_room_seq,priority:1" json:"room_id"`
	Seq       int64     `gorm:"not null;index:idx_room_seq,priority:2" json:"seq"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// BeforeCreate generates KSUID
func (s *Snapshot) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = ksuid.New().String()
	}
	return nil
}

// TableName override
func (Snapshot) TableName() string {
	return "room_snapshots"
}
