package collaboration

import (
	"encoding/json"
	"errors"
	"fmt"

	"collab-hub/internal/crdt"
	"collab-hub/internal/models"
	"collab-hub/internal/store"
	"collab-hub/internal/telemetry"

	"go.uber.org/zap"
)

// ChangeNotifier is told about every applied update.
type ChangeNotifier interface {
	NoteChange(roomID string)
}

// Participant is an attached session as the broadcaster sees it.
type Participant interface {
	store.Subscriber
	CanWrite() bool
}

// Greeter is a participant that introduces itself before its first
// document frame. Hello receives the revision of the state about to be sent.
type Greeter interface {
	Hello(revision uint64) models.ControlMessage
}

// Broadcaster moves document traffic between the sessions of a room.
type Broadcaster struct {
	changes ChangeNotifier
	logger  *zap.Logger
	metrics *telemetry.Metrics
}

func NewBroadcaster(changes ChangeNotifier, logger *zap.Logger, metrics *telemetry.Metrics) *Broadcaster {
	return &Broadcaster{
		changes: changes,
		logger:  logger,
		metrics: metrics,
	}
}

// Subscribe attaches p and queues the full document as its first document
// frame, preceded by p's hello when p is a Greeter. Returns the room's
// session count after attaching.
func (b *Broadcaster) Subscribe(room *store.Room, p Participant) (int, error) {
	return room.Attach(p, func(state []byte, revision uint64) error {
		if g, ok := p.(Greeter); ok {
			hello, err := controlFrame(g.Hello(revision))
			if err != nil {
				return fmt.Errorf("encode hello: %w", err)
			}
			if !p.Enqueue(hello) {
				return ErrSlowConsumer
			}
		}
		if !p.Enqueue(models.BinaryFrame(models.OpSync, state)) {
			return ErrSlowConsumer
		}
		return nil
	})
}

// Unsubscribe detaches the session. draining is true when it was the last
// one and the caller must drain the room.
func (b *Broadcaster) Unsubscribe(room *store.Room, sessionID string) (remaining int, draining bool) {
	return room.Detach(sessionID)
}

// Apply merges a document update from p and forwards it to everyone else
// in the room, in the order updates are applied.
func (b *Broadcaster) Apply(room *store.Room, p Participant, update []byte) (uint64, error) {
	if !p.CanWrite() {
		b.metrics.PermissionDenied.Inc()
		return 0, ErrPermissionDenied
	}

	rev, stalled, err := room.Apply(p.SessionID(), update, models.BinaryFrame(models.OpUpdate, update))
	if err != nil {
		if errors.Is(err, crdt.ErrMalformedUpdate) {
			return rev, err
		}
		return rev, fmt.Errorf("apply update to room %q: %w", room.ID, err)
	}

	b.metrics.UpdatesApplied.Inc()
	b.reportStalled(room.ID, stalled)
	b.changes.NoteChange(room.ID)
	return rev, nil
}

// Relay forwards awareness data (cursors, pointers) without storing it.
// Read-only sessions may relay.
func (b *Broadcaster) Relay(room *store.Room, p Participant, payload []byte) error {
	stalled, err := room.Relay(p.SessionID(), models.BinaryFrame(models.OpAwareness, payload))
	if err != nil {
		return err
	}
	b.reportStalled(room.ID, stalled)
	return nil
}

// AnnounceCount tells every session how many are in the room.
func (b *Broadcaster) AnnounceCount(room *store.Room, count int) {
	frame, err := controlFrame(models.ControlMessage{Type: models.ControlUserCount, Count: count})
	if err != nil {
		b.logger.Error("failed to encode user_count", zap.Error(err))
		return
	}
	b.reportStalled(room.ID, room.Broadcast(frame))
}

func (b *Broadcaster) reportStalled(roomID string, stalled []string) {
	for _, id := range stalled {
		b.metrics.SessionsEvicted.Inc()
		b.logger.Warn("⚠️  session buffer full, closing connection",
			zap.String("room_id", roomID),
			zap.String("session_id", id),
		)
	}
}

func controlFrame(msg models.ControlMessage) (models.Frame, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return models.Frame{}, err
	}
	return models.Frame{Kind: models.FrameText, Data: data}, nil
}
