package collaboration

import (
	"context"
	"errors"
	"sync"
	"time"

	"collab-hub/internal/auth"
	"collab-hub/internal/crdt"
	"collab-hub/internal/models"
	"collab-hub/internal/store"
	"collab-hub/internal/telemetry"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

/*
LEARNING: CONNECTION FLOW

  upgrade ─► Gate.Authorize ──fail──► close 4401, nothing else touched
                 │
                 ▼
        RoomLifecycle.Join ──fail──► close 4503
                 │  (Broadcaster.Subscribe queues hello + SYNC under the room lock)
                 ▼
        read pump (this goroutine) + write pump (own goroutine)
                 │
          disconnect ─► Unsubscribe ─► last one out drains the room
*/

// Authorizer admits or rejects a connection before it touches a room.
type Authorizer interface {
	Authorize(ctx context.Context, roomID, credential string) (*models.AuthResult, error)
}

// SessionManager glues authorized connections to rooms.
type SessionManager struct {
	gate        Authorizer
	lifecycle   *RoomLifecycle
	broadcaster *Broadcaster
	idleTimeout time.Duration
	logger      *zap.Logger
	metrics     *telemetry.Metrics

	mu       sync.Mutex
	sessions map[string]*Session
	closing  bool
	wg       sync.WaitGroup
}

func NewSessionManager(
	gate Authorizer,
	lifecycle *RoomLifecycle,
	broadcaster *Broadcaster,
	idleTimeout time.Duration,
	logger *zap.Logger,
	metrics *telemetry.Metrics,
) *SessionManager {
	return &SessionManager{
		gate:        gate,
		lifecycle:   lifecycle,
		broadcaster: broadcaster,
		idleTimeout: idleTimeout,
		logger:      logger,
		metrics:     metrics,
		sessions:    make(map[string]*Session),
	}
}

// Serve runs one upgraded connection until it closes.
func (sm *SessionManager) Serve(ctx context.Context, conn *websocket.Conn, roomID, credential string) {
	if !sm.enter() {
		rejectConn(conn, websocket.CloseGoingAway, "server shutting down")
		return
	}
	defer sm.wg.Done()

	result, err := sm.gate.Authorize(ctx, roomID, credential)
	if err != nil {
		reason := "unauthorized"
		var failure *auth.AuthFailure
		if errors.As(err, &failure) {
			reason = failure.Reason
		}
		rejectConn(conn, CloseUnauthorized, reason)
		return
	}

	session := newSession(models.NewSession(roomID, result), conn, sm.idleTimeout, sm.logger)

	var count int
	room, err := sm.lifecycle.Join(ctx, roomID, func(room *store.Room) error {
		n, err := sm.broadcaster.Subscribe(room, session)
		count = n
		return err
	})
	if err != nil {
		sm.logger.Warn("join failed", zap.String("room_id", roomID), zap.Error(err))
		rejectConn(conn, CloseRoomUnavailable, "room_unavailable")
		return
	}

	sm.track(session)
	sm.broadcaster.AnnounceCount(room, count)
	session.logger.Info("👋 session joined",
		zap.String("user_id", session.UserID),
		zap.String("permission", string(session.Permission)),
		zap.Int("sessions", count),
	)

	go session.WritePump()
	session.ReadPump(func(messageType int, data []byte) {
		sm.handleMessage(room, session, messageType, data)
	})

	sm.leave(ctx, room, session)
}

func (sm *SessionManager) handleMessage(room *store.Room, session *Session, messageType int, data []byte) {
	if messageType != websocket.BinaryMessage || len(data) == 0 {
		return
	}

	op, payload := models.Opcode(data[0]), data[1:]
	switch op {
	case models.OpUpdate:
		_, err := sm.broadcaster.Apply(room, session, payload)
		switch {
		case err == nil:
		case errors.Is(err, ErrPermissionDenied):
			sm.sendError(session, "permission_denied", err.Error())
		case errors.Is(err, crdt.ErrMalformedUpdate):
			sm.sendError(session, "malformed_update", err.Error())
		default:
			session.logger.Warn("update dropped", zap.Error(err))
		}

	case models.OpAwareness:
		if err := sm.broadcaster.Relay(room, session, payload); err != nil {
			session.logger.Debug("awareness dropped", zap.Error(err))
		}

	default:
		sm.sendError(session, "unknown_opcode", "unsupported frame type")
	}
}

func (sm *SessionManager) sendError(session *Session, code, message string) {
	frame, err := controlFrame(models.ControlMessage{Type: models.ControlError, Code: code, Message: message})
	if err != nil {
		return
	}
	session.Enqueue(frame)
}

func (sm *SessionManager) leave(ctx context.Context, room *store.Room, session *Session) {
	session.Close()
	sm.untrack(session)

	remaining, draining := sm.broadcaster.Unsubscribe(room, session.ID)
	info := session.Info()
	session.logger.Info("session left",
		zap.Int("remaining", remaining),
		zap.Uint64("last_revision", info.LastRevision),
		zap.Duration("connected", time.Since(info.ConnectedAt)),
	)

	if draining {
		sm.lifecycle.Drain(ctx, room)
		return
	}
	if remaining > 0 {
		sm.broadcaster.AnnounceCount(room, remaining)
	}
}

func (sm *SessionManager) enter() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.closing {
		return false
	}
	sm.wg.Add(1)
	return true
}

func (sm *SessionManager) track(s *Session) {
	sm.mu.Lock()
	sm.sessions[s.ID] = s
	closing := sm.closing
	sm.mu.Unlock()
	sm.metrics.ActiveSessions.Inc()

	// Joined while Shutdown was collecting sessions.
	if closing {
		s.closeWith(websocket.CloseGoingAway, "server shutting down")
		s.Close()
	}
}

func (sm *SessionManager) untrack(s *Session) {
	sm.mu.Lock()
	_, ok := sm.sessions[s.ID]
	delete(sm.sessions, s.ID)
	sm.mu.Unlock()
	if ok {
		sm.metrics.ActiveSessions.Dec()
	}
}

// SessionCount is the number of attached sessions across all rooms.
func (sm *SessionManager) SessionCount() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.sessions)
}

// Shutdown flushes every room, disconnects every session and waits for
// their rooms to drain or for ctx to expire.
func (sm *SessionManager) Shutdown(ctx context.Context) error {
	sm.logger.Info("🛑 Shutting down session manager...")

	sm.mu.Lock()
	sm.closing = true
	sessions := make([]*Session, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		sessions = append(sessions, s)
	}
	sm.mu.Unlock()

	sm.lifecycle.FlushAll(ctx)

	for _, s := range sessions {
		s.closeWith(websocket.CloseGoingAway, "server shutting down")
		s.Close()
	}

	done := make(chan struct{})
	go func() {
		sm.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		sm.logger.Info("✓ Session manager shutdown complete")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func rejectConn(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(writeWait))
	_ = conn.Close()
}
