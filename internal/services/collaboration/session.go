package collaboration

import (
	"sync"
	"sync/atomic"
	"time"

	"collab-hub/internal/models"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 << 20
	sendBufferSize = 256
)

// Session is one authorized WebSocket connection attached to a room.
type Session struct {
	*models.Session

	conn        *websocket.Conn
	send        chan models.Frame
	stalled     chan struct{}
	done        chan struct{}
	stallOnce   sync.Once
	closeOnce   sync.Once
	idleTimeout time.Duration
	lastActive  atomic.Int64
	lastRev     atomic.Uint64
	logger      *zap.Logger
}

func newSession(info *models.Session, conn *websocket.Conn, idleTimeout time.Duration, logger *zap.Logger) *Session {
	s := &Session{
		Session:     info,
		conn:        conn,
		send:        make(chan models.Frame, sendBufferSize),
		stalled:     make(chan struct{}),
		done:        make(chan struct{}),
		idleTimeout: idleTimeout,
		logger:      logger.With(zap.String("session_id", info.ID), zap.String("room_id", info.RoomID)),
	}
	s.touch()
	return s
}

func (s *Session) SessionID() string { return s.ID }

// Sent records the revision the client's replica now reflects. The room
// calls it under its lock, so revisions arrive in order.
func (s *Session) Sent(revision uint64) { s.lastRev.Store(revision) }

// Hello is the session control frame sent ahead of the document state.
func (s *Session) Hello(revision uint64) models.ControlMessage {
	return models.ControlMessage{
		Type:       models.ControlSession,
		SessionID:  s.ID,
		UserID:     s.UserID,
		Nickname:   s.UserName,
		Permission: s.Permission,
		Revision:   &revision,
	}
}

// Info is a point-in-time copy of the session record.
func (s *Session) Info() models.Session {
	info := *s.Session
	info.LastActiveAt = time.Unix(0, s.lastActive.Load())
	info.LastRevision = s.lastRev.Load()
	return info
}

// Enqueue queues a frame without blocking. When the buffer is full the
// session is marked stalled and its write pump drops the connection.
func (s *Session) Enqueue(frame models.Frame) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.send <- frame:
		return true
	default:
		s.stallOnce.Do(func() { close(s.stalled) })
		return false
	}
}

// Close stops the write pump and closes the connection. Safe to call more
// than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

func (s *Session) touch() {
	s.lastActive.Store(time.Now().UnixNano())
}

func (s *Session) idleFor() time.Duration {
	return time.Since(time.Unix(0, s.lastActive.Load()))
}

// ReadPump reads frames until the connection fails, calling handle for each
// data message. It runs on the connection's own goroutine.
func (s *Session) ReadPump(handle func(messageType int, data []byte)) {
	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Warn("websocket read error", zap.Error(err))
			}
			return
		}

		s.touch()
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
		handle(messageType, message)
	}
}

// WritePump drains the send buffer to the connection, one WebSocket message
// per frame, and pings the peer periodically.
func (s *Session) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	var idle <-chan time.Time
	if s.idleTimeout > 0 {
		idleTicker := time.NewTicker(idleCheckInterval(s.idleTimeout))
		defer idleTicker.Stop()
		idle = idleTicker.C
	}

	for {
		select {
		case <-s.done:
			return

		case <-s.stalled:
			s.closeWith(websocket.ClosePolicyViolation, "outbound buffer full")
			return

		case frame := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			messageType := websocket.BinaryMessage
			if frame.Kind == models.FrameText {
				messageType = websocket.TextMessage
			}
			if err := s.conn.WriteMessage(messageType, frame.Data); err != nil {
				return
			}

		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-idle:
			if s.idleFor() >= s.idleTimeout {
				s.logger.Info("closing idle session", zap.Duration("idle", s.idleFor()))
				s.closeWith(websocket.CloseGoingAway, "idle timeout")
				return
			}
		}
	}
}

func (s *Session) closeWith(code int, reason string) {
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(writeWait))
}

func idleCheckInterval(idle time.Duration) time.Duration {
	interval := idle / 4
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	if interval > 5*time.Second {
		interval = 5 * time.Second
	}
	return interval
}
