package store

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"collab-hub/internal/models"
)

// ErrRoomNotActive is returned when an operation needs an ACTIVE room.
var ErrRoomNotActive = errors.New("room is not active")

// Mergeable is the document a room owns. Apply must be deterministic,
// commutative, associative and idempotent.
type Mergeable interface {
	Apply(update []byte) error
	EncodeState() ([]byte, error)
	Text(field string) string
}

// Subscriber is an attached session as seen by the room. Enqueue must not
// block; it returns false when the subscriber cannot take more frames.
// Sent is called under the room lock with the revision the subscriber's
// replica reflects once the state or an update has been queued for it.
type Subscriber interface {
	SessionID() string
	Enqueue(frame models.Frame) bool
	Sent(revision uint64)
}

type State int

const (
	StateLoading State = iota
	StateActive
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Room owns one document and the sessions attached to it. Every mutation
// happens under mu, and mu is never held across network I/O.
type Room struct {
	ID        string
	CreatedAt time.Time

	mu       sync.Mutex
	state    State
	doc      Mergeable
	revision uint64
	sessions map[string]Subscriber

	ready   chan struct{}
	loadErr error
	drained chan struct{}
}

// Info is a point-in-time view of a room.
type Info struct {
	ID        string    `json:"id"`
	State     string    `json:"state"`
	Revision  uint64    `json:"revision"`
	Sessions  int       `json:"sessions"`
	CreatedAt time.Time `json:"created_at"`
}

func NewRoom(id string, doc Mergeable) *Room {
	return &Room{
		ID:        id,
		CreatedAt: time.Now(),
		state:     StateLoading,
		doc:       doc,
		sessions:  make(map[string]Subscriber),
		ready:     make(chan struct{}),
		drained:   make(chan struct{}),
	}
}

// Restore applies persisted content while the room is still loading.
// The revision is left untouched.
func (r *Room) Restore(update []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateLoading {
		return fmt.Errorf("restore on %s room %q", r.state, r.ID)
	}
	return r.doc.Apply(update)
}

// MarkReady ends loading. A nil err activates the room; otherwise the room
// is closed and every waiter sees err from LoadErr.
func (r *Room) MarkReady(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateLoading {
		return
	}
	if err != nil {
		r.state = StateClosed
		r.loadErr = err
	} else {
		r.state = StateActive
	}
	close(r.ready)
}

func (r *Room) Ready() <-chan struct{} { return r.ready }

func (r *Room) LoadErr() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadErr
}

// MarkDrained closes the room after its drain has finished.
func (r *Room) MarkDrained() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == StateClosed {
		select {
		case <-r.drained:
			return
		default:
		}
	}
	r.state = StateClosed
	close(r.drained)
}

func (r *Room) Drained() <-chan struct{} { return r.drained }

func (r *Room) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Room) Revision() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.revision
}

func (r *Room) SessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Attach adds sub to the room. onAttach runs under the room lock with the
// full document state, so whatever it enqueues reaches sub before any
// update applied afterwards. Returns the new session count.
func (r *Room) Attach(sub Subscriber, onAttach func(state []byte, revision uint64) error) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateActive {
		return 0, fmt.Errorf("%w: %q is %s", ErrRoomNotActive, r.ID, r.state)
	}

	state, err := r.doc.EncodeState()
	if err != nil {
		return 0, fmt.Errorf("failed to encode room state: %w", err)
	}
	if onAttach != nil {
		if err := onAttach(state, r.revision); err != nil {
			return 0, err
		}
	}

	sub.Sent(r.revision)
	r.sessions[sub.SessionID()] = sub
	return len(r.sessions), nil
}

// Detach removes the session. When it was the last one the room moves to
// DRAINING and draining is true; the caller owns the drain from there.
func (r *Room) Detach(sessionID string) (remaining int, draining bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[sessionID]; !ok {
		return len(r.sessions), false
	}
	delete(r.sessions, sessionID)

	if len(r.sessions) == 0 && r.state == StateActive {
		r.state = StateDraining
		return 0, true
	}
	return len(r.sessions), false
}

// Apply merges update into the document, bumps the revision and enqueues
// frame to every other session before releasing the lock, which gives a
// single total order per room. Subscribers that refused the frame are
// returned so the caller can evict them.
func (r *Room) Apply(senderID string, update []byte, frame models.Frame) (uint64, []string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateActive {
		return r.revision, nil, fmt.Errorf("%w: %q is %s", ErrRoomNotActive, r.ID, r.state)
	}
	if err := r.doc.Apply(update); err != nil {
		return r.revision, nil, err
	}
	r.revision++

	return r.revision, r.fanOut(senderID, frame, r.revision), nil
}

// Relay forwards frame to every session but the sender without touching
// the document.
func (r *Room) Relay(senderID string, frame models.Frame) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateActive {
		return nil, fmt.Errorf("%w: %q is %s", ErrRoomNotActive, r.ID, r.state)
	}
	return r.fanOut(senderID, frame, 0), nil
}

// Broadcast sends frame to every attached session.
func (r *Room) Broadcast(frame models.Frame) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fanOut("", frame, 0)
}

// fanOut enqueues frame to everyone but the sender. A non-zero revision
// marks a document update: each session that took it, and the sender that
// produced it, is advanced to that revision.
func (r *Room) fanOut(senderID string, frame models.Frame, revision uint64) []string {
	var stalled []string
	for id, sub := range r.sessions {
		if id == senderID {
			if revision > 0 {
				sub.Sent(revision)
			}
			continue
		}
		if !sub.Enqueue(frame) {
			stalled = append(stalled, id)
			continue
		}
		if revision > 0 {
			sub.Sent(revision)
		}
	}
	return stalled
}

// Serialize returns the named field of the document and the revision it
// reflects.
func (r *Room) Serialize(field string) (string, uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doc.Text(field), r.revision
}

func (r *Room) Info() Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Info{
		ID:        r.ID,
		State:     r.state.String(),
		Revision:  r.revision,
		Sessions:  len(r.sessions),
		CreatedAt: r.CreatedAt,
	}
}
