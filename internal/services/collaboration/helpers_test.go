package collaboration

import (
	"context"
	"sync"
	"testing"

	"collab-hub/internal/crdt"
	"collab-hub/internal/models"
	"collab-hub/internal/store"

	"github.com/stretchr/testify/require"
)

type participant struct {
	id       string
	canWrite bool
	lastRev  uint64

	mu     sync.Mutex
	frames []models.Frame
}

func (p *participant) SessionID() string { return p.id }
func (p *participant) CanWrite() bool    { return p.canWrite }

func (p *participant) Enqueue(f models.Frame) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = append(p.frames, f)
	return true
}

func (p *participant) Sent(revision uint64) {
	p.mu.Lock()
	p.lastRev = revision
	p.mu.Unlock()
}

func (p *participant) lastRevision() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastRev
}

func (p *participant) received() []models.Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.Frame(nil), p.frames...)
}

type notifier struct {
	mu    sync.Mutex
	rooms []string
}

func (n *notifier) NoteChange(roomID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rooms = append(n.rooms, roomID)
}

func (n *notifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.rooms)
}

type persisterCall struct {
	op     string
	roomID string
	seq    int64
}

type fakePersister struct {
	mu    sync.Mutex
	calls []persisterCall
	err   error
}

func (f *fakePersister) record(c persisterCall) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
}

func (f *fakePersister) Track(roomID string, nextSeq int64) {
	f.record(persisterCall{op: "track", roomID: roomID, seq: nextSeq})
}

func (f *fakePersister) FlushNow(_ context.Context, roomID string) error {
	f.record(persisterCall{op: "flush", roomID: roomID})
	return f.err
}

func (f *fakePersister) Forget(roomID string) {
	f.record(persisterCall{op: "forget", roomID: roomID})
}

func (f *fakePersister) ops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ops []string
	for _, c := range f.calls {
		ops = append(ops, c.op)
	}
	return ops
}

func newRegistry() *store.Registry {
	return store.NewRegistry(func() store.Mergeable { return crdt.New() })
}

func setUpdate(t *testing.T, value string, clock uint64) []byte {
	t.Helper()
	u, err := crdt.SetUpdate("xml", value, clock, "test")
	require.NoError(t, err)
	return u
}
