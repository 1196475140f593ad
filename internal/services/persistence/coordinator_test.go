package persistence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"collab-hub/internal/crdt"
	"collab-hub/internal/models"
	"collab-hub/internal/store"
	"collab-hub/internal/telemetry"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type saveCall struct {
	roomID  string
	content string
	seq     int64
	at      time.Time
}

type fakeStore struct {
	mu       sync.Mutex
	calls    []saveCall
	attempts int
	failN    int // fail this many attempts before succeeding; -1 fails forever
	saved    chan saveCall
}

func newFakeStore() *fakeStore {
	return &fakeStore{saved: make(chan saveCall, 16)}
}

func (f *fakeStore) SaveSnapshot(_ context.Context, roomID, content string, seq int64) error {
	f.mu.Lock()
	f.attempts++
	if f.failN < 0 || f.attempts <= f.failN {
		f.mu.Unlock()
		return errors.New("storage offline")
	}
	call := saveCall{roomID: roomID, content: content, seq: seq, at: time.Now()}
	f.calls = append(f.calls, call)
	f.mu.Unlock()

	f.saved <- call
	return nil
}

func (f *fakeStore) LoadSnapshot(context.Context, string) (*models.Snapshot, error) {
	return nil, nil
}

func (f *fakeStore) savedCalls() []saveCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]saveCall(nil), f.calls...)
}

type harness struct {
	registry *store.Registry
	store    *fakeStore
	coord    *Coordinator
	metrics  *telemetry.Metrics
	logs     *observer.ObservedLogs
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	registry := store.NewRegistry(func() store.Mergeable { return crdt.New() })
	fs := newFakeStore()
	metrics := telemetry.NewMetrics(nil)
	coord := NewCoordinator(registry, fs, opts, zap.New(core), metrics)
	t.Cleanup(coord.Close)
	return &harness{registry: registry, store: fs, coord: coord, metrics: metrics, logs: logs}
}

func (h *harness) activeRoom(t *testing.T, id string) *store.Room {
	t.Helper()
	room, created := h.registry.GetOrCreate(id)
	require.True(t, created)
	room.MarkReady(nil)
	h.coord.Track(id, 0)
	return room
}

func (h *harness) edit(t *testing.T, room *store.Room, value string, clock uint64) {
	t.Helper()
	u, err := crdt.SetUpdate("xml", value, clock, "tester")
	require.NoError(t, err)
	_, _, err = room.Apply("writer", u, models.Frame{})
	require.NoError(t, err)
	h.coord.NoteChange(room.ID)
}

func waitSave(t *testing.T, fs *fakeStore, within time.Duration) saveCall {
	t.Helper()
	select {
	case call := <-fs.saved:
		return call
	case <-time.After(within):
		t.Fatal("no snapshot saved in time")
		return saveCall{}
	}
}

func TestBurstProducesSingleSaveAfterQuietPeriod(t *testing.T) {
	const debounce = 100 * time.Millisecond
	h := newHarness(t, Options{Debounce: debounce})
	room := h.activeRoom(t, "doc-3")

	var last time.Time
	for i := 1; i <= 5; i++ {
		h.edit(t, room, []string{"a", "ab", "abc", "abcd", "abcde"}[i-1], uint64(i))
		last = time.Now()
		time.Sleep(20 * time.Millisecond)
	}

	call := waitSave(t, h.store, 2*time.Second)
	assert.Equal(t, "doc-3", call.roomID)
	assert.Equal(t, "abcde", call.content)
	assert.Equal(t, int64(0), call.seq)
	assert.GreaterOrEqual(t, call.at.Sub(last), debounce)

	time.Sleep(3 * debounce)
	assert.Len(t, h.store.savedCalls(), 1)
}

func TestSequenceIncrementsPerSave(t *testing.T) {
	h := newHarness(t, Options{Debounce: 20 * time.Millisecond})
	room := h.activeRoom(t, "doc-1")

	h.edit(t, room, "one", 1)
	first := waitSave(t, h.store, time.Second)
	h.edit(t, room, "two", 2)
	second := waitSave(t, h.store, time.Second)

	assert.Equal(t, int64(0), first.seq)
	assert.Equal(t, int64(1), second.seq)
	assert.Equal(t, "two", second.content)
}

func TestTrackContinuesFromLoadedSequence(t *testing.T) {
	h := newHarness(t, Options{Debounce: 20 * time.Millisecond})
	room := h.activeRoom(t, "doc-1")
	h.coord.Track("doc-1", 7)

	h.edit(t, room, "restored+edit", 1)
	call := waitSave(t, h.store, time.Second)
	assert.Equal(t, int64(7), call.seq)
}

func TestEmptyDocumentNeverSaved(t *testing.T) {
	h := newHarness(t, Options{Debounce: 20 * time.Millisecond})
	room := h.activeRoom(t, "doc-1")

	h.edit(t, room, "", 1)
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, h.coord.Flush(context.Background(), "doc-1"))

	assert.Empty(t, h.store.savedCalls())
	assert.Equal(t, float64(2), testutil.ToFloat64(h.metrics.SnapshotsSkipped))
}

func TestFlushNowBypassesTimer(t *testing.T) {
	h := newHarness(t, Options{Debounce: time.Hour})
	room := h.activeRoom(t, "doc-4")
	h.edit(t, room, "pending", 1)

	_, armed := h.coord.Pending("doc-4")
	require.True(t, armed)

	start := time.Now()
	require.NoError(t, h.coord.FlushNow(context.Background(), "doc-4"))
	assert.Less(t, time.Since(start), time.Second)

	calls := h.store.savedCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "pending", calls[0].content)

	_, armed = h.coord.Pending("doc-4")
	assert.False(t, armed)
}

func TestFlushNowSkipsCleanRoom(t *testing.T) {
	h := newHarness(t, Options{Debounce: 20 * time.Millisecond})
	room := h.activeRoom(t, "doc-1")
	h.edit(t, room, "saved", 1)
	waitSave(t, h.store, time.Second)

	require.NoError(t, h.coord.FlushNow(context.Background(), "doc-1"))
	assert.Len(t, h.store.savedCalls(), 1)
}

func TestRetriesThenSucceeds(t *testing.T) {
	h := newHarness(t, Options{Debounce: time.Hour, Attempts: 3, Backoff: time.Millisecond})
	h.store.failN = 2
	room := h.activeRoom(t, "doc-1")
	h.edit(t, room, "eventually", 1)

	require.NoError(t, h.coord.FlushNow(context.Background(), "doc-1"))
	assert.Len(t, h.store.savedCalls(), 1)
	assert.Equal(t, 2, h.logs.FilterMessage("snapshot save attempt failed").Len())
}

func TestExhaustedRetriesSurfaceError(t *testing.T) {
	h := newHarness(t, Options{Debounce: time.Hour, Attempts: 3, Backoff: time.Millisecond})
	h.store.failN = -1
	room := h.activeRoom(t, "doc-1")
	h.edit(t, room, "lost", 1)

	err := h.coord.FlushNow(context.Background(), "doc-1")

	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "doc-1", perr.RoomID)
	assert.Equal(t, 3, perr.Attempts)
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.PersistFailures.WithLabelValues("immediate")))

	failures := h.logs.FilterMessage("❌ snapshot save failed").All()
	require.Len(t, failures, 1)
	assert.Equal(t, zap.ErrorLevel, failures[0].Level)

	// still dirty, so a later immediate flush tries again
	h.store.mu.Lock()
	h.store.failN = 0
	h.store.mu.Unlock()
	require.NoError(t, h.coord.FlushNow(context.Background(), "doc-1"))
	calls := h.store.savedCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, int64(0), calls[0].seq)
}

func TestForgetCancelsTimer(t *testing.T) {
	h := newHarness(t, Options{Debounce: 30 * time.Millisecond})
	room := h.activeRoom(t, "doc-1")
	h.edit(t, room, "never", 1)

	h.coord.Forget("doc-1")
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, h.store.savedCalls())
}

func TestForgottenEntryDoesNotWriteForReopenedRoom(t *testing.T) {
	h := newHarness(t, Options{Debounce: time.Hour})
	old := h.activeRoom(t, "doc-1")
	h.edit(t, old, "old", 1)

	stale, ok := h.coord.current("doc-1")
	require.True(t, ok)

	// Drain of the first room, then a fresh join that continues at seq 5.
	h.coord.Forget("doc-1")
	require.True(t, h.registry.Remove("doc-1", old))
	reopened, created := h.registry.GetOrCreate("doc-1")
	require.True(t, created)
	reopened.MarkReady(nil)
	h.coord.Track("doc-1", 5)
	h.edit(t, reopened, "new", 1)

	// The old timer callback reaching flush late must not write.
	require.NoError(t, h.coord.flush(context.Background(), "doc-1", stale, "debounce"))
	assert.Empty(t, h.store.savedCalls())

	require.NoError(t, h.coord.FlushNow(context.Background(), "doc-1"))
	calls := h.store.savedCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, int64(5), calls[0].seq)
	assert.Equal(t, "new", calls[0].content)
}

func TestFlushUnknownRoomKeepsNoBookkeeping(t *testing.T) {
	h := newHarness(t, Options{Debounce: time.Hour})

	require.NoError(t, h.coord.Flush(context.Background(), "ghost"))

	_, ok := h.coord.current("ghost")
	assert.False(t, ok)
	assert.Empty(t, h.store.savedCalls())
}
