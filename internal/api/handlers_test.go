package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"collab-hub/internal/models"
	"collab-hub/internal/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeDirectory struct {
	rooms []store.Info
}

func (d *fakeDirectory) Rooms() []store.Info { return d.rooms }

func (d *fakeDirectory) Room(roomID string) (store.Info, bool) {
	for _, info := range d.rooms {
		if info.ID == roomID {
			return info, true
		}
	}
	return store.Info{}, false
}

type fakeCounter int

func (c fakeCounter) SessionCount() int { return int(c) }

type fakeSnapshots struct {
	snaps   map[string]*models.Snapshot
	history map[string][]*models.Snapshot
	limit   int
	err     error
}

func (s *fakeSnapshots) ListSnapshots(ctx context.Context, roomID string, limit int) ([]*models.Snapshot, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.limit = limit
	snaps := s.history[roomID]
	if len(snaps) > limit {
		snaps = snaps[:limit]
	}
	return snaps, nil
}

func (s *fakeSnapshots) LoadSnapshot(ctx context.Context, roomID string) (*models.Snapshot, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.snaps[roomID], nil
}

func newTestRouter(t *testing.T, snaps *fakeSnapshots, ws http.Handler) http.Handler {
	t.Helper()
	dir := &fakeDirectory{rooms: []store.Info{
		{ID: "doc-1", State: "active", Revision: 4, Sessions: 2, CreatedAt: time.Now()},
		{ID: "doc-2", State: "draining", Revision: 1, Sessions: 0, CreatedAt: time.Now()},
	}}
	if ws == nil {
		ws = http.NotFoundHandler()
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "collab_test_total", Help: "test"}))

	h := NewHandler(dir, fakeCounter(3), snaps, ws, zap.NewNop())
	return SetupRoutes(h, zap.NewNop(), reg)
}

func get(t *testing.T, router http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	router := newTestRouter(t, &fakeSnapshots{}, nil)

	rec := get(t, router, "/api/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, float64(2), body["rooms"])
	assert.Equal(t, float64(3), body["sessions"])
}

func TestListAndGetRooms(t *testing.T) {
	router := newTestRouter(t, &fakeSnapshots{}, nil)

	rec := get(t, router, "/api/rooms")
	require.Equal(t, http.StatusOK, rec.Code)

	var list struct {
		Rooms []roomResponse `json:"rooms"`
		Count int            `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 2, list.Count)
	assert.Equal(t, "doc-1", list.Rooms[0].ID)

	rec = get(t, router, "/api/rooms/doc-2")
	require.Equal(t, http.StatusOK, rec.Code)
	var room roomResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &room))
	assert.Equal(t, "draining", room.State)
	assert.Equal(t, uint64(1), room.Revision)

	rec = get(t, router, "/api/rooms/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetLatestSnapshot(t *testing.T) {
	snaps := &fakeSnapshots{snaps: map[string]*models.Snapshot{
		"doc-9": {RoomID: "doc-9", Seq: 7, Content: "<p>hi</p>"},
	}}
	router := newTestRouter(t, snaps, nil)

	rec := get(t, router, "/api/rooms/doc-9/snapshot")
	require.Equal(t, http.StatusOK, rec.Code)
	var body snapshotResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, int64(7), body.Seq)
	assert.Equal(t, "<p>hi</p>", body.Content)

	rec = get(t, router, "/api/rooms/doc-0/snapshot")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	snaps.err = errors.New("disk on fire")
	rec = get(t, router, "/api/rooms/doc-9/snapshot")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestMetricsRoute(t *testing.T) {
	router := newTestRouter(t, &fakeSnapshots{}, nil)

	rec := get(t, router, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "collab_test_total")
}

func TestRoomRoutesReachWebSocketHandler(t *testing.T) {
	var rooms []string
	ws := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rooms = append(rooms, r.URL.Path)
		w.WriteHeader(http.StatusAccepted)
	})
	router := newTestRouter(t, &fakeSnapshots{}, ws)

	assert.Equal(t, http.StatusAccepted, get(t, router, "/ws/doc-1").Code)
	assert.Equal(t, http.StatusAccepted, get(t, router, "/doc-1").Code)
	assert.Equal(t, []string{"/ws/doc-1", "/doc-1"}, rooms)
}

func TestListSnapshotsHistory(t *testing.T) {
	snaps := &fakeSnapshots{history: map[string][]*models.Snapshot{
		"doc-9": {
			{RoomID: "doc-9", Seq: 2, Content: "<p>three</p>"},
			{RoomID: "doc-9", Seq: 1, Content: "<p>2</p>"},
			{RoomID: "doc-9", Seq: 0, Content: "<p/>"},
		},
	}}
	router := newTestRouter(t, snaps, nil)

	rec := get(t, router, "/api/rooms/doc-9/snapshots?limit=2")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		RoomID    string            `json:"roomId"`
		Snapshots []snapshotSummary `json:"snapshots"`
		Count     int               `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "doc-9", body.RoomID)
	require.Equal(t, 2, body.Count)
	assert.Equal(t, int64(2), body.Snapshots[0].Seq)
	assert.Equal(t, len("<p>three</p>"), body.Snapshots[0].Bytes)
	assert.Equal(t, int64(1), body.Snapshots[1].Seq)
	assert.Equal(t, 2, snaps.limit)

	rec = get(t, router, "/api/rooms/doc-9/snapshots")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, defaultHistoryLimit, snaps.limit)

	rec = get(t, router, "/api/rooms/doc-9/snapshots?limit=5000")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, maxHistoryLimit, snaps.limit)

	rec = get(t, router, "/api/rooms/doc-9/snapshots?limit=zero")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	snaps.err = errors.New("disk on fire")
	rec = get(t, router, "/api/rooms/doc-9/snapshots")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
