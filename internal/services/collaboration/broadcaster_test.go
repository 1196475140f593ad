package collaboration

import (
	"encoding/json"
	"testing"

	"collab-hub/internal/crdt"
	"collab-hub/internal/models"
	"collab-hub/internal/store"
	"collab-hub/internal/telemetry"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newBroadcasterRoom(t *testing.T) (*Broadcaster, *notifier, *telemetry.Metrics, *store.Room) {
	t.Helper()
	n := &notifier{}
	metrics := telemetry.NewMetrics(nil)
	room := store.NewRoom("doc-1", crdt.New())
	room.MarkReady(nil)
	return NewBroadcaster(n, zap.NewNop(), metrics), n, metrics, room
}

func TestSubscribeQueuesSyncFirst(t *testing.T) {
	b, _, _, room := newBroadcasterRoom(t)
	writer := &participant{id: "w", canWrite: true}
	_, err := b.Subscribe(room, writer)
	require.NoError(t, err)
	_, err = b.Apply(room, writer, setUpdate(t, "<p/>", 1))
	require.NoError(t, err)

	late := &participant{id: "late"}
	count, err := b.Subscribe(room, late)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	frames := late.received()
	require.Len(t, frames, 1)
	assert.Equal(t, byte(models.OpSync), frames[0].Data[0])

	replica := crdt.New()
	require.NoError(t, replica.Apply(frames[0].Data[1:]))
	assert.Equal(t, "<p/>", replica.Text("xml"))
}

func TestApplyForwardsToOthersAndNotes(t *testing.T) {
	b, n, metrics, room := newBroadcasterRoom(t)
	writer := &participant{id: "w", canWrite: true}
	reader := &participant{id: "r"}
	_, _ = b.Subscribe(room, writer)
	_, _ = b.Subscribe(room, reader)

	update := setUpdate(t, "hello", 1)
	rev, err := b.Apply(room, writer, update)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rev)
	assert.Equal(t, 1, n.count())
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.UpdatesApplied))

	frames := reader.received()
	require.Len(t, frames, 2)
	assert.Equal(t, append([]byte{byte(models.OpUpdate)}, update...), frames[1].Data)
	assert.Len(t, writer.received(), 1, "writer only has its own sync frame")
}

func TestReadOnlyUpdateRejected(t *testing.T) {
	b, n, metrics, room := newBroadcasterRoom(t)
	reader := &participant{id: "r"}
	other := &participant{id: "o", canWrite: true}
	_, _ = b.Subscribe(room, reader)
	_, _ = b.Subscribe(room, other)

	_, err := b.Apply(room, reader, setUpdate(t, "vandal", 9))
	assert.ErrorIs(t, err, ErrPermissionDenied)

	content, rev := room.Serialize("xml")
	assert.Empty(t, content)
	assert.Zero(t, rev)
	assert.Zero(t, n.count())
	assert.Len(t, other.received(), 1)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.PermissionDenied))
}

func TestMalformedUpdateRejected(t *testing.T) {
	b, n, _, room := newBroadcasterRoom(t)
	writer := &participant{id: "w", canWrite: true}
	_, _ = b.Subscribe(room, writer)

	_, err := b.Apply(room, writer, []byte{0xc1})
	assert.ErrorIs(t, err, crdt.ErrMalformedUpdate)
	assert.Zero(t, n.count())
	assert.Zero(t, room.Revision())
}

func TestRelayAllowedForReadOnly(t *testing.T) {
	b, n, _, room := newBroadcasterRoom(t)
	reader := &participant{id: "r"}
	other := &participant{id: "o"}
	_, _ = b.Subscribe(room, reader)
	_, _ = b.Subscribe(room, other)

	require.NoError(t, b.Relay(room, reader, []byte(`{"x":1}`)))

	frames := other.received()
	require.Len(t, frames, 2)
	assert.Equal(t, append([]byte{byte(models.OpAwareness)}, `{"x":1}`...), frames[1].Data)
	assert.Zero(t, room.Revision())
	assert.Zero(t, n.count())
}

func TestAnnounceCount(t *testing.T) {
	b, _, _, room := newBroadcasterRoom(t)
	p := &participant{id: "p"}
	_, _ = b.Subscribe(room, p)

	b.AnnounceCount(room, 1)

	frames := p.received()
	require.Len(t, frames, 2)
	assert.Equal(t, models.FrameText, frames[1].Kind)

	var msg models.ControlMessage
	require.NoError(t, json.Unmarshal(frames[1].Data, &msg))
	assert.Equal(t, models.ControlUserCount, msg.Type)
	assert.Equal(t, 1, msg.Count)
}

func TestUnsubscribeLastStartsDrain(t *testing.T) {
	b, _, _, room := newBroadcasterRoom(t)
	_, _ = b.Subscribe(room, &participant{id: "a"})

	remaining, draining := b.Unsubscribe(room, "a")
	assert.Zero(t, remaining)
	assert.True(t, draining)
}

type greeter struct {
	participant
}

func (g *greeter) Hello(revision uint64) models.ControlMessage {
	return models.ControlMessage{Type: models.ControlSession, SessionID: g.id, Revision: &revision}
}

func TestSubscribeGreetsWithRevisionBeforeSync(t *testing.T) {
	b, _, _, room := newBroadcasterRoom(t)
	writer := &participant{id: "w", canWrite: true}
	_, err := b.Subscribe(room, writer)
	require.NoError(t, err)
	for i, v := range []string{"a", "b", "c"} {
		_, err := b.Apply(room, writer, setUpdate(t, v, uint64(i+1)))
		require.NoError(t, err)
	}
	assert.Equal(t, uint64(3), writer.lastRevision())

	late := &greeter{participant: participant{id: "late"}}
	_, err = b.Subscribe(room, late)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), late.lastRevision())

	frames := late.received()
	require.Len(t, frames, 2)
	assert.Equal(t, models.FrameText, frames[0].Kind)
	var hello models.ControlMessage
	require.NoError(t, json.Unmarshal(frames[0].Data, &hello))
	assert.Equal(t, models.ControlSession, hello.Type)
	require.NotNil(t, hello.Revision)
	assert.Equal(t, uint64(3), *hello.Revision)
	assert.Equal(t, byte(models.OpSync), frames[1].Data[0])

	rev, err := b.Apply(room, writer, setUpdate(t, "d", 4))
	require.NoError(t, err)
	assert.Equal(t, rev, late.lastRevision())
}
