package persistence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"collab-hub/internal/middleware"
	"collab-hub/internal/models"
	"collab-hub/internal/store"
	"collab-hub/internal/telemetry"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

/*
LEARNING: DEBOUNCED PERSISTENCE

  edit ─► NoteChange ─► (re)arm timer for D ─┐
  edit ─► NoteChange ─► (re)arm timer for D ─┤   quiet for D
                                             └─► Flush ─► SaveSnapshot

Each room has one timer. Re-arming stops the old timer and bumps a
generation counter, so a callback that was already running when it got
replaced sees a stale generation and does nothing. The flush reads the
document at fire time, never a copy taken when the timer was armed.

A drain (last session left) or shutdown calls FlushNow, which cancels the
timer and writes straight away.
*/

// SnapshotStore is the durable storage the coordinator writes to.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, roomID, content string, seq int64) error
	LoadSnapshot(ctx context.Context, roomID string) (*models.Snapshot, error)
}

// Options tune the coordinator. Zero values fall back to defaults.
type Options struct {
	Debounce time.Duration
	Field    string
	Attempts int
	Timeout  time.Duration
	Backoff  time.Duration
}

func (o *Options) withDefaults() {
	if o.Debounce <= 0 {
		o.Debounce = 5 * time.Second
	}
	if o.Field == "" {
		o.Field = "xml"
	}
	if o.Attempts < 1 {
		o.Attempts = 3
	}
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.Backoff <= 0 {
		o.Backoff = 250 * time.Millisecond
	}
}

// PendingSave describes an armed debounce timer.
type PendingSave struct {
	FireAt   time.Time
	Revision uint64
}

type entry struct {
	mu      sync.Mutex
	timer   *time.Timer
	gen     uint64
	pending *PendingSave

	// flushMu serializes writes for the room; nextSeq and persistedRev are
	// only touched while holding it.
	flushMu      sync.Mutex
	nextSeq      int64
	persistedRev uint64
}

// Coordinator decides when room documents are written to the SnapshotStore.
type Coordinator struct {
	registry *store.Registry
	store    SnapshotStore
	opts     Options
	logger   *zap.Logger
	metrics  *telemetry.Metrics

	mu       sync.Mutex
	entries  map[string]*entry
	closed   bool
	inflight sync.WaitGroup
}

func NewCoordinator(registry *store.Registry, snapshots SnapshotStore, opts Options, logger *zap.Logger, metrics *telemetry.Metrics) *Coordinator {
	opts.withDefaults()
	return &Coordinator{
		registry: registry,
		store:    snapshots,
		opts:     opts,
		logger:   logger,
		metrics:  metrics,
		entries:  make(map[string]*entry),
	}
}

// Track registers a room whose next successful save gets sequence nextSeq.
func (c *Coordinator) Track(roomID string, nextSeq int64) {
	e := c.entry(roomID)
	if e == nil {
		return
	}
	e.flushMu.Lock()
	e.nextSeq = nextSeq
	e.flushMu.Unlock()
}

// NoteChange (re)arms the room's debounce timer so it fires D after this
// call, replacing any earlier timer.
func (c *Coordinator) NoteChange(roomID string) {
	e := c.entry(roomID)
	if e == nil {
		return
	}

	var rev uint64
	if room, ok := c.registry.Get(roomID); ok {
		rev = room.Revision()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.timer != nil {
		e.timer.Stop()
	}
	e.gen++
	gen := e.gen
	e.pending = &PendingSave{FireAt: time.Now().Add(c.opts.Debounce), Revision: rev}
	e.timer = time.AfterFunc(c.opts.Debounce, func() { c.fire(roomID, e, gen) })
}

// Pending returns the armed save for the room, if any.
func (c *Coordinator) Pending(roomID string) (PendingSave, bool) {
	e, ok := c.current(roomID)
	if !ok {
		return PendingSave{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending == nil {
		return PendingSave{}, false
	}
	return *e.pending, true
}

func (c *Coordinator) fire(roomID string, e *entry, gen uint64) {
	e.mu.Lock()
	if e.gen != gen || e.pending == nil {
		e.mu.Unlock()
		return
	}
	e.pending = nil
	e.timer = nil
	e.mu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.inflight.Add(1)
	c.mu.Unlock()
	defer c.inflight.Done()

	_ = c.flush(context.Background(), roomID, e, "debounce")

	// A change noted after Forget leaves an entry for a room that is gone.
	if _, ok := c.registry.Get(roomID); !ok {
		c.mu.Lock()
		if c.entries[roomID] == e {
			delete(c.entries, roomID)
		}
		c.mu.Unlock()
	}
}

// Flush writes the room's current content now, whether or not a timer is
// armed. Errors are already logged; they are returned for callers that
// want them.
func (c *Coordinator) Flush(ctx context.Context, roomID string) error {
	e, ok := c.current(roomID)
	if !ok {
		return nil
	}
	c.disarm(e)
	return c.flush(ctx, roomID, e, "manual")
}

// FlushNow cancels the room's timer and writes immediately if a save was
// pending or the document moved past the last persisted revision.
func (c *Coordinator) FlushNow(ctx context.Context, roomID string) error {
	e, ok := c.current(roomID)
	if !ok {
		return nil
	}

	wasPending := c.disarm(e)

	room, ok := c.registry.Get(roomID)
	if !ok {
		return nil
	}

	e.flushMu.Lock()
	dirty := room.Revision() > e.persistedRev
	e.flushMu.Unlock()

	if !wasPending && !dirty {
		return nil
	}
	return c.flush(ctx, roomID, e, "immediate")
}

// Forget cancels the room's timer and drops its bookkeeping.
func (c *Coordinator) Forget(roomID string) {
	c.mu.Lock()
	e, ok := c.entries[roomID]
	delete(c.entries, roomID)
	c.mu.Unlock()

	if ok {
		c.disarm(e)
	}
}

// Close stops every timer and waits for flushes already running.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	entries := make([]*entry, 0, len(c.entries))
	for _, e := range c.entries {
		entries = append(entries, e)
	}
	c.mu.Unlock()

	for _, e := range entries {
		c.disarm(e)
	}
	c.inflight.Wait()
}

func (c *Coordinator) entry(roomID string) *entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	e, ok := c.entries[roomID]
	if !ok {
		e = &entry{}
		c.entries[roomID] = e
	}
	return e
}

// current returns the room's entry without creating one.
func (c *Coordinator) current(roomID string) (*entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[roomID]
	return e, ok
}

// disarm stops the timer and reports whether a save was pending.
func (c *Coordinator) disarm(e *entry) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.gen++
	wasPending := e.pending != nil
	e.pending = nil
	return wasPending
}

func (c *Coordinator) flush(ctx context.Context, roomID string, e *entry, trigger string) error {
	ctx, span := middleware.StartSpan(ctx, "Coordinator.Flush",
		attribute.String("room.id", roomID),
		attribute.String("trigger", trigger),
	)
	defer span.End()

	e.flushMu.Lock()
	defer e.flushMu.Unlock()

	// A forgotten entry must not write for a room reopened under the same
	// id; the new room's entry owns the sequence from here.
	if cur, ok := c.current(roomID); !ok || cur != e {
		return nil
	}

	room, ok := c.registry.Get(roomID)
	if !ok {
		return nil
	}

	content, rev := room.Serialize(c.opts.Field)
	if content == "" {
		e.persistedRev = rev
		c.metrics.SnapshotsSkipped.Inc()
		c.logger.Debug("document is empty, skipping save", zap.String("room_id", roomID))
		return nil
	}

	seq := e.nextSeq
	start := time.Now()
	attempts, err := c.save(ctx, roomID, content, seq)
	c.metrics.PersistDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		perr := &PersistenceError{RoomID: roomID, Seq: seq, Attempts: attempts, Err: err}
		middleware.AddSpanError(ctx, perr)
		c.metrics.PersistFailures.WithLabelValues(trigger).Inc()
		c.logger.Error("❌ snapshot save failed",
			zap.String("room_id", roomID),
			zap.Int64("seq", seq),
			zap.Int("attempts", attempts),
			zap.String("trigger", trigger),
			zap.Error(err),
		)
		return perr
	}

	e.nextSeq = seq + 1
	e.persistedRev = rev
	c.metrics.SnapshotsSaved.Inc()
	c.logger.Info("💾 snapshot saved",
		zap.String("room_id", roomID),
		zap.Int64("seq", seq),
		zap.Uint64("revision", rev),
		zap.Int("bytes", len(content)),
		zap.String("trigger", trigger),
	)
	return nil
}

// save tries the write up to opts.Attempts times, each bounded by
// opts.Timeout, doubling the pause between attempts.
func (c *Coordinator) save(ctx context.Context, roomID, content string, seq int64) (int, error) {
	var lastErr error
	backoff := c.opts.Backoff

	for attempt := 1; attempt <= c.opts.Attempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
		err := c.store.SaveSnapshot(attemptCtx, roomID, content, seq)
		cancel()
		if err == nil {
			return attempt, nil
		}
		lastErr = err

		middleware.AddSpanEvent(ctx, "save attempt failed",
			attribute.Int("attempt", attempt),
			attribute.String("error", err.Error()),
		)
		c.logger.Warn("snapshot save attempt failed",
			zap.String("room_id", roomID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)

		if attempt == c.opts.Attempts {
			return attempt, lastErr
		}

		select {
		case <-ctx.Done():
			return attempt, fmt.Errorf("%w (gave up: %v)", lastErr, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	return c.opts.Attempts, lastErr
}
