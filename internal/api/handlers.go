package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"collab-hub/internal/middleware"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Handler serves the HTTP side of the hub. Room connections themselves are
// upgraded by the websocket handler mounted in SetupRoutes.
type Handler struct {
	rooms     RoomDirectory
	sessions  SessionCounter
	snapshots SnapshotReader
	wsHandler http.Handler
	logger    *zap.Logger
	startedAt time.Time
}

func NewHandler(
	rooms RoomDirectory,
	sessions SessionCounter,
	snapshots SnapshotReader,
	wsHandler http.Handler,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		rooms:     rooms,
		sessions:  sessions,
		snapshots: snapshots,
		wsHandler: wsHandler,
		logger:    logger,
		startedAt: time.Now(),
	}
}

type roomResponse struct {
	ID        string    `json:"id"`
	State     string    `json:"state"`
	Revision  uint64    `json:"revision"`
	Sessions  int       `json:"sessions"`
	CreatedAt time.Time `json:"createdAt"`
}

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

type snapshotSummary struct {
	Seq       int64     `json:"seq"`
	Bytes     int       `json:"bytes"`
	CreatedAt time.Time `json:"createdAt"`
}

type snapshotResponse struct {
	RoomID    string    `json:"roomId"`
	Seq       int64     `json:"seq"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "healthy",
		"rooms":    len(h.rooms.Rooms()),
		"sessions": h.sessions.SessionCount(),
		"uptime":   time.Since(h.startedAt).Round(time.Second).String(),
	})
}

func (h *Handler) ListRooms(w http.ResponseWriter, r *http.Request) {
	infos := h.rooms.Rooms()
	rooms := make([]roomResponse, 0, len(infos))
	for _, info := range infos {
		rooms = append(rooms, roomResponse(info))
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rooms": rooms,
		"count": len(rooms),
	})
}

func (h *Handler) GetRoom(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["room"]

	info, ok := h.rooms.Room(roomID)
	if !ok {
		writeError(w, http.StatusNotFound, "room is not active")
		return
	}
	writeJSON(w, http.StatusOK, roomResponse(info))
}

// GetLatestSnapshot returns the newest persisted content of a room, whether
// or not the room is currently open.
func (h *Handler) GetLatestSnapshot(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["room"]

	ctx, span := middleware.StartSpan(r.Context(), "Handler.GetLatestSnapshot",
		attribute.String("room.id", roomID),
	)
	defer span.End()

	snap, err := h.snapshots.LoadSnapshot(ctx, roomID)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		h.logger.Error("failed to load snapshot", zap.String("room_id", roomID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load snapshot")
		return
	}
	if snap == nil {
		writeError(w, http.StatusNotFound, "no snapshot for room")
		return
	}

	writeJSON(w, http.StatusOK, snapshotResponse{
		RoomID:    snap.RoomID,
		Seq:       snap.Seq,
		Content:   snap.Content,
		CreatedAt: snap.CreatedAt,
	})
}

// ListSnapshots returns the room's retained snapshots, newest first,
// without their content. ?limit= caps the count.
func (h *Handler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["room"]

	limit := defaultHistoryLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	ctx, span := middleware.StartSpan(r.Context(), "Handler.ListSnapshots",
		attribute.String("room.id", roomID),
		attribute.Int("limit", limit),
	)
	defer span.End()

	snaps, err := h.snapshots.ListSnapshots(ctx, roomID, limit)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		h.logger.Error("failed to list snapshots", zap.String("room_id", roomID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list snapshots")
		return
	}

	history := make([]snapshotSummary, 0, len(snaps))
	for _, snap := range snaps {
		history = append(history, snapshotSummary{
			Seq:       snap.Seq,
			Bytes:     len(snap.Content),
			CreatedAt: snap.CreatedAt,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"roomId":    roomID,
		"snapshots": history,
		"count":     len(history),
	})
}

// HandleRoomWebSocket hands room connections to the collaboration layer.
func (h *Handler) HandleRoomWebSocket(w http.ResponseWriter, r *http.Request) {
	h.wsHandler.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
