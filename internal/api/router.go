package api

import (
	"collab-hub/internal/middleware"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// SetupRoutes mounts the REST, metrics and websocket routes. gatherer may be
// nil, in which case /metrics is not served.
func SetupRoutes(h *Handler, logger *zap.Logger, gatherer prometheus.Gatherer) *mux.Router {
	r := mux.NewRouter()

	// Learning: Middleware runs in order - tracing first, then recovery, then CORS
	r.Use(middleware.Tracing(logger))
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.CORSMiddleware)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", h.Health).Methods("GET")
	api.HandleFunc("/rooms", h.ListRooms).Methods("GET")
	api.HandleFunc("/rooms/{room}", h.GetRoom).Methods("GET")
	api.HandleFunc("/rooms/{room}/snapshot", h.GetLatestSnapshot).Methods("GET")
	api.HandleFunc("/rooms/{room}/snapshots", h.ListSnapshots).Methods("GET")

	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}

	// WebSocket routes. Editors built on Hocuspocus connect to /{room}
	// directly; /ws/{room} is the explicit form.
	r.HandleFunc("/ws/{room}", h.HandleRoomWebSocket).Methods("GET")
	r.HandleFunc("/{room}", h.HandleRoomWebSocket).Methods("GET")

	return r
}
