package collaboration

import (
	"net/http"
	"strings"

	"collab-hub/internal/auth"
	"collab-hub/internal/middleware"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// WebSocketHandler upgrades room connections and hands them to the
// SessionManager.
type WebSocketHandler struct {
	sessionManager *SessionManager
	upgrader       websocket.Upgrader
	logger         *zap.Logger
}

func NewWebSocketHandler(sessionManager *SessionManager, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		sessionManager: sessionManager,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser editors connect from the app's own origin; access is
			// decided by the credential, not the origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// HandleRoomConnection serves GET /ws/{room} and GET /{room}. The credential
// comes from ?token=, falling back to ?sessionId=.
func (h *WebSocketHandler) HandleRoomConnection(w http.ResponseWriter, r *http.Request) {
	roomID := strings.TrimSpace(mux.Vars(r)["room"])
	if roomID == "" {
		http.Error(w, "room name is required", http.StatusBadRequest)
		return
	}
	credential := auth.CredentialFromRequest(r)

	ctx, span := middleware.StartSpan(r.Context(), "WebSocket.Connect",
		attribute.String("room.id", roomID),
	)
	defer span.End()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("failed to upgrade WebSocket", zap.String("room_id", roomID), zap.Error(err))
		middleware.AddSpanError(ctx, err)
		return
	}

	h.sessionManager.Serve(ctx, conn, roomID, credential)
}

func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.HandleRoomConnection(w, r)
}
