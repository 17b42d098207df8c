package handler

import (
	"bufio"
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/yourorg/podbay/internal/domain"
)

// LogsHandler streams a user's pod logs over a WebSocket connection
type LogsHandler struct {
	cluster        domain.ClusterClient
	logger         *slog.Logger
	allowedOrigins []string
}

// NewLogsHandler creates a new logs handler
func NewLogsHandler(cluster domain.ClusterClient, logger *slog.Logger, allowedOrigins []string) *LogsHandler {
	return &LogsHandler{
		cluster:        cluster,
		logger:         logger,
		allowedOrigins: allowedOrigins,
	}
}

func (h *LogsHandler) getUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				// Allow requests with no origin (e.g., non-browser clients)
				return true
			}
			for _, allowed := range h.allowedOrigins {
				if origin == allowed {
					return true
				}
			}
			h.logger.Warn("websocket origin rejected", slog.String("origin", origin))
			return false
		},
	}
}

// ServeHTTP handles GET /ws/logs/{userId} requests
func (h *LogsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	if userID == "" {
		http.Error(w, "user id required", http.StatusBadRequest)
		return
	}

	upgrader := h.getUpgrader()
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer ws.Close()

	ctx := r.Context()

	// Resolve the live pod backing this user's instance.
	statuses, err := h.cluster.ListInstanceStatus(ctx, userID)
	if err != nil {
		h.logger.Error("failed to resolve pod for logs",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		ws.WriteMessage(websocket.TextMessage, []byte("Error: could not resolve pod"))
		return
	}
	if len(statuses) == 0 {
		ws.WriteMessage(websocket.TextMessage, []byte("Error: no pod found for user"))
		return
	}

	stream, err := h.cluster.StreamLogs(ctx, statuses[0].Name)
	if err != nil {
		h.logger.Error("failed to stream logs",
			slog.String("user_id", userID),
			slog.String("pod", statuses[0].Name),
			slog.String("error", err.Error()),
		)
		ws.WriteMessage(websocket.TextMessage, []byte("Error: "+err.Error()))
		return
	}
	defer stream.Close()

	if err := h.pump(ws, stream); err != nil {
		h.logger.Debug("log streaming ended",
			slog.String("user_id", userID),
			slog.String("reason", err.Error()),
		)
	}
}

// pump copies log lines from the platform stream to the WebSocket client.
func (h *LogsHandler) pump(ws *websocket.Conn, stream io.Reader) error {
	scanner := bufio.NewScanner(stream)
	for scanner.Scan() {
		if err := ws.WriteMessage(websocket.TextMessage, scanner.Bytes()); err != nil {
			return err
		}
	}
	return scanner.Err()
}
