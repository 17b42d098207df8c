package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/yourorg/podbay/internal/service"
)

// DeleteHandler handles instance deletion requests
type DeleteHandler struct {
	podService *service.PodService
	logger     *slog.Logger
}

// NewDeleteHandler creates a new delete handler
func NewDeleteHandler(podService *service.PodService, logger *slog.Logger) *DeleteHandler {
	return &DeleteHandler{
		podService: podService,
		logger:     logger,
	}
}

// ServeHTTP handles DELETE /api/pods/{id} requests
func (h *DeleteHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid instance id", http.StatusBadRequest)
		return
	}

	h.logger.Debug("delete instance request", slog.Int64("instance_id", id))

	if err := h.podService.Terminate(r.Context(), id); err != nil {
		h.logger.Error("failed to delete instance",
			slog.Int64("instance_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, err, "failed to delete instance")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
