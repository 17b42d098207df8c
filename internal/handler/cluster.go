package handler

import (
	"log/slog"
	"net/http"

	"github.com/yourorg/podbay/internal/service"
)

// ClusterStatusHandler exposes the composed cluster + port range summary
type ClusterStatusHandler struct {
	podService *service.PodService
	logger     *slog.Logger
}

// NewClusterStatusHandler creates a new cluster status handler
func NewClusterStatusHandler(podService *service.PodService, logger *slog.Logger) *ClusterStatusHandler {
	return &ClusterStatusHandler{podService: podService, logger: logger}
}

// ServeHTTP handles GET /api/cluster/status requests. The reply is always
// well-formed; an unreachable platform degrades the counts to zero.
func (h *ClusterStatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status, err := h.podService.ClusterStatus(r.Context())
	if err != nil {
		h.logger.Error("failed to get cluster status", slog.String("error", err.Error()))
		writeError(w, err, "failed to get cluster status")
		return
	}

	writeJSON(w, http.StatusOK, status)
}
