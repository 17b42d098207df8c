package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/yourorg/podbay/internal/service"
)

// PodsHandler handles the admin listing of all instances
type PodsHandler struct {
	podService *service.PodService
	logger     *slog.Logger
}

// NewPodsHandler creates a new pods handler
func NewPodsHandler(podService *service.PodService, logger *slog.Logger) *PodsHandler {
	return &PodsHandler{podService: podService, logger: logger}
}

// ServeHTTP handles GET /api/pods requests
func (h *PodsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	views, err := h.podService.ListAll(r.Context())
	if err != nil {
		h.logger.Error("failed to list instances", slog.String("error", err.Error()))
		writeError(w, err, "failed to list instances")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"pods": views})
}

// UserPodsHandler handles per-user instance listings with live enrichment
type UserPodsHandler struct {
	podService *service.PodService
	logger     *slog.Logger
}

// NewUserPodsHandler creates a new user pods handler
func NewUserPodsHandler(podService *service.PodService, logger *slog.Logger) *UserPodsHandler {
	return &UserPodsHandler{podService: podService, logger: logger}
}

// ServeHTTP handles GET /api/users/{userId}/pods requests
func (h *UserPodsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	if userID == "" {
		http.Error(w, "user id required", http.StatusBadRequest)
		return
	}

	views, err := h.podService.ListForUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to list user instances",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		writeError(w, err, "failed to list user instances")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"pods": views})
}

// PodStatusHandler returns the stored view of a single instance
type PodStatusHandler struct {
	podService *service.PodService
	logger     *slog.Logger
}

// NewPodStatusHandler creates a new pod status handler
func NewPodStatusHandler(podService *service.PodService, logger *slog.Logger) *PodStatusHandler {
	return &PodStatusHandler{podService: podService, logger: logger}
}

// ServeHTTP handles GET /api/pods/{id}/status requests. This is the polling
// endpoint that eventually observes the async creation outcome.
func (h *PodStatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid instance id", http.StatusBadRequest)
		return
	}

	view, err := h.podService.Status(r.Context(), id)
	if err != nil {
		writeError(w, err, "failed to get instance status")
		return
	}

	writeJSON(w, http.StatusOK, view)
}
