package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/yourorg/podbay/internal/service"
)

// ProvisionRequest represents the request to provision an instance
type ProvisionRequest struct {
	PlanType string `json:"planType"`
	Email    string `json:"email,omitempty"`
}

// ProvisionHandler handles instance provisioning requests
type ProvisionHandler struct {
	podService *service.PodService
	logger     *slog.Logger
}

// NewProvisionHandler creates a new provision handler
func NewProvisionHandler(podService *service.PodService, logger *slog.Logger) *ProvisionHandler {
	return &ProvisionHandler{
		podService: podService,
		logger:     logger,
	}
}

// ServeHTTP handles POST /api/pods requests. Creation is requested, not
// awaited: the response carries status "creating" and the caller polls.
func (h *ProvisionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req ProvisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("failed to decode request", slog.String("error", err.Error()))
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	view, err := h.podService.Provision(r.Context(), req.PlanType, req.Email)
	if err != nil {
		h.logger.Error("failed to provision instance",
			slog.String("plan_type", req.PlanType),
			slog.String("error", err.Error()),
		)
		writeError(w, err, "failed to provision instance")
		return
	}

	writeJSON(w, http.StatusCreated, view)
}
