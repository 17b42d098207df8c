package handler

import (
	"log/slog"
	"net/http"

	"github.com/yourorg/podbay/pkg/config"
)

// PlansHandler returns the available plan tiers and their sizing
type PlansHandler struct {
	config *config.Config
	log    *slog.Logger
}

// NewPlansHandler creates a new plans handler
func NewPlansHandler(cfg *config.Config, log *slog.Logger) *PlansHandler {
	return &PlansHandler{config: cfg, log: log}
}

// ServeHTTP handles GET /api/plans requests
func (h *PlansHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type planView struct {
		ID        string `json:"id"`
		Name      string `json:"name"`
		CPUMilli  int    `json:"cpuMilli"`
		MemoryMB  int    `json:"memoryMB"`
		StorageGB int    `json:"storageGB"`
	}

	plans := make([]planView, 0, len(h.config.Plans))
	for id, p := range h.config.Plans {
		plans = append(plans, planView{
			ID:        id,
			Name:      p.Name,
			CPUMilli:  p.CPUMilli,
			MemoryMB:  p.MemoryMB,
			StorageGB: p.StorageGB,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"plans": plans})
}
