package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/yourorg/podbay/internal/infrastructure/redis"
	"github.com/yourorg/podbay/pkg/database"
)

// HealthHandler handles liveness and readiness endpoints
type HealthHandler struct {
	db     *database.ConnectionPool
	redis  *redis.Client
	logger *slog.Logger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(db *database.ConnectionPool, redisClient *redis.Client, logger *slog.Logger) *HealthHandler {
	if logger == nil {
		logger = slog.Default()
	}

	return &HealthHandler{
		db:     db,
		redis:  redisClient,
		logger: logger,
	}
}

// Health handles GET /healthz - simple liveness check
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready handles GET /readyz - readiness check against Postgres and Redis.
// Redis is advisory-only, so a Redis outage degrades the check rather than
// failing it.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)

	dbOK := false
	if err := h.db.Health(ctx); err == nil {
		checks["postgres"] = "ok"
		dbOK = true
	} else {
		checks["postgres"] = "error: " + err.Error()
	}

	if h.redis != nil {
		if err := h.redis.Ping(ctx); err == nil {
			checks["redis"] = "ok"
		} else {
			checks["redis"] = "degraded: " + err.Error()
		}
	} else {
		checks["redis"] = "not configured"
	}

	status := "ready"
	statusCode := http.StatusOK
	if !dbOK {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}
