package audit

import (
	"context"
	"log/slog"
	"time"
)

// Logger emits structured audit records for mutating operations.
type Logger struct {
	logger *slog.Logger
}

func NewLogger(logger *slog.Logger) *Logger {
	return &Logger{logger: logger}
}

func (al *Logger) LogAction(ctx context.Context, caller, action, resource, resourceID, status, details string) {
	al.logger.Info("audit",
		slog.String("action", action),
		slog.String("resource", resource),
		slog.String("resource_id", resourceID),
		slog.String("caller", caller),
		slog.String("status", status),
		slog.String("details", details),
		slog.Time("timestamp", time.Now()),
	)
}

func (al *Logger) LogProvisioning(ctx context.Context, caller, instanceID, status, details string) {
	al.LogAction(ctx, caller, "provision", "pod", instanceID, status, details)
}

func (al *Logger) LogDeletion(ctx context.Context, caller, instanceID, status, details string) {
	al.LogAction(ctx, caller, "delete", "pod", instanceID, status, details)
}
