package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/yourorg/podbay/internal/security/audit"
	"github.com/yourorg/podbay/internal/security/ratelimit"
)

// RateLimitMiddleware limits request rates per client IP. Health, metrics,
// and log-stream endpoints are exempt.
func RateLimitMiddleware(limiter *ratelimit.Limiter, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if exemptPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			if !limiter.Allow(clientIP(r)) {
				log.Warn("rate limit exceeded",
					slog.String("client", clientIP(r)),
					slog.String("path", r.URL.Path),
				)
				http.Error(w, `{"error":"rate limit exceeded"}`, http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// AuditMiddleware records mutating operations before they execute.
func AuditMiddleware(auditLog *audit.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller := clientIP(r)

			if r.Method == http.MethodPost && r.URL.Path == "/api/pods" {
				auditLog.LogProvisioning(r.Context(), caller, "", "initiated", "")
			}
			if r.Method == http.MethodDelete {
				// Runs ahead of mux routing, so only the raw path is available.
				auditLog.LogDeletion(r.Context(), caller, r.URL.Path, "initiated", "")
			}

			next.ServeHTTP(w, r)
		})
	}
}

func exemptPath(path string) bool {
	switch path {
	case "/healthz", "/readyz", "/metrics":
		return true
	}
	return len(path) >= 9 && path[:9] == "/ws/logs/"
}

// clientIP keys the rate limiter. Only the first X-Forwarded-For hop is
// used: the rest of the chain is caller-controlled and would let a client
// mint fresh buckets per request.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
