package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/yourorg/podbay/internal/handler"
	"github.com/yourorg/podbay/internal/infrastructure/kube"
	"github.com/yourorg/podbay/internal/infrastructure/logger"
	"github.com/yourorg/podbay/internal/infrastructure/redis"
	"github.com/yourorg/podbay/internal/observability/metrics"
	"github.com/yourorg/podbay/internal/observability/tracing"
	"github.com/yourorg/podbay/internal/ports"
	"github.com/yourorg/podbay/internal/repository"
	"github.com/yourorg/podbay/internal/security/audit"
	"github.com/yourorg/podbay/internal/security/middleware"
	"github.com/yourorg/podbay/internal/security/ratelimit"
	"github.com/yourorg/podbay/internal/service"
	"github.com/yourorg/podbay/internal/template"
	"github.com/yourorg/podbay/internal/worker"
	"github.com/yourorg/podbay/pkg/config"
	"github.com/yourorg/podbay/pkg/database"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize structured logger
	log := logger.NewLogger(cfg.LogLevel)
	log.Info("starting podbay server", slog.String("environment", cfg.Environment))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Tracing (no-op unless OTEL_EXPORTER_OTLP_ENDPOINT is set)
	shutdownTracing, err := tracing.Init(ctx, log, "podbay", cfg.Environment)
	if err != nil {
		log.Error("failed to initialize tracing", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Postgres: the durable source of truth
	dbPool, err := database.NewConnectionPool(ctx, &database.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}, log)
	if err != nil {
		log.Error("failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer dbPool.Close()

	if err := dbPool.Migrate(ctx); err != nil {
		log.Error("failed to migrate schema", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 5. Redis: advisory port claims. Optional; allocation degrades without it.
	var redisClient *redis.Client
	redisClient, err = redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Warn("redis unavailable, port claims disabled", slog.String("error", err.Error()))
		redisClient = nil
	} else {
		defer redisClient.Close()
	}

	// 6. Kubernetes cluster driver
	renderer := template.NewPlanRenderer(cfg.Plans, cfg.StorageClass)
	kubeClient, err := kube.NewClient(cfg.KubeconfigPath, cfg.Namespace, renderer, log)
	if err != nil {
		log.Error("failed to initialize kubernetes client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 7. Repositories and allocator
	userRepo := repository.NewPostgresUserRepository(dbPool.GetDB(), log)
	instanceRepo := repository.NewPostgresInstanceRepository(dbPool.GetDB(), log)

	var claimer ports.Claimer
	if redisClient != nil {
		claimer = redisClient
	}
	allocator := ports.NewAllocator(
		cfg.PortRangeStart,
		cfg.PortRangeEnd,
		instanceRepo,
		claimer,
		time.Duration(cfg.PortClaimTTLSec)*time.Second,
		log,
	)

	// 8. Provision worker pool and orchestrator
	pool := worker.NewPool(
		kubeClient,
		instanceRepo,
		log,
		cfg.ProvisionWorkers,
		time.Duration(cfg.ProvisionTimeoutSec)*time.Second,
	)
	pool.Start(ctx)

	podService := service.NewPodService(userRepo, instanceRepo, kubeClient, allocator, pool, log, cfg)

	// 9. Handlers
	provisionHandler := handler.NewProvisionHandler(podService, log)
	podsHandler := handler.NewPodsHandler(podService, log)
	userPodsHandler := handler.NewUserPodsHandler(podService, log)
	podStatusHandler := handler.NewPodStatusHandler(podService, log)
	deleteHandler := handler.NewDeleteHandler(podService, log)
	clusterHandler := handler.NewClusterStatusHandler(podService, log)
	plansHandler := handler.NewPlansHandler(cfg, log)
	logsHandler := handler.NewLogsHandler(kubeClient, log, cfg.CORSAllowedOrigins)
	healthHandler := handler.NewHealthHandler(dbPool, redisClient, log)

	rateLimiter := ratelimit.NewLimiter(100, time.Minute)
	auditLogger := audit.NewLogger(log)

	// 10. Routes
	mux := http.NewServeMux()
	mux.Handle("POST /api/pods", provisionHandler)
	mux.Handle("GET /api/pods", podsHandler)
	mux.Handle("GET /api/pods/{id}/status", podStatusHandler)
	mux.Handle("DELETE /api/pods/{id}", deleteHandler)
	mux.Handle("GET /api/users/{userId}/pods", userPodsHandler)
	mux.Handle("GET /api/cluster/status", clusterHandler)
	mux.Handle("GET /api/plans", plansHandler)
	mux.Handle("GET /ws/logs/{userId}", logsHandler)
	mux.HandleFunc("GET /healthz", healthHandler.Health)
	mux.HandleFunc("GET /readyz", healthHandler.Ready)
	mux.Handle("/metrics", promhttp.Handler())

	// CORS middleware honoring configured origins
	handlerWithCORS := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if originAllowed(cfg.CORSAllowedOrigins, origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		} else if len(cfg.CORSAllowedOrigins) > 0 {
			w.Header().Set("Access-Control-Allow-Origin", cfg.CORSAllowedOrigins[0])
		}
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		mux.ServeHTTP(w, r)
	})

	// Chain middleware: request ID -> audit -> rate limit -> metrics -> CORS
	rootHandler := withRequestID(
		middleware.AuditMiddleware(auditLogger)(
			middleware.RateLimitMiddleware(rateLimiter, log)(
				metrics.HTTPMetricsMiddleware(handlerWithCORS),
			),
		),
		log,
	)

	// 11. HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      otelhttp.NewHandler(rootHandler, "podbay"),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Info("server starting",
		slog.Int("port", cfg.ServerPort),
		slog.String("namespace", cfg.Namespace),
		slog.Int("port_range_start", cfg.PortRangeStart),
		slog.Int("port_range_end", cfg.PortRangeEnd),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", slog.String("error", err.Error()))
		}
	}()

	<-sigChan
	log.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", slog.String("error", err.Error()))
	}

	cancel() // stop provision workers
	pool.Wait()
	rateLimiter.Stop()
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error("tracing shutdown error", slog.String("error", err.Error()))
	}
	log.Info("server stopped")
}

type requestIDKey struct{}

// withRequestID attaches a request ID to the context and response headers for traceability
func withRequestID(next http.Handler, log *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := generateRequestID()
		w.Header().Set("X-Request-ID", reqID)

		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		start := time.Now()

		next.ServeHTTP(w, r.WithContext(ctx))

		log.Info("request completed",
			slog.String("request_id", reqID),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Duration("duration_ms", time.Since(start)),
		)
	})
}

func originAllowed(allowed []string, origin string) bool {
	if origin == "" {
		return false
	}
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}

func generateRequestID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err == nil {
		return hex.EncodeToString(buf)
	}
	return fmt.Sprintf("req-%d", time.Now().UnixNano())
}
