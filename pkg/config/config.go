package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds the application configuration
type Config struct {
	Environment string
	ServerPort  int
	LogLevel    string

	// Postgres
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis (advisory port claims + readiness)
	RedisURL string

	// Kubernetes
	KubeconfigPath string
	Namespace      string
	StorageClass   string

	// NodePort range handed out to instances
	PortRangeStart int
	PortRangeEnd   int

	// Host used to build the externally reachable access URL
	AccessHost string

	// Async provisioning
	ProvisionWorkers      int
	ProvisionTimeoutSec   int
	ClusterStatusCacheSec int
	PortClaimTTLSec       int
	AllocationMaxAttempts int
	CORSAllowedOrigins    []string

	Plans map[string]Plan
}

// Plan defines per-tier resource sizing fed to the manifest renderer.
type Plan struct {
	Name      string
	Image     string
	CPUMilli  int
	MemoryMB  int
	StorageGB int
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	port, err := strconv.Atoi(getEnv("SERVER_PORT", "8080"))
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_PORT: %w", err)
	}

	dbPort, err := strconv.Atoi(getEnv("DB_PORT", "5432"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_PORT: %w", err)
	}

	rangeStart, err := strconv.Atoi(getEnv("PORT_RANGE_START", "31000"))
	if err != nil {
		return nil, fmt.Errorf("invalid PORT_RANGE_START: %w", err)
	}

	rangeEnd, err := strconv.Atoi(getEnv("PORT_RANGE_END", "32000"))
	if err != nil {
		return nil, fmt.Errorf("invalid PORT_RANGE_END: %w", err)
	}
	if rangeEnd < rangeStart {
		return nil, fmt.Errorf("PORT_RANGE_END %d below PORT_RANGE_START %d", rangeEnd, rangeStart)
	}

	workers, err := strconv.Atoi(getEnv("PROVISION_WORKERS", "4"))
	if err != nil {
		return nil, fmt.Errorf("invalid PROVISION_WORKERS: %w", err)
	}

	provisionTimeout, err := strconv.Atoi(getEnv("PROVISION_TIMEOUT_SECONDS", "300"))
	if err != nil {
		return nil, fmt.Errorf("invalid PROVISION_TIMEOUT_SECONDS: %w", err)
	}

	statusCache, err := strconv.Atoi(getEnv("CLUSTER_STATUS_CACHE_SECONDS", "10"))
	if err != nil {
		return nil, fmt.Errorf("invalid CLUSTER_STATUS_CACHE_SECONDS: %w", err)
	}

	claimTTL, err := strconv.Atoi(getEnv("PORT_CLAIM_TTL_SECONDS", "60"))
	if err != nil {
		return nil, fmt.Errorf("invalid PORT_CLAIM_TTL_SECONDS: %w", err)
	}

	allocAttempts, err := strconv.Atoi(getEnv("ALLOCATION_MAX_ATTEMPTS", "3"))
	if err != nil {
		return nil, fmt.Errorf("invalid ALLOCATION_MAX_ATTEMPTS: %w", err)
	}

	return &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		ServerPort:  port,
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     dbPort,
		DBUser:     getEnv("DB_USER", "podbay"),
		DBPassword: getEnv("DB_PASSWORD", "dev"),
		DBName:     getEnv("DB_NAME", "podbay"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		RedisURL: getEnv("REDIS_URL", "redis://localhost:6379"),

		KubeconfigPath: getEnv("KUBECONFIG", defaultKubeconfig()),
		Namespace:      getEnv("POD_NAMESPACE", "user-pods"),
		StorageClass:   getEnv("STORAGE_CLASS", "user-pod-storage"),

		PortRangeStart: rangeStart,
		PortRangeEnd:   rangeEnd,

		AccessHost: getEnv("ACCESS_HOST", "192.168.31.152"),

		ProvisionWorkers:      workers,
		ProvisionTimeoutSec:   provisionTimeout,
		ClusterStatusCacheSec: statusCache,
		PortClaimTTLSec:       claimTTL,
		AllocationMaxAttempts: allocAttempts,
		CORSAllowedOrigins: parseCSVEnv("CORS_ALLOWED_ORIGINS", []string{
			"http://localhost:5173",
			"http://localhost:3000",
		}),

		Plans: map[string]Plan{
			"basic": {
				Name:      "Basic (500m CPU, 512MB, 1Gi volume)",
				Image:     getEnv("WORKLOAD_IMAGE", "n8nio/n8n:latest"),
				CPUMilli:  500,
				MemoryMB:  512,
				StorageGB: 1,
			},
			"pro": {
				Name:      "Pro (1000m CPU, 1GB, 5Gi volume)",
				Image:     getEnv("WORKLOAD_IMAGE", "n8nio/n8n:latest"),
				CPUMilli:  1000,
				MemoryMB:  1024,
				StorageGB: 5,
			},
		},
	}, nil
}

func defaultKubeconfig() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home + "/.kube/config"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseCSVEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}
