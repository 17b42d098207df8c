package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "podbay_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "podbay_http_request_duration_seconds",
		Help:    "Duration of HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	provisionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "podbay_provision_duration_seconds",
		Help:    "Duration of cluster-side instance provisioning attempts",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"result"})

	teardownOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "podbay_teardown_operations_total",
		Help: "Count of instance teardown operations by result",
	}, []string{"result"})

	activeInstances = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "podbay_active_instances",
		Help: "Number of instances in running status (logical state)",
	})

	portsUsed = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "podbay_ports_used",
		Help: "NodePorts currently assigned to instance records",
	})

	portsAvailable = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "podbay_ports_available",
		Help: "NodePorts still free in the configured range",
	})

	allocationRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "podbay_port_allocation_retries_total",
		Help: "Port allocations retried after losing the insert race",
	})
)

// ObserveHTTPRequest records an HTTP request metric
func ObserveHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	httpRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// ObserveProvision records the duration of a provisioning attempt with a result label.
func ObserveProvision(result string, duration time.Duration) {
	provisionDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// ObserveTeardown increments the teardown counter for the given result.
func ObserveTeardown(result string) {
	teardownOperations.WithLabelValues(result).Inc()
}

// IncrementActive increments the active instance gauge.
func IncrementActive() {
	activeInstances.Inc()
}

// DecrementActive decrements the active instance gauge.
func DecrementActive() {
	activeInstances.Dec()
}

// SetPortUsage records the current port range usage.
func SetPortUsage(used, available int) {
	portsUsed.Set(float64(used))
	portsAvailable.Set(float64(available))
}

// ObserveAllocationRetry counts a lost port race that triggered reallocation.
func ObserveAllocationRetry() {
	allocationRetries.Inc()
}
