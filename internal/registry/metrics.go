package registry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// InstanceHealthy shows whether an instance is in the load balancing
	// candidate set.
	InstanceHealthy = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_instance_healthy",
			Help: "Whether a backend instance is healthy (1) or not (0)",
		},
		[]string{"service", "instance"},
	)

	// HealthChecksTotal counts health probes by result.
	HealthChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_health_checks_total",
			Help: "Total number of health probes performed",
		},
		[]string{"service", "result"},
	)

	// HealthCheckDuration observes probe latency.
	HealthCheckDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_health_check_duration_seconds",
			Help:    "Health probe duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service"},
	)
)

func recordInstanceHealth(service, instance string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1.0
	}
	InstanceHealthy.WithLabelValues(service, instance).Set(v)
}

func recordHealthCheck(service, result string, duration time.Duration) {
	HealthChecksTotal.WithLabelValues(service, result).Inc()
	HealthCheckDuration.WithLabelValues(service).Observe(duration.Seconds())
}
