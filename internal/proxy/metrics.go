package proxy

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	proxyRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_proxy_requests_total",
			Help: "Total number of proxied requests by service and status",
		},
		[]string{"service", "status"},
	)

	proxyRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_proxy_request_duration_seconds",
			Help:    "End-to-end proxied request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service"},
	)

	proxyRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_proxy_rejections_total",
			Help: "Requests rejected before reaching a backend, by reason",
		},
		[]string{"service", "reason"},
	)

	proxyUpstreamErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_proxy_upstream_errors_total",
			Help: "Transport-level errors talking to backends",
		},
		[]string{"service", "kind"},
	)
)

func recordProxyRequest(service string, status int, duration time.Duration) {
	proxyRequestsTotal.WithLabelValues(service, strconv.Itoa(status)).Inc()
	proxyRequestDuration.WithLabelValues(service).Observe(duration.Seconds())
}

func recordRejection(service, reason string) {
	proxyRejectionsTotal.WithLabelValues(service, reason).Inc()
}

func recordUpstreamError(service, kind string) {
	proxyUpstreamErrorsTotal.WithLabelValues(service, kind).Inc()
}
