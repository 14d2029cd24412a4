package circuitbreaker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BreakerState shows the current state per service
	// (0=closed, 1=open, 2=half-open).
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"service"},
	)

	// BreakerRequestsTotal counts admission decisions.
	BreakerRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_circuit_breaker_requests_total",
			Help: "Total requests evaluated by circuit breakers",
		},
		[]string{"service", "result"},
	)

	// BreakerFailuresTotal counts recorded downstream failures.
	BreakerFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_circuit_breaker_failures_total",
			Help: "Total failures recorded by circuit breakers",
		},
		[]string{"service"},
	)

	// BreakerSuccessesTotal counts recorded downstream successes.
	BreakerSuccessesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_circuit_breaker_successes_total",
			Help: "Total successes recorded by circuit breakers",
		},
		[]string{"service"},
	)

	// BreakerTransitionsTotal counts state transitions.
	BreakerTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_circuit_breaker_transitions_total",
			Help: "Total circuit breaker state transitions",
		},
		[]string{"service", "from", "to"},
	)
)

func recordRequest(service string, allowed bool) {
	result := "allowed"
	if !allowed {
		result = "rejected"
	}
	BreakerRequestsTotal.WithLabelValues(service, result).Inc()
}

func recordSuccess(service string) {
	BreakerSuccessesTotal.WithLabelValues(service).Inc()
}

func recordFailure(service string) {
	BreakerFailuresTotal.WithLabelValues(service).Inc()
}

func recordStateChange(service string, from, to State) {
	BreakerTransitionsTotal.WithLabelValues(service, from.String(), to.String()).Inc()
	BreakerState.WithLabelValues(service).Set(float64(to))
}
