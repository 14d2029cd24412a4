package gateway

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/repitbot/gateway/internal/circuitbreaker"
	"github.com/repitbot/gateway/internal/health"
	"github.com/repitbot/gateway/internal/util"
)

// serviceStatus is one entry of the services diagnostic endpoint.
type serviceStatus struct {
	Name             string                `json:"name"`
	PathPrefix       string                `json:"path_prefix"`
	AuthRequired     bool                  `json:"auth_required"`
	CircuitState     string                `json:"circuit_state"`
	HealthyInstances int                   `json:"healthy_instances"`
	Instances        []instanceStatus      `json:"instances"`
	Breaker          *circuitbreaker.Stats `json:"breaker,omitempty"`
}

type instanceStatus struct {
	Address             string    `json:"address"`
	Healthy             bool      `json:"healthy"`
	LastChecked         time.Time `json:"last_checked,omitzero"`
	ConsecutiveFailures int       `json:"consecutive_failures,omitempty"`
}

// detailedStatus is the body of the detailed health endpoint.
type detailedStatus struct {
	Status    health.Status   `json:"status"`
	Version   string          `json:"version"`
	Uptime    string          `json:"uptime"`
	Timestamp time.Time       `json:"timestamp"`
	Services  []serviceStatus `json:"services"`
}

// buildMux wires the admin surface around the proxy pipeline.
func (g *Gateway) buildMux() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", g.health.HealthHandler())
	mux.HandleFunc("/health/ready", g.health.ReadinessHandler())
	mux.HandleFunc("/health/live", g.health.LivenessHandler())
	mux.HandleFunc("/health/detailed", g.detailedHealthHandler)
	mux.HandleFunc("/gateway/services", g.servicesHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", g.proxy)

	return mux
}

// servicesHandler reports routing, health and breaker state for every
// registered service.
func (g *Gateway) servicesHandler(w http.ResponseWriter, r *http.Request) {
	util.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"services": g.collectServiceStatus(),
	})
}

// detailedHealthHandler combines the gateway summary with per-service
// backend state.
func (g *Gateway) detailedHealthHandler(w http.ResponseWriter, r *http.Request) {
	summary := g.health.Health()
	readiness := g.health.Readiness()

	util.WriteJSON(w, http.StatusOK, detailedStatus{
		Status:    readiness.Status,
		Version:   summary.Version,
		Uptime:    summary.Uptime,
		Timestamp: time.Now(),
		Services:  g.collectServiceStatus(),
	})
}

func (g *Gateway) collectServiceStatus() []serviceStatus {
	services := g.registry.Services()
	statuses := make([]serviceStatus, 0, len(services))

	breakerStats := g.breakers.Stats()

	for _, svc := range services {
		status := serviceStatus{
			Name:         svc.Name,
			PathPrefix:   svc.PathPrefix,
			AuthRequired: svc.AuthRequired,
			CircuitState: circuitbreaker.StateClosed.String(),
		}

		if stats, ok := breakerStats[svc.Name]; ok {
			status.CircuitState = stats.State.String()
			status.Breaker = &stats
		}

		instances, err := g.registry.Instances(svc.Name)
		if err == nil {
			status.Instances = make([]instanceStatus, len(instances))
			for i, inst := range instances {
				status.Instances[i] = instanceStatus{
					Address:             inst.Address,
					Healthy:             inst.Healthy,
					LastChecked:         inst.LastChecked,
					ConsecutiveFailures: inst.ConsecutiveFailures,
				}
				if inst.Healthy {
					status.HealthyInstances++
				}
			}
		}

		statuses = append(statuses, status)
	}

	return statuses
}
