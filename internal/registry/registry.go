// Package registry holds the authoritative in-memory map of logical
// service names to their backend instances and health status. Services
// are registered once at startup; instance health is mutated only by the
// health-check loop and read concurrently through immutable snapshots.
package registry

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/repitbot/gateway/internal/config"
	"github.com/repitbot/gateway/internal/observability"
	"github.com/repitbot/gateway/internal/util"
)

// Instance is a point-in-time snapshot of a backend instance. Callers
// never observe a registry mutation mid-iteration.
type Instance struct {
	Address             string
	Healthy             bool
	LastChecked         time.Time
	ConsecutiveFailures int
}

// instance is the mutable backing state for one backend address. All
// fields are atomics so the single-writer health loop never blocks the
// request path.
type instance struct {
	address     string
	healthy     atomic.Bool
	lastChecked atomic.Int64 // unix nanos, zero until first probe
	consecFails atomic.Int32
}

func (i *instance) snapshot() Instance {
	var checked time.Time
	if nanos := i.lastChecked.Load(); nanos != 0 {
		checked = time.Unix(0, nanos)
	}
	return Instance{
		Address:             i.address,
		Healthy:             i.healthy.Load(),
		LastChecked:         checked,
		ConsecutiveFailures: int(i.consecFails.Load()),
	}
}

// Service describes one registered logical service.
type Service struct {
	Name         string
	PathPrefix   string
	StripPrefix  bool
	AuthRequired bool
	Timeout      time.Duration

	instances []*instance
}

// Registry is the service table. The map is written only during Register
// (startup); after that it is read-only and per-instance state is atomic.
type Registry struct {
	mu       sync.RWMutex
	services map[string]*Service
	logger   observability.Logger
}

// New creates an empty registry.
func New(logger observability.Logger) *Registry {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Registry{
		services: make(map[string]*Service),
		logger:   logger,
	}
}

// Register adds a service from configuration. Registering a duplicate
// name is a configuration error and fails.
func (r *Registry) Register(cfg config.Service) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.services[cfg.Name]; exists {
		return util.NewConfigError("services",
			fmt.Sprintf("service %q already registered", cfg.Name))
	}

	svc := &Service{
		Name:         cfg.Name,
		PathPrefix:   cfg.PathPrefix,
		StripPrefix:  cfg.StripPrefix,
		AuthRequired: cfg.AuthRequired,
		Timeout:      cfg.Timeout.Duration(),
	}
	for _, addr := range cfg.Instances {
		inst := &instance{address: addr}
		// Instances start healthy; the first probe corrects this
		// within one health-check interval.
		inst.healthy.Store(true)
		svc.instances = append(svc.instances, inst)
	}

	r.services[cfg.Name] = svc

	r.logger.Info("registered service",
		observability.String("service", cfg.Name),
		observability.String("prefix", cfg.PathPrefix),
		observability.Int("instances", len(cfg.Instances)),
	)

	return nil
}

// Resolve returns the service descriptor for a logical name.
func (r *Registry) Resolve(name string) (*Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	svc, ok := r.services[name]
	if !ok {
		return nil, fmt.Errorf("service %q: %w", name, util.ErrUnknownService)
	}
	return svc, nil
}

// Instances returns a point-in-time snapshot of all instances of a
// service, healthy or not.
func (r *Registry) Instances(name string) ([]Instance, error) {
	svc, err := r.Resolve(name)
	if err != nil {
		return nil, err
	}

	snapshots := make([]Instance, len(svc.instances))
	for i, inst := range svc.instances {
		snapshots[i] = inst.snapshot()
	}
	return snapshots, nil
}

// Services returns all registered services sorted by name.
func (r *Registry) Services() []*Service {
	r.mu.RLock()
	defer r.mu.RUnlock()

	services := make([]*Service, 0, len(r.services))
	for _, svc := range r.services {
		services = append(services, svc)
	}
	sort.Slice(services, func(i, j int) bool {
		return services[i].Name < services[j].Name
	})
	return services
}

// MatchPrefix resolves the service whose path prefix matches the request
// path. The longest matching prefix wins so nested prefixes behave
// predictably.
func (r *Registry) MatchPrefix(path string) (*Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *Service
	for _, svc := range r.services {
		if !hasPathPrefix(path, svc.PathPrefix) {
			continue
		}
		if best == nil || len(svc.PathPrefix) > len(best.PathPrefix) {
			best = svc
		}
	}
	if best == nil {
		return nil, fmt.Errorf("path %q: %w", path, util.ErrUnknownService)
	}
	return best, nil
}

// hasPathPrefix matches on path segment boundaries: /api/v1/lessons
// matches /api/v1/lessons and /api/v1/lessons/42, never /api/v1/lessonsx.
func hasPathPrefix(path, prefix string) bool {
	if len(path) < len(prefix) || path[:len(prefix)] != prefix {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}

// MarkHealthy records a successful probe: the instance becomes eligible
// for load balancing and its failure streak resets. Called only by the
// health-check loop.
func (r *Registry) MarkHealthy(name, address string) {
	if inst := r.findInstance(name, address); inst != nil {
		wasHealthy := inst.healthy.Swap(true)
		inst.consecFails.Store(0)
		inst.lastChecked.Store(time.Now().UnixNano())
		if !wasHealthy {
			r.logger.Info("instance recovered",
				observability.String("service", name),
				observability.String("instance", address),
			)
			recordInstanceHealth(name, address, true)
		}
	}
}

// MarkUnhealthy removes the instance from the load balancing candidate
// set. Called only by the health-check loop.
func (r *Registry) MarkUnhealthy(name, address string) {
	if inst := r.findInstance(name, address); inst != nil {
		wasHealthy := inst.healthy.Swap(false)
		inst.lastChecked.Store(time.Now().UnixNano())
		if wasHealthy {
			r.logger.Warn("instance unhealthy",
				observability.String("service", name),
				observability.String("instance", address),
				observability.Int("consecutive_failures", int(inst.consecFails.Load())),
			)
			recordInstanceHealth(name, address, false)
		}
	}
}

// RecordProbeFailure increments the consecutive failure counter and
// returns the new count. Called only by the health-check loop.
func (r *Registry) RecordProbeFailure(name, address string) int {
	inst := r.findInstance(name, address)
	if inst == nil {
		return 0
	}
	inst.lastChecked.Store(time.Now().UnixNano())
	return int(inst.consecFails.Add(1))
}

func (r *Registry) findInstance(name, address string) *instance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	svc, ok := r.services[name]
	if !ok {
		return nil
	}
	for _, inst := range svc.instances {
		if inst.address == address {
			return inst
		}
	}
	return nil
}
