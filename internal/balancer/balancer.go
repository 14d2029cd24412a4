// Package balancer selects a healthy backend instance for each request.
// Selection works on registry snapshots, so a health-check sweep can
// never be observed mid-mutation by an in-flight pick.
package balancer

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/repitbot/gateway/internal/config"
	"github.com/repitbot/gateway/internal/registry"
	"github.com/repitbot/gateway/internal/util"
)

// Balancer picks one healthy instance of a logical service per request.
type Balancer interface {
	// Pick returns a healthy instance, or ErrNoHealthyInstance when the
	// candidate set is empty. It never blocks.
	Pick(service string) (registry.Instance, error)
}

// New creates a balancer for the configured strategy.
func New(strategy string, reg *registry.Registry) Balancer {
	switch strategy {
	case config.StrategyRandom:
		return NewRandom(reg)
	default:
		return NewRoundRobin(reg)
	}
}

// RoundRobin cycles through healthy instances with a per-service cursor.
// The cursor is the only shared mutable state and is updated atomically.
type RoundRobin struct {
	registry *registry.Registry
	cursors  sync.Map // service name -> *atomic.Uint64
}

// NewRoundRobin creates a round-robin balancer.
func NewRoundRobin(reg *registry.Registry) *RoundRobin {
	return &RoundRobin{registry: reg}
}

// Pick implements Balancer.
func (b *RoundRobin) Pick(service string) (registry.Instance, error) {
	healthy, err := healthyInstances(b.registry, service)
	if err != nil {
		return registry.Instance{}, err
	}
	if len(healthy) == 1 {
		return healthy[0], nil
	}

	cursor := b.cursor(service)
	idx := cursor.Add(1) - 1
	return healthy[idx%uint64(len(healthy))], nil
}

func (b *RoundRobin) cursor(service string) *atomic.Uint64 {
	if value, ok := b.cursors.Load(service); ok {
		return value.(*atomic.Uint64)
	}
	value, _ := b.cursors.LoadOrStore(service, &atomic.Uint64{})
	return value.(*atomic.Uint64)
}

// Random picks a uniformly random healthy instance.
type Random struct {
	registry *registry.Registry
}

// NewRandom creates a random balancer.
func NewRandom(reg *registry.Registry) *Random {
	return &Random{registry: reg}
}

// Pick implements Balancer.
func (b *Random) Pick(service string) (registry.Instance, error) {
	healthy, err := healthyInstances(b.registry, service)
	if err != nil {
		return registry.Instance{}, err
	}
	return healthy[secureRandomInt(len(healthy))], nil
}

// healthyInstances returns the healthy subset of a service's snapshot.
func healthyInstances(reg *registry.Registry, service string) ([]registry.Instance, error) {
	instances, err := reg.Instances(service)
	if err != nil {
		return nil, err
	}

	healthy := make([]registry.Instance, 0, len(instances))
	for _, inst := range instances {
		if inst.Healthy {
			healthy = append(healthy, inst)
		}
	}
	if len(healthy) == 0 {
		return nil, fmt.Errorf("service %q: %w", service, util.ErrNoHealthyInstance)
	}
	return healthy, nil
}

// secureRandomInt returns a cryptographically secure random int in [0, n).
func secureRandomInt(n int) int {
	if n <= 0 {
		return 0
	}
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0
	}
	return int(binary.LittleEndian.Uint64(b[:]) % uint64(n)) //nolint:gosec // bounds checked
}
