package registry

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/repitbot/gateway/internal/config"
	"github.com/repitbot/gateway/internal/observability"
)

// HealthChecker probes every registered instance's health endpoint on a
// fixed interval, independently of request traffic. An unhealthy instance
// is removed from the load balancer's candidate set; it does not by
// itself open a circuit breaker, which tracks request-level failures for
// the aggregate service.
type HealthChecker struct {
	registry           *Registry
	path               string
	interval           time.Duration
	unhealthyThreshold int
	client             *http.Client
	logger             observability.Logger

	mu        sync.Mutex
	running   bool
	stopCh    chan struct{}
	stoppedCh chan struct{}
}

// HealthCheckOption is a functional option for configuring the checker.
type HealthCheckOption func(*HealthChecker)

// WithHealthCheckLogger sets the logger for the health checker.
func WithHealthCheckLogger(logger observability.Logger) HealthCheckOption {
	return func(hc *HealthChecker) {
		hc.logger = logger
	}
}

// WithHealthCheckClient sets the HTTP client used for probes.
func WithHealthCheckClient(client *http.Client) HealthCheckOption {
	return func(hc *HealthChecker) {
		hc.client = client
	}
}

// NewHealthChecker creates a health checker for the registry.
func NewHealthChecker(reg *Registry, cfg config.HealthCheck, opts ...HealthCheckOption) *HealthChecker {
	timeout := cfg.Timeout.Duration()
	if timeout == 0 {
		timeout = config.DefaultHealthTimeout
	}
	interval := cfg.Interval.Duration()
	if interval == 0 {
		interval = config.DefaultHealthInterval
	}
	threshold := cfg.UnhealthyThreshold
	if threshold == 0 {
		threshold = config.DefaultUnhealthyThreshold
	}
	path := cfg.Path
	if path == "" {
		path = config.DefaultHealthCheckPath
	}

	hc := &HealthChecker{
		registry:           reg,
		path:               path,
		interval:           interval,
		unhealthyThreshold: threshold,
		client:             &http.Client{Timeout: timeout},
		logger:             observability.NopLogger(),
		stopCh:             make(chan struct{}),
		stoppedCh:          make(chan struct{}),
	}

	for _, opt := range opts {
		opt(hc)
	}

	return hc
}

// Start starts the probe loop.
func (hc *HealthChecker) Start(ctx context.Context) {
	hc.mu.Lock()
	if hc.running {
		hc.mu.Unlock()
		return
	}
	hc.running = true
	hc.mu.Unlock()

	go hc.run(ctx)
}

// Stop stops the probe loop and waits for it to exit.
func (hc *HealthChecker) Stop() {
	hc.mu.Lock()
	if !hc.running {
		hc.mu.Unlock()
		return
	}
	hc.running = false
	hc.mu.Unlock()

	close(hc.stopCh)
	<-hc.stoppedCh
}

func (hc *HealthChecker) run(ctx context.Context) {
	defer close(hc.stoppedCh)

	ticker := time.NewTicker(hc.interval)
	defer ticker.Stop()

	// Initial sweep so a dead instance is evicted before the first tick.
	hc.CheckAll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hc.stopCh:
			return
		case <-ticker.C:
			hc.CheckAll(ctx)
		}
	}
}

// CheckAll probes every instance of every service in parallel.
func (hc *HealthChecker) CheckAll(ctx context.Context) {
	var wg sync.WaitGroup

	for _, svc := range hc.registry.Services() {
		instances, err := hc.registry.Instances(svc.Name)
		if err != nil {
			continue
		}
		for _, inst := range instances {
			wg.Add(1)
			go func(serviceName, address string) {
				defer wg.Done()
				hc.checkInstance(ctx, serviceName, address)
			}(svc.Name, inst.Address)
		}
	}

	wg.Wait()
}

// checkInstance probes one instance and updates the registry.
func (hc *HealthChecker) checkInstance(ctx context.Context, service, address string) {
	select {
	case <-ctx.Done():
		return
	default:
	}

	url := "http://" + address + hc.path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		hc.recordFailure(service, address, err)
		return
	}

	start := time.Now()
	resp, err := hc.client.Do(req)
	duration := time.Since(start)

	if err != nil {
		hc.recordFailure(service, address, err)
		recordHealthCheck(service, "failure", duration)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		hc.registry.MarkHealthy(service, address)
		recordHealthCheck(service, "success", duration)
	} else {
		hc.recordFailure(service, address, nil)
		recordHealthCheck(service, "failure", duration)
	}
}

func (hc *HealthChecker) recordFailure(service, address string, err error) {
	fails := hc.registry.RecordProbeFailure(service, address)

	hc.logger.Debug("health probe failed",
		observability.String("service", service),
		observability.String("instance", address),
		observability.Int("consecutive_failures", fails),
		observability.Error(err),
	)

	if fails >= hc.unhealthyThreshold {
		hc.registry.MarkUnhealthy(service, address)
	}
}
