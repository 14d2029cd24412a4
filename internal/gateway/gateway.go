// Package gateway assembles the request-dispatch engine: registry,
// health probing, balancing, circuit breaking, rate limiting, auth and
// the proxy pipeline behind a single HTTP server.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/repitbot/gateway/internal/auth"
	"github.com/repitbot/gateway/internal/balancer"
	"github.com/repitbot/gateway/internal/circuitbreaker"
	gwconfig "github.com/repitbot/gateway/internal/config"
	"github.com/repitbot/gateway/internal/health"
	"github.com/repitbot/gateway/internal/middleware"
	"github.com/repitbot/gateway/internal/observability"
	"github.com/repitbot/gateway/internal/proxy"
	"github.com/repitbot/gateway/internal/ratelimit"
	"github.com/repitbot/gateway/internal/registry"
)

// State represents the gateway lifecycle state.
type State int32

const (
	// StateStopped indicates the gateway is stopped.
	StateStopped State = iota
	// StateStarting indicates the gateway is starting.
	StateStarting
	// StateRunning indicates the gateway is serving traffic.
	StateRunning
	// StateStopping indicates the gateway is shutting down.
	StateStopping
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Gateway owns all dispatch components and the HTTP server.
type Gateway struct {
	config  *gwconfig.Config
	logger  observability.Logger
	version string

	registry *registry.Registry
	checker  *registry.HealthChecker
	breakers *circuitbreaker.Registry
	pool     *proxy.ConnectionPool
	proxy    *proxy.Handler
	health   *health.Checker
	limiters []ratelimit.Limiter

	handler http.Handler
	server  *http.Server

	state           atomic.Int32
	startTime       time.Time
	shutdownTimeout time.Duration
}

// Option configures the gateway.
type Option func(*Gateway)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithVersion sets the version reported on the health endpoint.
func WithVersion(version string) Option {
	return func(g *Gateway) {
		g.version = version
	}
}

// New builds a gateway from validated configuration.
func New(cfg *gwconfig.Config, opts ...Option) (*Gateway, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}

	g := &Gateway{
		config:          cfg,
		logger:          observability.NopLogger(),
		version:         "dev",
		shutdownTimeout: cfg.ShutdownTimeout.Duration(),
	}

	for _, opt := range opts {
		opt(g)
	}

	if err := g.assemble(); err != nil {
		return nil, err
	}

	g.state.Store(int32(StateStopped))

	return g, nil
}

// assemble wires all components according to the configuration.
func (g *Gateway) assemble() error {
	cfg := g.config

	g.registry = registry.New(g.logger)
	for _, svc := range cfg.Services {
		if err := g.registry.Register(svc); err != nil {
			return fmt.Errorf("register service %s: %w", svc.Name, err)
		}
	}

	g.checker = registry.NewHealthChecker(g.registry, cfg.HealthCheck,
		registry.WithHealthCheckLogger(g.logger),
	)

	breakerDefaults := circuitbreaker.FromGatewayConfig(cfg.CircuitBreaker)
	breakerDefaults.Validate()
	g.breakers = circuitbreaker.NewRegistry(breakerDefaults, g.logger)

	g.pool = proxy.NewConnectionPool(proxy.PoolConfigFromUpstream(cfg.Upstream))

	proxyOpts := []proxy.Option{
		proxy.WithProxyLogger(g.logger),
		proxy.WithTransport(g.pool.Transport()),
		proxy.WithDefaultTimeout(cfg.Upstream.Timeout.Duration()),
	}

	defaultLimiter, err := ratelimit.NewLimiter(&cfg.RateLimit, g.logger)
	if err != nil {
		return fmt.Errorf("create rate limiter: %w", err)
	}
	g.limiters = append(g.limiters, defaultLimiter)
	proxyOpts = append(proxyOpts, proxy.WithDefaultLimiter(defaultLimiter))

	for _, svc := range cfg.Services {
		if svc.RateLimit != nil {
			limiter, err := ratelimit.NewLimiter(svc.RateLimit, g.logger)
			if err != nil {
				return fmt.Errorf("create rate limiter for %s: %w", svc.Name, err)
			}
			g.limiters = append(g.limiters, limiter)
			proxyOpts = append(proxyOpts, proxy.WithServiceLimiter(svc.Name, limiter))
		}

		if svc.CircuitBreaker != nil {
			override := circuitbreaker.FromGatewayConfig(*svc.CircuitBreaker)
			override.Validate()
			proxyOpts = append(proxyOpts, proxy.WithServiceBreakerConfig(svc.Name, override))
		}
	}

	if cfg.Auth.Secret != "" {
		validator, err := auth.NewValidator(cfg.Auth, auth.WithValidatorLogger(g.logger))
		if err != nil {
			return fmt.Errorf("create token validator: %w", err)
		}
		proxyOpts = append(proxyOpts, proxy.WithValidator(validator))
	}

	bal := balancer.New(cfg.Upstream.Strategy, g.registry)
	g.proxy = proxy.New(g.registry, bal, g.breakers, proxyOpts...)

	g.health = health.NewChecker(g.version)
	g.health.RegisterCheck("backends", g.backendsCheck)

	chain := []middleware.Middleware{
		middleware.Recovery(g.logger),
		middleware.RequestID(),
		middleware.Logging(g.logger),
		middleware.Metrics(),
	}
	if cfg.CORS != nil {
		chain = append(chain, middleware.CORSFromConfig(cfg.CORS))
	}
	g.handler = middleware.Chain(g.buildMux(), chain...)

	return nil
}

// backendsCheck reports degraded when any service has lost all healthy
// instances and unhealthy when every service has.
func (g *Gateway) backendsCheck() health.Check {
	services := g.registry.Services()
	if len(services) == 0 {
		return health.Check{Status: health.StatusUnhealthy, Message: "no services registered"}
	}

	down := 0
	for _, svc := range services {
		instances, err := g.registry.Instances(svc.Name)
		if err != nil {
			continue
		}
		healthy := 0
		for _, inst := range instances {
			if inst.Healthy {
				healthy++
			}
		}
		if healthy == 0 {
			down++
		}
	}

	switch {
	case down == len(services):
		return health.Check{Status: health.StatusUnhealthy, Message: "all services have no healthy instances"}
	case down > 0:
		return health.Check{
			Status:  health.StatusDegraded,
			Message: fmt.Sprintf("%d of %d services have no healthy instances", down, len(services)),
		}
	default:
		return health.Check{Status: health.StatusHealthy}
	}
}

// Handler returns the fully assembled HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.handler
}

// Start begins health probing and serves HTTP until Stop is called.
func (g *Gateway) Start(ctx context.Context) error {
	if !g.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) {
		return fmt.Errorf("gateway is not in stopped state")
	}

	g.startTime = time.Now()

	g.checker.Start(ctx)

	g.server = &http.Server{
		Addr:         g.config.Listen,
		Handler:      g.handler,
		ReadTimeout:  g.config.ReadTimeout.Duration(),
		WriteTimeout: g.config.WriteTimeout.Duration(),
		IdleTimeout:  g.config.IdleTimeout.Duration(),
	}

	g.state.Store(int32(StateRunning))
	g.logger.Info("gateway started",
		observability.String("listen", g.config.Listen),
		observability.Int("services", len(g.config.Services)),
	)

	if err := g.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		g.state.Store(int32(StateStopped))
		return fmt.Errorf("http server: %w", err)
	}

	return nil
}

// Stop drains in-flight requests and releases all resources.
func (g *Gateway) Stop(ctx context.Context) error {
	if !g.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return fmt.Errorf("gateway is not running")
	}

	g.logger.Info("stopping gateway")

	shutdownCtx, cancel := context.WithTimeout(ctx, g.shutdownTimeout)
	defer cancel()

	var firstErr error
	if g.server != nil {
		if err := g.server.Shutdown(shutdownCtx); err != nil {
			firstErr = fmt.Errorf("shutdown http server: %w", err)
		}
	}

	g.checker.Stop()

	for _, limiter := range g.limiters {
		if err := limiter.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close rate limiter: %w", err)
		}
	}

	g.pool.CloseIdleConnections()

	g.state.Store(int32(StateStopped))
	g.logger.Info("gateway stopped")

	return firstErr
}

// State returns the current lifecycle state.
func (g *Gateway) State() State {
	return State(g.state.Load())
}

// Uptime returns how long the gateway has been running.
func (g *Gateway) Uptime() time.Duration {
	if g.State() != StateRunning {
		return 0
	}
	return time.Since(g.startTime)
}
