// Package config provides configuration management for the gateway.
// Configuration is loaded once at startup from a YAML file with
// environment variable substitution; services are configuration, not
// dynamic state, and are never added or removed at runtime.
package config

import (
	"time"
)

// Default values applied by ApplyDefaults.
const (
	DefaultListen             = ":8000"
	DefaultReadTimeout        = 30 * time.Second
	DefaultWriteTimeout       = 30 * time.Second
	DefaultIdleTimeout        = 90 * time.Second
	DefaultShutdownTimeout    = 15 * time.Second
	DefaultUpstreamTimeout    = 10 * time.Second
	DefaultHealthCheckPath    = "/health"
	DefaultHealthInterval     = 10 * time.Second
	DefaultHealthTimeout      = 5 * time.Second
	DefaultUnhealthyThreshold = 3
	DefaultFailureThreshold   = 5
	DefaultRecoveryTimeout    = 60 * time.Second
	DefaultRateLimitRequests  = 100
	DefaultRateLimitWindow    = time.Minute
	DefaultRateLimitBurst     = 20
)

// Load balancing strategies.
const (
	StrategyRoundRobin = "round_robin"
	StrategyRandom     = "random"
)

// Rate limit store types.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Config holds the full gateway configuration.
type Config struct {
	// Listen is the address the gateway binds to.
	Listen string `yaml:"listen"`

	// Server timeouts.
	ReadTimeout     Duration `yaml:"readTimeout"`
	WriteTimeout    Duration `yaml:"writeTimeout"`
	IdleTimeout     Duration `yaml:"idleTimeout"`
	ShutdownTimeout Duration `yaml:"shutdownTimeout"`

	// Log configures structured logging.
	Log Log `yaml:"log"`

	// Auth configures bearer token validation.
	Auth Auth `yaml:"auth"`

	// CORS configures cross-origin access for browser frontends. Nil
	// disables CORS handling entirely.
	CORS *CORS `yaml:"cors"`

	// RateLimit is the default per-client rate limit policy.
	RateLimit RateLimit `yaml:"rateLimit"`

	// CircuitBreaker is the default per-service breaker policy.
	CircuitBreaker CircuitBreaker `yaml:"circuitBreaker"`

	// HealthCheck configures the instance probe loop.
	HealthCheck HealthCheck `yaml:"healthCheck"`

	// Upstream configures the forwarding path.
	Upstream Upstream `yaml:"upstream"`

	// Services is the static set of downstream services.
	Services []Service `yaml:"services"`
}

// Log holds logging configuration.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Auth holds JWT validation configuration. The signing secret is shared
// with the identity provider; validation is HS256.
type Auth struct {
	Secret   string `yaml:"secret"`
	Issuer   string `yaml:"issuer"`
	Audience string `yaml:"audience"`
}

// CORS holds cross-origin resource sharing settings.
type CORS struct {
	AllowOrigins     []string `yaml:"allowOrigins"`
	AllowMethods     []string `yaml:"allowMethods"`
	AllowHeaders     []string `yaml:"allowHeaders"`
	ExposeHeaders    []string `yaml:"exposeHeaders"`
	AllowCredentials bool     `yaml:"allowCredentials"`
	MaxAge           int      `yaml:"maxAge"`
}

// RateLimit holds rate limiting configuration.
type RateLimit struct {
	// Algorithm selects the limiter implementation
	// (fixed_window or token_bucket).
	Algorithm string `yaml:"algorithm"`

	// Requests is the number of requests allowed per window.
	Requests int `yaml:"requests"`

	// Window is the accounting window.
	Window Duration `yaml:"window"`

	// Burst is the burst size for the token bucket algorithm.
	Burst int `yaml:"burst"`

	// Store selects the counter backend (memory or redis).
	Store string `yaml:"store"`

	// Redis configures the distributed store when Store is redis.
	Redis Redis `yaml:"redis"`
}

// Redis holds redis connection settings for the distributed rate limiter.
type Redis struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// CircuitBreaker holds breaker thresholds.
type CircuitBreaker struct {
	// FailureThreshold is the number of consecutive classified failures
	// that opens the circuit.
	FailureThreshold int `yaml:"failureThreshold"`

	// RecoveryTimeout is how long the circuit stays open before a
	// half-open probe is admitted.
	RecoveryTimeout Duration `yaml:"recoveryTimeout"`
}

// HealthCheck holds instance probe settings.
type HealthCheck struct {
	Path               string   `yaml:"path"`
	Interval           Duration `yaml:"interval"`
	Timeout            Duration `yaml:"timeout"`
	UnhealthyThreshold int      `yaml:"unhealthyThreshold"`
}

// Upstream holds forwarding settings.
type Upstream struct {
	// Timeout is the per-call budget for downstream requests.
	Timeout Duration `yaml:"timeout"`

	// Strategy selects the load balancing algorithm.
	Strategy string `yaml:"strategy"`

	// Connection pool settings.
	MaxIdleConns        int      `yaml:"maxIdleConns"`
	MaxIdleConnsPerHost int      `yaml:"maxIdleConnsPerHost"`
	MaxConnsPerHost     int      `yaml:"maxConnsPerHost"`
	IdleConnTimeout     Duration `yaml:"idleConnTimeout"`
}

// Service describes one logical downstream service.
type Service struct {
	// Name is the unique logical service name, e.g. "lesson-service".
	Name string `yaml:"name"`

	// PathPrefix routes inbound requests, e.g. "/api/v1/lessons".
	PathPrefix string `yaml:"pathPrefix"`

	// StripPrefix removes PathPrefix before forwarding.
	StripPrefix bool `yaml:"stripPrefix"`

	// Instances are backend addresses in host:port form.
	Instances []string `yaml:"instances"`

	// AuthRequired gates the service behind bearer token validation.
	AuthRequired bool `yaml:"authRequired"`

	// Timeout overrides the upstream per-call budget.
	Timeout Duration `yaml:"timeout"`

	// CircuitBreaker overrides the default breaker policy.
	CircuitBreaker *CircuitBreaker `yaml:"circuitBreaker"`

	// RateLimit overrides the default rate limit policy.
	RateLimit *RateLimit `yaml:"rateLimit"`
}

// ApplyDefaults fills zero values with defaults.
func (c *Config) ApplyDefaults() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = Duration(DefaultReadTimeout)
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = Duration(DefaultWriteTimeout)
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = Duration(DefaultIdleTimeout)
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = Duration(DefaultShutdownTimeout)
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	c.RateLimit.applyDefaults()
	c.CircuitBreaker.applyDefaults()
	if c.HealthCheck.Path == "" {
		c.HealthCheck.Path = DefaultHealthCheckPath
	}
	if c.HealthCheck.Interval == 0 {
		c.HealthCheck.Interval = Duration(DefaultHealthInterval)
	}
	if c.HealthCheck.Timeout == 0 {
		c.HealthCheck.Timeout = Duration(DefaultHealthTimeout)
	}
	if c.HealthCheck.UnhealthyThreshold == 0 {
		c.HealthCheck.UnhealthyThreshold = DefaultUnhealthyThreshold
	}
	if c.Upstream.Timeout == 0 {
		c.Upstream.Timeout = Duration(DefaultUpstreamTimeout)
	}
	if c.Upstream.Strategy == "" {
		c.Upstream.Strategy = StrategyRoundRobin
	}
	if c.Upstream.MaxIdleConns == 0 {
		c.Upstream.MaxIdleConns = 100
	}
	if c.Upstream.MaxIdleConnsPerHost == 0 {
		c.Upstream.MaxIdleConnsPerHost = 10
	}
	if c.Upstream.IdleConnTimeout == 0 {
		c.Upstream.IdleConnTimeout = Duration(90 * time.Second)
	}

	for i := range c.Services {
		svc := &c.Services[i]
		if svc.Timeout == 0 {
			svc.Timeout = c.Upstream.Timeout
		}
		if svc.CircuitBreaker != nil {
			svc.CircuitBreaker.applyDefaults()
		}
		if svc.RateLimit != nil {
			svc.RateLimit.applyDefaults()
		}
	}
}

func (r *RateLimit) applyDefaults() {
	if r.Algorithm == "" {
		r.Algorithm = "fixed_window"
	}
	if r.Requests == 0 {
		r.Requests = DefaultRateLimitRequests
	}
	if r.Window == 0 {
		r.Window = Duration(DefaultRateLimitWindow)
	}
	if r.Burst == 0 {
		r.Burst = DefaultRateLimitBurst
	}
	if r.Store == "" {
		r.Store = StoreMemory
	}
}

func (cb *CircuitBreaker) applyDefaults() {
	if cb.FailureThreshold == 0 {
		cb.FailureThreshold = DefaultFailureThreshold
	}
	if cb.RecoveryTimeout == 0 {
		cb.RecoveryTimeout = Duration(DefaultRecoveryTimeout)
	}
}
