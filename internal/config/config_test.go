package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
listen: ":8000"
auth:
  secret: "test-secret"
services:
  - name: user-service
    pathPrefix: /api/v1/users
    instances:
      - user-service:8001
    authRequired: true
  - name: lesson-service
    pathPrefix: /api/v1/lessons
    instances:
      - lesson-service:8002
      - lesson-service-2:8002
`

func TestLoadFromReader(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, ":8000", cfg.Listen)
	require.Len(t, cfg.Services, 2)
	assert.Equal(t, "user-service", cfg.Services[0].Name)
	assert.True(t, cfg.Services[0].AuthRequired)
	assert.Equal(t, []string{"lesson-service:8002", "lesson-service-2:8002"},
		cfg.Services[1].Instances)

	// Defaults applied.
	assert.Equal(t, DefaultFailureThreshold, cfg.CircuitBreaker.FailureThreshold)
	assert.Equal(t, DefaultRecoveryTimeout, cfg.CircuitBreaker.RecoveryTimeout.Duration())
	assert.Equal(t, DefaultRateLimitRequests, cfg.RateLimit.Requests)
	assert.Equal(t, DefaultRateLimitWindow, cfg.RateLimit.Window.Duration())
	assert.Equal(t, DefaultHealthInterval, cfg.HealthCheck.Interval.Duration())
	assert.Equal(t, DefaultHealthCheckPath, cfg.HealthCheck.Path)
	assert.Equal(t, StrategyRoundRobin, cfg.Upstream.Strategy)
	assert.Equal(t, DefaultUpstreamTimeout, cfg.Services[0].Timeout.Duration())
}

func TestLoadEnvSubstitution(t *testing.T) {
	t.Setenv("GATEWAY_JWT_SECRET", "from-env")

	yaml := `
auth:
  secret: "${GATEWAY_JWT_SECRET}"
rateLimit:
  requests: 5
  window: "${UNSET_WINDOW:-30s}"
services:
  - name: user-service
    pathPrefix: /api/v1/users
    instances: ["user-service:8001"]
`
	cfg, err := LoadFromReader(strings.NewReader(yaml))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Auth.Secret)
	assert.Equal(t, 30*time.Second, cfg.RateLimit.Window.Duration())
	assert.Equal(t, 5, cfg.RateLimit.Requests)
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantMsg string
	}{
		{
			name:    "no services",
			mutate:  func(c *Config) { c.Services = nil },
			wantMsg: "at least one service",
		},
		{
			name: "duplicate name",
			mutate: func(c *Config) {
				c.Services = append(c.Services, c.Services[0])
			},
			wantMsg: "duplicate service name",
		},
		{
			name: "bad prefix",
			mutate: func(c *Config) {
				c.Services[0].PathPrefix = "api/v1/users"
			},
			wantMsg: "must start with /",
		},
		{
			name: "no instances",
			mutate: func(c *Config) {
				c.Services[0].Instances = nil
			},
			wantMsg: "has no instances",
		},
		{
			name: "bad instance address",
			mutate: func(c *Config) {
				c.Services[0].Instances = []string{"user-service"}
			},
			wantMsg: "must be host:port",
		},
		{
			name: "auth without secret",
			mutate: func(c *Config) {
				c.Auth.Secret = ""
			},
			wantMsg: "no secret is configured",
		},
		{
			name: "unknown strategy",
			mutate: func(c *Config) {
				c.Upstream.Strategy = "sticky"
			},
			wantMsg: "unknown load balancing strategy",
		},
		{
			name: "redis store without address",
			mutate: func(c *Config) {
				c.RateLimit.Store = StoreRedis
			},
			wantMsg: "no address configured",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadFromReader(strings.NewReader(minimalYAML))
			require.NoError(t, err)

			tt.mutate(cfg)
			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestDurationYAML(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(`
auth:
  secret: s
upstream:
  timeout: "2500ms"
healthCheck:
  interval: "1m30s"
services:
  - name: user-service
    pathPrefix: /api/v1/users
    instances: ["user-service:8001"]
`))
	require.NoError(t, err)
	assert.Equal(t, 2500*time.Millisecond, cfg.Upstream.Timeout.Duration())
	assert.Equal(t, 90*time.Second, cfg.HealthCheck.Interval.Duration())
}

func TestServiceOverrides(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(`
auth:
  secret: s
services:
  - name: lesson-service
    pathPrefix: /api/v1/lessons
    instances: ["lesson-service:8002"]
    timeout: "3s"
    circuitBreaker:
      failureThreshold: 3
      recoveryTimeout: "1s"
    rateLimit:
      requests: 10
      window: "10s"
`))
	require.NoError(t, err)

	svc := cfg.Services[0]
	assert.Equal(t, 3*time.Second, svc.Timeout.Duration())
	require.NotNil(t, svc.CircuitBreaker)
	assert.Equal(t, 3, svc.CircuitBreaker.FailureThreshold)
	assert.Equal(t, time.Second, svc.CircuitBreaker.RecoveryTimeout.Duration())
	require.NotNil(t, svc.RateLimit)
	assert.Equal(t, 10, svc.RateLimit.Requests)
}
