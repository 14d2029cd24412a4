package circuitbreaker

import (
	"time"

	gwconfig "github.com/repitbot/gateway/internal/config"
)

// Config holds configuration for a circuit breaker.
type Config struct {
	// FailureThreshold is the number of consecutive classified failures
	// that opens the circuit.
	FailureThreshold int

	// RecoveryTimeout is how long the circuit stays open before the next
	// request is admitted as a half-open probe.
	RecoveryTimeout time.Duration

	// OnStateChange is called when the circuit breaker state changes.
	OnStateChange func(name string, from, to State)
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		FailureThreshold: gwconfig.DefaultFailureThreshold,
		RecoveryTimeout:  gwconfig.DefaultRecoveryTimeout,
	}
}

// FromGatewayConfig converts the YAML breaker settings.
func FromGatewayConfig(cfg gwconfig.CircuitBreaker) *Config {
	return &Config{
		FailureThreshold: cfg.FailureThreshold,
		RecoveryTimeout:  cfg.RecoveryTimeout.Duration(),
	}
}

// Validate fixes out-of-range values in place.
func (c *Config) Validate() {
	if c.FailureThreshold < 1 {
		c.FailureThreshold = gwconfig.DefaultFailureThreshold
	}
	if c.RecoveryTimeout < time.Millisecond {
		c.RecoveryTimeout = gwconfig.DefaultRecoveryTimeout
	}
}
