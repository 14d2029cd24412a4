// Package circuitbreaker implements the per-service circuit breaker that
// stops sending traffic to a failing downstream. Each breaker is a three
// state machine (closed, open, half-open) whose transitions are
// linearizable under a per-breaker mutex, so exactly one half-open probe
// is ever admitted.
package circuitbreaker

import (
	"net/http"
	"sync"
	"time"

	"github.com/repitbot/gateway/internal/observability"
)

// State represents the state of a circuit breaker.
type State int

const (
	// StateClosed indicates the circuit is closed and requests pass.
	StateClosed State = iota

	// StateOpen indicates the circuit is open and requests are
	// short-circuited without a network call.
	StateOpen

	// StateHalfOpen indicates a single probe is testing recovery.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// IsFailureStatus reports whether a downstream HTTP status counts as a
// breaker failure. 5xx indicates a bad service; 4xx indicates a bad
// request and never trips the breaker.
func IsFailureStatus(status int) bool {
	return status >= http.StatusInternalServerError
}

// CircuitBreaker guards one logical service.
type CircuitBreaker struct {
	name   string
	config *Config
	logger observability.Logger

	mu            sync.Mutex
	state         State
	failures      int
	probeInFlight bool

	lastFailure     time.Time
	lastStateChange time.Time

	// now is injectable for deterministic tests.
	now func() time.Time
}

// New creates a circuit breaker for a service.
func New(name string, config *Config, logger observability.Logger) *CircuitBreaker {
	if config == nil {
		config = DefaultConfig()
	}
	config.Validate()

	if logger == nil {
		logger = observability.NopLogger()
	}

	cb := &CircuitBreaker{
		name:   name,
		config: config,
		logger: logger,
		state:  StateClosed,
		now:    time.Now,
	}
	cb.lastStateChange = cb.now()
	return cb
}

// Allow reports whether a request may proceed to the downstream. In the
// open state the recovery timer is checked lazily: the first call after
// recovery_timeout transitions the breaker to half-open and that caller
// becomes the single probe. Subsequent callers during half-open are
// rejected until the probe result is recorded.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	var allowed bool

	switch cb.state {
	case StateClosed:
		allowed = true

	case StateOpen:
		if cb.now().Sub(cb.lastStateChange) >= cb.config.RecoveryTimeout {
			cb.transitionTo(StateHalfOpen)
			cb.probeInFlight = true
			allowed = true
		}

	case StateHalfOpen:
		if !cb.probeInFlight {
			cb.probeInFlight = true
			allowed = true
		}
	}

	recordRequest(cb.name, allowed)
	return allowed
}

// RecordSuccess records a successful downstream call. A successful
// half-open probe closes the circuit and resets the failure count.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	recordSuccess(cb.name)

	switch cb.state {
	case StateHalfOpen:
		cb.probeInFlight = false
		cb.transitionTo(StateClosed)

	case StateClosed:
		// Only consecutive failures trip the breaker.
		cb.failures = 0
	}
}

// RecordFailure records a classified downstream failure (timeout,
// connection error, or 5xx). A failed half-open probe reopens the
// circuit and restarts the recovery timer.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailure = cb.now()
	recordFailure(cb.name)

	switch cb.state {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.transitionTo(StateOpen)
		}

	case StateHalfOpen:
		cb.probeInFlight = false
		cb.transitionTo(StateOpen)
	}
}

// Cancel releases an admitted call that never reached the downstream,
// counting it as neither success nor failure. A cancelled half-open
// probe frees the slot so the next caller can probe instead.
func (cb *CircuitBreaker) Cancel() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.probeInFlight = false
}

// transitionTo moves the breaker to a new state. Callers must hold mu.
func (cb *CircuitBreaker) transitionTo(newState State) {
	oldState := cb.state
	cb.state = newState
	cb.lastStateChange = cb.now()
	cb.failures = 0

	recordStateChange(cb.name, oldState, newState)

	cb.logger.Info("circuit breaker state changed",
		observability.String("service", cb.name),
		observability.String("from", oldState.String()),
		observability.String("to", newState.String()),
	)

	if cb.config.OnStateChange != nil {
		go cb.config.OnStateChange(cb.name, oldState, newState)
	}
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset returns the breaker to the closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.failures = 0
	cb.probeInFlight = false
	cb.lastStateChange = cb.now()

	cb.logger.Info("circuit breaker reset",
		observability.String("service", cb.name),
	)
}

// Name returns the service name this breaker guards.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Stats holds a snapshot of breaker state for diagnostics.
type Stats struct {
	State           State     `json:"state"`
	Failures        int       `json:"failures"`
	LastFailure     time.Time `json:"lastFailure,omitzero"`
	LastStateChange time.Time `json:"lastStateChange"`
}

// Stats returns the current breaker statistics.
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return Stats{
		State:           cb.state,
		Failures:        cb.failures,
		LastFailure:     cb.lastFailure,
		LastStateChange: cb.lastStateChange,
	}
}

// MarshalText implements encoding.TextMarshaler for State so it renders
// as a string in JSON diagnostics.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
