// Package util provides shared error types and HTTP helpers for the gateway.
//
// # Error Conventions
//
// This project follows a standardized error pattern across all packages:
//
//   - Sentinel errors (errors.New) for well-known, stable conditions
//     that callers check with errors.Is(). Example: ErrUnknownService.
//   - Structured error types for context-rich errors that carry
//     additional fields (e.g., ConfigError). Each type implements
//     Error(), Unwrap() (if wrapping), and Is().
//   - fmt.Errorf with %w for ad-hoc wrapping that adds context to an
//     existing error without introducing a new type.
package util

import (
	"errors"
	"fmt"
)

// Sentinel errors for the request dispatch path. Every per-request failure
// is translated to an HTTP response at the proxy boundary; none of these
// terminate the process.
var (
	// ErrUnknownService indicates that no configured service matches the
	// request path.
	ErrUnknownService = errors.New("unknown service")

	// ErrUnauthorized indicates a missing, malformed, or expired token.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited indicates the client exceeded its request quota.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrNoHealthyInstance indicates the registry has no healthy instance
	// to route to.
	ErrNoHealthyInstance = errors.New("no healthy instance")

	// ErrCircuitOpen indicates the circuit breaker is protecting a
	// failing service.
	ErrCircuitOpen = errors.New("circuit breaker open")

	// ErrDownstreamTimeout indicates the proxied call exceeded its budget.
	ErrDownstreamTimeout = errors.New("downstream timeout")

	// ErrDownstreamError indicates the proxied call failed at the
	// transport level or returned a server error.
	ErrDownstreamError = errors.New("downstream error")

	// ErrConfigInvalid indicates a startup configuration error. This is
	// the only fatal error class in the gateway.
	ErrConfigInvalid = errors.New("invalid configuration")
)

// ConfigError represents a configuration-related error.
type ConfigError struct {
	Field   string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config error at %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("config error: %s", e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *ConfigError) Is(target error) bool {
	if errors.Is(target, ErrConfigInvalid) {
		return true
	}
	_, ok := target.(*ConfigError)
	return ok || errors.Is(e.Cause, target)
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{Field: field, Message: message}
}

// NewConfigErrorWithCause creates a new ConfigError with a cause.
func NewConfigErrorWithCause(field, message string, cause error) *ConfigError {
	return &ConfigError{Field: field, Message: message, Cause: cause}
}
