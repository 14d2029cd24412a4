// Package ratelimit provides per-client rate limiting for the gateway.
// It supports fixed window and token bucket algorithms with in-memory
// or Redis-backed counters.
package ratelimit

import (
	"context"
	"time"
)

// Limiter decides whether a request identified by key may proceed.
type Limiter interface {
	// Allow checks if a single request is allowed for the given key.
	Allow(ctx context.Context, key string) (*Result, error)

	// AllowN checks if n requests are allowed for the given key.
	AllowN(ctx context.Context, key string, n int) (*Result, error)

	// Reset clears the rate limit state for the given key.
	Reset(ctx context.Context, key string) error

	// Close releases limiter resources.
	Close() error
}

// Result is the outcome of a rate limit check.
type Result struct {
	// Allowed indicates whether the request may proceed.
	Allowed bool

	// Limit is the maximum number of requests allowed in the window.
	Limit int

	// Remaining is the number of requests left in the current window.
	Remaining int

	// ResetAfter is the duration until the current window resets.
	ResetAfter time.Duration

	// RetryAfter is how long a rejected caller should wait.
	RetryAfter time.Duration
}

// Algorithm identifies a rate limiting algorithm.
type Algorithm string

const (
	// AlgorithmFixedWindow counts requests in fixed time windows.
	AlgorithmFixedWindow Algorithm = "fixed_window"

	// AlgorithmTokenBucket refills tokens at a steady rate.
	AlgorithmTokenBucket Algorithm = "token_bucket"
)

// NoopLimiter always allows requests. It stands in when rate limiting
// is disabled.
type NoopLimiter struct{}

// NewNoopLimiter creates a limiter that never rejects.
func NewNoopLimiter() *NoopLimiter {
	return &NoopLimiter{}
}

// Allow implements Limiter.
func (l *NoopLimiter) Allow(ctx context.Context, key string) (*Result, error) {
	return &Result{Allowed: true}, nil
}

// AllowN implements Limiter.
func (l *NoopLimiter) AllowN(ctx context.Context, key string, n int) (*Result, error) {
	return &Result{Allowed: true}, nil
}

// Reset implements Limiter.
func (l *NoopLimiter) Reset(ctx context.Context, key string) error {
	return nil
}

// Close implements Limiter.
func (l *NoopLimiter) Close() error {
	return nil
}
