package ratelimit

import (
	"context"
	"io"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/repitbot/gateway/internal/observability"
)

var _ io.Closer = (*TokenBucketLimiter)(nil)

// TokenBucketLimiter refills tokens at a steady rate and lets requests
// draw from an accumulated burst. State is kept in process memory; a
// background sweep drops buckets idle longer than bucketTTL.
type TokenBucketLimiter struct {
	rate   rate.Limit
	burst  int
	logger observability.Logger

	buckets sync.Map

	cleanupInterval time.Duration
	bucketTTL       time.Duration
	stopCleanup     chan struct{}
	closeOnce       sync.Once
}

// clientBucket pairs a token bucket with its last use time.
type clientBucket struct {
	mu       sync.Mutex
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewTokenBucketLimiter creates a token bucket limiter allowing
// requests per window on average with up to burst extra.
func NewTokenBucketLimiter(requests int, window time.Duration, burst int, logger observability.Logger) *TokenBucketLimiter {
	return NewTokenBucketLimiterWithTTL(requests, window, burst, 5*time.Minute, 10*time.Minute, logger)
}

// NewTokenBucketLimiterWithTTL creates a token bucket limiter with
// custom sweep settings.
func NewTokenBucketLimiterWithTTL(requests int, window time.Duration, burst int, cleanupInterval, bucketTTL time.Duration, logger observability.Logger) *TokenBucketLimiter {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if burst < 1 {
		burst = 1
	}

	l := &TokenBucketLimiter{
		rate:            rate.Limit(float64(requests) / window.Seconds()),
		burst:           burst,
		logger:          logger,
		cleanupInterval: cleanupInterval,
		bucketTTL:       bucketTTL,
		stopCleanup:     make(chan struct{}),
	}

	go l.sweepLoop()

	return l
}

// Allow implements Limiter.
func (l *TokenBucketLimiter) Allow(ctx context.Context, key string) (*Result, error) {
	return l.AllowN(ctx, key, 1)
}

// AllowN implements Limiter.
func (l *TokenBucketLimiter) AllowN(ctx context.Context, key string, n int) (*Result, error) {
	value, _ := l.buckets.LoadOrStore(key, &clientBucket{
		limiter: rate.NewLimiter(l.rate, l.burst),
	})
	cb := value.(*clientBucket)

	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	cb.lastSeen = now

	reservation := cb.limiter.ReserveN(now, n)
	if !reservation.OK() {
		// n exceeds the burst size and can never be satisfied.
		return &Result{
			Allowed:    false,
			Limit:      l.burst,
			Remaining:  int(cb.limiter.TokensAt(now)),
			RetryAfter: l.bucketTTL,
		}, nil
	}

	delay := reservation.DelayFrom(now)
	allowed := delay == 0
	if !allowed {
		reservation.CancelAt(now)
	}

	remaining := int(cb.limiter.TokensAt(now))
	if remaining < 0 {
		remaining = 0
	}

	var retryAfter time.Duration
	if !allowed {
		retryAfter = delay
	}

	return &Result{
		Allowed:    allowed,
		Limit:      l.burst,
		Remaining:  remaining,
		ResetAfter: time.Duration(float64(l.burst-remaining) / float64(l.rate) * float64(time.Second)),
		RetryAfter: retryAfter,
	}, nil
}

// Reset implements Limiter.
func (l *TokenBucketLimiter) Reset(ctx context.Context, key string) error {
	l.buckets.Delete(key)
	return nil
}

// Close implements Limiter. Safe to call multiple times.
func (l *TokenBucketLimiter) Close() error {
	l.closeOnce.Do(func() {
		close(l.stopCleanup)
	})
	return nil
}

// Cleanup drops buckets that have been idle longer than maxAge.
func (l *TokenBucketLimiter) Cleanup(maxAge time.Duration) {
	now := time.Now()

	l.buckets.Range(func(key, value interface{}) bool {
		cb := value.(*clientBucket)
		cb.mu.Lock()
		if now.Sub(cb.lastSeen) > maxAge {
			l.buckets.Delete(key)
		}
		cb.mu.Unlock()
		return true
	})
}

func (l *TokenBucketLimiter) sweepLoop() {
	ticker := time.NewTicker(l.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.Cleanup(l.bucketTTL)
		case <-l.stopCleanup:
			return
		}
	}
}
