package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/repitbot/gateway/internal/observability"
	"github.com/repitbot/gateway/internal/ratelimit/store"
)

// FixedWindowLimiter divides time into fixed windows and counts
// requests per key in each. A client switching windows may briefly
// exceed the configured rate across the boundary; the window length
// bounds the excess.
type FixedWindowLimiter struct {
	store  store.Store
	limit  int
	window time.Duration
	logger observability.Logger

	// Local counters used when no store backend is configured.
	counters sync.Map

	now func() time.Time
}

// windowCounter is the local per-key counter for one window.
type windowCounter struct {
	mu          sync.Mutex
	count       int
	windowStart time.Time
}

// NewFixedWindowLimiter creates a fixed window limiter. A nil store
// keeps all counters in process memory.
func NewFixedWindowLimiter(s store.Store, limit int, window time.Duration, logger observability.Logger) *FixedWindowLimiter {
	if logger == nil {
		logger = observability.NopLogger()
	}

	return &FixedWindowLimiter{
		store:  s,
		limit:  limit,
		window: window,
		logger: logger,
		now:    time.Now,
	}
}

// Allow implements Limiter.
func (l *FixedWindowLimiter) Allow(ctx context.Context, key string) (*Result, error) {
	return l.AllowN(ctx, key, 1)
}

// AllowN implements Limiter.
func (l *FixedWindowLimiter) AllowN(ctx context.Context, key string, n int) (*Result, error) {
	if l.store == nil {
		return l.allowLocal(key, n)
	}
	return l.allowStored(ctx, key, n)
}

// windowStart truncates t down to the start of its window.
func (l *FixedWindowLimiter) windowStart(t time.Time) time.Time {
	windowNanos := l.window.Nanoseconds()
	return time.Unix(0, (t.UnixNano()/windowNanos)*windowNanos)
}

func (l *FixedWindowLimiter) allowLocal(key string, n int) (*Result, error) {
	now := l.now()
	windowStart := l.windowStart(now)

	value, _ := l.counters.LoadOrStore(key, &windowCounter{windowStart: windowStart})
	wc := value.(*windowCounter)

	wc.mu.Lock()
	defer wc.mu.Unlock()

	if !wc.windowStart.Equal(windowStart) {
		wc.count = 0
		wc.windowStart = windowStart
	}

	allowed := wc.count+n <= l.limit
	if allowed {
		wc.count += n
	}

	return l.buildResult(allowed, l.limit-wc.count, windowStart, now), nil
}

func (l *FixedWindowLimiter) allowStored(ctx context.Context, key string, n int) (*Result, error) {
	now := l.now()
	windowStart := l.windowStart(now)

	windowKey := fmt.Sprintf("%s:fw:%d", key, windowStart.UnixNano())

	// Admission is decided from the count returned by the atomic
	// increment; a separate read-then-increment pair is not atomic
	// across requests sharing the store. One second of slack on the
	// expiry covers clock skew between replicas.
	count, err := l.store.IncrementWithExpiry(ctx, windowKey, int64(n), l.window+time.Second)
	if err != nil {
		return nil, err
	}

	allowed := count <= int64(l.limit)

	return l.buildResult(allowed, l.limit-int(count), windowStart, now), nil
}

func (l *FixedWindowLimiter) buildResult(allowed bool, remaining int, windowStart, now time.Time) *Result {
	if remaining < 0 {
		remaining = 0
	}

	resetAfter := windowStart.Add(l.window).Sub(now)
	if resetAfter < 0 {
		resetAfter = 0
	}

	var retryAfter time.Duration
	if !allowed {
		retryAfter = resetAfter
	}

	return &Result{
		Allowed:    allowed,
		Limit:      l.limit,
		Remaining:  remaining,
		ResetAfter: resetAfter,
		RetryAfter: retryAfter,
	}
}

// Reset implements Limiter.
func (l *FixedWindowLimiter) Reset(ctx context.Context, key string) error {
	l.counters.Delete(key)

	if l.store != nil {
		windowStart := l.windowStart(l.now())
		windowKey := fmt.Sprintf("%s:fw:%d", key, windowStart.UnixNano())
		if err := l.store.Delete(ctx, windowKey); err != nil {
			l.logger.Warn("failed to delete window counter",
				observability.String("key", key),
				observability.Error(err),
			)
		}
	}

	return nil
}

// Close implements Limiter.
func (l *FixedWindowLimiter) Close() error {
	if l.store != nil {
		return l.store.Close()
	}
	return nil
}

// Cleanup drops local counters from past windows.
func (l *FixedWindowLimiter) Cleanup() {
	windowStart := l.windowStart(l.now())

	l.counters.Range(func(key, value interface{}) bool {
		wc := value.(*windowCounter)
		wc.mu.Lock()
		if wc.windowStart.Before(windowStart) {
			l.counters.Delete(key)
		}
		wc.mu.Unlock()
		return true
	})
}
