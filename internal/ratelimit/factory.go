package ratelimit

import (
	"fmt"
	"time"

	gwconfig "github.com/repitbot/gateway/internal/config"
	"github.com/repitbot/gateway/internal/observability"
	"github.com/repitbot/gateway/internal/ratelimit/store"
)

// NewLimiter creates a rate limiter from gateway configuration. A nil
// config yields a NoopLimiter.
func NewLimiter(config *gwconfig.RateLimit, logger observability.Logger) (Limiter, error) {
	if config == nil {
		return NewNoopLimiter(), nil
	}

	switch Algorithm(config.Algorithm) {
	case AlgorithmTokenBucket:
		// Token bucket state lives in process memory regardless of the
		// configured store.
		return NewTokenBucketLimiter(config.Requests, time.Duration(config.Window), config.Burst, logger), nil

	case AlgorithmFixedWindow, "":
		s, err := newStore(config, logger)
		if err != nil {
			return nil, err
		}
		return NewFixedWindowLimiter(s, config.Requests, time.Duration(config.Window), logger), nil

	default:
		return nil, fmt.Errorf("unknown rate limit algorithm: %s", config.Algorithm)
	}
}

func newStore(config *gwconfig.RateLimit, logger observability.Logger) (store.Store, error) {
	switch config.Store {
	case gwconfig.StoreMemory, "":
		return store.NewMemoryStore(), nil

	case gwconfig.StoreRedis:
		s, err := store.NewRedisStore(
			config.Redis.Address,
			config.Redis.Password,
			config.Redis.DB,
			"",
		)
		if err != nil {
			return nil, fmt.Errorf("create redis store: %w", err)
		}
		return s, nil

	default:
		return nil, fmt.Errorf("unknown rate limit store: %s", config.Store)
	}
}
