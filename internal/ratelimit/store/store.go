// Package store provides counter storage backends for rate limiting.
package store

import (
	"context"
	"errors"
	"time"
)

// Store is a counter store with expiring keys.
type Store interface {
	// Get retrieves the counter value for the given key.
	Get(ctx context.Context, key string) (int64, error)

	// IncrementWithExpiry increments the counter by delta, setting the
	// expiration when the key is created.
	IncrementWithExpiry(ctx context.Context, key string, delta int64, expiration time.Duration) (int64, error)

	// Delete removes the key from the store.
	Delete(ctx context.Context, key string) error

	// Close closes the store and releases resources.
	Close() error
}

// ErrKeyNotFound is returned when a key is not present in the store.
var ErrKeyNotFound = errors.New("key not found")

// IsKeyNotFound reports whether err indicates a missing key.
func IsKeyNotFound(err error) bool {
	return errors.Is(err, ErrKeyNotFound)
}
