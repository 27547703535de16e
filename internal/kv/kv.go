// ABOUTME: Key-value store contract shared by the memory, Redis and SQLite backends
// ABOUTME: Values are opaque bytes; a zero TTL means the key never expires

package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key is absent or expired.
var ErrNotFound = errors.New("key not found")

// Store is a TTL key-value store.
type Store interface {
	// Get returns the value stored at key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value at key, replacing any previous value and TTL.
	// A ttl of zero or less stores the key without expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// SetNX stores value only if key is absent (or expired) and reports
	// whether it did.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Del removes key. Deleting a missing key is not an error.
	Del(ctx context.Context, key string) error
}

// expiry converts a ttl into an absolute deadline. The zero time means never.
func expiry(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}
