package lockmgr

import (
	"context"
	"time"
)

// KV is the backing store for occupation locks. SetIfAbsent must be atomic:
// no separate read-then-write is allowed anywhere above this interface.
type KV interface {
	// SetIfAbsent stores value under key with a TTL when the key is absent
	// or expired. It returns true on success; on conflict it returns false
	// together with the current value.
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, []byte, error)
	// Get returns the live value for key, reporting presence.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}
