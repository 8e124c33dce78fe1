package cache

import (
	"context"
	"time"
)

// Store is the remote key-value contract the cache service runs against.
// Implementations convert connectivity failures into errors matching
// ErrUnavailable so the service can apply uniform fail-open/fail-loud
// semantics.
type Store interface {
	// Get returns the raw bytes for key. The second return value is false
	// when the key is absent; absence is not an error.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set writes value under key with the store's native expiry set to ttl.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes the given keys and returns how many existed.
	Delete(ctx context.Context, keys ...string) (int, error)

	// Expire overrides the remaining TTL of key. Returns false when the key
	// does not exist.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// ScanPrefix returns every key starting with prefix.
	ScanPrefix(ctx context.Context, prefix string) ([]string, error)

	// BatchGet fetches all keys in one round trip. The result is positionally
	// aligned with keys; absent keys yield nil slots.
	BatchGet(ctx context.Context, keys []string) ([][]byte, error)

	// BatchSet writes all items in one round trip.
	BatchSet(ctx context.Context, items []StoreItem) error

	// Ping round-trips the store and reports the observed latency.
	Ping(ctx context.Context) (time.Duration, error)

	// Info reports best-effort store-side statistics.
	Info(ctx context.Context) (StoreInfo, error)
}

// StoreItem is one write in a pipelined BatchSet.
type StoreItem struct {
	Key   string
	Value []byte
	TTL   time.Duration
}

// StoreInfo carries best-effort statistics reported by the store itself.
type StoreInfo struct {
	TotalKeys        int64
	MemoryUsageBytes int64
}
