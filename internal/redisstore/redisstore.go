// Package redisstore implements the cache.Store contract on top of Redis.
//
// Connectivity failures are mapped onto cache.ErrUnavailable so the cache
// service can fail open on reads and loud on writes without knowing anything
// Redis-specific. Key absence is reported through the contract's boolean,
// never as an error.
package redisstore

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/goliatone/go-repository-resilience/cache"
)

// scanBatch is the COUNT hint for SCAN iterations.
const scanBatch = 256

// Store adapts a go-redis client to cache.Store.
type Store struct {
	client redis.UniversalClient
	logger *zap.Logger
}

var _ cache.Store = (*Store)(nil)

// Option customizes a Store.
type Option func(*Store)

// WithLogger installs a logger for connection lifecycle events.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New dials Redis with cfg and verifies the connection with a ping.
func New(cfg cache.RedisConfig, opts ...Option) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid redis config")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, unavailable(err, "ping %s", cfg.Addr)
	}

	store := &Store{client: client, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(store)
	}
	store.logger.Debug("redis store connected", zap.String("addr", cfg.Addr), zap.Int("db", cfg.DB))
	return store, nil
}

// NewFromClient wraps an existing client. The caller keeps ownership of the
// client's lifecycle.
func NewFromClient(client redis.UniversalClient, opts ...Option) *Store {
	store := &Store{client: client, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// Get implements cache.Store.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, unavailable(err, "get %q", key)
	}
	return raw, true, nil
}

// Set implements cache.Store.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return unavailable(err, "set %q", key)
	}
	return nil
}

// Delete implements cache.Store.
func (s *Store) Delete(ctx context.Context, keys ...string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := s.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, unavailable(err, "delete %d keys", len(keys))
	}
	return int(n), nil
}

// Expire implements cache.Store.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.Expire(ctx, key, ttl).Result()
	if err != nil {
		return false, unavailable(err, "expire %q", key)
	}
	return ok, nil
}

// ScanPrefix implements cache.Store using cursor-based SCAN, which does not
// block the server the way KEYS would on large keyspaces.
func (s *Store) ScanPrefix(ctx context.Context, prefix string) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := s.client.Scan(ctx, cursor, prefix+"*", scanBatch).Result()
		if err != nil {
			return nil, unavailable(err, "scan prefix %q", prefix)
		}
		keys = append(keys, batch...)
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}

// BatchGet implements cache.Store with a single pipelined round trip.
func (s *Store) BatchGet(ctx context.Context, keys []string) ([][]byte, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.Get(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, unavailable(err, "pipeline get %d keys", len(keys))
	}

	out := make([][]byte, len(keys))
	for i, cmd := range cmds {
		raw, err := cmd.Bytes()
		if err != nil {
			// redis.Nil slots stay nil and read as misses.
			continue
		}
		out[i] = raw
	}
	return out, nil
}

// BatchSet implements cache.Store with a single pipelined round trip.
func (s *Store) BatchSet(ctx context.Context, items []cache.StoreItem) error {
	if len(items) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	for _, item := range items {
		pipe.Set(ctx, item.Key, item.Value, item.TTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return unavailable(err, "pipeline set %d keys", len(items))
	}
	return nil
}

// Ping implements cache.Store.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.client.Ping(ctx).Err(); err != nil {
		return time.Since(start), unavailable(err, "ping")
	}
	return time.Since(start), nil
}

// Info implements cache.Store. Both numbers are best effort; a partially
// failing INFO leaves the corresponding field at zero.
func (s *Store) Info(ctx context.Context) (cache.StoreInfo, error) {
	size, err := s.client.DBSize(ctx).Result()
	if err != nil {
		return cache.StoreInfo{}, unavailable(err, "dbsize")
	}

	info := cache.StoreInfo{TotalKeys: size}
	if raw, err := s.client.Info(ctx, "memory").Result(); err == nil {
		info.MemoryUsageBytes = parseUsedMemory(raw)
	}
	return info, nil
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

// parseUsedMemory extracts the used_memory value from an INFO memory block.
func parseUsedMemory(raw string) int64 {
	for _, line := range strings.Split(raw, "\n") {
		rest, ok := strings.CutPrefix(line, "used_memory:")
		if !ok {
			continue
		}
		value, err := strconv.ParseInt(strings.TrimSpace(rest), 10, 64)
		if err != nil {
			return 0
		}
		return value
	}
	return 0
}

// unavailable chains the redis error onto cache.ErrUnavailable so callers
// can branch with cache.IsUnavailable while keeping the original detail.
func unavailable(err error, format string, args ...any) error {
	return errors.WithMessagef(errors.WithMessage(cache.ErrUnavailable, err.Error()), format, args...)
}
