// Package testsupport provides shared test doubles and fixtures: an
// in-memory cache store with TTL bookkeeping and failure injection, and
// record types used across package tests and examples.
package testsupport

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/goliatone/go-repository-resilience/cache"
)

var _ cache.Store = (*MemoryStore)(nil)

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

func (i memoryItem) expired(now time.Time) bool {
	return !i.expiresAt.IsZero() && now.After(i.expiresAt)
}

// MemoryStore is an in-memory cache.Store for tests and examples. It honors
// per-key TTLs against an injectable clock and can be switched into a
// failing state to exercise degraded paths.
type MemoryStore struct {
	items *xsync.MapOf[string, memoryItem]

	mu      sync.RWMutex
	failErr error
	now     func() time.Time
}

// NewMemoryStore returns an empty store running on the real clock.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: xsync.NewMapOf[string, memoryItem](),
		now:   time.Now,
	}
}

// Fail puts the store into a failing state: every subsequent call returns
// err. Pass nil to restore normal operation.
func (s *MemoryStore) Fail(err error) {
	s.mu.Lock()
	s.failErr = err
	s.mu.Unlock()
}

// SetClock replaces the store's clock, letting tests advance time to force
// native expiry.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// Len reports the number of live keys.
func (s *MemoryStore) Len() int {
	now := s.clock()
	count := 0
	s.items.Range(func(_ string, item memoryItem) bool {
		if !item.expired(now) {
			count++
		}
		return true
	})
	return count
}

// TTLOf reports the remaining TTL for key, with false when the key is
// absent or has no expiry.
func (s *MemoryStore) TTLOf(key string) (time.Duration, bool) {
	item, ok := s.items.Load(key)
	if !ok || item.expiresAt.IsZero() || item.expired(s.clock()) {
		return 0, false
	}
	return item.expiresAt.Sub(s.clock()), true
}

func (s *MemoryStore) clock() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.now()
}

func (s *MemoryStore) failing() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.failErr
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	if err := s.failing(); err != nil {
		return nil, false, err
	}
	item, ok := s.items.Load(key)
	if !ok {
		return nil, false, nil
	}
	if item.expired(s.clock()) {
		s.items.Delete(key)
		return nil, false, nil
	}
	return item.value, true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.failing(); err != nil {
		return err
	}
	item := memoryItem{value: append([]byte(nil), value...)}
	if ttl > 0 {
		item.expiresAt = s.clock().Add(ttl)
	}
	s.items.Store(key, item)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, keys ...string) (int, error) {
	if err := s.failing(); err != nil {
		return 0, err
	}
	removed := 0
	for _, key := range keys {
		if _, ok := s.items.LoadAndDelete(key); ok {
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if err := s.failing(); err != nil {
		return false, err
	}
	item, ok := s.items.Load(key)
	if !ok || item.expired(s.clock()) {
		return false, nil
	}
	item.expiresAt = s.clock().Add(ttl)
	s.items.Store(key, item)
	return true, nil
}

func (s *MemoryStore) ScanPrefix(_ context.Context, prefix string) ([]string, error) {
	if err := s.failing(); err != nil {
		return nil, err
	}
	now := s.clock()
	var keys []string
	s.items.Range(func(key string, item memoryItem) bool {
		if strings.HasPrefix(key, prefix) && !item.expired(now) {
			keys = append(keys, key)
		}
		return true
	})
	return keys, nil
}

func (s *MemoryStore) BatchGet(ctx context.Context, keys []string) ([][]byte, error) {
	if err := s.failing(); err != nil {
		return nil, err
	}
	out := make([][]byte, len(keys))
	for i, key := range keys {
		value, ok, err := s.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if ok {
			out[i] = value
		}
	}
	return out, nil
}

func (s *MemoryStore) BatchSet(ctx context.Context, items []cache.StoreItem) error {
	if err := s.failing(); err != nil {
		return err
	}
	for _, item := range items {
		if err := s.Set(ctx, item.Key, item.Value, item.TTL); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) Ping(_ context.Context) (time.Duration, error) {
	if err := s.failing(); err != nil {
		return 0, err
	}
	return time.Microsecond, nil
}

func (s *MemoryStore) Info(_ context.Context) (cache.StoreInfo, error) {
	if err := s.failing(); err != nil {
		return cache.StoreInfo{}, err
	}
	info := cache.StoreInfo{TotalKeys: int64(s.Len())}
	s.items.Range(func(key string, item memoryItem) bool {
		info.MemoryUsageBytes += int64(len(key) + len(item.value))
		return true
	})
	return info, nil
}
