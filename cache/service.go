package cache

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// InvalidationStrategy selects how keys matched by an invalidation sweep are
// removed from the store.
type InvalidationStrategy string

const (
	// StrategyImmediate deletes every matched key right away.
	StrategyImmediate InvalidationStrategy = "immediate"
	// StrategyLazy rewrites the remaining TTL of matched keys to the
	// configured LazyExpiry so they fall out shortly without a blocking
	// delete.
	StrategyLazy InvalidationStrategy = "lazy"
	// StrategyTTL relies on natural expiry and touches nothing.
	StrategyTTL InvalidationStrategy = "ttl"
	// StrategyPattern behaves like StrategyImmediate; it exists for call-site
	// clarity when invalidation is driven by an explicit key glob rather
	// than an entity name.
	StrategyPattern InvalidationStrategy = "pattern"
)

// Health is the result of a store round-trip check.
type Health struct {
	Healthy bool          `json:"healthy"`
	Latency time.Duration `json:"latency"`
	Error   string        `json:"error,omitempty"`
}

// Service orchestrates key building, entry encoding, logical expiry,
// invalidation strategies and hit/miss accounting over a remote Store.
//
// Reads fail open: a missing, expired, corrupt or unreachable entry is
// reported as a miss so callers always fall through to the source of truth.
// Writes and invalidations fail loud, since a silently dropped write can
// leave stale data cached indefinitely.
//
// Generic access goes through the package-level functions (Get, Set, Warm,
// BatchGet, BatchSet); Go methods cannot carry their own type parameters.
type Service struct {
	store  Store
	keys   KeyBuilder
	codec  Codec
	cfg    Config
	stats  *counters
	logger *zap.Logger
	flight singleflight.Group
	now    func() time.Time
}

// ServiceOption customizes a Service at construction time.
type ServiceOption func(*Service)

// WithLogger installs a logger for degraded reads and invalidation sweeps.
func WithLogger(logger *zap.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithCodec overrides the default MessagePack codec.
func WithCodec(codec Codec) ServiceOption {
	return func(s *Service) { s.codec = codec }
}

// WithKeyBuilder overrides the default key builder.
func WithKeyBuilder(keys KeyBuilder) ServiceOption {
	return func(s *Service) { s.keys = keys }
}

// withClock overrides time for expiry tests.
func withClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService builds a cache service on top of store. The configuration is
// validated once here and never changes afterwards.
func NewService(store Store, cfg Config, opts ...ServiceOption) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid cache config")
	}

	s := &Service{
		store:  store,
		keys:   NewDefaultKeyBuilder(),
		codec:  NewMsgpackCodec(),
		cfg:    cfg,
		stats:  newCounters(),
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Config returns a copy of the service configuration.
func (s *Service) Config() Config { return s.cfg }

// Enabled reports whether the service performs real work.
func (s *Service) Enabled() bool { return s.cfg.Enabled && s.store != nil }

// Key derives the storage key for pattern, mainly useful in logs and tests.
func (s *Service) Key(pattern KeyPattern) string {
	return s.keys.BuildKey(s.cfg.KeyPrefix, pattern)
}

// Get returns the cached value for pattern, or false on any kind of miss.
func Get[T any](ctx context.Context, s *Service, pattern KeyPattern) (T, bool) {
	return GetValidated[T](ctx, s, pattern, nil)
}

// GetValidated behaves like Get but additionally runs the decoded value
// through validate. A value that fails validation is treated as corrupt: the
// entry is purged and the call reports a miss, so schema skew between
// deployments can never hand back unusable data.
func GetValidated[T any](ctx context.Context, s *Service, pattern KeyPattern, validate func(T) bool) (T, bool) {
	var zero T
	if !s.Enabled() {
		return zero, false
	}

	key := s.Key(pattern)
	s.stats.gets.Inc()

	entry, ok := s.loadEntry(ctx, key)
	if !ok {
		s.stats.misses.Inc()
		return zero, false
	}

	var value T
	if err := s.codec.Unmarshal(entry.Data, &value); err != nil {
		s.purgeCorrupt(ctx, key, "payload decode: "+err.Error())
		s.stats.misses.Inc()
		return zero, false
	}

	if validate != nil && !validate(value) {
		s.purgeCorrupt(ctx, key, "schema validation failed")
		s.stats.misses.Inc()
		return zero, false
	}

	s.stats.hits.Inc()
	return value, true
}

// Set caches data under pattern. The entry carries its own expiry metadata
// and the store's native TTL is set to the same bound, so either mechanism
// alone is enough to retire it.
func Set[T any](ctx context.Context, s *Service, pattern KeyPattern, data T, ttl ...time.Duration) error {
	if !s.Enabled() {
		return nil
	}

	entryTTL := s.cfg.DefaultTTL
	if len(ttl) > 0 && ttl[0] > 0 {
		entryTTL = ttl[0]
	}

	key := s.Key(pattern)
	raw, err := s.encodeEntry(data, entryTTL)
	if err != nil {
		return errors.Wrapf(err, "encode cache entry %q", key)
	}

	if err := s.store.Set(ctx, key, raw, entryTTL); err != nil {
		return errors.Wrapf(err, "set cache entry %q", key)
	}

	s.stats.sets.Inc()
	return nil
}

// Delete removes the single key derived from pattern.
func (s *Service) Delete(ctx context.Context, pattern KeyPattern) error {
	if !s.Enabled() {
		return nil
	}

	key := s.Key(pattern)
	if _, err := s.store.Delete(ctx, key); err != nil {
		return errors.Wrapf(err, "delete cache entry %q", key)
	}

	s.stats.deletes.Inc()
	return nil
}

// Warm implements the get-or-populate idiom: return the cached value when
// present, otherwise call provider, cache its result and return it. Provider
// failures propagate uncached. Concurrent warms of the same key share a
// single provider call.
func Warm[T any](ctx context.Context, s *Service, pattern KeyPattern, provider func(context.Context) (T, error), ttl ...time.Duration) (T, error) {
	if !s.Enabled() {
		return provider(ctx)
	}

	if value, ok := Get[T](ctx, s, pattern); ok {
		return value, nil
	}

	key := s.Key(pattern)
	result, err, _ := s.flight.Do(key, func() (any, error) {
		if value, ok := Get[T](ctx, s, pattern); ok {
			return value, nil
		}

		value, err := provider(ctx)
		if err != nil {
			return nil, err
		}

		// The fetched value is authoritative; a failed backfill only costs
		// the next caller a provider round trip.
		if err := Set(ctx, s, pattern, value, ttl...); err != nil {
			s.logger.Warn("cache warm backfill failed",
				zap.String("key", key), zap.Error(err))
		}
		return value, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result.(T), nil
}

// BatchGet pipelines all pattern reads in one store round trip. The result
// is positionally aligned with patterns; nil marks a miss. Each slot follows
// the same expiry and decode rules as Get.
func BatchGet[T any](ctx context.Context, s *Service, patterns []KeyPattern) []*T {
	results := make([]*T, len(patterns))
	if !s.Enabled() || len(patterns) == 0 {
		return results
	}

	keys := make([]string, len(patterns))
	for i, p := range patterns {
		keys[i] = s.Key(p)
		s.stats.gets.Inc()
	}

	raws, err := s.store.BatchGet(ctx, keys)
	if err != nil {
		s.logger.Warn("cache batch read degraded to miss", zap.Int("keys", len(keys)), zap.Error(err))
		for range patterns {
			s.stats.misses.Inc()
		}
		return results
	}

	var stale []string
	now := s.now()
	for i, raw := range raws {
		if raw == nil {
			s.stats.misses.Inc()
			continue
		}

		var entry Entry
		if err := s.codec.Unmarshal(raw, &entry); err != nil || entry.SchemaVersion != s.cfg.SchemaVersion {
			stale = append(stale, keys[i])
			s.stats.misses.Inc()
			continue
		}
		if entry.Expired(now) {
			stale = append(stale, keys[i])
			s.stats.misses.Inc()
			continue
		}

		value := new(T)
		if err := s.codec.Unmarshal(entry.Data, value); err != nil {
			stale = append(stale, keys[i])
			s.stats.misses.Inc()
			continue
		}

		results[i] = value
		s.stats.hits.Inc()
	}

	if len(stale) > 0 {
		if _, err := s.store.Delete(ctx, stale...); err != nil {
			s.logger.Debug("stale entry purge failed", zap.Error(err))
		}
	}
	return results
}

// SetItem is one write in a BatchSet call. A zero TTL selects the default.
type SetItem[T any] struct {
	Pattern KeyPattern
	Data    T
	TTL     time.Duration
}

// BatchSet pipelines all writes in one store round trip.
func BatchSet[T any](ctx context.Context, s *Service, items []SetItem[T]) error {
	if !s.Enabled() || len(items) == 0 {
		return nil
	}

	stored := make([]StoreItem, len(items))
	for i, item := range items {
		ttl := item.TTL
		if ttl <= 0 {
			ttl = s.cfg.DefaultTTL
		}

		key := s.keys.BuildKey(s.cfg.KeyPrefix, item.Pattern)
		raw, err := s.encodeEntry(item.Data, ttl)
		if err != nil {
			return errors.Wrapf(err, "encode cache entry %q", key)
		}
		stored[i] = StoreItem{Key: key, Value: raw, TTL: ttl}
	}

	if err := s.store.BatchSet(ctx, stored); err != nil {
		return errors.Wrap(err, "batch set cache entries")
	}

	s.stats.sets.Add(int64(len(stored)))
	return nil
}

// InvalidateByPattern applies strategy to every key under
// "<keyPrefix>:<entityPrefix>" and returns the number of keys affected.
// StrategyTTL always returns 0 without scanning.
func (s *Service) InvalidateByPattern(ctx context.Context, entityPrefix string, strategy InvalidationStrategy) (int, error) {
	if !s.Enabled() || strategy == StrategyTTL {
		return 0, nil
	}

	prefix := s.cfg.KeyPrefix + KeySeparator + entityPrefix
	keys, err := s.store.ScanPrefix(ctx, prefix)
	if err != nil {
		return 0, errors.Wrapf(err, "scan keys under %q", prefix)
	}

	n, err := s.applyInvalidation(ctx, keys, strategy)
	if err != nil {
		return n, err
	}

	s.logger.Debug("cache invalidation sweep",
		zap.String("prefix", prefix),
		zap.String("strategy", string(strategy)),
		zap.Int("keys", n))
	return n, nil
}

// InvalidateEntity removes every key cached for entity, optionally narrowed
// to entries whose parameters reference a single id.
func (s *Service) InvalidateEntity(ctx context.Context, entity string, id ...string) (int, error) {
	if !s.Enabled() {
		return 0, nil
	}
	if len(id) == 0 {
		return s.InvalidateByPattern(ctx, entity, StrategyImmediate)
	}
	return s.invalidateMatchingParam(ctx, entity, "id", id[0])
}

// InvalidateRelated removes cached entries for entity whose parameters
// reference relationID through relationField. It covers foreign-key shaped
// invalidation, e.g. dropping cached organization-member listings when one
// user's membership changes.
func (s *Service) InvalidateRelated(ctx context.Context, entity, relationField, relationID string) (int, error) {
	if !s.Enabled() {
		return 0, nil
	}
	return s.invalidateMatchingParam(ctx, entity, relationField, relationID)
}

// Stats returns the counter snapshot, enriched with best-effort store-side
// numbers when the store is reachable.
func (s *Service) Stats(ctx context.Context) Stats {
	snap := s.stats.snapshot()
	if !s.Enabled() {
		return snap
	}

	if info, err := s.store.Info(ctx); err == nil {
		snap.TotalKeys = info.TotalKeys
		snap.MemoryUsageBytes = info.MemoryUsageBytes
	}
	return snap
}

// ResetStats zeroes all counters.
func (s *Service) ResetStats() { s.stats.reset() }

// HealthCheck pings the store under a wall-clock timer.
func (s *Service) HealthCheck(ctx context.Context) Health {
	if !s.Enabled() {
		return Health{Healthy: true}
	}

	latency, err := s.store.Ping(ctx)
	if err != nil {
		return Health{Healthy: false, Latency: latency, Error: err.Error()}
	}
	return Health{Healthy: true, Latency: latency}
}

// loadEntry fetches and decodes the envelope for key, enforcing schema
// version and logical expiry. All failures degrade to a miss.
func (s *Service) loadEntry(ctx context.Context, key string) (Entry, bool) {
	raw, found, err := s.store.Get(ctx, key)
	if err != nil {
		s.logger.Warn("cache read degraded to miss", zap.String("key", key), zap.Error(err))
		return Entry{}, false
	}
	if !found {
		return Entry{}, false
	}

	var entry Entry
	if err := s.codec.Unmarshal(raw, &entry); err != nil {
		s.purgeCorrupt(ctx, key, "envelope decode: "+err.Error())
		return Entry{}, false
	}
	if entry.SchemaVersion != s.cfg.SchemaVersion {
		s.purgeCorrupt(ctx, key, "schema version "+entry.SchemaVersion)
		return Entry{}, false
	}
	if entry.Expired(s.now()) {
		// The store may still hold the key physically; never serve it.
		if _, err := s.store.Delete(ctx, key); err != nil {
			s.logger.Debug("expired entry purge failed", zap.String("key", key), zap.Error(err))
		}
		return Entry{}, false
	}
	return entry, true
}

func (s *Service) encodeEntry(data any, ttl time.Duration) ([]byte, error) {
	payload, err := s.codec.Marshal(data)
	if err != nil {
		return nil, err
	}
	return s.codec.Marshal(newEntry(payload, s.now(), ttl, s.cfg.SchemaVersion))
}

// purgeCorrupt drops an undecodable or invalid entry. Purge failures are
// logged, not surfaced: the caller already gets a miss either way.
func (s *Service) purgeCorrupt(ctx context.Context, key, reason string) {
	cerr := &CorruptEntryError{Key: key, Reason: reason}
	s.logger.Warn("purging corrupt cache entry", zap.String("key", key), zap.Error(cerr))
	if _, err := s.store.Delete(ctx, key); err != nil {
		s.logger.Debug("corrupt entry purge failed", zap.String("key", key), zap.Error(err))
	}
}

func (s *Service) applyInvalidation(ctx context.Context, keys []string, strategy InvalidationStrategy) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}

	switch strategy {
	case StrategyImmediate, StrategyPattern:
		n, err := s.store.Delete(ctx, keys...)
		if err != nil {
			return 0, errors.Wrap(err, "delete matched keys")
		}
		s.stats.invalidations.Add(int64(n))
		return n, nil

	case StrategyLazy:
		n := 0
		for _, key := range keys {
			ok, err := s.store.Expire(ctx, key, s.cfg.LazyExpiry)
			if err != nil {
				return n, errors.Wrapf(err, "expire key %q", key)
			}
			if ok {
				n++
			}
		}
		s.stats.invalidations.Add(int64(n))
		return n, nil

	default:
		return 0, errors.Errorf("unknown invalidation strategy %q", strategy)
	}
}

func (s *Service) invalidateMatchingParam(ctx context.Context, entity, field, value string) (int, error) {
	prefix := s.cfg.KeyPrefix + KeySeparator + entity
	keys, err := s.store.ScanPrefix(ctx, prefix)
	if err != nil {
		return 0, errors.Wrapf(err, "scan keys under %q", prefix)
	}

	matched := keys[:0]
	needle := KeySeparator + field + "=" + value
	for _, key := range keys {
		if keyHasSegment(key, needle) {
			matched = append(matched, key)
		}
	}
	return s.applyInvalidation(ctx, matched, StrategyImmediate)
}

// keyHasSegment reports whether needle occurs in key on a segment boundary,
// so "id=1" never matches "id=10".
func keyHasSegment(key, needle string) bool {
	idx := strings.Index(key, needle)
	for idx >= 0 {
		end := idx + len(needle)
		if end == len(key) || strings.HasPrefix(key[end:], KeySeparator) {
			return true
		}
		rest := key[end:]
		next := strings.Index(rest, needle)
		if next < 0 {
			return false
		}
		idx = end + next
	}
	return false
}
