package repositorycache

import (
	"context"
	"fmt"
	"reflect"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-repository-resilience/batch"
	"github.com/goliatone/go-repository-resilience/cache"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

var _ repository.Repository[any] = (*CachedRepository[any])(nil)

// listResult packs the records plus total tuple from List into one cacheable
// value.
type listResult[T any] struct {
	Records []T `json:"records" msgpack:"records"`
	Total   int `json:"total" msgpack:"total"`
}

// CachedRepository decorates a repository with read-through caching and
// write-triggered invalidation. Reads derive an (entity, operation, params)
// pattern and go through the cache service; writes pass through to the base
// repository and, on success, sweep the entity's cache namespace. Bulk
// writes optionally route through a batch executor.
//
// Invalidation failures after a successful write are logged, not returned:
// the write itself succeeded and the entries age out via TTL regardless.
type CachedRepository[T any] struct {
	base     repository.Repository[T]
	cache    *cache.Service
	executor *batch.Executor[T]
	entity   string
	strategy cache.InvalidationStrategy
	logger   *zap.Logger
}

// Option customizes a CachedRepository at construction time.
type Option[T any] func(*CachedRepository[T])

// WithEntityName overrides the cache namespace, which defaults to the
// snake_cased record type name.
func WithEntityName[T any](entity string) Option[T] {
	return func(c *CachedRepository[T]) {
		if entity != "" {
			c.entity = entity
		}
	}
}

// WithExecutor routes CreateMany, UpdateMany and UpsertMany through e
// instead of the base repository's bulk calls, adding chunking, bounded
// concurrency and partial-failure isolation.
func WithExecutor[T any](e *batch.Executor[T]) Option[T] {
	return func(c *CachedRepository[T]) { c.executor = e }
}

// WithStrategy selects the invalidation strategy applied after writes. The
// default is immediate deletion.
func WithStrategy[T any](strategy cache.InvalidationStrategy) Option[T] {
	return func(c *CachedRepository[T]) { c.strategy = strategy }
}

// WithLogger installs a logger for invalidation failures.
func WithLogger[T any](logger *zap.Logger) Option[T] {
	return func(c *CachedRepository[T]) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New wraps base with caching backed by svc.
func New[T any](base repository.Repository[T], svc *cache.Service, opts ...Option[T]) *CachedRepository[T] {
	c := &CachedRepository[T]{
		base:     base,
		cache:    svc,
		entity:   entityNameOf[T](),
		strategy: cache.StrategyImmediate,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Entity returns the cache namespace this repository invalidates under.
func (c *CachedRepository[T]) Entity() string { return c.entity }

func (c *CachedRepository[T]) pattern(operation string, params map[string]any) cache.KeyPattern {
	return cache.KeyPattern{Entity: c.entity, Operation: operation, Params: params}
}

// Get retrieves a single record matching the criteria, read-through cached.
func (c *CachedRepository[T]) Get(ctx context.Context, criteria ...repository.SelectCriteria) (T, error) {
	pattern := c.pattern("get", map[string]any{"criteria": criteria})
	return cache.Warm(ctx, c.cache, pattern, func(ctx context.Context) (T, error) {
		return c.base.Get(ctx, criteria...)
	})
}

// GetByID retrieves a record by primary key, read-through cached.
func (c *CachedRepository[T]) GetByID(ctx context.Context, id string, criteria ...repository.SelectCriteria) (T, error) {
	pattern := c.pattern("get_by_id", map[string]any{"id": id, "criteria": criteria})
	return cache.Warm(ctx, c.cache, pattern, func(ctx context.Context) (T, error) {
		return c.base.GetByID(ctx, id, criteria...)
	})
}

// GetByIdentifier retrieves a record by a human-readable identifier,
// read-through cached.
func (c *CachedRepository[T]) GetByIdentifier(ctx context.Context, identifier string, criteria ...repository.SelectCriteria) (T, error) {
	pattern := c.pattern("get_by_identifier", map[string]any{"identifier": identifier, "criteria": criteria})
	return cache.Warm(ctx, c.cache, pattern, func(ctx context.Context) (T, error) {
		return c.base.GetByIdentifier(ctx, identifier, criteria...)
	})
}

// List retrieves matching records plus the total count, cached as one unit
// so records and total never come from different snapshots.
func (c *CachedRepository[T]) List(ctx context.Context, criteria ...repository.SelectCriteria) ([]T, int, error) {
	pattern := c.pattern("list", map[string]any{"criteria": criteria})
	res, err := cache.Warm(ctx, c.cache, pattern, func(ctx context.Context) (listResult[T], error) {
		records, total, err := c.base.List(ctx, criteria...)
		return listResult[T]{Records: records, Total: total}, err
	})
	if err != nil {
		return nil, 0, err
	}
	return res.Records, res.Total, nil
}

// Count returns the number of matching records, read-through cached.
func (c *CachedRepository[T]) Count(ctx context.Context, criteria ...repository.SelectCriteria) (int, error) {
	pattern := c.pattern("count", map[string]any{"criteria": criteria})
	return cache.Warm(ctx, c.cache, pattern, func(ctx context.Context) (int, error) {
		return c.base.Count(ctx, criteria...)
	})
}

// Create inserts a record and invalidates the entity namespace.
func (c *CachedRepository[T]) Create(ctx context.Context, record T, criteria ...repository.InsertCriteria) (T, error) {
	result, err := c.base.Create(ctx, record, criteria...)
	if err == nil {
		c.invalidate(ctx)
	}
	return result, err
}

// CreateTx inserts a record within a transaction.
func (c *CachedRepository[T]) CreateTx(ctx context.Context, tx bun.IDB, record T, criteria ...repository.InsertCriteria) (T, error) {
	result, err := c.base.CreateTx(ctx, tx, record, criteria...)
	if err == nil {
		c.invalidate(ctx)
	}
	return result, err
}

// CreateMany inserts records, through the batch executor when configured.
// Insert criteria bypass the executor since its store contract cannot carry
// them.
func (c *CachedRepository[T]) CreateMany(ctx context.Context, records []T, criteria ...repository.InsertCriteria) ([]T, error) {
	if c.executor == nil || len(criteria) > 0 {
		result, err := c.base.CreateMany(ctx, records, criteria...)
		if err == nil {
			c.invalidate(ctx)
		}
		return result, err
	}

	res := c.executor.Create(ctx, records)
	if res.TotalSuccessful > 0 {
		c.invalidate(ctx)
	}
	return res.Successful, res.Err()
}

// CreateManyTx inserts records within a transaction, always through the base
// repository so the whole batch shares the transaction.
func (c *CachedRepository[T]) CreateManyTx(ctx context.Context, tx bun.IDB, records []T, criteria ...repository.InsertCriteria) ([]T, error) {
	result, err := c.base.CreateManyTx(ctx, tx, records, criteria...)
	if err == nil {
		c.invalidate(ctx)
	}
	return result, err
}

// GetOrCreate fetches a record, creating it when absent. It may have
// written, so the namespace is invalidated on success.
func (c *CachedRepository[T]) GetOrCreate(ctx context.Context, record T) (T, error) {
	result, err := c.base.GetOrCreate(ctx, record)
	if err == nil {
		c.invalidate(ctx)
	}
	return result, err
}

// GetOrCreateTx is GetOrCreate within a transaction.
func (c *CachedRepository[T]) GetOrCreateTx(ctx context.Context, tx bun.IDB, record T) (T, error) {
	result, err := c.base.GetOrCreateTx(ctx, tx, record)
	if err == nil {
		c.invalidate(ctx)
	}
	return result, err
}

// Update modifies a record and invalidates the entity namespace.
func (c *CachedRepository[T]) Update(ctx context.Context, record T, criteria ...repository.UpdateCriteria) (T, error) {
	result, err := c.base.Update(ctx, record, criteria...)
	if err == nil {
		c.invalidate(ctx)
	}
	return result, err
}

// UpdateTx modifies a record within a transaction.
func (c *CachedRepository[T]) UpdateTx(ctx context.Context, tx bun.IDB, record T, criteria ...repository.UpdateCriteria) (T, error) {
	result, err := c.base.UpdateTx(ctx, tx, record, criteria...)
	if err == nil {
		c.invalidate(ctx)
	}
	return result, err
}

// UpdateMany modifies records, through the batch executor when configured.
func (c *CachedRepository[T]) UpdateMany(ctx context.Context, records []T, criteria ...repository.UpdateCriteria) ([]T, error) {
	if c.executor == nil || len(criteria) > 0 {
		result, err := c.base.UpdateMany(ctx, records, criteria...)
		if err == nil {
			c.invalidate(ctx)
		}
		return result, err
	}

	res := c.executor.Update(ctx, records)
	if res.TotalSuccessful > 0 {
		c.invalidate(ctx)
	}
	return res.Successful, res.Err()
}

// UpdateManyTx modifies records within a transaction through the base
// repository.
func (c *CachedRepository[T]) UpdateManyTx(ctx context.Context, tx bun.IDB, records []T, criteria ...repository.UpdateCriteria) ([]T, error) {
	result, err := c.base.UpdateManyTx(ctx, tx, records, criteria...)
	if err == nil {
		c.invalidate(ctx)
	}
	return result, err
}

// Upsert inserts or updates a record and invalidates the entity namespace.
func (c *CachedRepository[T]) Upsert(ctx context.Context, record T, criteria ...repository.UpdateCriteria) (T, error) {
	result, err := c.base.Upsert(ctx, record, criteria...)
	if err == nil {
		c.invalidate(ctx)
	}
	return result, err
}

// UpsertTx inserts or updates a record within a transaction.
func (c *CachedRepository[T]) UpsertTx(ctx context.Context, tx bun.IDB, record T, criteria ...repository.UpdateCriteria) (T, error) {
	result, err := c.base.UpsertTx(ctx, tx, record, criteria...)
	if err == nil {
		c.invalidate(ctx)
	}
	return result, err
}

// UpsertMany inserts or updates records. With an executor configured, items
// are partitioned by identity and routed through its create and update
// flows.
func (c *CachedRepository[T]) UpsertMany(ctx context.Context, records []T, criteria ...repository.UpdateCriteria) ([]T, error) {
	if c.executor == nil || len(criteria) > 0 {
		result, err := c.base.UpsertMany(ctx, records, criteria...)
		if err == nil {
			c.invalidate(ctx)
		}
		return result, err
	}

	res := c.executor.Upsert(ctx, records)
	if res.TotalSuccessful > 0 {
		c.invalidate(ctx)
	}
	return res.Successful, res.Err()
}

// UpsertManyTx inserts or updates records within a transaction through the
// base repository.
func (c *CachedRepository[T]) UpsertManyTx(ctx context.Context, tx bun.IDB, records []T, criteria ...repository.UpdateCriteria) ([]T, error) {
	result, err := c.base.UpsertManyTx(ctx, tx, records, criteria...)
	if err == nil {
		c.invalidate(ctx)
	}
	return result, err
}

// Delete removes a record and invalidates the entity namespace.
func (c *CachedRepository[T]) Delete(ctx context.Context, record T) error {
	err := c.base.Delete(ctx, record)
	if err == nil {
		c.invalidate(ctx)
	}
	return err
}

// DeleteTx removes a record within a transaction.
func (c *CachedRepository[T]) DeleteTx(ctx context.Context, tx bun.IDB, record T) error {
	err := c.base.DeleteTx(ctx, tx, record)
	if err == nil {
		c.invalidate(ctx)
	}
	return err
}

// DeleteMany removes records by criteria. Criteria describe a predicate,
// not records, so there is nothing to route through the executor and
// nothing to narrow invalidation with.
func (c *CachedRepository[T]) DeleteMany(ctx context.Context, criteria ...repository.DeleteCriteria) error {
	err := c.base.DeleteMany(ctx, criteria...)
	if err == nil {
		c.invalidate(ctx)
	}
	return err
}

// DeleteManyTx removes records by criteria within a transaction.
func (c *CachedRepository[T]) DeleteManyTx(ctx context.Context, tx bun.IDB, criteria ...repository.DeleteCriteria) error {
	err := c.base.DeleteManyTx(ctx, tx, criteria...)
	if err == nil {
		c.invalidate(ctx)
	}
	return err
}

// DeleteWhere removes records by criteria.
func (c *CachedRepository[T]) DeleteWhere(ctx context.Context, criteria ...repository.DeleteCriteria) error {
	err := c.base.DeleteWhere(ctx, criteria...)
	if err == nil {
		c.invalidate(ctx)
	}
	return err
}

// DeleteWhereTx removes records by criteria within a transaction.
func (c *CachedRepository[T]) DeleteWhereTx(ctx context.Context, tx bun.IDB, criteria ...repository.DeleteCriteria) error {
	err := c.base.DeleteWhereTx(ctx, tx, criteria...)
	if err == nil {
		c.invalidate(ctx)
	}
	return err
}

// ForceDelete removes a record bypassing soft delete.
func (c *CachedRepository[T]) ForceDelete(ctx context.Context, record T) error {
	err := c.base.ForceDelete(ctx, record)
	if err == nil {
		c.invalidate(ctx)
	}
	return err
}

// ForceDeleteTx removes a record bypassing soft delete within a
// transaction.
func (c *CachedRepository[T]) ForceDeleteTx(ctx context.Context, tx bun.IDB, record T) error {
	err := c.base.ForceDeleteTx(ctx, tx, record)
	if err == nil {
		c.invalidate(ctx)
	}
	return err
}

// Transactional reads bypass the cache entirely: a transaction's view must
// not be mixed with values cached outside it.

func (c *CachedRepository[T]) GetTx(ctx context.Context, tx bun.IDB, criteria ...repository.SelectCriteria) (T, error) {
	return c.base.GetTx(ctx, tx, criteria...)
}

func (c *CachedRepository[T]) GetByIDTx(ctx context.Context, tx bun.IDB, id string, criteria ...repository.SelectCriteria) (T, error) {
	return c.base.GetByIDTx(ctx, tx, id, criteria...)
}

func (c *CachedRepository[T]) GetByIdentifierTx(ctx context.Context, tx bun.IDB, identifier string, criteria ...repository.SelectCriteria) (T, error) {
	return c.base.GetByIdentifierTx(ctx, tx, identifier, criteria...)
}

func (c *CachedRepository[T]) ListTx(ctx context.Context, tx bun.IDB, criteria ...repository.SelectCriteria) ([]T, int, error) {
	return c.base.ListTx(ctx, tx, criteria...)
}

func (c *CachedRepository[T]) CountTx(ctx context.Context, tx bun.IDB, criteria ...repository.SelectCriteria) (int, error) {
	return c.base.CountTx(ctx, tx, criteria...)
}

// Raw executes a raw query uncached; free-form SQL cannot be mapped to a
// stable cache pattern.
func (c *CachedRepository[T]) Raw(ctx context.Context, sql string, args ...any) ([]T, error) {
	return c.base.Raw(ctx, sql, args...)
}

// RawTx executes a raw query within a transaction.
func (c *CachedRepository[T]) RawTx(ctx context.Context, tx bun.IDB, sql string, args ...any) ([]T, error) {
	return c.base.RawTx(ctx, tx, sql, args...)
}

// Handlers exposes the base repository's model handlers.
func (c *CachedRepository[T]) Handlers() repository.ModelHandlers[T] {
	return c.base.Handlers()
}

// invalidate sweeps the entity namespace plus any invalidation tags carried
// on the context. Failures are logged and swallowed; stale entries age out
// via TTL even when a sweep fails.
func (c *CachedRepository[T]) invalidate(ctx context.Context) {
	if _, err := c.cache.InvalidateByPattern(ctx, c.entity, c.strategy); err != nil {
		c.logger.Warn("entity cache invalidation failed",
			zap.String("entity", c.entity),
			zap.Error(err))
	}
	for _, tag := range invalidationTagsFromContext(ctx) {
		if _, err := c.cache.InvalidateByPattern(ctx, tag, c.strategy); err != nil {
			c.logger.Warn("tagged cache invalidation failed",
				zap.String("tag", tag),
				zap.Error(err))
		}
	}
}

// entityNameOf derives the cache namespace from T's type name, snake_cased.
// Pointer decoration is stripped so the namespace stays a clean key
// segment.
func entityNameOf[T any]() string {
	t := reflect.TypeOf((*T)(nil)).Elem()
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	name := t.Name()
	if name == "" {
		name = fmt.Sprintf("%v", t)
	}
	return toSnake(name)
}
