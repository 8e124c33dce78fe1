// Package repositorycache decorates go-repository-bun repositories with
// read-through caching and resilient bulk writes.
//
// Reads (Get, GetByID, GetByIdentifier, List, Count) derive a deterministic
// (entity, operation, params) cache pattern and go through cache.Warm:
// cached values are served directly, misses fall through to the wrapped
// repository and back-fill the cache. Transactional and raw reads always
// bypass the cache.
//
// Writes pass through to the wrapped repository. After a successful write
// the decorator sweeps the entity's whole cache namespace, plus any extra
// prefixes attached with WithInvalidationTags, using the configured
// invalidation strategy. Sweep failures are logged rather than returned
// since the entries also age out via TTL.
//
// With a batch.Executor configured, CreateMany, UpdateMany and UpsertMany
// run through it to gain chunking, bounded concurrency, retries and
// partial-failure isolation; partial failures surface as a
// *batch.PartialError alongside the successfully written records.
//
//	repo := repositorycache.New(userRepo, svc,
//		repositorycache.WithExecutor(executor))
//
//	user, err := repo.GetByID(ctx, id)           // cached
//	created, err := repo.CreateMany(ctx, users)  // batched + invalidates
package repositorycache
