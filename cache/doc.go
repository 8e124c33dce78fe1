// Package cache provides an entity-agnostic, read-through cache over a
// remote key-value store.
//
// # Overview
//
// Values are addressed by a KeyPattern (entity, operation, parameters) and
// stored inside an Entry envelope carrying the write timestamp, TTL and
// schema version. The Service enforces logical expiry on every read, so a
// stale value is never served even when the store still holds the key
// physically.
//
// # Failure semantics
//
// Reads fail open: when caching is disabled, the store is unreachable, or an
// entry is expired or corrupt, Get and BatchGet report a miss and the caller
// falls through to the source of truth. Writes and invalidations fail loud
// and return the store error, because a silently dropped write can leave
// stale data cached indefinitely.
//
// # Generic access
//
// Go methods cannot declare their own type parameters, so typed access goes
// through package-level functions over a type-erased *Service:
//
//	pattern := cache.KeyPattern{
//		Entity:    "user",
//		Operation: "find_by_id",
//		Params:    map[string]any{"id": id},
//	}
//	if user, ok := cache.Get[User](ctx, svc, pattern); ok {
//		return user, nil
//	}
//	user, err := loadUser(ctx, id)
//	if err != nil {
//		return User{}, err
//	}
//	_ = cache.Set(ctx, svc, pattern, user)
//
// Warm collapses concurrent populates of the same key into one provider
// call; BatchGet and BatchSet pipeline many keys into a single store round
// trip.
//
// # Invalidation
//
// InvalidateByPattern sweeps every key under an entity prefix with one of
// four strategies: immediate (delete now), lazy (shorten the remaining TTL),
// ttl (rely on natural expiry) or pattern (immediate, named for glob-driven
// call sites). InvalidateEntity and InvalidateRelated are convenience
// wrappers for the common entity-shaped and foreign-key-shaped sweeps.
package cache
