package linkcheck

import (
	"context"
)

// QueryResult is the value of one read together with its provenance.
// Cached is informational only: a cached and a fresh value have the same shape.
type QueryResult[T any] struct {
	Value  T
	Cached bool
}

// loadFunc loads a value from the durable source. cacheable is false for
// results that must not be stored, such as a not-found lookup.
type loadFunc[T any] func(ctx context.Context) (value T, cacheable bool, err error)

// cacheAside serves key from the cache when possible and otherwise loads,
// populates and returns a fresh value.
//
// No lock is held between the cache read and the population: concurrent
// misses on the same key each load and each write, last write wins. Entries
// are projections of the durable source, so that costs only duplicate work.
func cacheAside[T any](ctx context.Context, cache *CacheService, key string, load loadFunc[T]) (QueryResult[T], error) {
	var cached T
	if cache.Get(ctx, key, &cached) {
		return QueryResult[T]{Value: cached, Cached: true}, nil
	}
	// Cancelled while waiting for the cache: do not go on to the durable source.
	if err := ctx.Err(); err != nil {
		return QueryResult[T]{}, err
	}

	value, cacheable, err := load(ctx)
	if err != nil {
		return QueryResult[T]{}, err
	}
	if cacheable && ctx.Err() == nil {
		cache.Set(ctx, key, value)
	}
	return QueryResult[T]{Value: value}, nil
}
