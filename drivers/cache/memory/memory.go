// Package memory provides an in-process LRU CacheBackend for single-instance
// deployments and tests.
package memory

import (
	"context"
	"fmt"
	"iter"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/burugo/linkcheck"
	"github.com/burugo/linkcheck/common"
)

const defaultMaxSize = 10000

type entry struct {
	value     string
	expiresAt time.Time
}

// Store is an in-memory LRU cache with per-entry expiry.
// Expired entries are dropped lazily on access.
type Store struct {
	lru       *lru.Cache[string, entry]
	evictions atomic.Int64
	closed    atomic.Bool
	now       func() time.Time
}

var _ linkcheck.CacheBackend = (*Store)(nil)

// New creates a store holding at most maxSize entries.
func New(maxSize int) (*Store, error) {
	if maxSize <= 0 {
		maxSize = defaultMaxSize
	}
	s := &Store{now: time.Now}
	cache, err := lru.New[string, entry](maxSize)
	if err != nil {
		return nil, fmt.Errorf("memory cache: %w", err)
	}
	s.lru = cache
	return s, nil
}

// Evictions counts entries dropped by the LRU policy or by expiry. Deletes
// and Close are not counted.
func (s *Store) Evictions() int64 { return s.evictions.Load() }

// Len returns the number of entries held, expired ones included.
func (s *Store) Len() int { return s.lru.Len() }

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	if err := s.check(ctx); err != nil {
		return "", err
	}
	e, ok := s.lru.Get(key)
	if !ok {
		return "", common.ErrNotFound
	}
	if s.expired(e) {
		if s.lru.Remove(key) {
			s.evictions.Add(1)
		}
		return "", common.ErrNotFound
	}
	return e.value, nil
}

func (s *Store) SetWithExpiry(ctx context.Context, key string, value string, ttl time.Duration) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	if s.lru.Add(key, e) {
		s.evictions.Add(1)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return s.DeleteMany(ctx, key)
}

func (s *Store) DeleteMany(ctx context.Context, keys ...string) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	for _, key := range keys {
		s.lru.Remove(key)
	}
	return nil
}

// ScanKeys matches a snapshot of the live keys against a glob pattern.
// '*' matches any run of characters, ':' included.
func (s *Store) ScanKeys(ctx context.Context, pattern string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if err := s.check(ctx); err != nil {
			yield("", err)
			return
		}
		if !doublestar.ValidatePattern(pattern) {
			yield("", fmt.Errorf("memory cache: invalid pattern %q", pattern))
			return
		}
		for _, key := range s.lru.Keys() {
			matched, _ := doublestar.Match(pattern, key)
			if !matched {
				continue
			}
			e, ok := s.lru.Peek(key)
			if !ok || s.expired(e) {
				continue
			}
			if !yield(key, nil) {
				return
			}
		}
	}
}

// Close purges the store; later calls fail with common.ErrBackendClosed.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.lru.Purge()
	return nil
}

func (s *Store) check(ctx context.Context) error {
	if s.closed.Load() {
		return common.ErrBackendClosed
	}
	return ctx.Err()
}

func (s *Store) expired(e entry) bool {
	return !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt)
}
