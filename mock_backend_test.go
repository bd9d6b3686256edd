package linkcheck

import (
	"context"
	"errors"
	"iter"
	"sort"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/burugo/linkcheck/common"
)

// ErrMockBackend is returned by a MockBackend operation set to fail.
var ErrMockBackend = errors.New("mock backend failure")

// MockBackend is an in-memory CacheBackend with expiry, call counters and
// per-operation failure injection.
type MockBackend struct {
	store  sync.Map // key -> string
	expiry sync.Map // key -> time.Time

	mu       sync.RWMutex
	Counters map[string]int
	failing  map[string]bool
	// scanFailAfter makes ScanKeys fail after yielding that many keys; -1 disables.
	scanFailAfter int
	closed        bool
}

func NewMockBackend() *MockBackend {
	return &MockBackend{
		Counters:      make(map[string]int),
		failing:       make(map[string]bool),
		scanFailAfter: -1,
	}
}

// Fail makes every listed operation (Get, Set, Delete, Scan, DeleteMany) fail.
func (m *MockBackend) Fail(ops ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, op := range ops {
		m.failing[op] = true
	}
}

// FailScanAfter makes ScanKeys yield n keys and then an error.
func (m *MockBackend) FailScanAfter(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scanFailAfter = n
}

// Heal clears every injected failure.
func (m *MockBackend) Heal() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failing = make(map[string]bool)
	m.scanFailAfter = -1
}

// Count returns the number of calls of op.
func (m *MockBackend) Count(op string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Counters[op]
}

// ResetCounts clears the call counters.
func (m *MockBackend) ResetCounts() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Counters = make(map[string]int)
}

// Put stores a raw value without going through a CacheService.
func (m *MockBackend) Put(key, value string) {
	m.store.Store(key, value)
	m.expiry.Delete(key)
}

// Exists checks if a non-expired key is present.
func (m *MockBackend) Exists(key string) bool {
	_, ok := m.load(key)
	return ok
}

// Keys returns the live keys, sorted.
func (m *MockBackend) Keys() []string {
	var keys []string
	m.store.Range(func(k, _ interface{}) bool {
		if m.Exists(k.(string)) {
			keys = append(keys, k.(string))
		}
		return true
	})
	sort.Strings(keys)
	return keys
}

func (m *MockBackend) call(op string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Counters[op]++
	if m.closed {
		return common.ErrBackendClosed
	}
	if m.failing[op] {
		return ErrMockBackend
	}
	return nil
}

func (m *MockBackend) load(key string) (string, bool) {
	v, ok := m.store.Load(key)
	if !ok {
		return "", false
	}
	if exp, ok := m.expiry.Load(key); ok && !time.Now().Before(exp.(time.Time)) {
		m.store.Delete(key)
		m.expiry.Delete(key)
		return "", false
	}
	return v.(string), true
}

func (m *MockBackend) Get(ctx context.Context, key string) (string, error) {
	if err := m.call("Get"); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	v, ok := m.load(key)
	if !ok {
		return "", common.ErrNotFound
	}
	return v, nil
}

func (m *MockBackend) SetWithExpiry(ctx context.Context, key string, value string, ttl time.Duration) error {
	if err := m.call("Set"); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.store.Store(key, value)
	if ttl > 0 {
		m.expiry.Store(key, time.Now().Add(ttl))
	} else {
		m.expiry.Delete(key)
	}
	return nil
}

func (m *MockBackend) Delete(ctx context.Context, key string) error {
	if err := m.call("Delete"); err != nil {
		return err
	}
	m.store.Delete(key)
	m.expiry.Delete(key)
	return nil
}

func (m *MockBackend) ScanKeys(ctx context.Context, pattern string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if err := m.call("Scan"); err != nil {
			yield("", err)
			return
		}
		m.mu.RLock()
		failAfter := m.scanFailAfter
		m.mu.RUnlock()

		yielded := 0
		for _, key := range m.Keys() {
			if ok, _ := doublestar.Match(pattern, key); !ok {
				continue
			}
			if failAfter >= 0 && yielded >= failAfter {
				yield("", ErrMockBackend)
				return
			}
			if !yield(key, nil) {
				return
			}
			yielded++
		}
		if failAfter >= 0 && yielded >= failAfter {
			yield("", ErrMockBackend)
		}
	}
}

func (m *MockBackend) DeleteMany(ctx context.Context, keys ...string) error {
	if err := m.call("DeleteMany"); err != nil {
		return err
	}
	for _, key := range keys {
		m.store.Delete(key)
		m.expiry.Delete(key)
	}
	return nil
}

func (m *MockBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
