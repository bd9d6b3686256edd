package linkcheck

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/burugo/linkcheck/common"
	"github.com/burugo/linkcheck/internal/utils"
)

// Cache namespaces. Each identifies one logical query family.
const (
	NamespaceLink  = "link"
	NamespaceLinks = "links"
	NamespaceStats = "stats"
)

// Parameter names that are embedded verbatim into cache keys so that scope
// invalidation can address them with a glob pattern.
const (
	ParamUserID = "user_id"
	ParamLinkID = "link_id"
)

const (
	// digestLength is the number of hex characters kept from the SHA-256 digest.
	digestLength = 16
	// deleteBatchSize bounds the number of keys per DeleteMany call.
	deleteBatchSize = 500
	// invalidateTimeout bounds one pattern invalidation, scan included.
	invalidateTimeout = 5 * time.Second
)

// --- Parameters ---

// Params is an ordered map of named scalar parameters used to derive a cache
// key. Values are normalized on Set, so Set("page", 1) and Set("page", int64(1))
// are the same parameter.
type Params struct {
	om *utils.OrderedMap
}

// NewParams returns an empty parameter set.
func NewParams() *Params {
	return &Params{om: utils.NewOrderedMap()}
}

// Set adds or replaces a parameter and returns p for chaining.
func (p *Params) Set(name string, value interface{}) *Params {
	p.om.Set(name, utils.NormalizeScalar(value))
	return p
}

// Get returns the normalized value of a parameter.
func (p *Params) Get(name string) (interface{}, bool) {
	if p == nil {
		return nil, false
	}
	return p.om.Get(name)
}

// Len returns the number of parameters.
func (p *Params) Len() int {
	if p == nil {
		return 0
	}
	return p.om.Len()
}

// scopeID returns the decimal form of an integer scope parameter.
// Only integer ids are embedded: they cannot contain glob metacharacters or
// the ':' delimiter.
func (p *Params) scopeID(name string) (string, bool) {
	v, ok := p.Get(name)
	if !ok {
		return "", false
	}
	id, ok := v.(int64)
	if !ok {
		return "", false
	}
	return strconv.FormatInt(id, 10), true
}

// --- Key derivation ---

// DeriveKey generates the cache key for a namespace and parameter set.
//
// The key is "<namespace>:<digest>" where digest is the first 16 hex characters
// of the SHA-256 of the sorted, canonically encoded parameters. When the
// parameters carry an integer user_id and/or link_id, those raw ids are
// placed between namespace and digest ("links:u7:<digest>",
// "link:u7:l42:<digest>") so InvalidationScope patterns can find them.
// The derivation is pure and stable across processes.
func DeriveKey(namespace string, params *Params) string {
	var b strings.Builder
	b.WriteString(namespace)
	b.WriteByte(':')
	if id, ok := params.scopeID(ParamUserID); ok {
		b.WriteString(ownerSegment(id))
		b.WriteByte(':')
	}
	if id, ok := params.scopeID(ParamLinkID); ok {
		b.WriteString(entitySegment(id))
		b.WriteByte(':')
	}
	b.WriteString(paramsDigest(params))
	return b.String()
}

func paramsDigest(params *Params) string {
	var encoded []byte
	if params == nil {
		encoded = []byte("[]")
	} else {
		var err error
		encoded, err = params.om.CanonicalJSON()
		if err != nil {
			// Normalized scalars always encode; keep the fallback deterministic anyway.
			encoded = []byte(fmt.Sprintf("%v", params.om.SortedKeys()))
		}
	}
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:])[:digestLength]
}

func ownerSegment(id string) string  { return "u" + id }
func entitySegment(id string) string { return "l" + id }

// --- Cache service ---

// CacheService provides resilient access to a CacheBackend. Every operation
// degrades to a no-op when the backend is absent, and backend failures are
// logged and counted but never returned: caching is an optimization.
type CacheService struct {
	backend   CacheBackend
	ttl       time.Duration
	opTimeout time.Duration
	logger    *zap.Logger
	metrics   *Metrics
}

// CacheOption configures a CacheService.
type CacheOption func(*CacheService)

// WithDefaultTTL sets the TTL used when Set is called without one.
func WithDefaultTTL(ttl time.Duration) CacheOption {
	return func(c *CacheService) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithOpTimeout bounds every single Get, Set and Delete round trip.
func WithOpTimeout(d time.Duration) CacheOption {
	return func(c *CacheService) { c.opTimeout = d }
}

func WithCacheLogger(logger *zap.Logger) CacheOption {
	return func(c *CacheService) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithCacheMetrics(m *Metrics) CacheOption {
	return func(c *CacheService) { c.metrics = m }
}

// NewCacheService wraps backend. A nil backend yields a disabled service.
func NewCacheService(backend CacheBackend, opts ...CacheOption) *CacheService {
	c := &CacheService{
		backend: backend,
		ttl:     DefaultCacheTTL,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if isNilBackend(c.backend) {
		c.backend = nil
	}
	c.logger = c.logger.Named("cache")
	if c.backend == nil {
		c.logger.Info("cache backend unavailable, caching disabled")
	}
	return c
}

// isNilBackend catches typed nil pointers stored in the interface.
func isNilBackend(b CacheBackend) bool {
	if b == nil {
		return true
	}
	v := reflect.ValueOf(b)
	return v.Kind() == reflect.Ptr && v.IsNil()
}

// disabled records a disabled-backend operation and reports whether op must be skipped.
func (c *CacheService) disabled(op string) bool {
	if c == nil {
		return true
	}
	if c.backend == nil {
		c.metrics.cacheOp(op, resultDisabled)
		return true
	}
	return false
}

// Enabled reports whether a backend is attached.
func (c *CacheService) Enabled() bool {
	return c != nil && c.backend != nil
}

// DefaultTTL returns the TTL applied by Set when none is given, or zero for
// a nil service.
func (c *CacheService) DefaultTTL() time.Duration {
	if c == nil {
		return 0
	}
	return c.ttl
}

func (c *CacheService) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.opTimeout > 0 {
		return context.WithTimeout(ctx, c.opTimeout)
	}
	return ctx, func() {}
}

// Get loads key and decodes it into dest, which must be a non-nil pointer.
// It reports a hit only when the key exists and decodes cleanly; a disabled
// backend, a missing or expired key, a backend error and a corrupt payload
// are all misses. dest is left untouched on a miss.
func (c *CacheService) Get(ctx context.Context, key string, dest interface{}) bool {
	if c.disabled("get") {
		return false
	}
	destVal := reflect.ValueOf(dest)
	if destVal.Kind() != reflect.Ptr || destVal.IsNil() {
		c.logger.Error("cache get: destination must be a non-nil pointer",
			zap.String("key", key), zap.String("type", fmt.Sprintf("%T", dest)))
		return false
	}

	opCtx, cancel := c.opContext(ctx)
	raw, err := c.backend.Get(opCtx, key)
	cancel()
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			c.metrics.cacheOp("get", resultMiss)
			return false
		}
		c.backendError(ctx, "get", key, err)
		return false
	}

	fresh := reflect.New(destVal.Elem().Type())
	if err := json.Unmarshal([]byte(raw), fresh.Interface()); err != nil {
		c.metrics.cacheOp("get", resultCorrupt)
		c.logger.Warn("cache entry failed to decode, treating as miss",
			zap.String("key", key), zap.Error(err))
		return false
	}
	// A stored null would read back as a cached absent value.
	if v := fresh.Elem(); v.Kind() == reflect.Ptr && v.IsNil() {
		c.metrics.cacheOp("get", resultCorrupt)
		c.logger.Warn("cache entry holds null, treating as miss", zap.String("key", key))
		return false
	}
	destVal.Elem().Set(fresh.Elem())
	c.metrics.cacheOp("get", resultHit)
	return true
}

// Set encodes value as JSON and stores it under key with ttl, or with the
// default TTL when ttl is omitted or non-positive. It reports whether the
// backend accepted the write.
func (c *CacheService) Set(ctx context.Context, key string, value interface{}, ttl ...time.Duration) bool {
	if c.disabled("set") {
		return false
	}
	expiry := c.ttl
	if len(ttl) > 0 && ttl[0] > 0 {
		expiry = ttl[0]
	}
	payload, err := json.Marshal(value)
	if err != nil {
		c.metrics.cacheOp("set", resultError)
		c.logger.Warn("cache value failed to encode", zap.String("key", key), zap.Error(err))
		return false
	}

	opCtx, cancel := c.opContext(ctx)
	defer cancel()
	if err := c.backend.SetWithExpiry(opCtx, key, string(payload), expiry); err != nil {
		c.backendError(ctx, "set", key, err)
		return false
	}
	c.metrics.cacheOp("set", resultOK)
	return true
}

// Delete removes a single key. Deleting an absent key succeeds.
func (c *CacheService) Delete(ctx context.Context, key string) bool {
	if c.disabled("delete") {
		return false
	}
	opCtx, cancel := c.opContext(ctx)
	defer cancel()
	if err := c.backend.Delete(opCtx, key); err != nil && !errors.Is(err, common.ErrNotFound) {
		c.backendError(ctx, "delete", key, err)
		return false
	}
	c.metrics.cacheOp("delete", resultOK)
	return true
}

// DeleteByPattern removes every key matching a glob pattern. Keys are fully
// enumerated before anything is deleted: if the scan fails nothing is
// removed. Zero matches is a successful no-op.
func (c *CacheService) DeleteByPattern(ctx context.Context, pattern string) bool {
	if c.disabled("delete_pattern") {
		return false
	}

	var keys []string
	for key, err := range c.backend.ScanKeys(ctx, pattern) {
		if err != nil {
			c.backendError(ctx, "scan", pattern, err)
			return false
		}
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		c.metrics.cacheOp("delete_pattern", resultOK)
		return true
	}

	for start := 0; start < len(keys); start += deleteBatchSize {
		end := min(start+deleteBatchSize, len(keys))
		if err := c.backend.DeleteMany(ctx, keys[start:end]...); err != nil {
			c.backendError(ctx, "delete_pattern", pattern, err)
			return false
		}
	}
	c.logger.Debug("cache keys deleted", zap.String("pattern", pattern), zap.Int("count", len(keys)))
	c.metrics.cacheOp("delete_pattern", resultOK)
	return true
}

// InvalidateScope drops every list, detail and stats entry of userID and,
// when entityID is given, every detail entry of those links.
func (c *CacheService) InvalidateScope(ctx context.Context, userID int64, entityID ...int64) bool {
	return c.Invalidate(ctx, OwnerScope(userID, entityID...))
}

// Invalidate deletes every pattern of scope. It runs detached from ctx
// cancellation: it is only ever called after a durable write has succeeded,
// and abandoning it half way would leave stale entries until their TTL.
func (c *CacheService) Invalidate(ctx context.Context, scope InvalidationScope) bool {
	if !c.Enabled() {
		return false
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), invalidateTimeout)
	defer cancel()

	ok := true
	for _, pattern := range scope.Patterns() {
		if !c.DeleteByPattern(ctx, pattern) {
			ok = false
		}
	}
	return ok
}

// Close releases the backend.
func (c *CacheService) Close() error {
	if !c.Enabled() {
		return nil
	}
	return c.backend.Close()
}

func (c *CacheService) backendError(ctx context.Context, op, key string, err error) {
	if ctx.Err() != nil {
		// The caller went away; not a backend fault.
		c.metrics.cacheOp(op, resultCanceled)
		c.logger.Debug("cache operation abandoned", zap.String("op", op), zap.String("key", key), zap.Error(err))
		return
	}
	c.metrics.cacheOp(op, resultError)
	c.logger.Warn("cache backend error", zap.String("op", op), zap.String("key", key), zap.Error(err))
}
