package redis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/burugo/linkcheck"
	"github.com/burugo/linkcheck/common"
)

// scanCount is the COUNT hint passed to every SCAN call.
const scanCount = 100

// Client implements linkcheck.CacheBackend using Redis.
// The counters field tracks operation statistics for monitoring (thread-safe).
type Client struct {
	redisClient       *redis.Client
	breaker           *gobreaker.CircuitBreaker // nil when disabled
	logger            *zap.Logger
	mu                sync.Mutex
	counters          map[string]int
	createdInternally bool // Close only closes clients built by NewClient
}

// Ensure Client implements linkcheck.CacheBackend and io.Closer.
var (
	_ linkcheck.CacheBackend = (*Client)(nil)
	_ io.Closer              = (*Client)(nil)
)

// Options holds configuration for the Redis client.
type Options struct {
	// URL is a redis:// or rediss:// connection URL.
	URL     string
	Breaker linkcheck.BreakerConfig
	// PingTimeout bounds the connectivity check done by NewClient.
	PingTimeout time.Duration
	Logger      *zap.Logger
}

// NewClient creates a Redis cache backend.
// If redisCli is not nil it is used directly and never closed by Close.
// Otherwise a client is built from opts.URL and pinged; a failed ping is
// returned so the caller can fall back to a disabled cache.
func NewClient(ctx context.Context, redisCli *redis.Client, opts Options) (*Client, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("redis")

	rdb := redisCli
	createdInternally := false
	if rdb == nil {
		redisOpts, err := redis.ParseURL(opts.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		rdb = redis.NewClient(redisOpts)
		createdInternally = true

		timeout := opts.PingTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		pingCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("failed to ping redis: %w", err)
		}
	}

	c := &Client{
		redisClient:       rdb,
		logger:            logger,
		counters:          make(map[string]int),
		createdInternally: createdInternally,
	}
	if opts.Breaker.Enabled {
		c.breaker = newBreaker(opts.Breaker, logger)
	}
	logger.Info("redis cache client initialized", zap.String("addr", rdb.Options().Addr))
	return c, nil
}

func newBreaker(cfg linkcheck.BreakerConfig, logger *zap.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "redis-cache",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
		IsSuccessful: func(err error) bool {
			// A miss or an abandoned call says nothing about Redis health.
			return err == nil ||
				errors.Is(err, common.ErrNotFound) ||
				errors.Is(err, context.Canceled)
		},
	})
}

// do runs fn through the breaker when one is configured.
func (c *Client) do(fn func() error) error {
	if c.breaker == nil {
		return fn()
	}
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

// incrementCounter safely increments a named operation counter.
func (c *Client) incrementCounter(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[name]++
}

// Counters returns a snapshot of the operation counters.
func (c *Client) Counters() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int, len(c.counters))
	for k, v := range c.counters {
		out[k] = v
	}
	return out
}

// Close implements io.Closer. Only closes redisClient if it was created by NewClient.
func (c *Client) Close() error {
	if c.createdInternally && c.redisClient != nil {
		return c.redisClient.Close()
	}
	return nil
}

// Get retrieves a raw string value from Redis.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	c.incrementCounter("Get")
	var val string
	err := c.do(func() error {
		v, err := c.redisClient.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return common.ErrNotFound
		}
		val = v
		return err
	})
	switch {
	case errors.Is(err, common.ErrNotFound):
		c.incrementCounter("GetMiss")
		return "", err
	case err != nil:
		c.incrementCounter("GetError")
		return "", fmt.Errorf("redis Get error for key '%s': %w", key, err)
	}
	c.incrementCounter("GetHit")
	return val, nil
}

// SetWithExpiry stores a raw string value in Redis.
func (c *Client) SetWithExpiry(ctx context.Context, key string, value string, ttl time.Duration) error {
	c.incrementCounter("Set")
	err := c.do(func() error {
		return c.redisClient.Set(ctx, key, value, ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("redis Set error for key '%s': %w", key, err)
	}
	return nil
}

// Delete removes a key from Redis. Deleting an absent key is not an error.
func (c *Client) Delete(ctx context.Context, key string) error {
	c.incrementCounter("Delete")
	return c.DeleteMany(ctx, key)
}

// DeleteMany removes keys with a single DEL.
func (c *Client) DeleteMany(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	c.incrementCounter("DeleteMany")
	err := c.do(func() error {
		return c.redisClient.Del(ctx, keys...).Err()
	})
	if err != nil {
		return fmt.Errorf("redis Del error for %d keys: %w", len(keys), err)
	}
	return nil
}

// ScanKeys iterates keys matching pattern with SCAN. SCAN may report a key
// more than once; duplicates are dropped.
func (c *Client) ScanKeys(ctx context.Context, pattern string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		c.incrementCounter("Scan")
		seen := make(map[string]struct{})
		var cursor uint64
		for {
			var keys []string
			err := c.do(func() error {
				var err error
				keys, cursor, err = c.redisClient.Scan(ctx, cursor, pattern, scanCount).Result()
				return err
			})
			if err != nil {
				yield("", fmt.Errorf("redis Scan error for pattern '%s': %w", pattern, err))
				return
			}
			for _, key := range keys {
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}
				if !yield(key, nil) {
					return
				}
			}
			if cursor == 0 {
				return
			}
		}
	}
}
