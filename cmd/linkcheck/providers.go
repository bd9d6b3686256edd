package main

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/burugo/linkcheck"
	"github.com/burugo/linkcheck/drivers/cache/memory"
	"github.com/burugo/linkcheck/drivers/cache/redis"
	"github.com/burugo/linkcheck/drivers/db/sqlite"
	"github.com/burugo/linkcheck/internal/api"
	"github.com/burugo/linkcheck/scraper"
)

// memoryBackendURL selects the in-process cache backend instead of Redis.
const memoryBackendURL = "memory"

// Application holds the dependencies main needs after wiring.
type Application struct {
	Config linkcheck.Config
	Server *api.Server
	Cache  *linkcheck.CacheService
	Logger *zap.Logger
}

// Handler returns the root HTTP handler.
func (a *Application) Handler() http.Handler { return a.Server.Handler() }

func provideMetrics() *linkcheck.Metrics {
	return linkcheck.NewMetrics("linkcheck")
}

// provideStore opens the SQLite store. Includes cleanup.
func provideStore(ctx context.Context, cfg linkcheck.Config, logger *zap.Logger) (*sqlite.Store, func(), error) {
	store, err := sqlite.Open(ctx, cfg.Database.DSN, logger)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := store.Close(); err != nil {
			logger.Warn("error closing store", zap.Error(err))
		}
	}
	return store, cleanup, nil
}

// provideCacheBackend connects the configured backend. A backend that
// cannot be reached is logged and replaced by nil, which disables caching
// for the life of the process.
func provideCacheBackend(ctx context.Context, cfg linkcheck.Config, logger *zap.Logger) (linkcheck.CacheBackend, func()) {
	noop := func() {}
	if !cfg.Cache.Enabled {
		logger.Info("cache disabled by configuration")
		return nil, noop
	}

	var (
		backend linkcheck.CacheBackend
		err     error
	)
	if strings.EqualFold(cfg.Cache.RedisURL, memoryBackendURL) {
		backend, err = memory.New(cfg.Cache.MemorySize)
	} else {
		backend, err = redis.NewClient(ctx, nil, redis.Options{
			URL:     cfg.Cache.RedisURL,
			Breaker: cfg.Cache.Breaker,
			Logger:  logger,
		})
	}
	if err != nil {
		logger.Warn("cache backend unavailable, continuing without cache", zap.Error(err))
		return nil, noop
	}
	return backend, func() {
		if err := backend.Close(); err != nil {
			logger.Warn("error closing cache backend", zap.Error(err))
		}
	}
}

func provideCacheService(backend linkcheck.CacheBackend, cfg linkcheck.Config, logger *zap.Logger, metrics *linkcheck.Metrics) *linkcheck.CacheService {
	return linkcheck.NewCacheService(backend,
		linkcheck.WithDefaultTTL(cfg.Cache.TTL()),
		linkcheck.WithOpTimeout(cfg.Cache.OpTimeout),
		linkcheck.WithCacheLogger(logger),
		linkcheck.WithCacheMetrics(metrics),
	)
}

func provideScraper(cfg linkcheck.Config, logger *zap.Logger) linkcheck.Scraper {
	return scraper.New(cfg.Scraper, nil, logger)
}

func provideLinkService(store linkcheck.LinkStore, cache *linkcheck.CacheService, s linkcheck.Scraper, logger *zap.Logger) (*linkcheck.LinkService, error) {
	return linkcheck.NewLinkService(store, cache, s, logger)
}

func provideUserService(store linkcheck.UserStore, links *linkcheck.LinkService, logger *zap.Logger) (*linkcheck.UserService, error) {
	return linkcheck.NewUserService(store, links, logger)
}

func provideServer(cfg linkcheck.Config, links *linkcheck.LinkService, users *linkcheck.UserService, store *sqlite.Store, metrics *linkcheck.Metrics, logger *zap.Logger) *api.Server {
	return api.NewServer(cfg, links, users, store, metrics, logger)
}
