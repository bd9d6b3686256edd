//go:build wireinject
// +build wireinject

package main

import (
	"context"

	"github.com/google/wire"
	"go.uber.org/zap"

	"github.com/burugo/linkcheck"
	"github.com/burugo/linkcheck/drivers/db/sqlite"
)

var storeSet = wire.NewSet(
	provideStore,
	wire.Bind(new(linkcheck.LinkStore), new(*sqlite.Store)),
	wire.Bind(new(linkcheck.UserStore), new(*sqlite.Store)),
)

var cacheSet = wire.NewSet(
	provideMetrics,
	provideCacheBackend,
	provideCacheService,
)

// initializeApplication creates the Application with its dependencies.
func initializeApplication(ctx context.Context, cfg linkcheck.Config, logger *zap.Logger) (*Application, func(), error) {
	wire.Build(
		storeSet,
		cacheSet,
		provideScraper,
		provideLinkService,
		provideUserService,
		provideServer,
		wire.Struct(new(Application), "*"),
	)
	return nil, nil, nil
}
