// Command linkcheck serves the link verification API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/burugo/linkcheck"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "linkcheck:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", os.Getenv(linkcheck.EnvPrefix+"CONFIG"), "path to a YAML config file")
	flag.Parse()

	cfg, err := linkcheck.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	logger, err := linkcheck.NewLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, cleanup, err := initializeApplication(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	defer cleanup()

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening",
			zap.String("addr", cfg.HTTP.Addr),
			zap.Bool("cache_enabled", app.Cache.Enabled()),
			zap.Duration("cache_ttl", app.Cache.DefaultTTL()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}
