package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dpm-admin/dpm-api/internal/app"
	"github.com/dpm-admin/dpm-api/internal/auth"
	"github.com/dpm-admin/dpm-api/internal/observability"
	"github.com/dpm-admin/dpm-api/internal/platform/cache"
	"github.com/dpm-admin/dpm-api/internal/platform/db"
	"github.com/dpm-admin/dpm-api/internal/ratelimit"
	"github.com/dpm-admin/dpm-api/internal/users"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	deps := app.Dependencies{
		Identities: auth.NewRepository(dbpool),
		Listings:   users.NewRepository(dbpool),
	}

	if cfg.RateBackend == "redis" {
		redisClient, err := cache.New(ctx, cfg.RedisAddr, cache.Options{
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			IOTimeout: cfg.BackendTimeout,
		})
		if err != nil {
			// The governor counts locally until redis answers.
			logger.Warn("redis ping", slog.Any("error", err))
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
		deps.Counter = ratelimit.NewRedisBackend(redisClient)
	}

	metrics := observability.NewMetrics()
	services, err := app.NewServices(cfg, logger, metrics, deps)
	if err != nil {
		logger.Error("build services", slog.Any("error", err))
		os.Exit(1)
	}

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      services.Router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("starting http server",
			slog.String("addr", cfg.AppAddr),
			slog.String("rate_backend", services.Governor.Status().Backend),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		return services.Governor.Local().Run(gctx, cfg.RateSweepInterval)
	})
	group.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.Error("http server", slog.Any("error", err))
		os.Exit(1)
	}
}
