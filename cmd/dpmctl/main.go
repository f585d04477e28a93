package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dpm-admin/dpm-api/cmd/dpmctl/cli"
	"github.com/dpm-admin/dpm-api/internal/app"
	"github.com/dpm-admin/dpm-api/internal/auth"
	"github.com/dpm-admin/dpm-api/internal/platform/db"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := cli.NewRootCommand(open)
	if err := root.ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "dpmctl:", err)
		os.Exit(1)
	}
}

func open(ctx context.Context, withStore bool) (*cli.Env, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := app.NewLogger(cfg)

	tokens, err := auth.NewTokenService(auth.TokenConfig{
		Secret:   []byte(cfg.TokenSecret),
		Issuer:   cfg.TokenIssuer,
		Lifetime: cfg.TokenLifetime,
	})
	if err != nil {
		return nil, err
	}
	hasher, err := auth.NewPasswordVerifier(cfg.BcryptCost)
	if err != nil {
		return nil, err
	}
	env := &cli.Env{Tokens: tokens, Hasher: hasher}
	if !withStore {
		return env, nil
	}
	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: 2})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		return nil, err
	}
	env.Auth = auth.NewService(auth.NewRepository(pool), hasher, tokens, logger).WithStoreTimeout(cfg.BackendTimeout)
	env.Close = pool.Close
	return env, nil
}
