package app

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/dpm-admin/dpm-api/internal/auth"
	authhttp "github.com/dpm-admin/dpm-api/internal/auth/http"
	"github.com/dpm-admin/dpm-api/internal/gate"
	"github.com/dpm-admin/dpm-api/internal/observability"
	"github.com/dpm-admin/dpm-api/internal/platform/clock"
	"github.com/dpm-admin/dpm-api/internal/ratelimit"
	"github.com/dpm-admin/dpm-api/internal/records"
	"github.com/dpm-admin/dpm-api/internal/users"
)

// Dependencies are the stores the application is assembled around.
type Dependencies struct {
	Identities auth.Repository
	Listings   users.RepositoryPort
	// Counter is the shared rate backend. Nil counts in process only.
	Counter ratelimit.Backend
	Records map[string]records.Handler
	Clock   clock.Clock
}

// Services is the assembled application.
type Services struct {
	Router   http.Handler
	Gate     *gate.Gate
	Governor *ratelimit.Governor
	Auth     *auth.Service
	Metrics  *observability.Metrics
}

// NewServices wires the token issuer, gate, governor and HTTP handlers.
func NewServices(cfg *Config, logger *slog.Logger, metrics *observability.Metrics, deps Dependencies) (*Services, error) {
	tokens, err := auth.NewTokenService(auth.TokenConfig{
		Secret:   []byte(cfg.TokenSecret),
		Issuer:   cfg.TokenIssuer,
		Lifetime: cfg.TokenLifetime,
		Clock:    deps.Clock,
	})
	if err != nil {
		return nil, err
	}
	passwords, err := auth.NewPasswordVerifier(cfg.BcryptCost)
	if err != nil {
		return nil, err
	}
	counterPolicy, err := cfg.CounterPolicy()
	if err != nil {
		return nil, err
	}
	storePolicy, err := cfg.StorePolicy()
	if err != nil {
		return nil, err
	}

	governorCfg := ratelimit.Config{
		Policies:      cfg.RatePolicies(),
		OnFailure:     counterPolicy,
		Timeout:       cfg.BackendTimeout,
		ProbeInterval: cfg.RateProbeInterval,
		Clock:         deps.Clock,
		Logger:        logger,
	}
	if deps.Counter != nil {
		governorCfg.Shared = deps.Counter
	}
	if metrics != nil {
		governorCfg.Recorder = metrics
	}
	governor, err := ratelimit.NewGovernor(governorCfg)
	if err != nil {
		return nil, fmt.Errorf("rate governor: %w", err)
	}

	gateCfg := gate.Config{
		Tokens:        tokens,
		Store:         deps.Identities,
		Governor:      governor,
		StoreFailure:  storePolicy,
		LiveRoleCheck: cfg.LiveRoleCheck,
		Timeout:       cfg.BackendTimeout,
		Logger:        logger,
	}
	if metrics != nil {
		gateCfg.Recorder = metrics
	}
	g, err := gate.New(gateCfg)
	if err != nil {
		return nil, err
	}

	authService := auth.NewService(deps.Identities, passwords, tokens, logger).WithStoreTimeout(cfg.BackendTimeout)
	var usersHandler *users.Handler
	if deps.Listings != nil {
		usersHandler = users.NewHandler(logger, users.NewService(deps.Listings, authService), g)
	}

	router := NewRouter(RouterParams{
		Logger:         logger,
		Config:         cfg,
		Gate:           g,
		Governor:       governor,
		AuthHandler:    authhttp.NewHandler(logger, authService, g),
		UsersHandler:   usersHandler,
		RecordHandlers: deps.Records,
		Metrics:        metrics,
	})

	return &Services{Router: router, Gate: g, Governor: governor, Auth: authService, Metrics: metrics}, nil
}
