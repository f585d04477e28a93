package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dpm-admin/dpm-api/internal/auth"
	authhttp "github.com/dpm-admin/dpm-api/internal/auth/http"
	"github.com/dpm-admin/dpm-api/internal/gate"
	"github.com/dpm-admin/dpm-api/internal/observability"
	"github.com/dpm-admin/dpm-api/internal/platform/httpx"
	"github.com/dpm-admin/dpm-api/internal/ratelimit"
	"github.com/dpm-admin/dpm-api/internal/records"
	"github.com/dpm-admin/dpm-api/internal/users"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	Gate           *gate.Gate
	Governor       *ratelimit.Governor
	AuthHandler    *authhttp.Handler
	UsersHandler   *users.Handler
	RecordHandlers map[string]records.Handler
	Metrics        *observability.Metrics
}

// NewRouter constructs the chi.Router with the API defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	health := healthHandler(params.Governor)
	r.Get("/healthz", health)
	r.Handle("/metrics", params.Metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", health)
		r.Route("/auth", params.AuthHandler.MountRoutes)
		if params.UsersHandler != nil {
			r.Route("/users", params.UsersHandler.MountRoutes)
		}
		r.With(params.Gate.Require(auth.RoleAdmin, ratelimit.ClassRead)).
			Get("/rate-limit/status", rateStatusHandler(params.Config, params.Gate, params.Governor))
		records.Mount(r, params.Gate, params.RecordHandlers)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.Error(w, http.StatusNotFound, httpx.CodeNotFound, "endpoint not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpx.Error(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", nil)
	})

	return r
}

type healthResponse struct {
	Status       string `json:"status"`
	RateGovernor string `json:"rate_governor"`
}

// Health endpoints are never gated or rate limited.
func healthHandler(governor *ratelimit.Governor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok", RateGovernor: "local"}
		if governor != nil {
			resp.RateGovernor = governor.Mode()
		}
		httpx.Success(w, http.StatusOK, resp, "")
	}
}

type rateStatusResponse struct {
	ratelimit.Status
	StoreFailurePolicy gate.StoreFailurePolicy `json:"store_failure_policy"`
	LiveRoleCheck      bool                    `json:"live_role_check"`
}

func rateStatusHandler(cfg *Config, g *gate.Gate, governor *ratelimit.Governor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := rateStatusResponse{StoreFailurePolicy: g.StoreFailure()}
		if governor != nil {
			resp.Status = governor.Status()
		}
		if cfg != nil {
			resp.LiveRoleCheck = cfg.LiveRoleCheck
		}
		httpx.Success(w, http.StatusOK, resp, "")
	}
}
