// Package authhttp exposes login, profile and registration endpoints.
package authhttp

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/dpm-admin/dpm-api/internal/auth"
	"github.com/dpm-admin/dpm-api/internal/gate"
	"github.com/dpm-admin/dpm-api/internal/platform/httpx"
	"github.com/dpm-admin/dpm-api/internal/ratelimit"
)

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger    *slog.Logger
	service   *auth.Service
	gate      *gate.Gate
	validator *httpx.Validator
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *auth.Service, g *gate.Gate) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		service:   service,
		gate:      g,
		validator: NewValidator(),
	}
}

// NewValidator returns a validator that understands the "rut" tag.
func NewValidator() *httpx.Validator {
	v := httpx.NewValidator()
	_ = v.Register("rut", "subject must use the format XXXXXXX-X or XXXXXXXX-X", func(fl validator.FieldLevel) bool {
		_, err := auth.NormalizeSubject(fl.Field().String())
		return err == nil
	})
	return v
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.gate.Throttle(ratelimit.ClassLogin)).Post("/login", h.handleLogin)
	r.Group(func(r chi.Router) {
		r.Use(h.gate.Require(auth.RoleSupport, ratelimit.ClassRead))
		r.Post("/logout", h.handleLogout)
		r.Get("/profile", h.handleProfile)
	})
	r.With(h.gate.Require(auth.RoleSupport, ratelimit.ClassWrite)).Put("/profile", h.handleUpdateProfile)
	r.With(h.gate.Require(auth.RoleSupport, ratelimit.ClassSensitive)).Post("/change-password", h.handleChangePassword)
	r.With(h.gate.Require(auth.RoleAdmin, ratelimit.ClassWrite)).Post("/register", h.handleRegister)
}

type loginRequest struct {
	Subject  string `json:"subject" validate:"required,rut"`
	Password string `json:"password" validate:"required,max=128"`
}

type loginResponse struct {
	Token       string                 `json:"token"`
	TokenType   string                 `json:"token_type"`
	ExpiresIn   int64                  `json:"expires_in"`
	ExpiresAt   time.Time              `json:"expires_at"`
	User        auth.UserView          `json:"user"`
	Permissions auth.PermissionSummary `json:"permissions"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.Login(r.Context(), req.Subject, req.Password)
	if err != nil {
		h.logFailure("login", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.Success(w, http.StatusOK, loginResponse{
		Token:       result.Token.Token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(result.Token.ExpiresAt.Sub(result.Token.IssuedAt) / time.Second),
		ExpiresAt:   result.Token.ExpiresAt,
		User:        result.Identity.View(),
		Permissions: result.Permissions,
	}, "login successful")
}

// Tokens are stateless; logout is acknowledged and the client discards its token.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if p, ok := auth.PrincipalFromContext(r.Context()); ok {
		h.logger.Info("logout", slog.String("subject", p.Subject))
	}
	httpx.Success(w, http.StatusOK, nil, "logout successful")
}

type profileResponse struct {
	User        auth.UserView          `json:"user"`
	Permissions auth.PermissionSummary `json:"permissions"`
}

func (h *Handler) handleProfile(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	identity, err := h.service.Profile(r.Context(), p.Subject)
	if err != nil {
		h.logFailure("profile", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.Success(w, http.StatusOK, profileResponse{User: identity.View(), Permissions: p.Role.Permissions()}, "")
}

type updateProfileRequest struct {
	DisplayName string `json:"display_name" validate:"required,max=150"`
}

func (h *Handler) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	var req updateProfileRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	identity, err := h.service.UpdateProfile(r.Context(), p.Subject, req.DisplayName)
	if err != nil {
		h.logFailure("update profile", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.Success(w, http.StatusOK, identity.View(), "profile updated")
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required"`
}

func (h *Handler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	var req changePasswordRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.ChangePassword(r.Context(), p.Subject, req.CurrentPassword, req.NewPassword); err != nil {
		h.logFailure("change password", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.Success(w, http.StatusOK, nil, "password changed")
}

type registerRequest struct {
	Subject     string `json:"subject" validate:"required,rut"`
	DisplayName string `json:"display_name" validate:"required,max=150"`
	Password    string `json:"password" validate:"required"`
	Role        int    `json:"role" validate:"required,oneof=1 2 3"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	identity, err := h.service.Register(r.Context(), auth.RegisterInput{
		Subject:     req.Subject,
		DisplayName: req.DisplayName,
		Password:    req.Password,
		Role:        auth.Role(req.Role),
	})
	if err != nil {
		h.logFailure("register", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.Success(w, http.StatusCreated, identity.View(), "user registered")
}

func (h *Handler) logFailure(op string, err error) {
	h.logger.Warn(op+" failed", slog.Any("error", err))
}
