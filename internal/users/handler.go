package users

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dpm-admin/dpm-api/internal/auth"
	authhttp "github.com/dpm-admin/dpm-api/internal/auth/http"
	"github.com/dpm-admin/dpm-api/internal/gate"
	"github.com/dpm-admin/dpm-api/internal/platform/httpx"
	"github.com/dpm-admin/dpm-api/internal/ratelimit"
	"github.com/dpm-admin/dpm-api/internal/shared"
)

// Handler manages identity administration endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	gate      *gate.Gate
	validator *httpx.Validator
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, g *gate.Gate) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, gate: g, validator: authhttp.NewValidator()}
}

// MountRoutes registers user routes. Managers may read; only admins may change identities.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.gate.Require(auth.RoleManager, ratelimit.ClassRead))
		r.Get("/", h.listUsers)
		r.Get("/stats", h.stats)
		r.Get("/{subject}", h.getUser)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.gate.Require(auth.RoleAdmin, ratelimit.ClassWrite))
		r.Put("/{subject}/role", h.setRole)
		r.Put("/{subject}/active", h.setActive)
		r.Delete("/{subject}", h.disable)
	})
	r.With(h.gate.Require(auth.RoleAdmin, ratelimit.ClassSensitive)).Post("/{subject}/reset-password", h.resetPassword)
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromRequest(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	page, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.fail(w, "list users", err)
		return
	}
	httpx.Success(w, http.StatusOK, page, "")
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		h.fail(w, "user stats", err)
		return
	}
	httpx.Success(w, http.StatusOK, stats, "")
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	identity, err := h.service.Get(r.Context(), chi.URLParam(r, "subject"))
	if err != nil {
		h.fail(w, "get user", err)
		return
	}
	httpx.Success(w, http.StatusOK, identity.View(), "")
}

type setRoleRequest struct {
	Role int `json:"role" validate:"required,oneof=1 2 3"`
}

func (h *Handler) setRole(w http.ResponseWriter, r *http.Request) {
	var req setRoleRequest
	if err := h.decode(w, r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor, _ := auth.PrincipalFromContext(r.Context())
	if err := h.service.SetRole(r.Context(), actor, chi.URLParam(r, "subject"), auth.Role(req.Role)); err != nil {
		h.fail(w, "set role", err)
		return
	}
	httpx.Success(w, http.StatusOK, nil, "role updated")
}

type setActiveRequest struct {
	Active *bool `json:"active" validate:"required"`
}

func (h *Handler) setActive(w http.ResponseWriter, r *http.Request) {
	var req setActiveRequest
	if err := h.decode(w, r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor, _ := auth.PrincipalFromContext(r.Context())
	if err := h.service.SetActive(r.Context(), actor, chi.URLParam(r, "subject"), *req.Active); err != nil {
		h.fail(w, "set active", err)
		return
	}
	httpx.Success(w, http.StatusOK, nil, "status updated")
}

// Identities are never deleted; DELETE disables.
func (h *Handler) disable(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.PrincipalFromContext(r.Context())
	if err := h.service.SetActive(r.Context(), actor, chi.URLParam(r, "subject"), false); err != nil {
		h.fail(w, "disable user", err)
		return
	}
	httpx.Success(w, http.StatusOK, nil, "user disabled")
}

type resetPasswordRequest struct {
	NewPassword string `json:"new_password" validate:"required"`
}

func (h *Handler) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := h.decode(w, r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor, _ := auth.PrincipalFromContext(r.Context())
	if err := h.service.ResetPassword(r.Context(), actor, chi.URLParam(r, "subject"), req.NewPassword); err != nil {
		h.fail(w, "reset password", err)
		return
	}
	httpx.Success(w, http.StatusOK, nil, "password reset")
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) error {
	if err := httpx.DecodeJSON(w, r, target); err != nil {
		return err
	}
	return h.validator.Struct(target)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Warn(op+" failed", slog.Any("error", err))
	httpx.RespondError(w, err)
}

func filterFromRequest(r *http.Request) (Filter, error) {
	var filter Filter
	filter.Page, filter.PerPage = shared.PageFromRequest(r)
	q := r.URL.Query()
	if raw := q.Get("role"); raw != "" {
		role, err := auth.ParseRole(raw)
		if err != nil {
			return Filter{}, err
		}
		filter.Role = role
	}
	if raw := q.Get("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			return Filter{}, &shared.ValidationError{Field: "active", Message: "active must be true or false"}
		}
		filter.Active = &active
	}
	return filter, nil
}
