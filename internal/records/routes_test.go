package records_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dpm-admin/dpm-api/internal/auth"
	"github.com/dpm-admin/dpm-api/internal/auth/authtest"
	"github.com/dpm-admin/dpm-api/internal/gate"
	"github.com/dpm-admin/dpm-api/internal/platform/clock"
	"github.com/dpm-admin/dpm-api/internal/ratelimit"
	"github.com/dpm-admin/dpm-api/internal/records"
)

type recordingHandler struct {
	calls []string
}

func (h *recordingHandler) record(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, _ := auth.PrincipalFromContext(r.Context())
		h.calls = append(h.calls, name+":"+chi.URLParam(r, "id")+":"+p.Role.String())
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *recordingHandler) List(w http.ResponseWriter, r *http.Request)   { h.record("list")(w, r) }
func (h *recordingHandler) Get(w http.ResponseWriter, r *http.Request)    { h.record("get")(w, r) }
func (h *recordingHandler) Create(w http.ResponseWriter, r *http.Request) { h.record("create")(w, r) }
func (h *recordingHandler) Update(w http.ResponseWriter, r *http.Request) { h.record("update")(w, r) }
func (h *recordingHandler) Delete(w http.ResponseWriter, r *http.Request) { h.record("delete")(w, r) }

func TestRouteTableTiers(t *testing.T) {
	clk := clock.NewManual(time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC))
	tokens, err := auth.NewTokenService(auth.TokenConfig{Secret: []byte("0123456789abcdef0123456789abcdef"), Clock: clk})
	require.NoError(t, err)
	store := authtest.NewRepo()
	tokenFor := map[auth.Role]string{}
	for subject, role := range map[string]auth.Role{"12345678-5": auth.RoleAdmin, "11111111-1": auth.RoleManager, "22222222-2": auth.RoleSupport} {
		identity := store.Put(auth.Identity{Subject: subject, Role: role, IsActive: true})
		issued, err := tokens.Issue(identity)
		require.NoError(t, err)
		tokenFor[role] = issued.Token
	}
	governor, err := ratelimit.NewGovernor(ratelimit.Config{Policies: ratelimit.DefaultPolicies(), Clock: clk})
	require.NoError(t, err)
	g, err := gate.New(gate.Config{Tokens: tokens, Store: store, Governor: governor, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	require.NoError(t, err)

	beneficiaries := &recordingHandler{}
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		records.Mount(r, g, map[string]records.Handler{"personas-mayores": beneficiaries})
	})

	call := func(method, path string, role auth.Role) int {
		req := httptest.NewRequest(method, path, nil).WithContext(context.Background())
		req.Header.Set("Authorization", "Bearer "+tokenFor[role])
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec.Code
	}

	cases := []struct {
		method string
		path   string
		role   auth.Role
		want   int
	}{
		{http.MethodGet, "/api/personas-mayores/", auth.RoleSupport, http.StatusNoContent},
		{http.MethodGet, "/api/personas-mayores/7", auth.RoleSupport, http.StatusNoContent},
		{http.MethodPost, "/api/personas-mayores/", auth.RoleSupport, http.StatusForbidden},
		{http.MethodPost, "/api/personas-mayores/", auth.RoleManager, http.StatusNoContent},
		{http.MethodPut, "/api/personas-mayores/7", auth.RoleManager, http.StatusNoContent},
		{http.MethodDelete, "/api/personas-mayores/7", auth.RoleManager, http.StatusForbidden},
		{http.MethodDelete, "/api/personas-mayores/7", auth.RoleAdmin, http.StatusNoContent},
		{http.MethodGet, "/api/centros/", auth.RoleSupport, http.StatusNotImplemented},
		{http.MethodDelete, "/api/centros/3", auth.RoleManager, http.StatusForbidden},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, call(tc.method, tc.path, tc.role), "%s %s as %s", tc.method, tc.path, tc.role)
	}
	require.Equal(t, []string{
		"list::support",
		"get:7:support",
		"create::manager",
		"update:7:manager",
		"delete:7:admin",
	}, beneficiaries.calls)
}

func TestEveryResourceIsMounted(t *testing.T) {
	require.Len(t, records.Resources, 7)
	seen := map[string]bool{}
	for _, res := range records.Resources {
		require.False(t, seen[res.Path], res.Path)
		seen[res.Path] = true
	}
}
