package gate_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dpm-admin/dpm-api/internal/auth"
	"github.com/dpm-admin/dpm-api/internal/gate"
	"github.com/dpm-admin/dpm-api/internal/platform/httpx"
	"github.com/dpm-admin/dpm-api/internal/ratelimit"
)

func principalEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := auth.PrincipalFromContext(r.Context())
		if !ok {
			http.Error(w, "no principal", http.StatusInternalServerError)
			return
		}
		httpx.Success(w, http.StatusOK, p, "")
	})
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) httpx.Envelope {
	t.Helper()
	var env httpx.Envelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	return env
}

func serve(h http.Handler, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/personas-mayores", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRequireAdmitsAndAttachesPrincipal(t *testing.T) {
	e := newEnv(t)
	h := e.gate(t).Require(auth.RoleSupport, ratelimit.ClassRead)(principalEcho())

	rec := serve(h, e.bearer(t, managerSubject))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "5", rec.Header().Get("X-RateLimit-Limit"))
	require.Equal(t, "4", rec.Header().Get("X-RateLimit-Remaining"))

	env := decodeEnvelope(t, rec)
	require.True(t, env.Success)
	data := env.Data.(map[string]any)
	require.Equal(t, managerSubject, data["subject"])
	require.EqualValues(t, 2, data["role"])
}

func TestRequireExpiredTokenIs401(t *testing.T) {
	e := newEnv(t)
	h := e.gate(t).Require(auth.RoleSupport, ratelimit.ClassRead)(principalEcho())
	header := e.bearer(t, supportSubject)
	e.clock.Advance(2 * time.Hour)

	rec := serve(h, header)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")
	env := decodeEnvelope(t, rec)
	require.False(t, env.Success)
	require.Equal(t, string(gate.CodeAuthentication), env.ErrorCode)
	require.Equal(t, "invalid or expired session", env.Message)
}

func TestRequireInsufficientRoleIs403(t *testing.T) {
	e := newEnv(t)
	h := e.gate(t).Require(auth.RoleAdmin, ratelimit.ClassWrite)(principalEcho())

	rec := serve(h, e.bearer(t, managerSubject))
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, string(gate.CodeAuthorization), decodeEnvelope(t, rec).ErrorCode)
	require.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
}

func TestRequireRateLimitIs429WithRetryAfter(t *testing.T) {
	e := newEnv(t)
	e.clock.Advance(15 * time.Second)
	h := e.gate(t).Require(auth.RoleSupport, ratelimit.ClassRead)(principalEcho())
	header := e.bearer(t, supportSubject)

	for i := 0; i < 5; i++ {
		require.Equal(t, http.StatusOK, serve(h, header).Code)
	}
	rec := serve(h, header)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "45", rec.Header().Get("Retry-After"))
	require.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	env := decodeEnvelope(t, rec)
	require.Equal(t, string(gate.CodeRateLimit), env.ErrorCode)
	require.Equal(t, "45", env.Details["retry_after"])
}

func TestRequireStoreDownIs503(t *testing.T) {
	e := newEnv(t)
	h := e.gate(t).Require(auth.RoleSupport, ratelimit.ClassRead)(principalEcho())
	header := e.bearer(t, supportSubject)
	e.repo.SetErr(errTimeout)

	rec := serve(h, header)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, string(gate.CodeInternal), decodeEnvelope(t, rec).ErrorCode)
}

func TestThrottleLimitsBySourceAddress(t *testing.T) {
	e := newEnv(t)
	called := 0
	h := e.gate(t).Throttle(ratelimit.ClassLogin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called++
		w.WriteHeader(http.StatusNoContent)
	}))

	send := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	require.Equal(t, http.StatusNoContent, send("192.0.2.10:4000").Code)
	require.Equal(t, http.StatusNoContent, send("192.0.2.10:4001").Code)
	rec := send("192.0.2.10:4002")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Retry-After"))
	require.Equal(t, http.StatusNoContent, send("198.51.100.7:4000").Code)
	require.Equal(t, 3, called)
}

func TestCodeStatus(t *testing.T) {
	require.Equal(t, http.StatusUnauthorized, gate.CodeAuthentication.Status())
	require.Equal(t, http.StatusForbidden, gate.CodeAuthorization.Status())
	require.Equal(t, http.StatusTooManyRequests, gate.CodeRateLimit.Status())
	require.Equal(t, http.StatusServiceUnavailable, gate.CodeInternal.Status())
}

var errTimeout = timeoutError{}

type timeoutError struct{}

func (timeoutError) Error() string { return "i/o timeout" }
