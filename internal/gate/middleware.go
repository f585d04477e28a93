package gate

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/dpm-admin/dpm-api/internal/auth"
	"github.com/dpm-admin/dpm-api/internal/platform/httpx"
	"github.com/dpm-admin/dpm-api/internal/ratelimit"
)

// Require admits requests whose caller holds at least role, counting them against class.
// The admitted principal is stored in the request context.
func (g *Gate) Require(role auth.Role, class ratelimit.Class) func(http.Handler) http.Handler {
	req := Requirement{Role: role, Class: class}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			result, err := g.Evaluate(r.Context(), r.Header.Get("Authorization"), req)
			setRateHeaders(w, result.Rate)
			if err != nil {
				g.deny(w, r, err)
				return
			}
			ctx := auth.ContextWithPrincipal(r.Context(), result.Principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Throttle counts anonymous requests against class, keyed by source address.
func (g *Gate) Throttle(class ratelimit.Class) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			addr, err := httprate.KeyByIP(r)
			if err != nil {
				addr = r.RemoteAddr
			}
			decision, err := g.Limit(r.Context(), ratelimit.AddressKey(class, addr))
			g.record(err)
			setRateHeaders(w, decision)
			if err != nil {
				g.deny(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (g *Gate) deny(w http.ResponseWriter, r *http.Request, err error) {
	var denial *Denial
	if !errors.As(err, &denial) {
		g.logger.Debug("request abandoned during access check", slog.String("path", r.URL.Path), slog.Any("error", err))
		return
	}
	g.logger.Info("access denied",
		slog.String("code", string(denial.Code)),
		slog.String("reason", denial.Reason),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("request_id", middleware.GetReqID(r.Context())))
	WriteDenial(w, denial)
}

// WriteDenial renders a denial in the standard error envelope.
func WriteDenial(w http.ResponseWriter, d *Denial) {
	if d.Code == CodeRateLimit {
		secs := 1
		if d.Rate != nil {
			secs = d.Rate.RetryAfterSeconds()
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	if d.Code == CodeAuthentication {
		w.Header().Set("WWW-Authenticate", `Bearer realm="dpm-api"`)
	}
	var details map[string]string
	if d.Code == CodeRateLimit && d.Rate != nil {
		details = map[string]string{"retry_after": strconv.Itoa(d.Rate.RetryAfterSeconds())}
	}
	httpx.Error(w, d.Code.Status(), string(d.Code), d.Message, details)
}

func setRateHeaders(w http.ResponseWriter, d *ratelimit.Decision) {
	if d == nil {
		return
	}
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
	if d.Degraded {
		h.Set("X-RateLimit-Degraded", "true")
	}
}
