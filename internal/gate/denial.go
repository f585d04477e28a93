package gate

import (
	"net/http"
	"time"

	"github.com/dpm-admin/dpm-api/internal/ratelimit"
)

// Code is the client-visible denial category.
type Code string

// Denial codes.
const (
	CodeAuthentication Code = "AUTHENTICATION_ERROR"
	CodeAuthorization  Code = "AUTHORIZATION_ERROR"
	CodeRateLimit      Code = "RATE_LIMIT_ERROR"
	CodeInternal       Code = "INTERNAL_ERROR"
)

// Client-facing messages. Every authentication failure shares one message.
const (
	msgAuthentication = "invalid or expired session"
	msgAuthorization  = "insufficient permissions for this operation"
	msgRateLimit      = "too many requests"
	msgInternal       = "service temporarily unavailable"
)

// Status maps the code to its HTTP status.
func (c Code) Status() int {
	switch c {
	case CodeAuthentication:
		return http.StatusUnauthorized
	case CodeAuthorization:
		return http.StatusForbidden
	case CodeRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusServiceUnavailable
	}
}

// Denial is a refused request. Reason is for logs only and never reaches the client.
type Denial struct {
	Code       Code
	Message    string
	Reason     string
	RetryAfter time.Duration
	Rate       *ratelimit.Decision
}

func (d *Denial) Error() string {
	return string(d.Code) + ": " + d.Reason
}

func authenticationDenial(reason string) *Denial {
	return &Denial{Code: CodeAuthentication, Message: msgAuthentication, Reason: reason}
}

func authorizationDenial(reason string) *Denial {
	return &Denial{Code: CodeAuthorization, Message: msgAuthorization, Reason: reason}
}

func internalDenial(reason string) *Denial {
	return &Denial{Code: CodeInternal, Message: msgInternal, Reason: reason}
}

func rateDenial(d ratelimit.Decision) *Denial {
	return &Denial{Code: CodeRateLimit, Message: msgRateLimit, Reason: "rate limit exceeded", RetryAfter: d.RetryAfter, Rate: &d}
}
