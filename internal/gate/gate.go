// Package gate decides, per request, whether a caller may invoke an operation.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dpm-admin/dpm-api/internal/auth"
	"github.com/dpm-admin/dpm-api/internal/ratelimit"
	"github.com/dpm-admin/dpm-api/internal/shared"
)

// TokenValidator checks bearer tokens.
type TokenValidator interface {
	Validate(raw string) auth.Validation
}

// IdentityStore resolves the current state of an identity.
type IdentityStore interface {
	FindBySubject(ctx context.Context, subject string) (*auth.Identity, error)
}

// RateGovernor counts requests per key.
type RateGovernor interface {
	CheckAndIncrement(ctx context.Context, key ratelimit.Key) (ratelimit.Decision, error)
}

// Recorder receives one outcome per evaluation: "admit" or a denial code.
type Recorder interface {
	RecordGateDecision(outcome string)
}

// StoreFailurePolicy decides what happens when the credential store cannot answer.
type StoreFailurePolicy string

// Store failure policies.
const (
	// StoreFailClosed denies with INTERNAL_ERROR.
	StoreFailClosed StoreFailurePolicy = "closed"
	// StoreFailOpen admits on the strength of the token alone.
	StoreFailOpen StoreFailurePolicy = "open"
)

// ParseStoreFailurePolicy accepts "closed" or "open".
func ParseStoreFailurePolicy(raw string) (StoreFailurePolicy, error) {
	switch p := StoreFailurePolicy(strings.ToLower(strings.TrimSpace(raw))); p {
	case StoreFailClosed, StoreFailOpen:
		return p, nil
	default:
		return "", fmt.Errorf("gate: unknown store failure policy %q", raw)
	}
}

// DefaultTimeout bounds each credential store lookup.
const DefaultTimeout = 2 * time.Second

// Config wires the gate's collaborators.
type Config struct {
	Tokens   TokenValidator
	Store    IdentityStore
	Governor RateGovernor
	// StoreFailure defaults to StoreFailClosed.
	StoreFailure StoreFailurePolicy
	// LiveRoleCheck authorizes with the stored role instead of the token's role claim.
	LiveRoleCheck bool
	Timeout       time.Duration
	Logger        *slog.Logger
	Recorder      Recorder
}

// Requirement is what a route demands: a minimum tier and the rate class it counts against.
// An empty Class skips rate limiting.
type Requirement struct {
	Role  auth.Role
	Class ratelimit.Class
}

// Result describes an admitted request.
type Result struct {
	Principal auth.Principal
	Rate      *ratelimit.Decision
}

// Gate evaluates the access pipeline.
type Gate struct {
	tokens        TokenValidator
	store         IdentityStore
	governor      RateGovernor
	storeFailure  StoreFailurePolicy
	liveRoleCheck bool
	timeout       time.Duration
	logger        *slog.Logger
	recorder      Recorder
}

// New validates cfg and builds a Gate.
func New(cfg Config) (*Gate, error) {
	if cfg.Tokens == nil || cfg.Store == nil {
		return nil, errors.New("gate: token validator and identity store are required")
	}
	if cfg.StoreFailure == "" {
		cfg.StoreFailure = StoreFailClosed
	}
	if _, err := ParseStoreFailurePolicy(string(cfg.StoreFailure)); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Gate{
		tokens:        cfg.Tokens,
		store:         cfg.Store,
		governor:      cfg.Governor,
		storeFailure:  cfg.StoreFailure,
		liveRoleCheck: cfg.LiveRoleCheck,
		timeout:       cfg.Timeout,
		logger:        cfg.Logger,
		recorder:      cfg.Recorder,
	}, nil
}

// StoreFailure returns the configured store failure policy.
func (g *Gate) StoreFailure() StoreFailurePolicy {
	return g.storeFailure
}

// Evaluate runs the pipeline for an Authorization header value. Stages run in order and
// the first failing stage decides: token, identity, role, rate. A denial is returned as
// *Denial; any other error means the caller's context ended.
func (g *Gate) Evaluate(ctx context.Context, authorization string, req Requirement) (Result, error) {
	result, err := g.evaluate(ctx, authorization, req)
	g.record(err)
	return result, err
}

func (g *Gate) evaluate(ctx context.Context, authorization string, req Requirement) (Result, error) {
	raw, ok := BearerToken(authorization)
	if !ok {
		return Result{}, authenticationDenial("missing bearer token")
	}

	v := g.tokens.Validate(raw)
	if v.Status != auth.TokenValid {
		return Result{}, authenticationDenial("token " + v.Status.String())
	}

	identity, err := g.lookup(ctx, v.Subject)
	if err != nil {
		return Result{}, err
	}

	role := v.Role
	if g.liveRoleCheck && identity != nil {
		role = identity.Role
	}
	if !role.Satisfies(req.Role) {
		return Result{}, authorizationDenial(fmt.Sprintf("role %s below required %s", role, req.Role))
	}

	result := Result{Principal: auth.Principal{Subject: v.Subject, Role: role}}
	if req.Class == "" || g.governor == nil {
		return result, nil
	}
	decision, err := g.Limit(ctx, ratelimit.SubjectKey(req.Class, v.Subject))
	result.Rate = decision
	if err != nil {
		return result, err
	}
	return result, nil
}

// lookup re-reads the identity so a disabled account is refused on its next request.
// A nil identity with a nil error means the store failed and the open policy applies.
func (g *Gate) lookup(ctx context.Context, subject string) (*auth.Identity, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	identity, err := g.store.FindBySubject(callCtx, subject)
	switch {
	case err == nil:
		if !identity.IsActive {
			return nil, authenticationDenial("identity disabled")
		}
		return identity, nil
	case errors.Is(err, shared.ErrNotFound), errors.Is(err, shared.ErrValidation):
		return nil, authenticationDenial("identity not found")
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case g.storeFailure == StoreFailOpen:
		g.logger.Warn("credential store unavailable, admitting on token",
			slog.String("subject", subject), slog.Any("error", err))
		return nil, nil
	default:
		g.logger.Error("credential store unavailable", slog.String("subject", subject), slog.Any("error", err))
		return nil, internalDenial("credential store unavailable")
	}
}

// Limit counts one request against key. A *Denial is returned when the request
// must be refused; the decision is returned whenever one was made.
func (g *Gate) Limit(ctx context.Context, key ratelimit.Key) (*ratelimit.Decision, error) {
	if g.governor == nil {
		return nil, nil
	}
	decision, err := g.governor.CheckAndIncrement(ctx, key)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		g.logger.Error("rate governor unavailable", slog.String("key", key.String()), slog.Any("error", err))
		return nil, internalDenial("rate governor unavailable")
	}
	if !decision.Allowed {
		return &decision, rateDenial(decision)
	}
	return &decision, nil
}

func (g *Gate) record(err error) {
	if g.recorder == nil {
		return
	}
	var denial *Denial
	switch {
	case err == nil:
		g.recorder.RecordGateDecision("admit")
	case errors.As(err, &denial):
		g.recorder.RecordGateDecision(string(denial.Code))
	default:
		g.recorder.RecordGateDecision("cancelled")
	}
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
