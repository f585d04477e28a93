package gate_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dpm-admin/dpm-api/internal/auth"
	"github.com/dpm-admin/dpm-api/internal/auth/authtest"
	"github.com/dpm-admin/dpm-api/internal/gate"
	"github.com/dpm-admin/dpm-api/internal/platform/clock"
	"github.com/dpm-admin/dpm-api/internal/ratelimit"
	"github.com/dpm-admin/dpm-api/internal/shared"
	_ "github.com/dpm-admin/dpm-api/testing"
)

const (
	adminSubject   = "12345678-5"
	managerSubject = "11111111-1"
	supportSubject = "22222222-2"
)

type outcomeRecorder struct {
	mu       sync.Mutex
	outcomes []string
}

func (r *outcomeRecorder) RecordGateDecision(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

type env struct {
	repo     *authtest.Repo
	tokens   *auth.TokenService
	clock    *clock.Manual
	governor *ratelimit.Governor
	recorder *outcomeRecorder
}

type option func(*gate.Config)

func newEnv(t *testing.T) *env {
	t.Helper()
	clk := clock.NewManual(time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC))
	tokens, err := auth.NewTokenService(auth.TokenConfig{
		Secret:   []byte("0123456789abcdef0123456789abcdef"),
		Lifetime: time.Hour,
		Clock:    clk,
	})
	require.NoError(t, err)
	governor, err := ratelimit.NewGovernor(ratelimit.Config{
		Policies: ratelimit.Policies{
			ratelimit.ClassRead:  {Limit: 5, Window: time.Minute},
			ratelimit.ClassWrite: {Limit: 20, Window: time.Minute},
			ratelimit.ClassLogin: {Limit: 2, Window: time.Minute},
		},
		Clock: clk,
	})
	require.NoError(t, err)
	repo := authtest.NewRepo()
	for subject, role := range map[string]auth.Role{
		adminSubject:   auth.RoleAdmin,
		managerSubject: auth.RoleManager,
		supportSubject: auth.RoleSupport,
	} {
		repo.Put(auth.Identity{Subject: subject, DisplayName: subject, Role: role, IsActive: true})
	}
	return &env{repo: repo, tokens: tokens, clock: clk, governor: governor, recorder: &outcomeRecorder{}}
}

func (e *env) gate(t *testing.T, opts ...option) *gate.Gate {
	t.Helper()
	cfg := gate.Config{
		Tokens:   e.tokens,
		Store:    e.repo,
		Governor: e.governor,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Recorder: e.recorder,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	g, err := gate.New(cfg)
	require.NoError(t, err)
	return g
}

func (e *env) bearer(t *testing.T, subject string) string {
	t.Helper()
	identity, err := e.repo.FindBySubject(context.Background(), subject)
	require.NoError(t, err)
	issued, err := e.tokens.Issue(identity)
	require.NoError(t, err)
	return "Bearer " + issued.Token
}

func requireDenial(t *testing.T, err error, code gate.Code) *gate.Denial {
	t.Helper()
	var denial *gate.Denial
	require.ErrorAs(t, err, &denial)
	require.Equal(t, code, denial.Code, denial.Reason)
	return denial
}

var (
	readReq   = gate.Requirement{Role: auth.RoleSupport, Class: ratelimit.ClassRead}
	writeReq  = gate.Requirement{Role: auth.RoleManager, Class: ratelimit.ClassWrite}
	deleteReq = gate.Requirement{Role: auth.RoleAdmin, Class: ratelimit.ClassWrite}
)

func TestAdmitsValidCaller(t *testing.T) {
	e := newEnv(t)
	g := e.gate(t)

	result, err := g.Evaluate(context.Background(), e.bearer(t, supportSubject), readReq)
	require.NoError(t, err)
	require.Equal(t, auth.Principal{Subject: supportSubject, Role: auth.RoleSupport}, result.Principal)
	require.NotNil(t, result.Rate)
	require.Equal(t, 4, result.Rate.Remaining)
	require.Equal(t, []string{"admit"}, e.recorder.outcomes)
}

func TestAuthenticationFailuresShareOneMessage(t *testing.T) {
	e := newEnv(t)
	g := e.gate(t)
	valid := e.bearer(t, supportSubject)

	ghost, err := e.tokens.Issue(&auth.Identity{Subject: "33333333-3", Role: auth.RoleAdmin})
	require.NoError(t, err)

	cases := map[string]string{
		"missing header":  "",
		"basic scheme":    "Basic dXNlcjpwYXNz",
		"empty bearer":    "Bearer ",
		"malformed token": "Bearer abc.def.ghi",
		"unknown subject": "Bearer " + ghost.Token,
	}
	var messages []string
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := g.Evaluate(context.Background(), header, readReq)
			denial := requireDenial(t, err, gate.CodeAuthentication)
			messages = append(messages, denial.Message)
		})
	}

	e.clock.Advance(time.Hour)
	_, err = g.Evaluate(context.Background(), valid, readReq)
	denial := requireDenial(t, err, gate.CodeAuthentication)
	require.Equal(t, "token expired", denial.Reason)
	for _, msg := range messages {
		require.Equal(t, denial.Message, msg)
	}
}

func TestDisabledIdentityIsRefusedOnNextRequest(t *testing.T) {
	e := newEnv(t)
	g := e.gate(t)
	header := e.bearer(t, managerSubject)

	_, err := g.Evaluate(context.Background(), header, readReq)
	require.NoError(t, err)

	require.NoError(t, e.repo.SetActive(context.Background(), managerSubject, false))
	_, err = g.Evaluate(context.Background(), header, readReq)
	denial := requireDenial(t, err, gate.CodeAuthentication)
	require.Equal(t, "identity disabled", denial.Reason)
}

func TestManagerScenario(t *testing.T) {
	e := newEnv(t)
	g := e.gate(t)
	header := e.bearer(t, managerSubject)
	ctx := context.Background()

	_, err := g.Evaluate(ctx, header, readReq)
	require.NoError(t, err)
	_, err = g.Evaluate(ctx, header, writeReq)
	require.NoError(t, err)
	_, err = g.Evaluate(ctx, header, deleteReq)
	requireDenial(t, err, gate.CodeAuthorization)
}

func TestTierOrdering(t *testing.T) {
	e := newEnv(t)
	g := e.gate(t)
	ctx := context.Background()

	cases := []struct {
		subject string
		req     gate.Requirement
		admit   bool
	}{
		{supportSubject, readReq, true},
		{supportSubject, writeReq, false},
		{supportSubject, deleteReq, false},
		{managerSubject, deleteReq, false},
		{adminSubject, readReq, true},
		{adminSubject, writeReq, true},
		{adminSubject, deleteReq, true},
	}
	for _, tc := range cases {
		_, err := g.Evaluate(ctx, e.bearer(t, tc.subject), tc.req)
		if tc.admit {
			require.NoError(t, err, "%s %v", tc.subject, tc.req.Role)
			continue
		}
		requireDenial(t, err, gate.CodeAuthorization)
	}
}

func TestRoleDenialDoesNotConsumeQuota(t *testing.T) {
	e := newEnv(t)
	g := e.gate(t)
	header := e.bearer(t, supportSubject)

	for i := 0; i < 10; i++ {
		_, err := g.Evaluate(context.Background(), header, writeReq)
		requireDenial(t, err, gate.CodeAuthorization)
	}
	status := e.governor.Status()
	require.Zero(t, status.LocalCounters)
}

func TestTwentyFirstWriteIsRateLimited(t *testing.T) {
	e := newEnv(t)
	g := e.gate(t)
	header := e.bearer(t, managerSubject)

	for i := 0; i < 20; i++ {
		_, err := g.Evaluate(context.Background(), header, writeReq)
		require.NoError(t, err, "request %d", i+1)
		e.clock.Advance(time.Second)
	}
	result, err := g.Evaluate(context.Background(), header, writeReq)
	denial := requireDenial(t, err, gate.CodeRateLimit)
	require.Equal(t, 40*time.Second, denial.RetryAfter)
	require.NotNil(t, result.Rate)
	require.False(t, result.Rate.Allowed)

	e.clock.Advance(40 * time.Second)
	_, err = g.Evaluate(context.Background(), header, writeReq)
	require.NoError(t, err)
}

func TestStoreFailurePolicies(t *testing.T) {
	e := newEnv(t)
	header := e.bearer(t, managerSubject)
	e.repo.SetErr(errors.New("connection reset"))

	closed := e.gate(t)
	_, err := closed.Evaluate(context.Background(), header, readReq)
	denial := requireDenial(t, err, gate.CodeInternal)
	require.Equal(t, "service temporarily unavailable", denial.Message)

	open := e.gate(t, func(c *gate.Config) { c.StoreFailure = gate.StoreFailOpen })
	result, err := open.Evaluate(context.Background(), header, writeReq)
	require.NoError(t, err)
	require.Equal(t, auth.RoleManager, result.Principal.Role)
	_, err = open.Evaluate(context.Background(), header, deleteReq)
	requireDenial(t, err, gate.CodeAuthorization)
}

func TestLiveRoleCheck(t *testing.T) {
	e := newEnv(t)
	header := e.bearer(t, managerSubject)
	require.NoError(t, e.repo.SetRole(context.Background(), managerSubject, auth.RoleSupport))

	trusting := e.gate(t)
	_, err := trusting.Evaluate(context.Background(), header, writeReq)
	require.NoError(t, err)

	live := e.gate(t, func(c *gate.Config) { c.LiveRoleCheck = true })
	_, err = live.Evaluate(context.Background(), header, writeReq)
	requireDenial(t, err, gate.CodeAuthorization)
}

func TestCounterFailClosedDeniesWithInternalError(t *testing.T) {
	e := newEnv(t)
	governor, err := ratelimit.NewGovernor(ratelimit.Config{
		Policies:  ratelimit.DefaultPolicies(),
		Shared:    unreachable{},
		OnFailure: ratelimit.FailureClosed,
		Clock:     e.clock,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	g := e.gate(t, func(c *gate.Config) { c.Governor = governor })

	_, err = g.Evaluate(context.Background(), e.bearer(t, supportSubject), readReq)
	requireDenial(t, err, gate.CodeInternal)
}

func TestCancelledRequestStopsPipeline(t *testing.T) {
	e := newEnv(t)
	g := e.gate(t)
	header := e.bearer(t, supportSubject)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Evaluate(ctx, header, readReq)
	require.ErrorIs(t, err, context.Canceled)
	var denial *gate.Denial
	require.False(t, errors.As(err, &denial))
	require.Equal(t, []string{"cancelled"}, e.recorder.outcomes)
}

func TestUnclassedRequirementSkipsGovernor(t *testing.T) {
	e := newEnv(t)
	g := e.gate(t)
	result, err := g.Evaluate(context.Background(), e.bearer(t, supportSubject), gate.Requirement{Role: auth.RoleSupport})
	require.NoError(t, err)
	require.Nil(t, result.Rate)
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := gate.New(gate.Config{})
	require.Error(t, err)
	e := newEnv(t)
	_, err = gate.New(gate.Config{Tokens: e.tokens, Store: e.repo, StoreFailure: "maybe"})
	require.Error(t, err)
}

func TestBearerToken(t *testing.T) {
	token, ok := gate.BearerToken("bearer abc")
	require.True(t, ok)
	require.Equal(t, "abc", token)
	_, ok = gate.BearerToken("Bearer")
	require.False(t, ok)
	_, ok = gate.BearerToken("Token abc")
	require.False(t, ok)
}

func TestParseStoreFailurePolicy(t *testing.T) {
	p, err := gate.ParseStoreFailurePolicy("OPEN")
	require.NoError(t, err)
	require.Equal(t, gate.StoreFailOpen, p)
	_, err = gate.ParseStoreFailurePolicy("local")
	require.Error(t, err)
}

type unreachable struct{}

func (unreachable) Increment(context.Context, string, time.Duration) (int64, error) {
	return 0, shared.ErrBackendUnavailable
}

func (unreachable) Name() string { return "unreachable" }
