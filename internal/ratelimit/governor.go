package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dpm-admin/dpm-api/internal/platform/clock"
	"github.com/dpm-admin/dpm-api/internal/shared"
)

// FailurePolicy decides what happens when the shared backend cannot be reached.
type FailurePolicy string

// Failure policies.
const (
	// FailureLocal counts in process and flags decisions as degraded.
	FailureLocal FailurePolicy = "local"
	// FailureClosed denies the request.
	FailureClosed FailurePolicy = "closed"
)

// ParseFailurePolicy accepts "local" or "closed".
func ParseFailurePolicy(raw string) (FailurePolicy, error) {
	switch p := FailurePolicy(strings.ToLower(strings.TrimSpace(raw))); p {
	case FailureLocal, FailureClosed:
		return p, nil
	default:
		return "", fmt.Errorf("ratelimit: unknown failure policy %q", raw)
	}
}

// Defaults.
const (
	DefaultBackendTimeout = 2 * time.Second
	DefaultProbeInterval  = 5 * time.Second
	DefaultKeyPrefix      = "dpm:rl"
)

// expirySlack keeps a counter alive slightly past its window end.
const expirySlack = time.Second

// Recorder receives governor telemetry. Implementations must be safe for concurrent use.
type Recorder interface {
	RecordRateDecision(class string, allowed, degraded bool)
	RecordBackendFailure(backend string)
	SetRateDegraded(degraded bool)
}

type nopRecorder struct{}

func (nopRecorder) RecordRateDecision(string, bool, bool) {}
func (nopRecorder) RecordBackendFailure(string)           {}
func (nopRecorder) SetRateDegraded(bool)                  {}

// Config configures a Governor.
type Config struct {
	Policies Policies
	// Shared is the cross-instance backend. Nil runs on Local only, which is not degraded.
	Shared Backend
	// Local is the fallback counter store. Created when nil.
	Local     *MemoryBackend
	OnFailure FailurePolicy
	// Timeout bounds each shared backend call.
	Timeout time.Duration
	// ProbeInterval is how long the shared backend is skipped after a failure.
	ProbeInterval time.Duration
	KeyPrefix     string
	Clock         clock.Clock
	Logger        *slog.Logger
	Recorder      Recorder
}

// Decision is the outcome of one CheckAndIncrement call.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	Count      int64
	ResetAt    time.Time
	RetryAfter time.Duration
	Degraded   bool
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, never below one.
func (d Decision) RetryAfterSeconds() int {
	secs := int(math.Ceil(d.RetryAfter.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// Governor enforces per-class fixed-window limits.
type Governor struct {
	policies  Policies
	shared    Backend
	local     *MemoryBackend
	onFailure FailurePolicy
	timeout   time.Duration
	probe     time.Duration
	prefix    string
	clock     clock.Clock
	logger    *slog.Logger
	recorder  Recorder

	degraded  atomic.Bool
	nextProbe atomic.Int64
}

// NewGovernor validates cfg and builds a Governor.
func NewGovernor(cfg Config) (*Governor, error) {
	if err := cfg.Policies.Validate(); err != nil {
		return nil, err
	}
	if cfg.OnFailure == "" {
		cfg.OnFailure = FailureLocal
	}
	if _, err := ParseFailurePolicy(string(cfg.OnFailure)); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultBackendTimeout
	}
	if cfg.ProbeInterval < 0 {
		cfg.ProbeInterval = 0
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	clk := clock.OrSystem(cfg.Clock)
	if cfg.Local == nil {
		cfg.Local = NewMemoryBackend(clk)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Recorder == nil {
		cfg.Recorder = nopRecorder{}
	}
	policies := make(Policies, len(cfg.Policies))
	for class, policy := range cfg.Policies {
		policies[class] = policy
	}
	return &Governor{
		policies:  policies,
		shared:    cfg.Shared,
		local:     cfg.Local,
		onFailure: cfg.OnFailure,
		timeout:   cfg.Timeout,
		probe:     cfg.ProbeInterval,
		prefix:    cfg.KeyPrefix,
		clock:     clk,
		logger:    cfg.Logger,
		recorder:  cfg.Recorder,
	}, nil
}

// Policy returns the policy configured for class.
func (g *Governor) Policy(class Class) (Policy, bool) {
	p, ok := g.policies[class]
	return p, ok
}

// Local returns the in-process counter store.
func (g *Governor) Local() *MemoryBackend {
	return g.local
}

// Degraded reports whether the shared backend is currently considered unreachable.
func (g *Governor) Degraded() bool {
	return g.degraded.Load()
}

// CheckAndIncrement counts one request for key and decides whether it is admitted.
// The N-th request of a window is admitted, the (N+1)-th is denied until the window ends.
func (g *Governor) CheckAndIncrement(ctx context.Context, key Key) (Decision, error) {
	policy, ok := g.policies[key.Class]
	if !ok {
		return Decision{}, fmt.Errorf("%w: %q", ErrUnknownClass, key.Class)
	}
	now := g.clock.Now()
	start, reset := policy.bounds(now)
	storageKey := fmt.Sprintf("%s:%s:%s:%d", g.prefix, key.Class, key.Identity, start.Unix())
	ttl := reset.Sub(now) + expirySlack

	count, degraded, err := g.increment(ctx, storageKey, ttl, now)
	if err != nil {
		return Decision{}, err
	}

	d := Decision{
		Allowed:  count <= int64(policy.Limit),
		Limit:    policy.Limit,
		Count:    count,
		ResetAt:  reset,
		Degraded: degraded,
	}
	if remaining := int64(policy.Limit) - count; remaining > 0 {
		d.Remaining = int(remaining)
	}
	if !d.Allowed {
		d.RetryAfter = reset.Sub(now)
	}
	g.recorder.RecordRateDecision(string(key.Class), d.Allowed, d.Degraded)
	return d, nil
}

func (g *Governor) increment(ctx context.Context, key string, ttl time.Duration, now time.Time) (int64, bool, error) {
	if g.shared == nil {
		count, err := g.local.Increment(ctx, key, ttl)
		return count, false, err
	}

	if !g.skipShared(now) {
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		count, err := g.shared.Increment(callCtx, key, ttl)
		cancel()
		if err == nil {
			g.markRecovered()
			return count, false, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, false, ctxErr
		}
		g.markDegraded(now, err)
	}

	if g.onFailure == FailureClosed {
		return 0, true, fmt.Errorf("ratelimit: %s: %w", g.shared.Name(), shared.ErrBackendUnavailable)
	}
	count, err := g.local.Increment(ctx, key, ttl)
	return count, true, err
}

func (g *Governor) skipShared(now time.Time) bool {
	if !g.degraded.Load() || g.probe == 0 {
		return false
	}
	return now.UnixNano() < g.nextProbe.Load()
}

func (g *Governor) markDegraded(now time.Time, err error) {
	g.recorder.RecordBackendFailure(g.shared.Name())
	g.nextProbe.Store(now.Add(g.probe).UnixNano())
	if g.degraded.CompareAndSwap(false, true) {
		g.recorder.SetRateDegraded(true)
		g.logger.Warn("rate governor degraded",
			slog.String("backend", g.shared.Name()),
			slog.String("on_failure", string(g.onFailure)),
			slog.Any("error", err))
	}
}

func (g *Governor) markRecovered() {
	if g.degraded.CompareAndSwap(true, false) {
		g.recorder.SetRateDegraded(false)
		g.logger.Info("rate governor recovered", slog.String("backend", g.shared.Name()))
	}
}

// PolicyStatus is the JSON view of a policy.
type PolicyStatus struct {
	Limit         int `json:"limit"`
	WindowSeconds int `json:"window_seconds"`
}

// Status is the operator view of the governor.
type Status struct {
	Backend       string                  `json:"backend"`
	Mode          string                  `json:"mode"`
	Degraded      bool                    `json:"degraded"`
	FailurePolicy FailurePolicy           `json:"failure_policy"`
	LocalCounters int                     `json:"local_counters"`
	Classes       map[string]PolicyStatus `json:"classes"`
}

// Mode names the current counting mode: shared, degraded or local.
func (g *Governor) Mode() string {
	switch {
	case g.shared == nil:
		return "local"
	case g.degraded.Load():
		return "degraded"
	default:
		return "shared"
	}
}

// Status reports the backend, mode and configured classes.
func (g *Governor) Status() Status {
	backend := g.local.Name()
	if g.shared != nil {
		backend = g.shared.Name()
	}
	classes := make(map[string]PolicyStatus, len(g.policies))
	for class, policy := range g.policies {
		classes[string(class)] = PolicyStatus{Limit: policy.Limit, WindowSeconds: int(policy.Window / time.Second)}
	}
	return Status{
		Backend:       backend,
		Mode:          g.Mode(),
		Degraded:      g.degraded.Load(),
		FailurePolicy: g.onFailure,
		LocalCounters: g.local.Len(),
		Classes:       classes,
	}
}

// IsBackendUnavailable reports whether err came from the fail-closed counter path.
func IsBackendUnavailable(err error) bool {
	return errors.Is(err, shared.ErrBackendUnavailable)
}
