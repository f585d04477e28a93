package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dpm-admin/dpm-api/internal/auth"
	"github.com/dpm-admin/dpm-api/internal/auth/authtest"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type harness struct {
	repo   *authtest.Repo
	opened []bool
	env    *Env
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	tokens, err := auth.NewTokenService(auth.TokenConfig{Secret: []byte(testSecret)})
	require.NoError(t, err)
	hasher, err := auth.NewPasswordVerifier(4)
	require.NoError(t, err)
	repo := authtest.NewRepo()
	return &harness{
		repo: repo,
		env: &Env{
			Auth:   auth.NewService(repo, hasher, tokens, nil),
			Tokens: tokens,
			Hasher: hasher,
		},
	}
}

func (h *harness) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand(func(ctx context.Context, withStore bool) (*Env, error) {
		h.opened = append(h.opened, withStore)
		return h.env, nil
	})
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestUsersCreateAndCheck(t *testing.T) {
	h := newHarness(t)

	out, err := h.run(t, "users", "create", "--subject", " 12345678-5 ", "--name", "Ana", "--role", "manager", "--password", "cuidados2024")
	require.NoError(t, err)
	require.Contains(t, out, "created 12345678-5 (manager)")

	stored, err := h.repo.FindBySubject(context.Background(), "12345678-5")
	require.NoError(t, err)
	require.Equal(t, auth.RoleManager, stored.Role)
	require.True(t, stored.IsActive)

	out, err = h.run(t, "users", "check", "--subject", "12345678-5", "--password", "cuidados2024")
	require.NoError(t, err)
	require.Contains(t, out, "ok 12345678-5 role=manager")

	_, err = h.run(t, "users", "check", "--subject", "12345678-5", "--password", "wrong-pass1")
	require.Error(t, err)
	require.Equal(t, []bool{true, true, true}, h.opened)
}

func TestUsersCreateRejectsBadRole(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(t, "users", "create", "--subject", "12345678-5", "--name", "Ana", "--role", "owner", "--password", "cuidados2024")
	require.ErrorIs(t, err, auth.ErrInvalidRole)
	require.Empty(t, h.opened)
}

func TestUsersCreateReadsPasswordFromEnv(t *testing.T) {
	h := newHarness(t)
	t.Setenv(passwordEnv, "cuidados2024")
	_, err := h.run(t, "users", "create", "--subject", "11111111-1", "--name", "Luis")
	require.NoError(t, err)
	stored, err := h.repo.FindBySubject(context.Background(), "11111111-1")
	require.NoError(t, err)
	require.Equal(t, auth.RoleSupport, stored.Role)
}

func TestUsersSetRoleAndDisable(t *testing.T) {
	h := newHarness(t)
	h.repo.Put(auth.Identity{Subject: "22222222-2", DisplayName: "Rosa", Role: auth.RoleSupport, IsActive: true})

	out, err := h.run(t, "users", "set-role", "--subject", "22222222-2", "--role", "3")
	require.NoError(t, err)
	require.Contains(t, out, "22222222-2 is now admin")

	out, err = h.run(t, "users", "disable", "--subject", "22222222-2")
	require.NoError(t, err)
	require.Contains(t, out, "disabled 22222222-2")

	stored, err := h.repo.FindBySubject(context.Background(), "22222222-2")
	require.NoError(t, err)
	require.Equal(t, auth.RoleAdmin, stored.Role)
	require.False(t, stored.IsActive)

	_, err = h.run(t, "users", "enable", "--subject", "33333333-3")
	require.Error(t, err)
}

func TestTokenInspect(t *testing.T) {
	h := newHarness(t)
	issued, err := h.env.Tokens.Issue(&auth.Identity{Subject: "12345678-5", Role: auth.RoleAdmin})
	require.NoError(t, err)

	out, err := h.run(t, "token", "inspect", "--json", "Bearer "+issued.Token)
	require.NoError(t, err)
	var report TokenReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.Equal(t, "valid", report.Status)
	require.Equal(t, "admin", report.Role)
	require.Equal(t, []bool{false}, h.opened)

	out, err = h.run(t, "token", "inspect", "not.a.token")
	require.Error(t, err)
	require.Contains(t, out, "status: malformed")
}

func TestHashPassword(t *testing.T) {
	h := newHarness(t)
	out, err := h.run(t, "hash-password", "--password", "cuidados2024")
	require.NoError(t, err)
	ok, err := h.env.Hasher.Verify("cuidados2024", string(bytes.TrimSpace([]byte(out))))
	require.NoError(t, err)
	require.True(t, ok)

	_, err = h.run(t, "hash-password", "--password", "short")
	require.Error(t, err)
}
