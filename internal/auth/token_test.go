package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/dpm-admin/dpm-api/internal/platform/clock"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestTokens(t *testing.T, clk clock.Clock) *TokenService {
	t.Helper()
	svc, err := NewTokenService(TokenConfig{Secret: testSecret, Issuer: "dpm-api", Lifetime: time.Hour, Clock: clk})
	require.NoError(t, err)
	return svc
}

func TestNewTokenServiceRejectsShortSecret(t *testing.T) {
	_, err := NewTokenService(TokenConfig{Secret: []byte("short")})
	require.ErrorIs(t, err, ErrSecretTooShort)
}

func TestNewTokenServiceDefaultsLifetime(t *testing.T) {
	svc, err := NewTokenService(TokenConfig{Secret: testSecret})
	require.NoError(t, err)
	require.Equal(t, DefaultTokenLifetime, svc.Lifetime())
}

func TestIssueAndValidateRoundTrip(t *testing.T) {
	clk := clock.NewManual(time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC))
	svc := newTestTokens(t, clk)

	issued, err := svc.Issue(&Identity{Subject: "12345678-5", Role: RoleManager})
	require.NoError(t, err)
	require.NotEmpty(t, issued.ID)
	require.Equal(t, clk.Now().Add(time.Hour), issued.ExpiresAt)

	v := svc.Validate(issued.Token)
	require.Equal(t, TokenValid, v.Status)
	require.Equal(t, "12345678-5", v.Subject)
	require.Equal(t, RoleManager, v.Role)
	require.Equal(t, issued.ExpiresAt, v.ExpiresAt.UTC())
}

func TestIssueRejectsInvalidIdentity(t *testing.T) {
	svc := newTestTokens(t, nil)
	_, err := svc.Issue(nil)
	require.Error(t, err)
	_, err = svc.Issue(&Identity{Subject: "12345678-5", Role: Role(9)})
	require.ErrorIs(t, err, ErrInvalidRole)
}

func TestValidateExpiry(t *testing.T) {
	clk := clock.NewManual(time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC))
	svc := newTestTokens(t, clk)
	issued, err := svc.Issue(&Identity{Subject: "12345678-5", Role: RoleSupport})
	require.NoError(t, err)

	clk.Advance(time.Hour - time.Second)
	require.Equal(t, TokenValid, svc.Validate(issued.Token).Status)

	clk.Advance(time.Second)
	v := svc.Validate(issued.Token)
	require.Equal(t, TokenExpired, v.Status)
	require.Empty(t, v.Subject)
}

func TestValidateNotYetIssued(t *testing.T) {
	issuedAt := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	issuer := newTestTokens(t, clock.NewManual(issuedAt))
	validator := newTestTokens(t, clock.NewManual(issuedAt.Add(-time.Minute)))

	issued, err := issuer.Issue(&Identity{Subject: "12345678-5", Role: RoleAdmin})
	require.NoError(t, err)
	require.Equal(t, TokenNotYetIssued, validator.Validate(issued.Token).Status)
}

func TestValidateMalformed(t *testing.T) {
	clk := clock.NewManual(time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC))
	svc := newTestTokens(t, clk)
	issued, err := svc.Issue(&Identity{Subject: "12345678-5", Role: RoleSupport})
	require.NoError(t, err)

	other, err := NewTokenService(TokenConfig{Secret: []byte(strings.Repeat("z", 32)), Issuer: "dpm-api", Clock: clk})
	require.NoError(t, err)
	forged, err := other.Issue(&Identity{Subject: "12345678-5", Role: RoleAdmin})
	require.NoError(t, err)

	parts := strings.Split(issued.Token, ".")
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub":  "12345678-5",
		"role": 3,
		"iat":  clk.Now().Unix(),
		"exp":  clk.Now().Add(time.Hour).Unix(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, raw := range map[string]string{
		"empty":     "",
		"garbage":   "not-a-token",
		"forged":    forged.Token,
		"tampered":  tampered,
		"alg none":  none,
		"two parts": parts[0] + "." + parts[1],
	} {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, TokenMalformed, svc.Validate(raw).Status)
		})
	}
}

func TestValidateRejectsUnknownRoleClaim(t *testing.T) {
	clk := clock.NewManual(time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC))
	svc := newTestTokens(t, clk)
	claims := sessionClaims{
		Role: Role(7),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "dpm-api",
			Subject:   "12345678-5",
			IssuedAt:  jwt.NewNumericDate(clk.Now()),
			ExpiresAt: jwt.NewNumericDate(clk.Now().Add(time.Hour)),
		},
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	require.NoError(t, err)
	require.Equal(t, TokenMalformed, svc.Validate(raw).Status)
}

func TestValidateRequiresExpiry(t *testing.T) {
	svc := newTestTokens(t, nil)
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  "12345678-5",
		"role": 1,
		"iss":  "dpm-api",
	}).SignedString(testSecret)
	require.NoError(t, err)
	require.Equal(t, TokenMalformed, svc.Validate(raw).Status)
}

func TestTokenStatusString(t *testing.T) {
	require.Equal(t, "valid", TokenValid.String())
	require.Equal(t, "expired", TokenExpired.String())
	require.Equal(t, "malformed", TokenMalformed.String())
	require.Equal(t, "not_yet_issued", TokenNotYetIssued.String())
}
