package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/dpm-admin/dpm-api/internal/platform/clock"
)

// MinSecretLength is the shortest accepted HS256 signing secret.
const MinSecretLength = 32

// DefaultTokenLifetime covers one working day.
const DefaultTokenLifetime = 8 * time.Hour

// ErrSecretTooShort is returned when the configured secret is too weak to sign with.
var ErrSecretTooShort = fmt.Errorf("auth: token secret must be at least %d bytes", MinSecretLength)

// TokenStatus classifies the outcome of Validate.
type TokenStatus int

// Validation outcomes.
const (
	TokenValid TokenStatus = iota
	TokenExpired
	TokenMalformed
	TokenNotYetIssued
)

func (s TokenStatus) String() string {
	switch s {
	case TokenValid:
		return "valid"
	case TokenExpired:
		return "expired"
	case TokenNotYetIssued:
		return "not_yet_issued"
	default:
		return "malformed"
	}
}

// Validation is the result of checking a bearer token.
// Subject and Role are set only when Status is TokenValid.
type Validation struct {
	Status    TokenStatus
	Subject   string
	Role      Role
	ExpiresAt time.Time
}

// IssuedToken is a freshly minted session token.
type IssuedToken struct {
	Token     string
	ID        string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenConfig configures a TokenService.
type TokenConfig struct {
	Secret   []byte
	Issuer   string
	Lifetime time.Duration
	Clock    clock.Clock
}

// TokenService is the only component that mints or verifies session tokens.
type TokenService struct {
	secret   []byte
	issuer   string
	lifetime time.Duration
	clock    clock.Clock
	parser   *jwt.Parser
}

type sessionClaims struct {
	Role Role `json:"role"`
	jwt.RegisteredClaims
}

// NewTokenService validates cfg and builds a TokenService.
func NewTokenService(cfg TokenConfig) (*TokenService, error) {
	if len(cfg.Secret) < MinSecretLength {
		return nil, ErrSecretTooShort
	}
	if cfg.Lifetime <= 0 {
		cfg.Lifetime = DefaultTokenLifetime
	}
	clk := clock.OrSystem(cfg.Clock)
	secret := make([]byte, len(cfg.Secret))
	copy(secret, cfg.Secret)

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(clk.Now),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	return &TokenService{
		secret:   secret,
		issuer:   cfg.Issuer,
		lifetime: cfg.Lifetime,
		clock:    clk,
		parser:   jwt.NewParser(opts...),
	}, nil
}

// Lifetime returns the configured token lifetime.
func (s *TokenService) Lifetime() time.Duration {
	return s.lifetime
}

// Issue mints a token carrying the identity's subject and current role.
func (s *TokenService) Issue(identity *Identity) (IssuedToken, error) {
	if identity == nil || identity.Subject == "" {
		return IssuedToken{}, errors.New("auth: issue token: identity subject required")
	}
	if !identity.Role.Valid() {
		return IssuedToken{}, fmt.Errorf("auth: issue token: %w", ErrInvalidRole)
	}
	now := s.clock.Now().Truncate(time.Second)
	expires := now.Add(s.lifetime)
	id := uuid.NewString()
	claims := sessionClaims{
		Role: identity.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   identity.Subject,
			ID:        id,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return IssuedToken{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return IssuedToken{Token: signed, ID: id, IssuedAt: now, ExpiresAt: expires}, nil
}

// Validate checks signature, structure and time bounds. It performs no store lookups.
func (s *TokenService) Validate(raw string) Validation {
	if raw == "" {
		return Validation{Status: TokenMalformed}
	}
	claims := &sessionClaims{}
	_, err := s.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	})
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return Validation{Status: TokenExpired}
	case errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return Validation{Status: TokenNotYetIssued}
	default:
		return Validation{Status: TokenMalformed}
	}
	if claims.Subject == "" || !claims.Role.Valid() {
		return Validation{Status: TokenMalformed}
	}
	v := Validation{Status: TokenValid, Subject: claims.Subject, Role: claims.Role}
	if claims.ExpiresAt != nil {
		v.ExpiresAt = claims.ExpiresAt.Time
	}
	return v
}
