package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/dpm-admin/dpm-api/internal/shared"
)

// MaxDisplayNameLength bounds display names in characters.
const MaxDisplayNameLength = 150

// DefaultStoreTimeout bounds each credential store lookup made by the service.
const DefaultStoreTimeout = 2 * time.Second

// ErrSelfModification rejects demoting, disabling or resetting one's own account through admin routes.
var ErrSelfModification = &shared.RuleError{Message: "administrators cannot change their own role, status or password through this operation"}

// ErrPasswordReuse rejects a password change to the same password.
var ErrPasswordReuse = &shared.ValidationError{Field: "new_password", Message: "new password must differ from the current password"}

// Service wraps authentication business rules.
type Service struct {
	repo         Repository
	passwords    *PasswordVerifier
	tokens       *TokenService
	logger       *slog.Logger
	storeTimeout time.Duration
}

// NewService constructs a new Service. tokens may be nil for tooling that never logs in.
func NewService(repo Repository, passwords *PasswordVerifier, tokens *TokenService, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, passwords: passwords, tokens: tokens, logger: logger, storeTimeout: DefaultStoreTimeout}
}

// WithStoreTimeout sets the bound on credential store lookups. Non-positive values keep the default.
func (s *Service) WithStoreTimeout(d time.Duration) *Service {
	if d > 0 {
		s.storeTimeout = d
	}
	return s
}

// find reads an identity under the store timeout. A lookup that outlives the timeout
// while the caller is still waiting is reported as ErrBackendUnavailable.
func (s *Service) find(ctx context.Context, subject string) (*Identity, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	identity, err := s.repo.FindBySubject(callCtx, subject)
	if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("auth: find subject: %w", errors.Join(shared.ErrBackendUnavailable, err))
	}
	return identity, err
}

// LoginResult is returned on successful authentication.
type LoginResult struct {
	Token       IssuedToken
	Identity    *Identity
	Permissions PermissionSummary
}

// Login verifies subject/password credentials and issues a session token.
// Unknown subjects, wrong passwords and disabled accounts are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, subject, password string) (*LoginResult, error) {
	if s.tokens == nil {
		return nil, errors.New("auth: login: token service not configured")
	}
	identity, err := s.find(ctx, subject)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) || errors.Is(err, shared.ErrValidation) {
			s.passwords.Equalize(password)
			return nil, shared.ErrInvalidCredentials
		}
		if errors.Is(err, shared.ErrBackendUnavailable) {
			return nil, fmt.Errorf("auth: login: %w", err)
		}
		return nil, fmt.Errorf("auth: login: %w", errors.Join(shared.ErrBackendUnavailable, err))
	}
	ok, err := s.passwords.Verify(password, identity.PasswordHash)
	if err != nil {
		// A stored hash bcrypt cannot read is a provisioning error, not a bad password.
		s.logger.Error("verify password", slog.String("subject", identity.Subject), slog.Any("error", err))
		return nil, fmt.Errorf("auth: login: %w", err)
	}
	if !ok || !identity.IsActive {
		return nil, shared.ErrInvalidCredentials
	}
	issued, err := s.tokens.Issue(identity)
	if err != nil {
		return nil, err
	}
	s.logger.Info("login", slog.String("subject", identity.Subject), slog.String("role", identity.Role.String()))
	return &LoginResult{Token: issued, Identity: identity, Permissions: identity.Role.Permissions()}, nil
}

// Profile returns the identity behind subject.
func (s *Service) Profile(ctx context.Context, subject string) (*Identity, error) {
	return s.find(ctx, subject)
}

// RegisterInput carries the fields for a new identity.
type RegisterInput struct {
	Subject     string
	DisplayName string
	Password    string
	Role        Role
}

// Register creates an active identity.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Identity, error) {
	subject, err := NormalizeSubject(in.Subject)
	if err != nil {
		return nil, err
	}
	if !ValidCheckDigit(subject) {
		return nil, ErrSubjectCheckDigit
	}
	if !in.Role.Valid() {
		return nil, ErrInvalidRole
	}
	name, err := CleanDisplayName(in.DisplayName)
	if err != nil {
		return nil, err
	}
	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		return nil, err
	}
	created, err := s.repo.Create(ctx, &Identity{
		Subject:      subject,
		DisplayName:  name,
		PasswordHash: hash,
		Role:         in.Role,
		IsActive:     true,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("identity registered", slog.String("subject", created.Subject), slog.String("role", created.Role.String()))
	return created, nil
}

// ChangePassword replaces the caller's password after re-verifying the current one.
func (s *Service) ChangePassword(ctx context.Context, subject, current, next string) error {
	identity, err := s.find(ctx, subject)
	if err != nil {
		return err
	}
	ok, err := s.passwords.Verify(current, identity.PasswordHash)
	if err != nil {
		s.logger.Error("verify password", slog.String("subject", identity.Subject), slog.Any("error", err))
		return fmt.Errorf("auth: change password: %w", err)
	}
	if !ok {
		return shared.ErrInvalidCredentials
	}
	if current == next {
		return ErrPasswordReuse
	}
	hash, err := s.passwords.Hash(next)
	if err != nil {
		return err
	}
	return s.repo.UpdatePassword(ctx, identity.Subject, hash)
}

// ResetPassword sets a new password for another identity.
func (s *Service) ResetPassword(ctx context.Context, actor Principal, subject, next string) error {
	if err := s.ensureNotSelf(actor, subject); err != nil {
		return err
	}
	hash, err := s.passwords.Hash(next)
	if err != nil {
		return err
	}
	if err := s.repo.UpdatePassword(ctx, subject, hash); err != nil {
		return err
	}
	s.logger.Info("password reset", slog.String("subject", subject), slog.String("actor", actor.Subject))
	return nil
}

// UpdateProfile changes the caller's display name.
func (s *Service) UpdateProfile(ctx context.Context, subject, displayName string) (*Identity, error) {
	name, err := CleanDisplayName(displayName)
	if err != nil {
		return nil, err
	}
	if err := s.repo.UpdateDisplayName(ctx, subject, name); err != nil {
		return nil, err
	}
	return s.find(ctx, subject)
}

// SetRole changes the tier of another identity. The change is visible to the gate
// immediately only when live role checks are enabled; otherwise at the next login.
func (s *Service) SetRole(ctx context.Context, actor Principal, subject string, role Role) error {
	if err := s.ensureNotSelf(actor, subject); err != nil {
		return err
	}
	if err := s.repo.SetRole(ctx, subject, role); err != nil {
		return err
	}
	s.logger.Info("role changed", slog.String("subject", subject), slog.String("role", role.String()), slog.String("actor", actor.Subject))
	return nil
}

// SetActive enables or disables another identity. Disabling takes effect on the next request.
func (s *Service) SetActive(ctx context.Context, actor Principal, subject string, active bool) error {
	if err := s.ensureNotSelf(actor, subject); err != nil {
		return err
	}
	if err := s.repo.SetActive(ctx, subject, active); err != nil {
		return err
	}
	s.logger.Info("identity status changed", slog.String("subject", subject), slog.Bool("active", active), slog.String("actor", actor.Subject))
	return nil
}

func (s *Service) ensureNotSelf(actor Principal, subject string) error {
	if actor.Subject == "" {
		return nil
	}
	normalized, err := NormalizeSubject(subject)
	if err != nil {
		return err
	}
	if normalized == actor.Subject {
		return ErrSelfModification
	}
	return nil
}

// CleanDisplayName trims and NFC-normalises a display name and checks its length.
func CleanDisplayName(raw string) (string, error) {
	name := norm.NFC.String(strings.TrimSpace(raw))
	switch n := utf8.RuneCountInString(name); {
	case n == 0:
		return "", &shared.ValidationError{Field: "display_name", Message: "display name is required"}
	case n > MaxDisplayNameLength:
		return "", &shared.ValidationError{Field: "display_name", Message: fmt.Sprintf("display name cannot exceed %d characters", MaxDisplayNameLength)}
	}
	return name, nil
}
