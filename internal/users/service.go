package users

import (
	"context"

	"github.com/dpm-admin/dpm-api/internal/auth"
	"github.com/dpm-admin/dpm-api/internal/shared"
)

// RepositoryPort defines read access for identity listings.
type RepositoryPort interface {
	List(ctx context.Context, filter Filter) ([]auth.Identity, int, error)
	Stats(ctx context.Context) (Stats, error)
}

// Service combines listings with the identity mutations owned by auth.
type Service struct {
	repo RepositoryPort
	auth *auth.Service
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, authService *auth.Service) *Service {
	return &Service{repo: repo, auth: authService}
}

// Page is one page of identity views.
type Page struct {
	Items      []auth.UserView   `json:"items"`
	Pagination shared.Pagination `json:"pagination"`
}

// List returns identity views matching filter.
func (s *Service) List(ctx context.Context, filter Filter) (Page, error) {
	if filter.Role != 0 && !filter.Role.Valid() {
		return Page{}, auth.ErrInvalidRole
	}
	filter.Page, filter.PerPage = shared.NormalizePage(filter.Page, filter.PerPage)
	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return Page{}, err
	}
	views := make([]auth.UserView, 0, len(items))
	for i := range items {
		views = append(views, items[i].View())
	}
	return Page{Items: views, Pagination: shared.NewPagination(filter.Page, filter.PerPage, total)}, nil
}

// Get returns one identity.
func (s *Service) Get(ctx context.Context, subject string) (*auth.Identity, error) {
	return s.auth.Profile(ctx, subject)
}

// Stats returns counts per tier and status.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	return s.repo.Stats(ctx)
}

// SetRole changes another identity's tier.
func (s *Service) SetRole(ctx context.Context, actor auth.Principal, subject string, role auth.Role) error {
	return s.auth.SetRole(ctx, actor, subject, role)
}

// SetActive enables or disables another identity.
func (s *Service) SetActive(ctx context.Context, actor auth.Principal, subject string, active bool) error {
	return s.auth.SetActive(ctx, actor, subject, active)
}

// ResetPassword assigns a new password to another identity.
func (s *Service) ResetPassword(ctx context.Context, actor auth.Principal, subject, password string) error {
	return s.auth.ResetPassword(ctx, actor, subject, password)
}
