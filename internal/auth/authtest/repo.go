// Package authtest provides an in-memory credential store for tests.
package authtest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dpm-admin/dpm-api/internal/auth"
	"github.com/dpm-admin/dpm-api/internal/shared"
)

// Repo is a concurrency-safe in-memory auth.Repository.
// SetErr makes every call fail until cleared.
type Repo struct {
	mu      sync.Mutex
	nextID  int64
	byKey   map[string]*auth.Identity
	err     error
	lookups int
}

// NewRepo returns an empty repository.
func NewRepo() *Repo {
	return &Repo{byKey: make(map[string]*auth.Identity)}
}

// SetErr makes subsequent calls fail with err. Pass nil to recover.
func (r *Repo) SetErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// LookupCount reports how many FindBySubject calls were made.
func (r *Repo) LookupCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookups
}

// Put stores identity as-is, assigning an ID when missing.
func (r *Repo) Put(identity auth.Identity) *auth.Identity {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	if identity.ID == 0 {
		identity.ID = r.nextID
	}
	now := time.Now().UTC()
	if identity.CreatedAt.IsZero() {
		identity.CreatedAt = now
	}
	identity.UpdatedAt = now
	stored := identity
	r.byKey[identity.Subject] = &stored
	copied := stored
	return &copied
}

// All returns every identity ordered by subject.
func (r *Repo) All() []auth.Identity {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]auth.Identity, 0, len(r.byKey))
	for _, identity := range r.byKey {
		out = append(out, *identity)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Subject < out[j].Subject })
	return out
}

// FindBySubject implements auth.Repository.
func (r *Repo) FindBySubject(ctx context.Context, subject string) (*auth.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lookups++
	if r.err != nil {
		return nil, r.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key, err := auth.NormalizeSubject(subject)
	if err != nil {
		return nil, err
	}
	identity, ok := r.byKey[key]
	if !ok {
		return nil, shared.ErrNotFound
	}
	copied := *identity
	return &copied, nil
}

// Create implements auth.Repository.
func (r *Repo) Create(_ context.Context, identity *auth.Identity) (*auth.Identity, error) {
	r.mu.Lock()
	if r.err != nil {
		r.mu.Unlock()
		return nil, r.err
	}
	key, err := auth.NormalizeSubject(identity.Subject)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	if _, exists := r.byKey[key]; exists {
		r.mu.Unlock()
		return nil, auth.ErrDuplicateSubject
	}
	r.mu.Unlock()
	stored := *identity
	stored.Subject = key
	return r.Put(stored), nil
}

// SetRole implements auth.Repository.
func (r *Repo) SetRole(_ context.Context, subject string, role auth.Role) error {
	if !role.Valid() {
		return auth.ErrInvalidRole
	}
	return r.mutate(subject, func(i *auth.Identity) { i.Role = role })
}

// SetActive implements auth.Repository.
func (r *Repo) SetActive(_ context.Context, subject string, active bool) error {
	return r.mutate(subject, func(i *auth.Identity) { i.IsActive = active })
}

// UpdatePassword implements auth.Repository.
func (r *Repo) UpdatePassword(_ context.Context, subject, hash string) error {
	return r.mutate(subject, func(i *auth.Identity) { i.PasswordHash = hash })
}

// UpdateDisplayName implements auth.Repository.
func (r *Repo) UpdateDisplayName(_ context.Context, subject, name string) error {
	return r.mutate(subject, func(i *auth.Identity) { i.DisplayName = name })
}

func (r *Repo) mutate(subject string, fn func(*auth.Identity)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	key, err := auth.NormalizeSubject(subject)
	if err != nil {
		return err
	}
	identity, ok := r.byKey[key]
	if !ok {
		return shared.ErrNotFound
	}
	fn(identity)
	identity.UpdatedAt = time.Now().UTC()
	return nil
}

var _ auth.Repository = (*Repo)(nil)
