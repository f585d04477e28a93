package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dpm-admin/dpm-api/internal/shared"
)

// ErrDuplicateSubject indicates an identity with the subject already exists.
var ErrDuplicateSubject = fmt.Errorf("auth: duplicate subject: %w", shared.ErrConflict)

// Repository is the credential store. Role and active-flag mutations trust their caller;
// tier checks happen in the access gate.
type Repository interface {
	FindBySubject(ctx context.Context, subject string) (*Identity, error)
	Create(ctx context.Context, identity *Identity) (*Identity, error)
	SetRole(ctx context.Context, subject string, role Role) error
	SetActive(ctx context.Context, subject string, active bool) error
	UpdatePassword(ctx context.Context, subject, passwordHash string) error
	UpdateDisplayName(ctx context.Context, subject, displayName string) error
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const identityColumns = `id, subject, display_name, password_hash, role, is_active, created_at, updated_at`

// FindBySubject fetches an identity by subject. Malformed subjects never reach the database.
func (r *PGRepository) FindBySubject(ctx context.Context, subject string) (*Identity, error) {
	subject, err := NormalizeSubject(subject)
	if err != nil {
		return nil, err
	}
	row := r.pool.QueryRow(ctx, `SELECT `+identityColumns+` FROM users WHERE subject = $1`, subject)
	identity, err := scanIdentity(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("auth: find subject: %w", err)
	}
	return identity, nil
}

// Create inserts a new identity and returns the stored record.
func (r *PGRepository) Create(ctx context.Context, identity *Identity) (*Identity, error) {
	subject, err := NormalizeSubject(identity.Subject)
	if err != nil {
		return nil, err
	}
	if !identity.Role.Valid() {
		return nil, ErrInvalidRole
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO users (subject, display_name, password_hash, role, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
		RETURNING `+identityColumns,
		subject, identity.DisplayName, identity.PasswordHash, int16(identity.Role), identity.IsActive)
	created, err := scanIdentity(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrDuplicateSubject
		}
		return nil, fmt.Errorf("auth: create identity: %w", err)
	}
	return created, nil
}

// SetRole changes the tier of an identity.
func (r *PGRepository) SetRole(ctx context.Context, subject string, role Role) error {
	if !role.Valid() {
		return ErrInvalidRole
	}
	return r.update(ctx, "set role", `UPDATE users SET role = $2, updated_at = now() WHERE subject = $1`, subject, int16(role))
}

// SetActive enables or disables an identity. Identities are never deleted.
func (r *PGRepository) SetActive(ctx context.Context, subject string, active bool) error {
	return r.update(ctx, "set active", `UPDATE users SET is_active = $2, updated_at = now() WHERE subject = $1`, subject, active)
}

// UpdatePassword stores a new password hash.
func (r *PGRepository) UpdatePassword(ctx context.Context, subject, passwordHash string) error {
	return r.update(ctx, "update password", `UPDATE users SET password_hash = $2, updated_at = now() WHERE subject = $1`, subject, passwordHash)
}

// UpdateDisplayName stores a new display name.
func (r *PGRepository) UpdateDisplayName(ctx context.Context, subject, displayName string) error {
	return r.update(ctx, "update display name", `UPDATE users SET display_name = $2, updated_at = now() WHERE subject = $1`, subject, displayName)
}

func (r *PGRepository) update(ctx context.Context, op, query, subject string, value any) error {
	subject, err := NormalizeSubject(subject)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, query, subject, value)
	if err != nil {
		return fmt.Errorf("auth: %s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// ScanIdentity reads one identity row selected with the standard column list.
func scanIdentity(row pgx.Row) (*Identity, error) {
	var (
		identity Identity
		role     int16
	)
	if err := row.Scan(
		&identity.ID,
		&identity.Subject,
		&identity.DisplayName,
		&identity.PasswordHash,
		&role,
		&identity.IsActive,
		&identity.CreatedAt,
		&identity.UpdatedAt,
	); err != nil {
		return nil, err
	}
	identity.Role = Role(role)
	return &identity, nil
}

// IdentityColumns is the select list understood by ScanIdentity.
const IdentityColumns = identityColumns

// ScanIdentity reads one identity row selected with IdentityColumns.
func ScanIdentity(row pgx.Row) (*Identity, error) {
	return scanIdentity(row)
}

var _ Repository = (*PGRepository)(nil)
