package users

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dpm-admin/dpm-api/internal/auth"
	"github.com/dpm-admin/dpm-api/internal/platform/db"
)

// Repository provides PostgreSQL backed listing and statistics.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// List returns one page of identities and the total matching count. Both
// queries read the same snapshot.
func (r *Repository) List(ctx context.Context, filter Filter) ([]auth.Identity, int, error) {
	where, args := filterClause(filter)
	var (
		total int
		items []auth.Identity
	)
	err := db.ReadSnapshot(ctx, r.pool, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `SELECT count(*) FROM users`+where, args...).Scan(&total); err != nil {
			return fmt.Errorf("count users: %w", err)
		}
		limit := len(args) + 1
		query := fmt.Sprintf(`SELECT %s FROM users%s ORDER BY subject LIMIT $%d OFFSET $%d`,
			auth.IdentityColumns, where, limit, limit+1)
		rows, err := tx.Query(ctx, query, append(args, filter.PerPage, (filter.Page-1)*filter.PerPage)...)
		if err != nil {
			return fmt.Errorf("list users: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			identity, err := auth.ScanIdentity(rows)
			if err != nil {
				return fmt.Errorf("scan user: %w", err)
			}
			items = append(items, *identity)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, 0, fmt.Errorf("users: %w", err)
	}
	return items, total, nil
}

// Stats counts identities per tier and status.
func (r *Repository) Stats(ctx context.Context) (Stats, error) {
	rows, err := r.pool.Query(ctx, `SELECT role, is_active, count(*) FROM users GROUP BY role, is_active`)
	if err != nil {
		return Stats{}, fmt.Errorf("users: stats: %w", err)
	}
	defer rows.Close()
	stats := Stats{ByRole: make(map[string]int)}
	for rows.Next() {
		var (
			role   int16
			active bool
			count  int
		)
		if err := rows.Scan(&role, &active, &count); err != nil {
			return Stats{}, fmt.Errorf("users: scan stats: %w", err)
		}
		stats.add(auth.Role(role), active, count)
	}
	return stats, rows.Err()
}

func (s *Stats) add(role auth.Role, active bool, count int) {
	s.Total += count
	if active {
		s.Active += count
	} else {
		s.Inactive += count
	}
	s.ByRole[role.String()] += count
}

func filterClause(filter Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if filter.Role != 0 {
		args = append(args, int16(filter.Role))
		conds = append(conds, fmt.Sprintf("role = $%d", len(args)))
	}
	if filter.Active != nil {
		args = append(args, *filter.Active)
		conds = append(conds, fmt.Sprintf("is_active = $%d", len(args)))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
