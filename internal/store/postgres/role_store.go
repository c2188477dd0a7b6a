package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wolfeidau/opsengine/internal/models"
)

// RoleStore implements store.RoleStore using PostgreSQL.
type RoleStore struct {
	pool *pgxpool.Pool
}

// NewRoleStore creates a new PostgreSQL-backed role store.
func NewRoleStore(pool *pgxpool.Pool) *RoleStore {
	return &RoleStore{pool: pool}
}

const roleColumns = `id, name, description, full_access, is_default, capabilities, created_at, updated_at`

func scanRole(row pgx.Row) (*models.Role, error) {
	var r models.Role
	if err := row.Scan(
		&r.ID,
		&r.Name,
		&r.Description,
		&r.FullAccess,
		&r.IsDefault,
		&r.Capabilities,
		&r.CreatedAt,
		&r.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if r.Capabilities == nil {
		r.Capabilities = map[string]bool{}
	}
	return &r, nil
}

// ListRoles returns every role ordered by name.
func (s *RoleStore) ListRoles(ctx context.Context) ([]*models.Role, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+roleColumns+` FROM roles ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", mapPostgresError(err))
	}
	defer rows.Close()

	var roles []*models.Role
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, r)
	}
	return roles, rows.Err()
}

// GetRole retrieves a role by ID.
func (s *RoleStore) GetRole(ctx context.Context, roleID string) (*models.Role, error) {
	r, err := scanRole(s.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, roleID))
	if err != nil {
		return nil, mapPostgresError(err)
	}
	return r, nil
}

// UpsertRole creates or replaces a role by ID.
func (s *RoleStore) UpsertRole(ctx context.Context, role *models.Role) error {
	caps := role.Capabilities
	if caps == nil {
		caps = map[string]bool{}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO roles (id, name, description, full_access, is_default, capabilities)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			full_access = EXCLUDED.full_access,
			is_default = EXCLUDED.is_default,
			capabilities = EXCLUDED.capabilities,
			updated_at = now()
	`, role.ID, role.Name, role.Description, role.FullAccess, role.IsDefault, caps)
	if err != nil {
		return fmt.Errorf("failed to upsert role: %w", mapPostgresError(err))
	}
	return nil
}
