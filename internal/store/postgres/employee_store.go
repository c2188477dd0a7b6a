package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/opsengine/internal/models"
	"github.com/wolfeidau/opsengine/internal/store"
)

// EmployeeStore implements store.EmployeeStore using PostgreSQL.
type EmployeeStore struct {
	pool *pgxpool.Pool
}

// NewEmployeeStore creates a new PostgreSQL-backed employee store.
func NewEmployeeStore(pool *pgxpool.Pool) *EmployeeStore {
	return &EmployeeStore{pool: pool}
}

const employeeColumns = `id, name, email, role_id, role_name, status, created_at, updated_at`

func scanEmployee(row pgx.Row) (*models.Employee, error) {
	var e models.Employee
	if err := row.Scan(
		&e.ID,
		&e.Name,
		&e.Email,
		&e.RoleID,
		&e.RoleName,
		&e.Status,
		&e.CreatedAt,
		&e.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &e, nil
}

// GetEmployee retrieves an employee by ID.
func (s *EmployeeStore) GetEmployee(ctx context.Context, employeeID string) (*models.Employee, error) {
	e, err := scanEmployee(s.pool.QueryRow(ctx, `SELECT `+employeeColumns+` FROM employees WHERE id = $1`, employeeID))
	if err != nil {
		return nil, mapPostgresError(err)
	}
	return e, nil
}

// CreateEmployee inserts a new employee.
func (s *EmployeeStore) CreateEmployee(ctx context.Context, employee *models.Employee) error {
	status := employee.Status
	if status == "" {
		status = models.EmployeeStatusActive
	}

	err := s.pool.QueryRow(ctx, `
		INSERT INTO employees (id, name, email, role_id, role_name, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`, employee.ID, employee.Name, employee.Email, employee.RoleID, employee.RoleName, status).
		Scan(&employee.CreatedAt, &employee.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrAlreadyExists
		}
		return fmt.Errorf("failed to create employee: %w", mapPostgresError(err))
	}

	log.Debug().Str("employee_id", employee.ID).Msg("Created employee")
	return nil
}

// ListEmployees returns every employee ordered by name.
func (s *EmployeeStore) ListEmployees(ctx context.Context) ([]*models.Employee, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+employeeColumns+` FROM employees ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list employees: %w", mapPostgresError(err))
	}
	defer rows.Close()

	var out []*models.Employee
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan employee: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
