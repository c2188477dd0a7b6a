package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/wolfeidau/opsengine/internal/models"
	"github.com/wolfeidau/opsengine/internal/store"
)

// EmployeeStore implements store.EmployeeStore using in-memory storage.
type EmployeeStore struct {
	mu        sync.RWMutex
	employees map[string]*models.Employee
}

// NewEmployeeStore creates a new in-memory employee store.
func NewEmployeeStore() *EmployeeStore {
	return &EmployeeStore{
		employees: make(map[string]*models.Employee),
	}
}

func cloneEmployee(e *models.Employee) *models.Employee {
	clone := *e
	if e.RoleID != nil {
		id := *e.RoleID
		clone.RoleID = &id
	}
	return &clone
}

// GetEmployee retrieves an employee by ID.
func (s *EmployeeStore) GetEmployee(ctx context.Context, employeeID string) (*models.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.employees[employeeID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneEmployee(e), nil
}

// CreateEmployee stores a new employee.
func (s *EmployeeStore) CreateEmployee(ctx context.Context, employee *models.Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.employees[employee.ID]; exists {
		return store.ErrAlreadyExists
	}

	clone := cloneEmployee(employee)
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	if clone.UpdatedAt.IsZero() {
		clone.UpdatedAt = clone.CreatedAt
	}
	s.employees[employee.ID] = clone
	return nil
}

// ListEmployees returns every employee ordered by name.
func (s *EmployeeStore) ListEmployees(ctx context.Context) ([]*models.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Employee, 0, len(s.employees))
	for _, e := range s.employees {
		out = append(out, cloneEmployee(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
