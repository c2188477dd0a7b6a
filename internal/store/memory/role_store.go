package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/wolfeidau/opsengine/internal/models"
	"github.com/wolfeidau/opsengine/internal/store"
)

// RoleStore implements store.RoleStore using in-memory storage.
// This implementation is for testing and development - data is lost on restart.
type RoleStore struct {
	mu    sync.RWMutex
	roles map[string]*models.Role // role_id -> Role
}

// NewRoleStore creates a new in-memory role store.
func NewRoleStore() *RoleStore {
	return &RoleStore{
		roles: make(map[string]*models.Role),
	}
}

// ListRoles returns every role ordered by name.
func (s *RoleStore) ListRoles(ctx context.Context) ([]*models.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	roles := make([]*models.Role, 0, len(s.roles))
	for _, r := range s.roles {
		roles = append(roles, r.Clone())
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i].Name < roles[j].Name })
	return roles, nil
}

// GetRole retrieves a role by ID.
func (s *RoleStore) GetRole(ctx context.Context, roleID string) (*models.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.roles[roleID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return r.Clone(), nil
}

// UpsertRole creates or replaces a role.
func (s *RoleStore) UpsertRole(ctx context.Context, role *models.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	clone := role.Clone()
	if existing, ok := s.roles[role.ID]; ok {
		clone.CreatedAt = existing.CreatedAt
	} else if clone.CreatedAt.IsZero() {
		clone.CreatedAt = now
	}
	clone.UpdatedAt = now
	s.roles[role.ID] = clone
	return nil
}
