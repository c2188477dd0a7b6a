package auth

import (
	"sort"
	"strings"

	"github.com/wolfeidau/opsengine/internal/apperr"
	"github.com/wolfeidau/opsengine/internal/models"
)

// RoleSet indexes a role catalog for resolution.
type RoleSet struct {
	byID   map[string]*models.Role
	byName map[string]*models.Role
	def    *models.Role
}

// NewRoleSet builds a RoleSet. When several roles are flagged default the
// first by name wins.
func NewRoleSet(roles []*models.Role) *RoleSet {
	sorted := append([]*models.Role(nil), roles...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	rs := &RoleSet{
		byID:   make(map[string]*models.Role, len(roles)),
		byName: make(map[string]*models.Role, len(roles)),
	}
	for _, r := range sorted {
		rs.byID[r.ID] = r
		key := strings.ToLower(strings.TrimSpace(r.Name))
		if _, taken := rs.byName[key]; !taken {
			rs.byName[key] = r
		}
		if r.IsDefault && rs.def == nil {
			rs.def = r
		}
	}
	return rs
}

// Default returns the role assigned to newly provisioned employees.
func (rs *RoleSet) Default() *models.Role {
	if rs == nil {
		return nil
	}
	return rs.def
}

// Get returns the role with the given ID.
func (rs *RoleSet) Get(id string) (*models.Role, bool) {
	if rs == nil {
		return nil, false
	}
	r, ok := rs.byID[id]
	return r, ok
}

// Len returns the number of roles.
func (rs *RoleSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.byID)
}

// ResolvePrincipalRole picks the role of an employee: the stored role ID,
// then the legacy role name, then the default role. It never falls back to
// a full-access role that is not explicitly referenced or marked default.
func ResolvePrincipalRole(employee *models.Employee, roles *RoleSet) (*models.Role, error) {
	if employee == nil {
		return nil, apperr.New(apperr.KindAuthentication, "no principal")
	}
	if !employee.IsActive() {
		return nil, apperr.New(apperr.KindAuthorization, "employee %s is inactive", employee.ID)
	}

	if employee.RoleID != nil && *employee.RoleID != "" {
		if r, ok := roles.Get(*employee.RoleID); ok {
			return r, nil
		}
	}

	if name := strings.ToLower(strings.TrimSpace(employee.RoleName)); name != "" && roles != nil {
		if r, ok := roles.byName[name]; ok {
			return r, nil
		}
	}

	if r := roles.Default(); r != nil {
		return r, nil
	}

	return nil, apperr.New(apperr.KindAuthorization, "no role resolvable for employee %s", employee.ID)
}
