package auth

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/opsengine/internal/apperr"
	"github.com/wolfeidau/opsengine/internal/models"
)

func strPtr(s string) *string { return &s }

func TestResolvePrincipalRole(t *testing.T) {
	admin := &models.Role{ID: "admin", Name: "Administrator", FullAccess: true}
	supervisor := &models.Role{ID: "supervisor", Name: "Supervisor"}
	employee := &models.Role{ID: "employee", Name: "Employee", IsDefault: true}
	roles := NewRoleSet([]*models.Role{admin, supervisor, employee})

	tests := []struct {
		name     string
		employee *models.Employee
		expected string
	}{
		{name: "by role id", employee: &models.Employee{ID: "e1", RoleID: strPtr("supervisor")}, expected: "supervisor"},
		{name: "dangling id falls back to name", employee: &models.Employee{ID: "e2", RoleID: strPtr("gone"), RoleName: " supervisor "}, expected: "supervisor"},
		{name: "name only", employee: &models.Employee{ID: "e3", RoleName: "ADMINISTRATOR"}, expected: "admin"},
		{name: "unknown name falls back to default", employee: &models.Employee{ID: "e4", RoleName: "janitor"}, expected: "employee"},
		{name: "nothing stored uses default", employee: &models.Employee{ID: "e5"}, expected: "employee"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			role, err := ResolvePrincipalRole(tt.employee, roles)
			require.NoError(t, err)
			require.Equal(t, tt.expected, role.ID)
		})
	}

	t.Run("no default is an authorization failure", func(t *testing.T) {
		noDefault := NewRoleSet([]*models.Role{admin, supervisor})
		role, err := ResolvePrincipalRole(&models.Employee{ID: "e6", RoleName: "janitor"}, noDefault)
		require.Nil(t, role)
		require.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))
	})

	t.Run("inactive employee is denied", func(t *testing.T) {
		_, err := ResolvePrincipalRole(&models.Employee{ID: "e7", RoleID: strPtr("admin"), Status: models.EmployeeStatusInactive}, roles)
		require.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))
	})

	t.Run("empty role set", func(t *testing.T) {
		_, err := ResolvePrincipalRole(&models.Employee{ID: "e8"}, nil)
		require.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))
	})
}
