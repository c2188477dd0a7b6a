package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/opsengine/internal/models"
	"github.com/wolfeidau/opsengine/internal/store"
)

func TestRoleStore_UpsertRole(t *testing.T) {
	ctx := context.Background()
	st := NewRoleStore()

	role := &models.Role{ID: "r1", Name: "Storekeeper", Capabilities: map[string]bool{"inventory:view": true}}
	require.NoError(t, st.UpsertRole(ctx, role))

	role.Capabilities["inventory:manage"] = true
	got, err := st.GetRole(ctx, "r1")
	require.NoError(t, err)
	require.False(t, got.Capabilities["inventory:manage"], "stored role must not alias the caller's map")

	got.Capabilities["inventory:manage"] = true
	require.NoError(t, st.UpsertRole(ctx, got))

	roles, err := st.ListRoles(ctx)
	require.NoError(t, err)
	require.Len(t, roles, 1)
	require.True(t, roles[0].Capabilities["inventory:manage"])

	_, err = st.GetRole(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestEmployeeStore_CreateEmployee(t *testing.T) {
	ctx := context.Background()
	st := NewEmployeeStore()

	require.NoError(t, st.CreateEmployee(ctx, &models.Employee{ID: "e1", Name: "Ana"}))
	require.ErrorIs(t, st.CreateEmployee(ctx, &models.Employee{ID: "e1", Name: "Ana"}), store.ErrAlreadyExists)

	e, err := st.GetEmployee(ctx, "e1")
	require.NoError(t, err)
	require.False(t, e.CreatedAt.IsZero())
}
