package postgres

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/require"
)

func TestLoadMigrations(t *testing.T) {
	t.Run("embedded", func(t *testing.T) {
		migrations, err := loadMigrations(migrationsFS, "migrations")
		require.NoError(t, err)
		require.NotEmpty(t, migrations)
		require.Equal(t, 1, migrations[0].version)
		require.Contains(t, migrations[0].sql, "CREATE TABLE")
	})

	t.Run("sorted by version", func(t *testing.T) {
		fsys := fstest.MapFS{
			"m/10_later.sql":  {Data: []byte("SELECT 10")},
			"m/2_second.sql":  {Data: []byte("SELECT 2")},
			"m/1_initial.sql": {Data: []byte("SELECT 1")},
			"m/README.md":     {Data: []byte("ignored")},
		}
		migrations, err := loadMigrations(fsys, "m")
		require.NoError(t, err)
		require.Len(t, migrations, 3)
		require.Equal(t, []int{1, 2, 10}, []int{migrations[0].version, migrations[1].version, migrations[2].version})
		require.Equal(t, "SELECT 10", migrations[2].sql)
	})

	tests := []struct {
		name string
		fsys fstest.MapFS
	}{
		{name: "missing version", fsys: fstest.MapFS{"m/initial.sql": {Data: []byte("x")}}},
		{name: "non numeric version", fsys: fstest.MapFS{"m/one_initial.sql": {Data: []byte("x")}}},
		{name: "duplicate version", fsys: fstest.MapFS{
			"m/1_a.sql": {Data: []byte("x")},
			"m/1_b.sql": {Data: []byte("y")},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadMigrations(tt.fsys, "m")
			require.Error(t, err)
		})
	}
}
