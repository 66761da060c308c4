package db

import (
	"io/fs"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMigrationsOrdersByVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"010_later.sql":  {Data: []byte("SELECT 10;")},
		"002_second.sql": {Data: []byte("SELECT 2;")},
		"001_first.sql":  {Data: []byte("SELECT 1;")},
		"README.md":      {Data: []byte("notes")},
		"draft.sql":      {Data: []byte("SELECT 0;")},
		"x_bad.sql":      {Data: []byte("SELECT 0;")},
	}

	migs, err := LoadMigrations(fsys)
	require.NoError(t, err)
	require.Len(t, migs, 3)

	assert.Equal(t, []int{1, 2, 10}, []int{migs[0].Version, migs[1].Version, migs[2].Version})
	assert.Equal(t, "001_first.sql", migs[0].Name)
	assert.Equal(t, "SELECT 10;", migs[2].SQL)
}

func TestLoadMigrationsRejectsDuplicateVersions(t *testing.T) {
	fsys := fstest.MapFS{
		"001_a.sql":  {Data: []byte("SELECT 1;")},
		"0001_b.sql": {Data: []byte("SELECT 1;")},
	}

	_, err := LoadMigrations(fsys)
	assert.ErrorContains(t, err, "duplicate migration version 1")
}

func TestEmbeddedSchemaHasActiveSlotIndex(t *testing.T) {
	sub, err := fs.Sub(embedded, "migrations")
	require.NoError(t, err)

	migs, err := LoadMigrations(sub)
	require.NoError(t, err)
	require.NotEmpty(t, migs)
	assert.Equal(t, 1, migs[0].Version)

	var all strings.Builder
	for _, m := range migs {
		all.WriteString(m.SQL)
	}
	schema := all.String()
	assert.Contains(t, schema, "appointments_active_slot_key")
	assert.Contains(t, schema, "WHERE status = 'scheduled'")
	assert.Contains(t, schema, "doctor_status_history")
}
