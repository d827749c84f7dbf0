package database

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrations(t *testing.T) {
	names, err := migrationNames(migrationsFS)
	require.NoError(t, err)
	assert.Equal(t, []string{"001_videos.sql"}, names)

	sql, err := migrationsFS.ReadFile("migrations/001_videos.sql")
	require.NoError(t, err)
	assert.Contains(t, string(sql), "version        BIGINT NOT NULL DEFAULT 1")
}

func TestMigrationOrder(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/010_late.sql":  {Data: []byte("--")},
		"migrations/002_next.sql":  {Data: []byte("--")},
		"migrations/001_first.sql": {Data: []byte("--")},
		"migrations/README.md":     {Data: []byte("notes")},
	}
	names, err := migrationNames(fsys)
	require.NoError(t, err)
	assert.Equal(t, []string{"001_first.sql", "002_next.sql", "010_late.sql"}, names)

	assert.Equal(t, []string{"002_next.sql", "010_late.sql"}, pending(names, map[string]bool{"001_first.sql": true}))
	assert.Empty(t, pending(names, map[string]bool{"001_first.sql": true, "002_next.sql": true, "010_late.sql": true}))
}
