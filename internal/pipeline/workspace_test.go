package pipeline

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkspacesOfSameVersionCoexist(t *testing.T) {
	root := t.TempDir()
	id := uuid.New()

	a, err := acquireWorkspace(root, id, 3, time.Hour)
	require.NoError(t, err)
	marker := filepath.Join(a.outputDir(), "1080p_000.ts")
	require.NoError(t, os.WriteFile(marker, []byte("a"), 0o644))

	b, err := acquireWorkspace(root, id, 3, time.Hour)
	require.NoError(t, err)
	assert.NotEqual(t, a.dir, b.dir)
	assert.FileExists(t, marker)

	require.NoError(t, b.release())
	assert.FileExists(t, marker)
	assert.DirExists(t, WorkspaceDir(root, id))

	require.NoError(t, a.release())
	assert.NoDirExists(t, WorkspaceDir(root, id))
}

func TestAcquireWorkspaceSweepsOlderVersions(t *testing.T) {
	root := t.TempDir()
	id := uuid.New()
	parent := WorkspaceDir(root, id)
	for _, name := range []string{"1-old", "2", "garbage", "5-newer"} {
		require.NoError(t, os.MkdirAll(filepath.Join(parent, name, "hls"), 0o755))
	}

	ws, err := acquireWorkspace(root, id, 4, time.Hour)
	require.NoError(t, err)
	defer ws.release()

	assert.NoDirExists(t, filepath.Join(parent, "1-old"))
	assert.NoDirExists(t, filepath.Join(parent, "2"))
	assert.NoDirExists(t, filepath.Join(parent, "garbage"))
	assert.DirExists(t, filepath.Join(parent, "5-newer"))
	assert.DirExists(t, ws.outputDir())
}

func TestAcquireWorkspaceSweepsExpiredSameVersion(t *testing.T) {
	root := t.TempDir()
	id := uuid.New()
	parent := WorkspaceDir(root, id)
	crashed := filepath.Join(parent, "4-crashed")
	live := filepath.Join(parent, "4-live")
	require.NoError(t, os.MkdirAll(crashed, 0o755))
	require.NoError(t, os.MkdirAll(live, 0o755))
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(crashed, old, old))

	ws, err := acquireWorkspace(root, id, 4, 24*time.Hour)
	require.NoError(t, err)
	defer ws.release()

	assert.NoDirExists(t, crashed)
	assert.DirExists(t, live)
}
