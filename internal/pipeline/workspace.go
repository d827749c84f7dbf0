package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// WorkspaceDir returns the scratch directory root for a video: {root}/{id}.
func WorkspaceDir(root string, id uuid.UUID) string {
	return filepath.Join(root, id.String())
}

// workspace is the scratch directory of one run, {root}/{id}/{version}-{run}. Only the run that acquired
// it touches it; duplicate deliveries of the same version each get their own.
type workspace struct {
	parent string
	dir    string
}

// acquireWorkspace creates a fresh workspace. Directories of older versions are removed first, and so are
// same-version directories untouched for longer than ttl, which only a crashed attempt leaves behind.
func acquireWorkspace(root string, id uuid.UUID, version int64, ttl time.Duration) (*workspace, error) {
	parent := WorkspaceDir(root, id)
	entries, err := os.ReadDir(parent)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read workspace root: %w", err)
	}
	cutoff := time.Now().Add(-ttl)
	for _, e := range entries {
		if !abandoned(e, version, cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(parent, e.Name())); err != nil {
			return nil, fmt.Errorf("remove stale workspace: %w", err)
		}
	}
	name := strconv.FormatInt(version, 10) + "-" + uuid.NewString()
	ws := &workspace{parent: parent, dir: filepath.Join(parent, name)}
	if err := os.MkdirAll(ws.outputDir(), 0o755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	return ws, nil
}

// abandoned reports whether a directory under {root}/{id} can be removed by a run of version.
func abandoned(e os.DirEntry, version int64, cutoff time.Time) bool {
	prefix, _, _ := strings.Cut(e.Name(), "-")
	n, err := strconv.ParseInt(prefix, 10, 64)
	if err != nil || n < version {
		return true
	}
	if n > version {
		return false
	}
	info, err := e.Info()
	if err != nil {
		return false
	}
	return info.ModTime().Before(cutoff)
}

func (w *workspace) sourcePath(ext string) string {
	if ext == "" {
		ext = ".mp4"
	}
	return filepath.Join(w.dir, "source"+ext)
}

func (w *workspace) outputDir() string {
	return filepath.Join(w.dir, "hls")
}

// release deletes the workspace, and the per-video directory once no other run uses it.
func (w *workspace) release() error {
	if err := os.RemoveAll(w.dir); err != nil {
		return err
	}
	// Fails harmlessly while another run still owns a sibling directory.
	_ = os.Remove(w.parent)
	return nil
}
