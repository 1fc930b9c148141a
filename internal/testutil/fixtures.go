package testutil

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Logger returns a logger that only reports errors, keeping test output quiet.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// WriteFile writes content to path, creating missing parent directories.
func WriteFile(t testing.TB, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755), "create parent of %s", path)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644), "write %s", path)
}

// Mkdir creates path and any missing parents.
func Mkdir(t testing.TB, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(path, 0o755), "create %s", path)
}

// Symlink creates a symlink at path pointing to link, creating missing
// parent directories.
func Symlink(t testing.TB, link, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755), "create parent of %s", path)
	require.NoError(t, os.Symlink(link, path), "symlink %s -> %s", path, link)
}

// Touch sets the modification time of path.
func Touch(t testing.TB, path string, mtime time.Time) {
	t.Helper()
	require.NoError(t, os.Chtimes(path, mtime, mtime), "set mtime of %s", path)
}

// Roots creates the source, index and target locations for a backup under a
// fresh temporary directory. Only the source directory is created.
func Roots(t testing.TB) (source, index, target string) {
	t.Helper()
	dir := t.TempDir()
	source = filepath.Join(dir, "source")
	Mkdir(t, source)
	return source, filepath.Join(dir, "index"), filepath.Join(dir, "target")
}
