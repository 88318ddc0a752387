package testutil

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// WriteFile creates path under dir with content, creating parent
// directories, and returns the absolute path.
func WriteFile(t testing.TB, dir, rel string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

// WriteSized creates a file of exactly size bytes filled with a repeating
// pattern derived from seed, so distinct seeds give distinct content.
func WriteSized(t testing.TB, dir, rel string, size int64, seed byte) string {
	t.Helper()
	return WriteFile(t, dir, rel, Pattern(size, seed))
}

// Pattern returns size bytes of deterministic content for seed.
func Pattern(size int64, seed byte) []byte {
	unit := []byte{seed, seed ^ 0x5a, seed + 1, 0x00, 'c', 'a', 'b'}
	buf := bytes.Repeat(unit, int(size)/len(unit)+1)
	return buf[:size]
}

// SetMtime sets both access and modification time of path.
func SetMtime(t testing.TB, path string, at time.Time) {
	t.Helper()
	require.NoError(t, os.Chtimes(path, at, at))
}

// Symlink creates link pointing at target.
func Symlink(t testing.TB, target, link string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(link), 0o755))
	require.NoError(t, os.Symlink(target, link))
}

// Unreadable removes all permissions from path and restores them on cleanup.
// Tests calling it should skip when running as root.
func Unreadable(t testing.TB, path string) {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.Chmod(path, 0))
	t.Cleanup(func() { _ = os.Chmod(path, info.Mode().Perm()) })
}

// SkipIfRoot skips tests that depend on permission errors.
func SkipIfRoot(t testing.TB) {
	t.Helper()
	if os.Geteuid() == 0 {
		t.Skip("permission checks are bypassed for root")
	}
}
