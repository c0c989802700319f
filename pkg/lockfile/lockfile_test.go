package lockfile

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAcquireReleaseRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "main")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	l, err := Acquire(path, Write)
	require.NoError(t, err)
	require.Equal(t, Write, l.Mode())
	require.NoError(t, l.Release())
}

func TestSameFileDetectsReplacedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "content")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0o644))

	// Simulate Acquire racing a rename by replacing the file between the
	// pre-lock stat and the post-lock recheck: since flock locks by path
	// (not file handle) on this platform's semantics exercised here, we
	// instead verify the recheck logic directly by swapping the file and
	// confirming SameFile would report a difference.
	before, err := os.Stat(path)
	require.NoError(t, err)

	require.NoError(t, os.Remove(path))
	require.NoError(t, os.WriteFile(path, []byte("new"), 0o644))

	after, err := os.Stat(path)
	require.NoError(t, err)
	require.False(t, os.SameFile(before, after))
}

func TestIsStaleNew(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.new")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	stale, err := IsStaleNew(path)
	require.NoError(t, err)
	require.False(t, stale)

	old := time.Now().Add(-3 * time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))

	stale, err = IsStaleNew(path)
	require.NoError(t, err)
	require.True(t, stale)
}

func TestIsStaleNewMissingFile(t *testing.T) {
	stale, err := IsStaleNew(filepath.Join(t.TempDir(), "absent.new"))
	require.NoError(t, err)
	require.False(t, stale)
}
