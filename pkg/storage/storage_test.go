package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/eirikba/ebakup/pkg/config"
	"github.com/eirikba/ebakup/pkg/lockfile"
	"github.com/eirikba/ebakup/pkg/manifest"
	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	root := t.TempDir()
	st, err := Create(root, config.Default())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestCreateRefusesNonEmptyRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "stray"), []byte("x"), 0o644))
	_, err := Create(root, config.Default())
	require.Error(t, err)
}

func TestCreateThenOpenRoundTrip(t *testing.T) {
	root := t.TempDir()
	st, err := Create(root, config.Default())
	require.NoError(t, err)
	require.NoError(t, st.Close())

	reopened, err := Open(root)
	require.NoError(t, err)
	defer reopened.Close()
	require.Equal(t, config.Default().ChecksumAlgo, reopened.Config().ChecksumAlgo)
	require.Equal(t, config.Default().BlockSize, reopened.Config().BlockSize)
}

func TestAddContentDedupesAcrossCalls(t *testing.T) {
	st := newTestStorage(t)
	ctx := context.Background()

	c1, err := st.AddContent(ctx, strings.NewReader("hello world"))
	require.NoError(t, err)
	c2, err := st.AddContent(ctx, strings.NewReader("hello world"))
	require.NoError(t, err)
	require.True(t, c1.Equal(c2))

	info, ok, err := st.index.Lookup(c1)
	require.NoError(t, err)
	require.True(t, ok)

	matches, err := st.ObjectStore().VerifyContent(c1, st.Config().ChecksumAlgo, info.Checksum)
	require.NoError(t, err)
	require.True(t, matches)
}

func TestStartSnapshotFinalizeRoundTrip(t *testing.T) {
	st := newTestStorage(t)
	ctx := context.Background()

	cid, err := st.AddContent(ctx, strings.NewReader("file body"))
	require.NoError(t, err)

	start := time.Date(2026, 1, 2, 3, 4, 0, 0, time.UTC)
	b, err := st.StartSnapshot(start)
	require.NoError(t, err)
	b.AddFilePath("docs/readme.txt", 9, start, cid, manifest.TypeRegular, nil)
	require.NoError(t, b.Finalize(start.Add(time.Second)))

	snaps, err := st.Snapshots()
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	require.Equal(t, "2026/01-02T03:04", snaps[0].Name)

	r, err := st.Snapshot(snaps[0].Name)
	require.NoError(t, err)
	dirs, files := r.ListDir(manifest.RootDirID)
	require.Len(t, files, 0) // root has only the docs/ directory, not the file itself
	require.Len(t, dirs, 1)
	require.Equal(t, "docs", dirs[0].Name)
	_, docFiles := r.ListDir(dirs[0].ID)
	require.Len(t, docFiles, 1)
	require.Equal(t, "readme.txt", docFiles[0].Name)
}

func TestStartSnapshotRejectsDuplicateSlot(t *testing.T) {
	st := newTestStorage(t)
	start := time.Date(2026, 1, 2, 3, 4, 0, 0, time.UTC)

	b, err := st.StartSnapshot(start)
	require.NoError(t, err)
	require.NoError(t, b.Finalize(start))

	_, err = st.StartSnapshot(start)
	require.Error(t, err)
}

func TestLockMainThenAlsoReleasesLIFO(t *testing.T) {
	st := newTestStorage(t)

	ls, err := st.LockMain(lockfile.Read)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(st.dbDir, "extra"), []byte("x"), 0o644))
	require.NoError(t, ls.LockAlso("extra", lockfile.Read))
	require.NoError(t, ls.Release())
}

func TestShadowCopyHardLinksRegularFiles(t *testing.T) {
	st := newTestStorage(t)
	ctx := context.Background()

	cid, err := st.AddContent(ctx, strings.NewReader("shadow me"))
	require.NoError(t, err)

	start := time.Date(2026, 1, 2, 3, 4, 0, 0, time.UTC)
	b, err := st.StartSnapshot(start)
	require.NoError(t, err)
	b.AddFilePath("a.txt", 9, start, cid, manifest.TypeRegular, nil)
	require.NoError(t, b.Finalize(start))

	snaps, err := st.Snapshots()
	require.NoError(t, err)

	target := t.TempDir()
	require.NoError(t, st.ShadowCopy(snaps[0].Name, target))

	body, err := os.ReadFile(filepath.Join(target, "a.txt"))
	require.NoError(t, err)
	require.Equal(t, "shadow me", string(body))
}

func TestVerifyRecordsCleanRun(t *testing.T) {
	st := newTestStorage(t)
	ctx := context.Background()

	cid, err := st.AddContent(ctx, strings.NewReader("verify me"))
	require.NoError(t, err)

	start := time.Date(2026, 1, 2, 3, 4, 0, 0, time.UTC)
	b, err := st.StartSnapshot(start)
	require.NoError(t, err)
	b.AddFilePath("a.txt", 9, start, cid, manifest.TypeRegular, nil)
	require.NoError(t, b.Finalize(start))

	report, err := st.Verify(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.SnapshotsChecked)
	require.Equal(t, 1, report.ObjectsChecked)
	require.Empty(t, report.BrokenBlocks)
	require.Empty(t, report.MissingCIDs)
	require.Empty(t, report.BadChecksums)
}
