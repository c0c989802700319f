package mirror

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/eirikba/ebakup/pkg/config"
	"github.com/eirikba/ebakup/pkg/manifest"
	"github.com/eirikba/ebakup/pkg/storage"
	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) *storage.Storage {
	t.Helper()
	st, err := storage.Create(t.TempDir(), config.Default())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestSyncCopiesSnapshotAndContent(t *testing.T) {
	ctx := context.Background()
	src := newTestStorage(t)
	dst := newTestStorage(t)

	c, err := src.AddContent(ctx, strings.NewReader("mirrored body"))
	require.NoError(t, err)

	start := time.Date(2026, 1, 2, 3, 4, 0, 0, time.UTC)
	b, err := src.StartSnapshot(start)
	require.NoError(t, err)
	b.AddFilePath("a.txt", 13, start, c, manifest.TypeRegular, nil)
	require.NoError(t, b.Finalize(start))

	report, err := Sync(ctx, src, dst)
	require.NoError(t, err)
	require.Equal(t, 1, report.SnapshotsCopied)
	require.Equal(t, 1, report.ObjectsCopied)

	dstSnaps, err := dst.Snapshots()
	require.NoError(t, err)
	require.Len(t, dstSnaps, 1)
	require.Equal(t, "2026/01-02T03:04", dstSnaps[0].Name)

	has, err := dst.ContentIndex().Has(c)
	require.NoError(t, err)
	require.True(t, has)
}

func TestSyncIsIdempotentAndResumable(t *testing.T) {
	ctx := context.Background()
	src := newTestStorage(t)
	dst := newTestStorage(t)

	c, err := src.AddContent(ctx, strings.NewReader("resumable body"))
	require.NoError(t, err)
	start := time.Date(2026, 1, 2, 3, 4, 0, 0, time.UTC)
	b, err := src.StartSnapshot(start)
	require.NoError(t, err)
	b.AddFilePath("a.txt", 14, start, c, manifest.TypeRegular, nil)
	require.NoError(t, b.Finalize(start))

	_, err = Sync(ctx, src, dst)
	require.NoError(t, err)

	second, err := src.StartSnapshot(start.Add(time.Hour))
	require.NoError(t, err)
	second.AddFilePath("b.txt", 14, start.Add(time.Hour), c, manifest.TypeRegular, nil)
	require.NoError(t, second.Finalize(start.Add(time.Hour)))

	report, err := Sync(ctx, src, dst)
	require.NoError(t, err)
	require.Equal(t, 1, report.SnapshotsCopied) // only the new snapshot, not re-copied
	require.Equal(t, 0, report.ObjectsCopied)    // content already present in dst

	dstSnaps, err := dst.Snapshots()
	require.NoError(t, err)
	require.Len(t, dstSnaps, 2)
}

func TestSyncManifestIsByteIdentical(t *testing.T) {
	ctx := context.Background()
	src := newTestStorage(t)
	dst := newTestStorage(t)

	c, err := src.AddContent(ctx, strings.NewReader("identical body"))
	require.NoError(t, err)
	start := time.Date(2026, 1, 2, 3, 4, 0, 0, time.UTC)
	b, err := src.StartSnapshot(start)
	require.NoError(t, err)
	b.AddFilePath("a.txt", 14, start, c, manifest.TypeRegular, nil)
	require.NoError(t, b.Finalize(start))

	_, err = Sync(ctx, src, dst)
	require.NoError(t, err)

	srcBytes, err := os.ReadFile(filepath.Join(src.DBDir(), "2026/01-02T03:04"))
	require.NoError(t, err)
	dstBytes, err := os.ReadFile(filepath.Join(dst.DBDir(), "2026/01-02T03:04"))
	require.NoError(t, err)
	require.Equal(t, srcBytes, dstBytes)
}
