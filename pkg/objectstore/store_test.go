package objectstore

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/eirikba/ebakup/pkg/checksum"
	"github.com/eirikba/ebakup/pkg/cid"
	"github.com/stretchr/testify/require"
)

// fakeIndex is an in-memory stand-in for *contentindex.Index, letting
// these tests exercise the object store's dedup/collision logic without
// an on-disk content index file.
type fakeIndex struct {
	mu      sync.Mutex
	byCK    map[string][]cid.CID
	present map[string]bool
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{byCK: make(map[string][]cid.CID), present: make(map[string]bool)}
}

func (f *fakeIndex) LookupByChecksum(ck []byte) ([]cid.CID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byCK[string(ck)], nil
}

func (f *fakeIndex) Has(c cid.CID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.present[string(c)], nil
}

func (f *fakeIndex) Add(_ context.Context, c cid.CID, ck []byte, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.present[string(c)] = true
	f.byCK[string(ck)] = append(f.byCK[string(ck)], c)
	return nil
}

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	root := t.TempDir()
	contentDir := filepath.Join(root, "content")
	tmpDir := filepath.Join(root, "tmp")
	require.NoError(t, os.MkdirAll(contentDir, 0o755))
	require.NoError(t, os.MkdirAll(tmpDir, 0o755))
	return New(contentDir, tmpDir, newFakeIndex(), 1<<10), contentDir
}

func TestAddDedupesIdenticalContent(t *testing.T) {
	store, _ := newTestStore(t)

	c1, err := store.Add(context.Background(), strings.NewReader("hello world"), checksum.SHA256)
	require.NoError(t, err)

	c2, err := store.Add(context.Background(), strings.NewReader("hello world"), checksum.SHA256)
	require.NoError(t, err)

	require.True(t, c1.Equal(c2))
}

func TestAddDistinctContentGetsDistinctCIDs(t *testing.T) {
	store, _ := newTestStore(t)

	c1, err := store.Add(context.Background(), strings.NewReader("alpha"), checksum.SHA256)
	require.NoError(t, err)
	c2, err := store.Add(context.Background(), strings.NewReader("beta"), checksum.SHA256)
	require.NoError(t, err)

	require.False(t, c1.Equal(c2))
}

func TestAddSpillsPastMaxBuffer(t *testing.T) {
	store, _ := newTestStore(t)
	store.maxBuf = 8 // force spilling on anything bigger

	payload := bytes.Repeat([]byte("x"), 1000)
	c, err := store.Add(context.Background(), bytes.NewReader(payload), checksum.SHA256)
	require.NoError(t, err)

	f, err := store.Open(c)
	require.NoError(t, err)
	defer f.Close()

	got := make([]byte, len(payload))
	_, err = io.ReadFull(f, got)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestVerifyContentDetectsMismatch(t *testing.T) {
	store, _ := newTestStore(t)

	c, err := store.Add(context.Background(), strings.NewReader("original"), checksum.SHA256)
	require.NoError(t, err)

	ok, err := store.VerifyContent(c, checksum.SHA256, []byte("not the right digest"))
	require.NoError(t, err)
	require.False(t, ok)

	want, err := checksum.Sum(checksum.SHA256, []byte("original"))
	require.NoError(t, err)
	ok, err = store.VerifyContent(c, checksum.SHA256, want)
	require.NoError(t, err)
	require.True(t, ok)
}
