package manifest

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/eirikba/ebakup/pkg/checksum"
	"github.com/eirikba/ebakup/pkg/cid"
	"github.com/eirikba/ebakup/pkg/extras"
	"github.com/stretchr/testify/require"
)

func TestBuilderReaderRoundTrip(t *testing.T) {
	dir := t.TempDir()
	newPath := filepath.Join(dir, "01-02T03:04.new")
	finalPath := filepath.Join(dir, "01-02T03:04")

	start := time.Date(2025, 1, 2, 3, 4, 5, 0, time.Local)
	end := start.Add(2 * time.Minute)

	b, err := NewBuilder(newPath, finalPath, 256, checksum.SHA256, start)
	require.NoError(t, err)

	aCID := cid.CID([]byte{1, 2, 3, 4})
	bCID := cid.CID([]byte{5, 6, 7, 8})

	b.AddFilePath("a.txt", 5, start, aCID, TypeRegular, nil)
	b.AddFilePath("sub/b.txt", 5, start, bCID, TypeRegular, map[string]string{"owner": "alice"})

	require.NoError(t, b.Finalize(end))

	r, err := Open(finalPath)
	require.NoError(t, err)

	require.True(t, r.Start().Equal(start))
	require.True(t, r.End().Equal(end))
	require.Len(t, r.Files(), 2)
	require.Len(t, r.Directories(), 1)

	f, ok := r.Lookup(RootDirID, "a.txt")
	require.True(t, ok)
	require.Equal(t, aCID, f.CID)

	subDir, ok := r.LookupDir(RootDirID, "sub")
	require.True(t, ok)

	f2, ok := r.Lookup(subDir.ID, "b.txt")
	require.True(t, ok)
	require.Equal(t, bCID, f2.CID)
	require.Equal(t, "alice", r.Extras(f2.Extra)["owner"])

	dirs, files := r.ListDir(RootDirID)
	require.Len(t, dirs, 1)
	require.Len(t, files, 1)
}

// TestBuilderReaderRoundTripWithInteriorZeroBytes exercises the entries
// that expose interior 0x00 bytes the block framing must not mistake for
// an end-of-entries terminator: a root-parented file (parent id 0 encodes
// as a single 0x00 varint byte) and a CID containing an interior zero
// octet.
func TestBuilderReaderRoundTripWithInteriorZeroBytes(t *testing.T) {
	dir := t.TempDir()
	newPath := filepath.Join(dir, "01-02T03:04.new")
	finalPath := filepath.Join(dir, "01-02T03:04")

	start := time.Date(2025, 1, 2, 3, 4, 5, 0, time.Local)
	end := start.Add(time.Minute)

	b, err := NewBuilder(newPath, finalPath, 256, checksum.SHA256, start)
	require.NoError(t, err)

	zeroCID := cid.CID([]byte{0x00, 0xab, 0x00, 0xcd})
	b.AddFilePath("a.txt", 3, start, zeroCID, TypeRegular, nil)
	b.AddFilePath("sub/b.txt", 3, start, zeroCID, TypeRegular, nil)

	require.NoError(t, b.Finalize(end))

	r, err := Open(finalPath)
	require.NoError(t, err)

	f, ok := r.Lookup(RootDirID, "a.txt")
	require.True(t, ok)
	require.Equal(t, zeroCID, f.CID)
	require.Equal(t, DirID(0), f.Parent)

	subDir, ok := r.LookupDir(RootDirID, "sub")
	require.True(t, ok)
	f2, ok := r.Lookup(subDir.ID, "b.txt")
	require.True(t, ok)
	require.Equal(t, zeroCID, f2.CID)
}

func TestDecodeBlockRejectsNonZeroByteAfterTerminator(t *testing.T) {
	table := extras.NewTable()
	var dirs []Directory
	var files []File

	payload := EncodeFile(nil, File{Parent: 0, Name: "a", CID: cid.CID{1}, Type: TypeRegular})
	payload = append(payload, 0x00) // terminator
	payload = append(payload, 'x')  // non-zero "padding"

	_, err := decodeBlock(payload, table, &dirs, &files)
	require.Error(t, err)
}

func TestBuilderDiscard(t *testing.T) {
	dir := t.TempDir()
	newPath := filepath.Join(dir, "x.new")
	finalPath := filepath.Join(dir, "x")

	b, err := NewBuilder(newPath, finalPath, 256, checksum.SHA256, time.Now())
	require.NoError(t, err)
	require.NoError(t, b.Discard())

	_, err = Open(finalPath)
	require.Error(t, err)
}
