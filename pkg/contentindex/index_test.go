package contentindex

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/eirikba/ebakup/pkg/checksum"
	"github.com/eirikba/ebakup/pkg/cid"
	"github.com/stretchr/testify/require"
)

func TestAddLookupRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "content")
	ix, err := Create(path, 256, checksum.SHA256)
	require.NoError(t, err)
	defer ix.Close()

	c1 := cid.CID([]byte{1, 2, 3, 4, 5, 6, 7, 8})
	ck1 := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	now := time.Now()

	require.NoError(t, ix.Add(context.Background(), c1, ck1, now))

	info, ok, err := ix.Lookup(c1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, c1, info.CID)
	require.Equal(t, ck1, info.Checksum)

	cids, err := ix.LookupByChecksum(ck1)
	require.NoError(t, err)
	require.Equal(t, []cid.CID{c1}, cids)

	missing := cid.CID([]byte{9, 9, 9, 9, 9, 9, 9, 9})
	_, ok, err = ix.Lookup(missing)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAddIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "content")
	ix, err := Create(path, 256, checksum.SHA256)
	require.NoError(t, err)
	defer ix.Close()

	c1 := cid.CID([]byte{1, 1, 1, 1})
	now := time.Now()

	require.NoError(t, ix.Add(context.Background(), c1, c1, now))
	require.NoError(t, ix.Add(context.Background(), c1, c1, now))

	count := 0
	require.NoError(t, ix.Iterate(func(Info) error {
		count++
		return nil
	}))
	require.Equal(t, 1, count)
}

// TestAddLookupRoundTripWithInteriorZeroBytes uses an added-at timestamp
// whose little-endian encoding has a zero low byte (spec §4.2's common
// case, e.g. unix time 0x6775b800) and an all-zero CID, both interior
// 0x00 bytes that a block terminator check must not mistake for the
// entries' end.
func TestAddLookupRoundTripWithInteriorZeroBytes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "content")
	ix, err := Create(path, 256, checksum.SHA256)
	require.NoError(t, err)
	defer ix.Close()

	c1 := cid.CID([]byte{0, 0, 0, 0, 0, 0, 0, 0})
	ck1 := []byte{0, 0, 0, 0, 0, 0, 0, 0}
	added := time.Unix(0x6775b800, 0)

	require.NoError(t, ix.Add(context.Background(), c1, ck1, added))

	info, ok, err := ix.Lookup(c1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, c1, info.CID)
	require.Equal(t, ck1, info.Checksum)
	require.Equal(t, added.Unix(), info.Added.Unix())
}

func TestIterateSeesMultipleEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "content")
	ix, err := Create(path, 128, checksum.SHA256)
	require.NoError(t, err)
	defer ix.Close()

	now := time.Now()
	for i := byte(0); i < 5; i++ {
		c := cid.CID([]byte{i, i, i, i})
		require.NoError(t, ix.Add(context.Background(), c, c, now))
	}

	seen := map[string]bool{}
	require.NoError(t, ix.Iterate(func(info Info) error {
		seen[info.CID.String()] = true
		return nil
	}))
	require.Len(t, seen, 5)
}
