package blockfile

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/eirikba/ebakup/pkg/checksum"
	"github.com/stretchr/testify/require"
)

func TestCreateOpenAppendReadBlock(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "main")

	s := Settings{Magic: "ebakup database v1", BlockSize: 128, BlockSum: checksum.SHA256}
	s.Set("checksum", "sha256")

	f, err := Create(path, s)
	require.NoError(t, err)

	require.NoError(t, f.AppendBlock([]byte("block one payload")))
	require.NoError(t, f.AppendBlock([]byte("block two payload")))
	require.NoError(t, f.Sync())
	require.NoError(t, f.Close())

	rf, gotSettings, err := Open(path)
	require.NoError(t, err)
	defer rf.Close()

	require.Equal(t, "ebakup database v1", gotSettings.Magic)
	require.Equal(t, 128, gotSettings.BlockSize)
	v, ok := gotSettings.Get("checksum")
	require.True(t, ok)
	require.Equal(t, "sha256", v)

	n, err := rf.NumBlocks()
	require.NoError(t, err)
	require.Equal(t, 3, n) // settings block + 2 data blocks

	// ReadBlock returns the whole head — entries plus trailing 0x00
	// padding, still attached — so compare against the payload prefix.
	p1, err := rf.ReadBlock(1)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(p1, []byte("block one payload")))
	require.Equal(t, byte(0), p1[len("block one payload")])

	p2, err := rf.ReadBlock(2)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(p2, []byte("block two payload")))
	require.Equal(t, byte(0), p2[len("block two payload")])
}

func TestOpenDetectsCorruptNonFirstBlock(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "content")

	s := Settings{Magic: "ebakup content data", BlockSize: 128, BlockSum: checksum.SHA256}
	f, err := Create(path, s)
	require.NoError(t, err)
	require.NoError(t, f.AppendBlock([]byte("aaaa")))
	require.NoError(t, f.AppendBlock([]byte("bbbb")))
	require.NoError(t, f.Close())

	rf, _, err := Open(path)
	require.NoError(t, err)
	defer rf.Close()

	// Flip a bit in block 2 (index 2), leave block 1 alone.
	_, err = rf.f.WriteAt([]byte{0xff}, int64(2)*int64(rf.blockSize)+1)
	require.NoError(t, err)

	_, err = rf.ReadBlock(1)
	require.NoError(t, err)

	_, err = rf.ReadBlock(2)
	require.Error(t, err)
}

func TestOpenRejectsNonZeroPaddingInSettingsBlock(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "main")

	s := Settings{Magic: "ebakup database v1", BlockSize: 128, BlockSum: checksum.SHA256}
	f, err := Create(path, s)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	sumSize, err := checksum.Size(checksum.SHA256)
	require.NoError(t, err)
	headSize := 128 - sumSize
	payload := EncodeSettings(s)

	block := make([]byte, headSize)
	copy(block, payload)
	// Tamper a padding byte past the text payload's terminating 0x00,
	// then recompute the checksum over the tampered head so only the
	// padding check (not the checksum check) can catch this.
	block[len(payload)+1] = 'x'
	sum, err := checksum.Sum(checksum.SHA256, block)
	require.NoError(t, err)
	full := append(append([]byte(nil), block...), sum...)

	raw, err := os.OpenFile(path, os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = raw.WriteAt(full, 0)
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	_, _, err = Open(path)
	require.Error(t, err)
}

func TestCreateRejectsExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "main")
	s := Settings{Magic: "ebakup database v1", BlockSize: 128, BlockSum: checksum.SHA256}

	_, err := Create(path, s)
	require.NoError(t, err)

	_, err = Create(path, s)
	require.Error(t, err)
}
