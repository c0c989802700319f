package blockfile

import (
	"testing"

	"github.com/eirikba/ebakup/pkg/checksum"
	"github.com/stretchr/testify/require"
)

func TestBuildAndVerifyBlockRoundTrip(t *testing.T) {
	payload := []byte("hello world")
	block, err := BuildBlock(payload, 64, checksum.SHA256)
	require.NoError(t, err)
	require.Len(t, block, 64)

	// VerifyBlock returns the whole head (payload plus its zero padding),
	// not just the payload: locating the payload/padding boundary is an
	// entry-decoder's job, since entries may legitimately contain interior
	// 0x00 bytes that are not a terminator.
	head, err := VerifyBlock(block, checksum.SHA256)
	require.NoError(t, err)
	sumSize, err := checksum.Size(checksum.SHA256)
	require.NoError(t, err)
	require.Len(t, head, 64-sumSize)
	require.Equal(t, payload, head[:len(payload)])
	for _, b := range head[len(payload):] {
		require.Equal(t, byte(0), b)
	}
}

func TestVerifyBlockRoundTripsInteriorZeroBytes(t *testing.T) {
	// A payload with an interior 0x00 byte (e.g. a varint-encoded 0, or a
	// CID/timestamp byte) must come back from VerifyBlock untouched and
	// un-truncated: only an entry decoder, not VerifyBlock, may treat a
	// 0x00 byte as a terminator.
	payload := []byte{0x90, 0x08, 0x00, 0x03, 's', 'u', 'b'}
	block, err := BuildBlock(payload, 64, checksum.SHA256)
	require.NoError(t, err)

	head, err := VerifyBlock(block, checksum.SHA256)
	require.NoError(t, err)
	require.Equal(t, payload, head[:len(payload)])
}

func TestVerifyBlockDetectsCorruption(t *testing.T) {
	payload := []byte("hello world")
	block, err := BuildBlock(payload, 64, checksum.SHA256)
	require.NoError(t, err)

	block[5] ^= 0xff

	_, err = VerifyBlock(block, checksum.SHA256)
	require.Error(t, err)
}

func TestBuildBlockRejectsOversizedPayload(t *testing.T) {
	payload := make([]byte, 100)
	_, err := BuildBlock(payload, 64, checksum.SHA256)
	require.Error(t, err)
}
