package verifylog

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/eirikba/ebakup/pkg/checksum"
	"github.com/eirikba/ebakup/pkg/cid"
	"github.com/stretchr/testify/require"
)

func TestLastCheckAppendIterate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lastcheck")
	lc, err := CreateLastCheck(path, 256, checksum.SHA256)
	require.NoError(t, err)
	defer lc.Close()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, lc.Append(tagCIDRange, now, []Range{
		{First: []byte{0x10}, Last: []byte{0x20}},
		{First: []byte{0x21}, Last: []byte{0x30}}, // adjacent, should coalesce
	}))

	var got []LastCheckEntry
	require.NoError(t, lc.Iterate(func(e LastCheckEntry) error {
		got = append(got, e)
		return nil
	}))
	require.Len(t, got, 1)
	require.Equal(t, byte('C'), got[0].Kind)
	require.Len(t, got[0].Ranges, 1)
	require.Equal(t, []byte{0x10}, got[0].Ranges[0].First)
	require.Equal(t, []byte{0x30}, got[0].Ranges[0].Last)
}

func TestIssuesObjectHistoryAppendsNotReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "issues")
	is, err := CreateIssues(path, 512, checksum.SHA256)
	require.NoError(t, err)
	defer is.Close()

	c := cid.CID([]byte{1, 2, 3, 4})
	t1 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, is.AppendObjectEvent(c, ChangeEvent{Before: t1, After: t1, State: StateGood}))
	require.NoError(t, is.AppendObjectEvent(c, ChangeEvent{Before: t1, After: t2, State: StateMissing}))

	hist, err := is.ObjectHistory(c)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	require.Equal(t, StateGood, hist[0].State)
	require.Equal(t, StateMissing, hist[1].State)
}

func TestIssuesBackupHistoryWithChecksumMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "issues")
	is, err := CreateIssues(path, 512, checksum.SHA256)
	require.NoError(t, err)
	defer is.Close()

	t1 := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	t2 := time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)

	ev := BackupChangeEvent{
		Before:       t1,
		After:        t2,
		Rewritten:    false,
		SuspectOK:    []int{2, 4},
		MissingCIDs:  []cid.CID{cid.CID([]byte{9, 9})},
		BrokenBlocks: []int{7},
	}
	require.NoError(t, is.AppendBackupEvent("2025/01-01T00:00", ev))

	hist, err := is.BackupHistory("2025/01-01T00:00")
	require.NoError(t, err)
	require.Len(t, hist, 1)
	require.Equal(t, []int{2, 4}, hist[0].SuspectOK)
	require.Equal(t, []int{7}, hist[0].BrokenBlocks)
	require.Len(t, hist[0].MissingCIDs, 1)
	require.False(t, hist[0].Broken)
}

func TestIssuesObjectHistoryManyItemsSpillsAcrossBlocks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "issues")
	is, err := CreateIssues(path, 128, checksum.SHA256)
	require.NoError(t, err)
	defer is.Close()

	t1 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := byte(0); i < 20; i++ {
		c := cid.CID([]byte{i, i, i, i, i, i, i, i})
		require.NoError(t, is.AppendObjectEvent(c, ChangeEvent{Before: t1, After: t1, State: StateGood}))
	}
	for i := byte(0); i < 20; i++ {
		c := cid.CID([]byte{i, i, i, i, i, i, i, i})
		hist, err := is.ObjectHistory(c)
		require.NoError(t, err)
		require.Len(t, hist, 1)
	}
}
