// Package verifylog implements the two verification-log files (spec
// §4.7): lastcheck (coalesced ranges of "last checked at T") and issues
// (per-item change history), both built on the common block container
// from pkg/blockfile.
package verifylog

import (
	"time"

	"github.com/eirikba/ebakup/pkg/blockfile"
	"github.com/eirikba/ebakup/pkg/cid"
	"github.com/eirikba/ebakup/pkg/wire"
)

// Range is a closed, lexicographic [First, Last] range of item names or
// CIDs. Endpoints need not name items that actually exist (spec §4.7).
type Range struct {
	First []byte
	Last  []byte
}

// ChangeState is the state byte of a changeevent (spec §4.7).
type ChangeState byte

const (
	StateGood           ChangeState = 'g' // believed good
	StateChecksumOK     ChangeState = 'k' // checksum correct, provenance uncertain
	StateMissing        ChangeState = 'm' // missing
	StateChecksumBroken ChangeState = 'w' // checksum mismatch
)

// ChangeEvent is one <before> <after> <state> record in an object's
// issues history (spec §4.7). Checksum is set only when State ==
// StateChecksumBroken.
type ChangeEvent struct {
	Before   time.Time
	After    time.Time
	State    ChangeState
	Checksum []byte
}

// BackupChangeEvent is one <before> <after> <rewritten?> <details> record
// in a manifest's issues history (spec §4.7). Broken is the "b" shorthand
// that stands in for every other field when set. BrokenBlocks is the
// mandatory "w" trailer and is always present unless Broken is set.
type BackupChangeEvent struct {
	Before       time.Time
	After        time.Time
	Rewritten    bool
	Broken       bool
	SuspectOK    []int // "k": correct but previously suspect blocks
	LogicallyBad []int // "l": logically bad, checksum good
	MissingCIDs  []cid.CID
	BrokenBlocks []int // "w": mandatory trailer, sorted ascending and unique
}

func encodeTime(buf []byte, t time.Time) []byte {
	b := wire.EncodeLogTimestamp(t)
	return append(buf, b[:]...)
}

func decodeTime(c *blockfile.Cursor) (time.Time, error) {
	b, err := c.ReadBytes(5)
	if err != nil {
		return time.Time{}, err
	}
	return wire.DecodeLogTimestamp(b)
}

func encodeBlockIdxList(buf []byte, idx []int) []byte {
	buf = wire.PutUvarint(buf, uint64(len(idx)))
	for _, i := range idx {
		buf = wire.PutUvarint(buf, uint64(i))
	}
	return buf
}

func decodeBlockIdxList(c *blockfile.Cursor) ([]int, error) {
	n, err := c.ReadUvarint()
	if err != nil {
		return nil, err
	}
	out := make([]int, 0, n)
	for i := uint64(0); i < n; i++ {
		v, err := c.ReadUvarint()
		if err != nil {
			return nil, err
		}
		out = append(out, int(v))
	}
	return out, nil
}

func encodeLengthPrefixed(buf []byte, b []byte) []byte {
	buf = wire.PutUvarint(buf, uint64(len(b)))
	return append(buf, b...)
}
