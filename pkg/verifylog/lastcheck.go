package verifylog

import (
	"bytes"
	"sort"
	"time"

	"github.com/eirikba/ebakup/pkg/blockfile"
	"github.com/eirikba/ebakup/pkg/checksum"
	"github.com/eirikba/ebakup/pkg/ebakuperr"
	"github.com/eirikba/ebakup/pkg/wire"
)

// MagicLastCheck is the settings-block magic line for db/lastcheck.
const MagicLastCheck = "ebakup last-check data"

const (
	tagSnapshotRange byte = 'B'
	tagCIDRange      byte = 'C'
)

// Exported aliases of the lastcheck entry kinds, for callers of Append
// outside this package (spec §4.7: a lastcheck entry covers either
// snapshot-name ranges or CID ranges).
const (
	KindSnapshotRange = tagSnapshotRange
	KindCIDRange      = tagCIDRange
)

// LastCheckEntry is one "checked at T" record: a kind ('B' for snapshot
// name ranges, 'C' for CID ranges), a time, and the ranges covered (spec
// §4.7).
type LastCheckEntry struct {
	Kind   byte
	Time   time.Time
	Ranges []Range
}

// LastCheck is an open db/lastcheck file.
type LastCheck struct {
	file *blockfile.File
	path string
}

// OpenLastCheck opens an existing lastcheck file.
func OpenLastCheck(path string) (*LastCheck, error) {
	file, settings, err := blockfile.Open(path)
	if err != nil {
		return nil, err
	}
	if settings.Magic != MagicLastCheck {
		file.Close()
		return nil, ebakuperr.InvalidFormat(path, "unrecognized magic: "+settings.Magic)
	}
	return &LastCheck{file: file, path: path}, nil
}

// CreateLastCheck creates a new, empty lastcheck file.
func CreateLastCheck(path string, blockSize int, sumAlgo checksum.Algorithm) (*LastCheck, error) {
	s := blockfile.Settings{Magic: MagicLastCheck, BlockSize: blockSize, BlockSum: sumAlgo}
	file, err := blockfile.Create(path, s)
	if err != nil {
		return nil, err
	}
	return &LastCheck{file: file, path: path}, nil
}

// Close closes the underlying container file.
func (lc *LastCheck) Close() error { return lc.file.Close() }

// coalesceRanges sorts and merges overlapping or adjacent ranges, the
// "implementations should coalesce on write" guidance in spec §4.7.
func coalesceRanges(ranges []Range) []Range {
	if len(ranges) == 0 {
		return nil
	}
	out := append([]Range(nil), ranges...)
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].First, out[j].First) < 0 })
	merged := out[:1]
	for _, r := range out[1:] {
		last := &merged[len(merged)-1]
		if bytes.Compare(r.First, last.Last) <= 0 || isAdjacent(last.Last, r.First) {
			if bytes.Compare(r.Last, last.Last) > 0 {
				last.Last = r.Last
			}
			continue
		}
		merged = append(merged, r)
	}
	return merged
}

// isAdjacent reports whether b immediately follows a in the byte-string
// successor sense (a's last octet incremented by one equals b, same
// length): the common case of consecutive CIDs or snapshot names.
func isAdjacent(a, b []byte) bool {
	if len(a) != len(b) || len(a) == 0 {
		return false
	}
	succ := append([]byte(nil), a...)
	for i := len(succ) - 1; i >= 0; i-- {
		succ[i]++
		if succ[i] != 0 {
			break
		}
	}
	return bytes.Equal(succ, b)
}

// Append writes one lastcheck entry, coalescing ranges first.
func (lc *LastCheck) Append(kind byte, t time.Time, ranges []Range) error {
	ranges = coalesceRanges(ranges)
	var body []byte
	body = encodeTime(body, t)
	body = wire.PutUvarint(body, uint64(len(ranges)))
	for _, r := range ranges {
		body = encodeLengthPrefixed(body, r.First)
		body = encodeLengthPrefixed(body, r.Last)
	}
	var entry []byte
	entry = append(entry, kind)
	entry = wire.PutUvarint(entry, uint64(len(body)))
	entry = append(entry, body...)
	return lc.file.AppendBlock(entry)
}

// Iterate calls fn for every entry, in file order.
func (lc *LastCheck) Iterate(fn func(LastCheckEntry) error) error {
	return lc.file.Iterate(1, func(blockIndex int, payload []byte) error {
		c := blockfile.NewCursor(payload)
		for c.Remaining() > 0 {
			// A 0x00 byte where an entry kind tag is expected ends this
			// block's entries; everything after it must be zero padding
			// (spec §4.1). Entry bodies are exact-length (a varint size
			// prefix), so this check never fires mid-entry.
			if tag, has := c.PeekByte(); has && tag == 0x00 {
				for _, b := range c.Rest() {
					if b != 0x00 {
						return ebakuperr.BlockCorrupt(lc.path, blockIndex, errNonZeroPadding{})
					}
				}
				break
			}
			entry, err := decodeLastCheckEntry(c)
			if err != nil {
				return ebakuperr.BlockCorrupt(lc.path, blockIndex, err)
			}
			if err := fn(entry); err != nil {
				return err
			}
		}
		return nil
	})
}

func decodeLastCheckEntry(c *blockfile.Cursor) (LastCheckEntry, error) {
	kind, err := c.ReadByte()
	if err != nil {
		return LastCheckEntry{}, err
	}
	if kind != tagSnapshotRange && kind != tagCIDRange {
		return LastCheckEntry{}, ebakuperr.InvalidFormat("", "unknown lastcheck entry tag")
	}
	size, err := c.ReadUvarint()
	if err != nil {
		return LastCheckEntry{}, err
	}
	body, err := c.ReadBytes(int(size))
	if err != nil {
		return LastCheckEntry{}, err
	}
	bc := blockfile.NewCursor(body)
	t, err := decodeTime(bc)
	if err != nil {
		return LastCheckEntry{}, err
	}
	n, err := bc.ReadUvarint()
	if err != nil {
		return LastCheckEntry{}, err
	}
	ranges := make([]Range, 0, n)
	for i := uint64(0); i < n; i++ {
		first, err := bc.ReadLengthPrefixed()
		if err != nil {
			return LastCheckEntry{}, err
		}
		last, err := bc.ReadLengthPrefixed()
		if err != nil {
			return LastCheckEntry{}, err
		}
		ranges = append(ranges, Range{First: append([]byte(nil), first...), Last: append([]byte(nil), last...)})
	}
	return LastCheckEntry{Kind: kind, Time: t, Ranges: ranges}, nil
}
