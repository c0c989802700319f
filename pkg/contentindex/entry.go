// Package contentindex implements the content-items index, db/content
// (spec §4.2): the mutable append-and-occasionally-rotate record of every
// object's CID, good checksum, and added-at timestamp.
package contentindex

import (
	"time"

	"github.com/eirikba/ebakup/pkg/blockfile"
	"github.com/eirikba/ebakup/pkg/cid"
	"github.com/eirikba/ebakup/pkg/wire"
)

// Magic is the settings-block magic line for db/content (spec §6).
const Magic = "ebakup content data"

// Entry tags (spec §4.2). 0xd0 and 0xcc are deprecated types that must be
// recognized and skipped on read, never written. 0xa0/0xa1 are deprecated
// trailing <ckdata> items, likewise skip-only.
const (
	tagActive     = 0xdd
	tagDeprecated = 0xd0
	tagClosed     = 0xcc
	tagCkdataA    = 0xa0
	tagCkdataB    = 0xa1

	// tagTerminator marks the end of a block's entries; everything after
	// it out to the checksum must be zero padding (spec §4.1).
	tagTerminator = 0x00
)

// Info is one content-index record (spec §3 "Object").
type Info struct {
	CID      cid.CID
	Checksum []byte
	Added    time.Time
}

// encodeActive appends a 0xdd entry for info. The cid/cksum composite
// field holds max(len(CID), len(Checksum)) octets, with CID and Checksum
// each reading their own prefix of it (spec §4.2) — the common case has
// CID == Checksum and the field is written once.
func encodeActive(buf []byte, info Info) []byte {
	composite := info.CID
	if len(info.Checksum) > len(composite) {
		composite = info.Checksum
	}
	buf = append(buf, tagActive)
	buf = wire.PutUvarint(buf, uint64(len(info.CID)))
	buf = wire.PutUvarint(buf, uint64(len(info.Checksum)))
	buf = append(buf, composite...)
	added := uint32(info.Added.Unix())
	buf = appendU32LE(buf, added)
	buf = appendU32LE(buf, added) // first == last for entries we write
	return buf
}

func appendU32LE(buf []byte, v uint32) []byte {
	return append(buf, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func readU32LE(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// decodeEntry decodes the next top-level entry from c, skipping any
// deprecated trailing <ckdata> items that follow an active entry. It
// returns ok == false (with no error) for deprecated entry types, which
// must be skipped rather than surfaced.
func decodeEntry(c *blockfile.Cursor) (info Info, ok bool, err error) {
	tag, err := c.ReadByte()
	if err != nil {
		return Info{}, false, err
	}
	switch tag {
	case tagActive:
		cidLen, err := c.ReadUvarint()
		if err != nil {
			return Info{}, false, err
		}
		ckLen, err := c.ReadUvarint()
		if err != nil {
			return Info{}, false, err
		}
		compositeLen := cidLen
		if ckLen > compositeLen {
			compositeLen = ckLen
		}
		composite, err := c.ReadBytes(int(compositeLen))
		if err != nil {
			return Info{}, false, err
		}
		firstLast, err := c.ReadBytes(8)
		if err != nil {
			return Info{}, false, err
		}
		first := readU32LE(firstLast[:4])
		skipTrailingCkdata(c)
		return Info{
			CID:      cid.CID(append(cid.CID(nil), composite[:cidLen]...)),
			Checksum: append([]byte(nil), composite[:ckLen]...),
			Added:    time.Unix(int64(first), 0).UTC(),
		}, true, nil
	case tagDeprecated, tagClosed:
		// Leniently skip: legacy entries are read as a varuint length
		// followed by that many bytes.
		n, err := c.ReadUvarint()
		if err != nil {
			return Info{}, false, err
		}
		if _, err := c.ReadBytes(int(n)); err != nil {
			return Info{}, false, err
		}
		return Info{}, false, nil
	default:
		return Info{}, false, errUnknownTag(tag)
	}
}

func skipTrailingCkdata(c *blockfile.Cursor) {
	for {
		b, has := c.PeekByte()
		if !has || (b != tagCkdataA && b != tagCkdataB) {
			return
		}
		c.ReadByte()
		n, err := c.ReadUvarint()
		if err != nil {
			return
		}
		if _, err := c.ReadBytes(int(n)); err != nil {
			return
		}
	}
}

type errUnknownTag byte

func (e errUnknownTag) Error() string {
	return "contentindex: unknown entry tag"
}

type errNonZeroPadding struct{}

func (errNonZeroPadding) Error() string {
	return "contentindex: non-zero byte after block terminator"
}
