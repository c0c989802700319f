package manifest

import (
	"fmt"

	"github.com/eirikba/ebakup/pkg/blockfile"
	"github.com/eirikba/ebakup/pkg/cid"
	"github.com/eirikba/ebakup/pkg/ebakuperr"
	"github.com/eirikba/ebakup/pkg/extras"
	"github.com/eirikba/ebakup/pkg/wire"
)

// tagTerminator marks the end of a block's entries; everything after it is
// 0x00 padding out to the checksum (spec §4.1). Entries themselves may
// legitimately contain interior 0x00 bytes (a root-parented directory id,
// a CID or timestamp byte), so this tag is only meaningful where a tag
// byte is expected, never mid-entry.
const tagTerminator = 0x00

// Entry tags (spec §4.3).
const (
	tagKV        = 0x21
	tagExtraDef  = 0x22
	tagDir       = 0x90
	tagDirExtra  = 0x92
	tagFile      = 0x91
	tagFileExtra = 0x93
	tagFileSpec  = 0x94
)

func appendUvarint(buf []byte, v uint64) []byte {
	return wire.PutUvarint(buf, v)
}

func appendLenPrefixed(buf []byte, b []byte) []byte {
	buf = appendUvarint(buf, uint64(len(b)))
	return append(buf, b...)
}

// EncodeKV appends a 0x21 key-value definition entry.
func EncodeKV(buf []byte, kv extras.KV) []byte {
	buf = append(buf, tagKV)
	buf = appendUvarint(buf, uint64(kv.ID))
	buf = appendLenPrefixed(buf, []byte(kv.Key))
	buf = appendLenPrefixed(buf, []byte(kv.Value))
	return buf
}

// EncodeBundle appends a 0x22 extradef entry.
func EncodeBundle(buf []byte, b extras.Bundle) []byte {
	buf = append(buf, tagExtraDef)
	buf = appendUvarint(buf, uint64(b.ID))
	buf = appendUvarint(buf, uint64(len(b.KVIDs)))
	for _, id := range b.KVIDs {
		buf = appendUvarint(buf, uint64(id))
	}
	return buf
}

// EncodeDirectory appends a 0x90 or 0x92 directory entry.
func EncodeDirectory(buf []byte, d Directory) []byte {
	if d.Extra == 0 {
		buf = append(buf, tagDir)
	} else {
		buf = append(buf, tagDirExtra)
	}
	buf = appendUvarint(buf, uint64(d.ID))
	buf = appendUvarint(buf, uint64(d.Parent))
	buf = appendLenPrefixed(buf, []byte(d.Name))
	if d.Extra != 0 {
		buf = appendUvarint(buf, uint64(d.Extra))
	}
	return buf
}

func appendFileBase(buf []byte, f File) []byte {
	buf = appendUvarint(buf, uint64(f.Parent))
	buf = appendLenPrefixed(buf, []byte(f.Name))
	buf = appendLenPrefixed(buf, []byte(f.CID))
	buf = appendUvarint(buf, f.Size)
	mtime := wire.EncodeMtime(f.MTime)
	buf = append(buf, mtime[:]...)
	return buf
}

// EncodeFile appends a 0x91, 0x93, or 0x94 file entry, picking the
// narrowest one that fits f (spec §4.3).
func EncodeFile(buf []byte, f File) []byte {
	switch {
	case f.Type != TypeRegular:
		buf = append(buf, tagFileSpec)
		buf = appendFileBase(buf, f)
		buf = append(buf, byte(f.Type))
		buf = appendUvarint(buf, uint64(f.Extra))
	case f.Extra != 0:
		buf = append(buf, tagFileExtra)
		buf = appendFileBase(buf, f)
		buf = appendUvarint(buf, uint64(f.Extra))
	default:
		buf = append(buf, tagFile)
		buf = appendFileBase(buf, f)
	}
	return buf
}

// EncodedSize returns the exact encoded length of an entry, used by the
// builder to greedily pack entries into blocks without splitting one.
func EncodedSize(encode func(buf []byte) []byte) int {
	return len(encode(nil))
}

func decodeKV(c *blockfile.Cursor) (extras.KV, error) {
	id, err := c.ReadUvarint()
	if err != nil {
		return extras.KV{}, err
	}
	key, err := c.ReadLengthPrefixed()
	if err != nil {
		return extras.KV{}, err
	}
	val, err := c.ReadLengthPrefixed()
	if err != nil {
		return extras.KV{}, err
	}
	return extras.KV{ID: extras.KVID(id), Key: string(key), Value: string(val)}, nil
}

func decodeBundle(c *blockfile.Cursor) (extras.Bundle, error) {
	id, err := c.ReadUvarint()
	if err != nil {
		return extras.Bundle{}, err
	}
	n, err := c.ReadUvarint()
	if err != nil {
		return extras.Bundle{}, err
	}
	kvids := make([]extras.KVID, 0, n)
	for i := uint64(0); i < n; i++ {
		v, err := c.ReadUvarint()
		if err != nil {
			return extras.Bundle{}, err
		}
		kvids = append(kvids, extras.KVID(v))
	}
	return extras.Bundle{ID: extras.XID(id), KVIDs: kvids}, nil
}

func decodeDirectory(c *blockfile.Cursor, withExtra bool) (Directory, error) {
	id, err := c.ReadUvarint()
	if err != nil {
		return Directory{}, err
	}
	parent, err := c.ReadUvarint()
	if err != nil {
		return Directory{}, err
	}
	name, err := c.ReadLengthPrefixed()
	if err != nil {
		return Directory{}, err
	}
	d := Directory{ID: DirID(id), Parent: DirID(parent), Name: string(name)}
	if withExtra {
		x, err := c.ReadUvarint()
		if err != nil {
			return Directory{}, err
		}
		d.Extra = extras.XID(x)
	}
	return d, nil
}

func decodeFileBase(c *blockfile.Cursor) (File, error) {
	parent, err := c.ReadUvarint()
	if err != nil {
		return File{}, err
	}
	name, err := c.ReadLengthPrefixed()
	if err != nil {
		return File{}, err
	}
	cidBytes, err := c.ReadLengthPrefixed()
	if err != nil {
		return File{}, err
	}
	size, err := c.ReadUvarint()
	if err != nil {
		return File{}, err
	}
	mtimeBytes, err := c.ReadBytes(9)
	if err != nil {
		return File{}, err
	}
	mtime, err := wire.DecodeMtime(mtimeBytes)
	if err != nil {
		return File{}, err
	}
	return File{
		Parent: DirID(parent),
		Name:   string(name),
		CID:    cid.CID(append(cid.CID(nil), cidBytes...)),
		Size:   size,
		MTime:  mtime,
	}, nil
}

func decodeFile(c *blockfile.Cursor, tag byte) (File, error) {
	f, err := decodeFileBase(c)
	if err != nil {
		return File{}, err
	}
	switch tag {
	case tagFile:
		return f, nil
	case tagFileExtra:
		x, err := c.ReadUvarint()
		if err != nil {
			return File{}, err
		}
		f.Extra = extras.XID(x)
		return f, nil
	case tagFileSpec:
		typeByte, err := c.ReadByte()
		if err != nil {
			return File{}, err
		}
		f.Type = FileType(typeByte)
		x, err := c.ReadUvarint()
		if err != nil {
			return File{}, err
		}
		f.Extra = extras.XID(x)
		return f, nil
	default:
		return File{}, fmt.Errorf("manifest: unknown file entry tag 0x%02x", tag)
	}
}

// blockKind classifies a manifest block by its first entry tag, enforcing
// the definition-then-data ordering spec §4.3 requires.
type blockKind int

const (
	kindEmpty blockKind = iota
	kindDefinition
	kindData
)

func tagKind(tag byte) (blockKind, error) {
	switch tag {
	case tagKV, tagExtraDef:
		return kindDefinition, nil
	case tagDir, tagDirExtra, tagFile, tagFileExtra, tagFileSpec:
		return kindData, nil
	default:
		return kindEmpty, fmt.Errorf("manifest: unknown entry tag 0x%02x", tag)
	}
}

// decodeBlock decodes every entry in one block's payload, dispatching
// definitions into table and directories/files into dirs/files. It
// returns the block's kind (empty if the payload held no entries at all).
// A 0x00 byte where an entry tag is expected ends the entries; everything
// after it must be zero padding (spec §4.1).
func decodeBlock(payload []byte, table *extras.Table, dirs *[]Directory, files *[]File) (blockKind, error) {
	c := blockfile.NewCursor(payload)
	kind := kindEmpty
	for c.Remaining() > 0 {
		tag, err := c.ReadByte()
		if err != nil {
			return kind, err
		}
		if tag == tagTerminator {
			for _, b := range c.Rest() {
				if b != 0x00 {
					return kind, ebakuperr.InvalidFormat("", "non-zero byte after block terminator")
				}
			}
			return kind, nil
		}
		tk, err := tagKind(tag)
		if err != nil {
			return kind, err
		}
		if kind == kindEmpty {
			kind = tk
		} else if kind != tk {
			return kind, fmt.Errorf("manifest: block mixes definition and data entries")
		}
		switch tag {
		case tagKV:
			kv, err := decodeKV(c)
			if err != nil {
				return kind, err
			}
			table.AddKV(kv.ID, kv.Key, kv.Value)
		case tagExtraDef:
			b, err := decodeBundle(c)
			if err != nil {
				return kind, err
			}
			table.AddBundle(b.ID, b.KVIDs)
		case tagDir:
			d, err := decodeDirectory(c, false)
			if err != nil {
				return kind, err
			}
			*dirs = append(*dirs, d)
		case tagDirExtra:
			d, err := decodeDirectory(c, true)
			if err != nil {
				return kind, err
			}
			*dirs = append(*dirs, d)
		default:
			f, err := decodeFile(c, tag)
			if err != nil {
				return kind, err
			}
			*files = append(*files, f)
		}
	}
	return kind, nil
}
