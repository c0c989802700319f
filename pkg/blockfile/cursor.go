package blockfile

import (
	"fmt"

	"github.com/eirikba/ebakup/pkg/wire"
)

// Cursor is a bounds-checked byte-cursor over a single block's payload,
// used by the manifest, content-index, and verification-log codecs to
// decode the self-delimited entries packed into that payload (spec §4.1:
// "every entry fits in a single block"). A Cursor never reads past the end
// of the payload it was built from, so a truncated or miscounted entry
// surfaces as an error instead of reading into the next block's bytes.
type Cursor struct {
	buf []byte
	pos int
}

// NewCursor wraps buf (typically a block's verified payload) for entry
// decoding starting at offset zero.
func NewCursor(buf []byte) *Cursor {
	return &Cursor{buf: buf}
}

// Remaining reports how many unread bytes are left.
func (c *Cursor) Remaining() int {
	return len(c.buf) - c.pos
}

// Pos returns the current read offset, mainly for tests.
func (c *Cursor) Pos() int { return c.pos }

// ReadByte consumes and returns one byte.
func (c *Cursor) ReadByte() (byte, error) {
	if c.Remaining() < 1 {
		return 0, fmt.Errorf("cursor: truncated reading a byte")
	}
	b := c.buf[c.pos]
	c.pos++
	return b, nil
}

// PeekByte returns the next byte without consuming it.
func (c *Cursor) PeekByte() (byte, bool) {
	if c.Remaining() < 1 {
		return 0, false
	}
	return c.buf[c.pos], true
}

// ReadUvarint consumes a continuation-bit varint (spec §4.1).
func (c *Cursor) ReadUvarint() (uint64, error) {
	v, n := wire.Uvarint(c.buf[c.pos:])
	if n == 0 {
		return 0, fmt.Errorf("cursor: truncated varint")
	}
	c.pos += n
	return v, nil
}

// ReadBytes consumes and returns the next n bytes.
func (c *Cursor) ReadBytes(n int) ([]byte, error) {
	if n < 0 || c.Remaining() < n {
		return nil, fmt.Errorf("cursor: truncated reading %d bytes", n)
	}
	b := c.buf[c.pos : c.pos+n]
	c.pos += n
	return b, nil
}

// ReadLengthPrefixed reads a varuint length followed by that many bytes,
// the framing used for names, CIDs, and checksums throughout §4.2/§4.3.
func (c *Cursor) ReadLengthPrefixed() ([]byte, error) {
	n, err := c.ReadUvarint()
	if err != nil {
		return nil, err
	}
	return c.ReadBytes(int(n))
}

// Rest consumes and returns every remaining unread byte, for callers that
// have hit a 0x00 entry terminator and need to check that what follows it
// is all zero padding.
func (c *Cursor) Rest() []byte {
	b := c.buf[c.pos:]
	c.pos = len(c.buf)
	return b
}
