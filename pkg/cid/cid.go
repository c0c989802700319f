// Package cid implements the content id: an opaque, lexicographically
// ordered byte string that identifies an object in a storage (spec §3).
// A CID is the digest of the object's bytes, extended by one or more
// disambiguation octets only when a different object already claims that
// digest.
package cid

import (
	"bytes"
	"encoding/hex"
)

// CID is an opaque ordered byte string. Two CIDs compare by their raw
// bytes; callers must never infer meaning from individual octets beyond
// the defined "digest, optionally plus suffix" structure.
type CID []byte

// String renders the CID as lowercase hex, the same encoding used to
// derive its object-store path.
func (c CID) String() string {
	return hex.EncodeToString(c)
}

// Equal reports byte-for-byte equality.
func (c CID) Equal(other CID) bool {
	return bytes.Equal(c, other)
}

// Compare orders CIDs lexicographically, matching spec §3 ("CIDs are
// opaque ordered byte strings; ordering is lexicographic").
func (c CID) Compare(other CID) int {
	return bytes.Compare(c, other)
}

// FromHex parses a hex string produced by String back into a CID.
func FromHex(s string) (CID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	return CID(b), nil
}

// Clone returns an independent copy, so callers can safely mutate buffers
// that fed a CID without aliasing it.
func (c CID) Clone() CID {
	out := make(CID, len(c))
	copy(out, c)
	return out
}

// ExtendedBy reports whether c is digest extended by exactly one more
// suffix octet than base, i.e. c == base + [x] for some x. Used to find
// the next free suffix when resolving a collision.
func (c CID) ExtendedBy(base CID) (suffix byte, ok bool) {
	if len(c) != len(base)+1 || !bytes.Equal(c[:len(base)], base) {
		return 0, false
	}
	return c[len(base)], true
}

// NextSuffix returns the shortest CID built from digest that is not equal
// to any CID in taken, extending digest by successive single octets (and,
// in the astronomically unlikely event 256 single-octet extensions are all
// taken, by a second octet) until a free one is found. It never allocates
// more suffix octets than necessary (spec §3, §4.4).
func NextSuffix(digest CID, taken func(CID) bool) CID {
	if !taken(digest) {
		return digest
	}
	for extraLen := 1; extraLen <= 2; extraLen++ {
		candidate := make(CID, len(digest)+extraLen)
		copy(candidate, digest)
		if tryAllSuffixes(candidate, len(digest), extraLen, taken) {
			return candidate
		}
	}
	// Exhausting two octets of suffix (65536 collisions on one digest) is
	// not a condition this format needs to survive; callers see an empty
	// CID and must treat it as a fatal collision-resolution failure.
	return nil
}

func tryAllSuffixes(candidate CID, digestLen, extraLen int, taken func(CID) bool) bool {
	total := 1
	for i := 0; i < extraLen; i++ {
		total *= 256
	}
	for n := 0; n < total; n++ {
		v := n
		for i := 0; i < extraLen; i++ {
			candidate[digestLen+i] = byte(v)
			v >>= 8
		}
		if !taken(candidate) {
			return true
		}
	}
	return false
}
