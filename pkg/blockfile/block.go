// Package blockfile implements the fixed-size, checksum-trailed block
// container that underlies every file in db/ (spec §4.1): the settings
// block bootstrap, block read/write/rewrite, and the self-delimited entry
// framing within a data block's payload.
package blockfile

import (
	"bytes"

	"github.com/eirikba/ebakup/pkg/checksum"
	"github.com/eirikba/ebakup/pkg/ebakuperr"
)

// BuildBlock lays out payload as payload|0x00-padding|checksum, sized to
// exactly blockSize octets. payload and the checksum must fit; a payload
// that fills the whole head leaves no room for a 0x00 terminator, which
// the entry decoders accept since they also stop at the end of the head.
// Callers (the manifest/content-index builders) are responsible for never
// handing it more than a block can hold.
func BuildBlock(payload []byte, blockSize int, sumAlgo checksum.Algorithm) ([]byte, error) {
	sumSize, err := checksum.Size(sumAlgo)
	if err != nil {
		return nil, err
	}
	headSize := blockSize - sumSize
	if len(payload) > headSize {
		return nil, ebakuperr.InvalidFormat("", "payload too large for block size")
	}
	block := make([]byte, blockSize)
	copy(block, payload)
	// rest of block[:headSize] is already zero from make([]byte, ...)
	sum, err := checksum.Sum(sumAlgo, block[:headSize])
	if err != nil {
		return nil, err
	}
	copy(block[headSize:], sum)
	return block, nil
}

// VerifyBlock checks block's trailing checksum and returns the whole head
// (everything before the checksum: payload plus its 0x00 padding, still
// attached). It does not locate the payload/padding boundary itself —
// entries routinely carry interior 0x00 octets (a root-parented directory
// id, a CID or timestamp byte), so only an entry decoder that understands
// each entry's own length can tell a tag terminator from a padding byte.
// Callers decode entries from the returned head and stop at the first
// 0x00 *tag* byte; only then is everything after required to be zero
// padding (spec §4.1/§4.3).
func VerifyBlock(block []byte, sumAlgo checksum.Algorithm) (head []byte, err error) {
	sumSize, err := checksum.Size(sumAlgo)
	if err != nil {
		return nil, err
	}
	if len(block) < sumSize {
		return nil, ebakuperr.InvalidFormat("", "block shorter than checksum size")
	}
	headSize := len(block) - sumSize
	head = block[:headSize]
	want := block[headSize:]
	got, err := checksum.Sum(sumAlgo, head)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(got, want) {
		return nil, corruptSentinel{}
	}
	return head, nil
}

// corruptSentinel lets VerifyBlock signal "checksum/padding corrupt"
// without knowing the file path or block index; File.ReadBlock wraps it
// into a proper *ebakuperr.Error.
type corruptSentinel struct{}

func (corruptSentinel) Error() string { return "block corrupt" }
