package contentindex

import (
	"os"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/eirikba/ebakup/pkg/blockfile"
	"github.com/eirikba/ebakup/pkg/checksum"
	"github.com/eirikba/ebakup/pkg/cid"
	"github.com/eirikba/ebakup/pkg/ebakuperr"
)

// Index is an open content index. Lookups are answered from an in-memory
// cache (Bloom filters and maps over every CID and checksum) built by a
// full scan (spec §4.2: "entries may appear in any block"); the scan is
// redone whenever the file's mtime has advanced since the cache was built,
// and the Bloom filter is consulted before the map (see SPEC_FULL.md §11).
type Index struct {
	mu   sync.Mutex
	file *blockfile.File
	path string

	cidFilter *bloom.BloomFilter
	ckFilter  *bloom.BloomFilter
	byCID     map[string]Info
	byCK      map[string][]cid.CID
	builtAt   time.Time // mtime of file when the in-memory cache was built
}

// Open opens an existing content index, verifying its settings block.
func Open(path string) (*Index, error) {
	file, settings, err := blockfile.Open(path)
	if err != nil {
		return nil, err
	}
	if settings.Magic != Magic {
		file.Close()
		return nil, ebakuperr.InvalidFormat(path, "unrecognized magic: "+settings.Magic)
	}
	return &Index{file: file, path: path}, nil
}

// Create creates a new, empty content index at path.
func Create(path string, blockSize int, sumAlgo checksum.Algorithm) (*Index, error) {
	s := blockfile.Settings{Magic: Magic, BlockSize: blockSize, BlockSum: sumAlgo}
	file, err := blockfile.Create(path, s)
	if err != nil {
		return nil, err
	}
	return &Index{file: file, path: path}, nil
}

// Close closes the underlying container file.
func (ix *Index) Close() error {
	return ix.file.Close()
}

func fileMtime(path string) time.Time {
	fi, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return fi.ModTime()
}

// ensureScanned performs (or reuses) a full scan building the in-memory
// Bloom filters and lookup maps. It rescans whenever the file's mtime has
// advanced since the last scan, which both picks up entries appended by
// another process and satisfies the mtime-recheck discipline spec §5
// requires around the content index.
func (ix *Index) ensureScanned() error {
	mtime := fileMtime(ix.path)
	if ix.byCID != nil && !mtime.After(ix.builtAt) {
		return nil
	}
	cidFilter := bloom.NewWithEstimates(10000, 0.01)
	ckFilter := bloom.NewWithEstimates(10000, 0.01)
	byCID := make(map[string]Info)
	byCK := make(map[string][]cid.CID)

	err := ix.iterateLocked(func(info Info) error {
		cidFilter.Add(info.CID)
		ckFilter.Add(info.Checksum)
		byCID[string(info.CID)] = info
		byCK[string(info.Checksum)] = append(byCK[string(info.Checksum)], info.CID)
		return nil
	})
	if err != nil {
		return err
	}
	ix.cidFilter = cidFilter
	ix.ckFilter = ckFilter
	ix.byCID = byCID
	ix.byCK = byCK
	ix.builtAt = mtime
	return nil
}

// Iterate calls fn for every active entry, in file order. It is safe to
// call repeatedly ("restartable", spec §4.2); each call performs a fresh
// scan of the underlying file so a concurrent appender is always visible.
func (ix *Index) Iterate(fn func(Info) error) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.iterateLocked(fn)
}

func (ix *Index) iterateLocked(fn func(Info) error) error {
	return ix.file.Iterate(1, func(blockIndex int, payload []byte) error {
		c := blockfile.NewCursor(payload)
		for c.Remaining() > 0 {
			// A 0x00 byte where an entry tag is expected ends the
			// entries for this block; everything after it must be
			// zero padding (spec §4.1). Entries themselves may
			// contain interior 0x00 bytes (e.g. an added-at
			// timestamp's low byte), so this check only applies at
			// an entry boundary.
			if tag, has := c.PeekByte(); has && tag == tagTerminator {
				for _, b := range c.Rest() {
					if b != 0x00 {
						return ebakuperr.BlockCorrupt(ix.path, blockIndex,
							errNonZeroPadding{})
					}
				}
				break
			}
			info, ok, err := decodeEntry(c)
			if err != nil {
				return ebakuperr.BlockCorrupt(ix.path, blockIndex, err)
			}
			if !ok {
				continue
			}
			if err := fn(info); err != nil {
				return err
			}
		}
		return nil
	})
}

// Lookup finds cid in the scanned cache (spec §4.2: "scan required because
// entries may appear in any block"), rescanning first if the file changed
// and answering "absent" straight from the Bloom filter when it can.
func (ix *Index) Lookup(c cid.CID) (Info, bool, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if err := ix.ensureScanned(); err != nil {
		return Info{}, false, err
	}
	if !ix.cidFilter.Test(c) {
		return Info{}, false, nil
	}
	info, ok := ix.byCID[string(c)]
	return info, ok, nil
}

// LookupByChecksum returns every CID whose good checksum equals ck. Used
// during object-add to detect pre-existing identical content and
// collisions (spec §4.2, §4.4).
func (ix *Index) LookupByChecksum(ck []byte) ([]cid.CID, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if err := ix.ensureScanned(); err != nil {
		return nil, err
	}
	if !ix.ckFilter.Test(ck) {
		return nil, nil
	}
	return ix.byCK[string(ck)], nil
}

// Has reports whether cid is present without needing a full Info.
func (ix *Index) Has(c cid.CID) (bool, error) {
	_, ok, err := ix.Lookup(c)
	return ok, err
}
