// Package objectstore implements content/, the content-addressed object
// store (spec §4.4): a hashed directory layout keyed by CID, content-add
// with in-memory/temp-file buffering and collision resolution, and
// checksum-verified reads.
package objectstore

import (
	"context"
	"encoding/hex"
	"path/filepath"
	"time"

	"github.com/eirikba/ebakup/pkg/cid"
)

// dirComponentLen is the hex-character width of each intermediate
// directory component (spec §4.4: "all siblings in the same intermediate
// directory have equal name length").
const dirComponentLen = 2

// PathFor derives the on-disk path for c under root, hex-encoding the CID
// and splitting it into two 2-hex intermediate directories plus a leaf
// filename of whatever remains — deterministic and recomputable from the
// CID alone (spec §4.4).
func PathFor(root string, c cid.CID) string {
	h := hex.EncodeToString(c)
	if len(h) <= 2*dirComponentLen {
		return filepath.Join(root, h)
	}
	return filepath.Join(root, h[:dirComponentLen], h[dirComponentLen:2*dirComponentLen], h[2*dirComponentLen:])
}

// Store is an open content/ object store, backed by a content index for
// deduplication and collision detection.
type Store struct {
	root   string
	tmpDir string
	index  Index
	maxBuf int
}

// Index is the subset of *contentindex.Index the object store needs,
// narrowed to keep this package's dependency on contentindex to an
// interface (store_test.go exercises it with a fake).
type Index interface {
	LookupByChecksum(ck []byte) ([]cid.CID, error)
	Has(c cid.CID) (bool, error)
	Add(ctx context.Context, c cid.CID, checksum []byte, now time.Time) error
}

// New opens a Store rooted at contentRoot (the storage's content/
// directory), using tmpDir for oversized spill buffers and idx for
// dedup/collision lookups.
func New(contentRoot, tmpDir string, idx Index, maxBufferBytes int) *Store {
	if maxBufferBytes <= 0 {
		maxBufferBytes = DefaultMaxBuffer
	}
	return &Store{root: contentRoot, tmpDir: tmpDir, index: idx, maxBuf: maxBufferBytes}
}

// DefaultMaxBuffer is the default in-memory buffering threshold before an
// add spills to a temp file (spec §4.4: "default 100 MiB").
const DefaultMaxBuffer = 100 << 20
