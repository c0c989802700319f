package contentindex

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/eirikba/ebakup/pkg/cid"
	"github.com/eirikba/ebakup/pkg/ebakuperr"
	"github.com/eirikba/ebakup/pkg/retry"
)

// Add appends an active entry for (c, checksum), unless an entry for c
// already exists. No file lock is taken, neither by this package nor by
// the storage façade's AddContent; the only guard against another process
// is the mtime recheck: Add re-scans if the file's mtime has advanced,
// re-checks presence, and retries a bounded number of times if the mtime
// moves again between that check and the write. An append by another
// process that lands after the recheck is not detected.
func (ix *Index) Add(ctx context.Context, c cid.CID, checksum []byte, now time.Time) error {
	return retry.Do(ctx, retry.ContentIndexAppend, isConcurrentAppend, func() error {
		return ix.tryAdd(c, checksum, now)
	})
}

func (ix *Index) tryAdd(c cid.CID, checksum []byte, now time.Time) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	mtimeBefore := fileMtime(ix.path)
	if err := ix.ensureScannedLocked(); err != nil {
		return err
	}
	if _, ok := ix.byCID[string(c)]; ok {
		return nil // already present: Add is idempotent (spec scenario "Idempotence")
	}

	// Re-check immediately before writing: if another process appended
	// since our scan, mtime will have moved and we must not write a
	// stale view's duplicate.
	if fileMtime(ix.path).After(mtimeBefore) {
		return concurrentAppendErr{}
	}

	entry := encodeActive(nil, Info{CID: c, Checksum: checksum, Added: now})
	if err := ix.file.AppendBlock(entry); err != nil {
		return err
	}
	// Keep the in-memory cache current rather than forcing an immediate
	// rescan on the next lookup.
	ix.cidFilter.Add(c)
	ix.ckFilter.Add(checksum)
	ix.byCID[string(c)] = Info{CID: c, Checksum: checksum, Added: now}
	ix.byCK[string(checksum)] = append(ix.byCK[string(checksum)], c)
	ix.builtAt = fileMtime(ix.path)
	return nil
}

// ensureScannedLocked is ensureScanned for a caller that already holds
// ix.mu (Add needs the mtime check and the scan to be atomic together).
func (ix *Index) ensureScannedLocked() error {
	return ix.ensureScanned()
}

type concurrentAppendErr struct{}

func (concurrentAppendErr) Error() string { return "contentindex: concurrent append detected" }

func isConcurrentAppend(err error) bool {
	_, ok := err.(concurrentAppendErr)
	return ok
}

// Replace performs the whole-file rotation-and-replace protocol (spec
// §4.2): content.(depth-1) is dropped, content.i → content.(i+1) for i
// from depth-2 down to 0, hardlink the current file as
// the new content.0, then rename newPath (already-written replacement
// content) over path.
//
// The caller supplies newPath, the path to a fully-written and fsynced
// replacement index (e.g. produced by a compaction pass); Replace performs
// only the rotation and atomic swap, not the rebuild.
func Replace(path, newPath string, depth int) error {
	if depth < 1 {
		return ebakuperr.InvalidFormat(path, "replace rotation depth must be at least 1")
	}
	for i := depth - 1; i >= 1; i-- {
		src := rotatedName(path, i-1)
		dst := rotatedName(path, i)
		if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
			return ebakuperr.IoError(dst, err)
		}
		if err := os.Rename(src, dst); err != nil && !os.IsNotExist(err) {
			return ebakuperr.IoError(src, err)
		}
	}
	if err := os.Remove(rotatedName(path, 0)); err != nil && !os.IsNotExist(err) {
		return ebakuperr.IoError(path, err)
	}
	if err := os.Link(path, rotatedName(path, 0)); err != nil {
		return ebakuperr.IoError(path, err)
	}
	if err := os.Rename(newPath, path); err != nil {
		return ebakuperr.IoError(newPath, err)
	}
	return nil
}

func rotatedName(path string, i int) string {
	return fmt.Sprintf("%s.%d", path, i)
}
