// Package lockfile implements the per-file pieces of the storage-wide
// locking discipline (spec §4.5): advisory per-file read/write locks over
// db/*, the after-acquisition staleness recheck, and the two-hour
// staleness threshold for reclaiming an abandoned ".new" file. It does not
// enforce the "main first, drop last" ranking rule; storage.LockSet does.
package lockfile

import (
	"os"
	"time"

	"github.com/eirikba/ebakup/pkg/ebakuperr"
	"github.com/gofrs/flock"
)

// StaleAfter is the age past which a ".new" file may be reclaimed as
// abandoned (spec §4.5).
const StaleAfter = 2 * time.Hour

// Mode selects a read or write advisory lock.
type Mode int

const (
	Read Mode = iota
	Write
)

// Lock is one held advisory lock on a db/* file.
type Lock struct {
	path string
	fl   *flock.Flock
	mode Mode
}

// IsMain reports whether path names db/main, the file that must be locked
// first and released last whenever a process holds more than one lock
// (spec §4.5).
func IsMain(path, mainPath string) bool {
	return path == mainPath
}

// Acquire takes an advisory lock on path in the given mode, then
// re-checks that path still names the same file (it has not been
// replaced by a concurrent atomic-rename) before returning (spec §4.5
// "Every lock acquisition must verify that the file opened is still the
// current file"). Callers needing more than one simultaneous lock are
// responsible for acquiring db/main's lock first, per the ranking rule;
// this function does not enforce ordering across calls.
func Acquire(path string, mode Mode) (*Lock, error) {
	before, err := os.Stat(path)
	if err != nil {
		return nil, ebakuperr.IoError(path, err)
	}

	fl := flock.New(path)
	var ok bool
	if mode == Write {
		ok, err = fl.TryLock()
	} else {
		ok, err = fl.TryRLock()
	}
	if err != nil {
		return nil, ebakuperr.LockContention(path, err)
	}
	if !ok {
		return nil, ebakuperr.LockContention(path, nil)
	}

	after, err := os.Stat(path)
	if err != nil {
		fl.Unlock()
		return nil, ebakuperr.StaleReplaced(path)
	}
	if !os.SameFile(before, after) {
		fl.Unlock()
		return nil, ebakuperr.StaleReplaced(path)
	}

	return &Lock{path: path, fl: fl, mode: mode}, nil
}

// Release drops the lock. Per the ranking rule, a process holding
// db/main alongside other locks must Release every other lock before
// releasing db/main.
func (l *Lock) Release() error {
	return l.fl.Unlock()
}

// Mode reports whether this is a read or write lock.
func (l *Lock) Mode() Mode { return l.mode }

// IsStaleNew reports whether the ".new" file at path is old enough to be
// reclaimed (spec §4.5, §4.8).
func IsStaleNew(path string) (bool, error) {
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, ebakuperr.IoError(path, err)
	}
	return time.Since(fi.ModTime()) > StaleAfter, nil
}
