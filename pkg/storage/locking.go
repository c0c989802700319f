package storage

import (
	"path/filepath"

	"github.com/eirikba/ebakup/pkg/lockfile"
)

// LockSet holds zero or more locks acquired against this storage's db/*
// files, always in main-first order and released in reverse with main
// last (spec §4.5, §5 "Lock taxonomy").
type LockSet struct {
	storage *Storage
	main    *lockfile.Lock
	others  []*lockfile.Lock
}

// LockMain acquires db/main in mode. Every multi-file lock sequence on a
// Storage must start here.
func (s *Storage) LockMain(mode lockfile.Mode) (*LockSet, error) {
	l, err := lockfile.Acquire(s.mainPath, mode)
	if err != nil {
		return nil, err
	}
	return &LockSet{storage: s, main: l}, nil
}

// LockAlso acquires an additional db/* file's lock, only valid once
// LockMain has already succeeded (spec §5 "To hold more than one lock at
// a time a process must first hold a lock on db/main").
func (ls *LockSet) LockAlso(relPath string, mode lockfile.Mode) error {
	path := filepath.Join(ls.storage.dbDir, relPath)
	l, err := lockfile.Acquire(path, mode)
	if err != nil {
		return err
	}
	ls.others = append(ls.others, l)
	return nil
}

// Release drops every held lock in LIFO order, with db/main released
// last (spec §5 "release is LIFO except that main must be released
// last").
func (ls *LockSet) Release() error {
	var firstErr error
	for i := len(ls.others) - 1; i >= 0; i-- {
		if err := ls.others[i].Release(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	ls.others = nil
	if ls.main != nil {
		if err := ls.main.Release(); err != nil && firstErr == nil {
			firstErr = err
		}
		ls.main = nil
	}
	return firstErr
}
