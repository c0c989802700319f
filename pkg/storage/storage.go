// Package storage implements the storage façade (spec §4.5): binds a
// directory into an open Storage, enforces the main-first locking
// discipline, and exposes snapshot enumeration/creation and content-add.
package storage

import (
	"os"
	"path/filepath"

	"github.com/eirikba/ebakup/pkg/config"
	"github.com/eirikba/ebakup/pkg/contentindex"
	"github.com/eirikba/ebakup/pkg/ebakuperr"
	"github.com/eirikba/ebakup/pkg/logging"
	"github.com/eirikba/ebakup/pkg/objectstore"
	"github.com/eirikba/ebakup/pkg/verifylog"
)

// Storage is an open storage root: db/, content/, and tmp/ bound together
// with the shared config that governs new files created within it.
type Storage struct {
	Root string
	cfg  config.Config

	mainPath    string
	contentPath string
	contentDir  string
	tmpDir      string
	dbDir       string

	index *contentindex.Index
	store *objectstore.Store
}

func paths(root string) (db, content, tmp, main, contentIdx string) {
	db = filepath.Join(root, "db")
	content = filepath.Join(root, "content")
	tmp = filepath.Join(root, "tmp")
	main = filepath.Join(db, "main")
	contentIdx = filepath.Join(db, "content")
	return
}

// Create initializes a brand-new storage at root (spec §4.5 "Create fails
// if the directory exists and is non-empty").
func Create(root string, cfg config.Config) (*Storage, error) {
	entries, err := os.ReadDir(root)
	if err != nil && !os.IsNotExist(err) {
		return nil, ebakuperr.IoError(root, err)
	}
	if err == nil && len(entries) > 0 {
		return nil, ebakuperr.AlreadyExists(root, "storage root is not empty")
	}

	dbDir, contentDir, tmpDir, mainPath, contentPath := paths(root)
	for _, d := range []string{root, dbDir, contentDir, tmpDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, ebakuperr.IoError(d, err)
		}
	}

	if err := writeMainSettings(mainPath, cfg); err != nil {
		return nil, err
	}
	idx, err := contentindex.Create(contentPath, cfg.BlockSize, cfg.ChecksumAlgo)
	if err != nil {
		return nil, err
	}
	if _, err := verifylog.CreateLastCheck(filepath.Join(dbDir, "lastcheck"), cfg.BlockSize, cfg.ChecksumAlgo); err != nil {
		return nil, err
	}
	if _, err := verifylog.CreateIssues(filepath.Join(dbDir, "issues"), cfg.BlockSize, cfg.ChecksumAlgo); err != nil {
		return nil, err
	}

	logging.WithComponent("storage").Info().Str("root", root).Msg("created storage")

	st := &Storage{
		Root: root, cfg: cfg,
		mainPath: mainPath, contentPath: contentPath,
		contentDir: contentDir, tmpDir: tmpDir, dbDir: dbDir,
		index: idx,
	}
	st.store = objectstore.New(contentDir, tmpDir, idx, cfg.MaxAddBuffer)
	return st, nil
}

// Open binds an existing storage root, reading its db/main settings to
// recover the checksum algorithm in force (spec §4.5).
func Open(root string) (*Storage, error) {
	dbDir, contentDir, tmpDir, mainPath, contentPath := paths(root)
	main, err := readMainSettings(mainPath)
	if err != nil {
		return nil, err
	}
	cfg := config.Default()
	cfg.ChecksumAlgo = main.Checksum
	cfg.BlockSize = main.BlockSize

	idx, err := contentindex.Open(contentPath)
	if err != nil {
		return nil, err
	}

	st := &Storage{
		Root: root, cfg: cfg,
		mainPath: mainPath, contentPath: contentPath,
		contentDir: contentDir, tmpDir: tmpDir, dbDir: dbDir,
		index: idx,
	}
	st.store = objectstore.New(contentDir, tmpDir, idx, cfg.MaxAddBuffer)
	return st, nil
}

// Close releases the storage's long-lived open handles (the content
// index container). Snapshot manifests are opened and closed per call.
func (s *Storage) Close() error {
	return s.index.Close()
}

// DBDir returns the storage's db/ directory, for callers that need to
// enumerate or lock files directly (snapshots.go, locking.go).
func (s *Storage) DBDir() string { return s.dbDir }

// ContentIndex exposes the storage's content index for verification and
// mirror use.
func (s *Storage) ContentIndex() *contentindex.Index { return s.index }

// ObjectStore exposes the storage's object store for verification and
// mirror use.
func (s *Storage) ObjectStore() *objectstore.Store { return s.store }

// Config returns the storage's effective configuration.
func (s *Storage) Config() config.Config { return s.cfg }
