package storage

import (
	"os"
	"path/filepath"
	"time"

	"github.com/eirikba/ebakup/pkg/ebakuperr"
	"github.com/eirikba/ebakup/pkg/lockfile"
	"github.com/eirikba/ebakup/pkg/manifest"
)

// SnapshotBuilder wraps *manifest.Builder with the façade's creation
// protocol (spec §4.3 "Creation protocol", §4.5 "start_snapshot").
type SnapshotBuilder struct {
	*manifest.Builder
	name string
}

// StartSnapshot begins a new snapshot at start, truncated to minute
// granularity for naming (spec §3 "unique within the storage at minute
// granularity"). It fails with AlreadyExists if the slot is taken, or
// ConcurrentWriter if a live ".new" is already present.
func (s *Storage) StartSnapshot(start time.Time) (*SnapshotBuilder, error) {
	name := start.Format("2006/01-02T15:04")
	finalPath := filepath.Join(s.dbDir, name)
	newPath := finalPath + ".new"

	if _, err := os.Stat(finalPath); err == nil {
		return nil, ebakuperr.AlreadyExists(finalPath, "snapshot slot already taken")
	} else if !os.IsNotExist(err) {
		return nil, ebakuperr.IoError(finalPath, err)
	}

	if _, err := os.Stat(newPath); err == nil {
		stale, serr := lockfile.IsStaleNew(newPath)
		if serr != nil {
			return nil, serr
		}
		if !stale {
			return nil, ebakuperr.ConcurrentWriter(newPath)
		}
		if err := os.Remove(newPath); err != nil {
			return nil, ebakuperr.IoError(newPath, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, ebakuperr.IoError(newPath, err)
	}

	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return nil, ebakuperr.IoError(filepath.Dir(finalPath), err)
	}

	b, err := manifest.NewBuilder(newPath, finalPath, s.cfg.BlockSize, s.cfg.ChecksumAlgo, start)
	if err != nil {
		return nil, err
	}
	return &SnapshotBuilder{Builder: b, name: name}, nil
}
