package storage

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/eirikba/ebakup/pkg/ebakuperr"
	"github.com/eirikba/ebakup/pkg/manifest"
)

var snapshotNamePattern = regexp.MustCompile(`^(\d{2})-(\d{2})T(\d{2}):(\d{2})$`)

// SnapshotInfo names one finalized snapshot (spec §4.5 "snapshots() ->
// ordered list of (name, start_time)").
type SnapshotInfo struct {
	Name  string // "YYYY/MM-DDThh:mm"
	Start time.Time
}

// Snapshots returns every finalized snapshot under db/, oldest first.
// ".new" files and any unrecognized entries under a year directory are
// skipped; db/main, db/content, db/lastcheck, and db/issues are skipped
// by virtue of not living under a year directory.
func (s *Storage) Snapshots() ([]SnapshotInfo, error) {
	yearDirs, err := os.ReadDir(s.dbDir)
	if err != nil {
		return nil, ebakuperr.IoError(s.dbDir, err)
	}

	var out []SnapshotInfo
	for _, yd := range yearDirs {
		if !yd.IsDir() {
			continue
		}
		year := yd.Name()
		entries, err := os.ReadDir(filepath.Join(s.dbDir, year))
		if err != nil {
			return nil, ebakuperr.IoError(filepath.Join(s.dbDir, year), err)
		}
		for _, e := range entries {
			if e.IsDir() || !snapshotNamePattern.MatchString(e.Name()) {
				continue
			}
			name := year + "/" + e.Name()
			start, err := snapshotNameToTime(name)
			if err != nil {
				continue
			}
			out = append(out, SnapshotInfo{Name: name, Start: start})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

// Snapshot opens the manifest named name ("YYYY/MM-DDThh:mm") for
// reading.
func (s *Storage) Snapshot(name string) (*manifest.Reader, error) {
	return manifest.Open(filepath.Join(s.dbDir, name))
}

func snapshotNameToTime(name string) (time.Time, error) {
	m := snapshotNamePattern.FindStringSubmatch(filepath.Base(name))
	if m == nil {
		return time.Time{}, ebakuperr.InvalidFormat(name, "not a snapshot name")
	}
	year := filepath.Dir(name)
	layout := "2006-01-02T15:04"
	return time.ParseInLocation(layout, year+"-"+m[1]+"-"+m[2]+"T"+m[3]+":"+m[4], time.Local)
}
