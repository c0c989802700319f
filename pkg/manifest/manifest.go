// Package manifest implements the per-snapshot manifest file codec (spec
// §4.3): directories, file records, the shared extras dictionary, and the
// builder/reader that produce and consume them.
package manifest

import (
	"time"

	"github.com/eirikba/ebakup/pkg/cid"
	"github.com/eirikba/ebakup/pkg/extras"
)

// Magic is the settings-block magic line for a manifest file (spec §6).
const Magic = "ebakup backup data"

// DirID identifies a directory within one manifest. 0 is the virtual root
// and never has its own record; 1–7 are otherwise reserved (spec §3).
type DirID uint64

// RootDirID is the virtual root directory; it has no directory record.
const RootDirID DirID = 0

// FirstFreeDirID is the first id the builder allocates to a real directory.
const FirstFreeDirID DirID = 8

// FileType is the optional special-file type code carried by a 0x94 entry.
// The zero value means "absent" (a plain regular file).
type FileType byte

const (
	TypeRegular   FileType = 0
	TypeUnknown   FileType = '?'
	TypeSymlink   FileType = 'L'
	TypeSocket    FileType = 'S'
	TypePipe      FileType = 'P'
	TypeDevice    FileType = 'D'
)

// Directory is one directory record (spec §3).
type Directory struct {
	ID     DirID
	Parent DirID
	Name   string // raw bytes preserved verbatim even if not valid UTF-8
	Extra  extras.XID
}

// File is one file record (spec §3). CID is empty for non-content
// specials (e.g. a directory marker carried as a special type, or a
// symlink whose target lives in Extra/metadata rather than as content).
type File struct {
	Parent DirID
	Name   string
	CID    cid.CID
	Size   uint64
	MTime  time.Time
	Extra  extras.XID
	Type   FileType // TypeRegular ("absent") unless this came from a 0x94 entry
}

// Manifest is a fully decoded snapshot: its time range plus every
// directory and file record (spec §3).
type Manifest struct {
	Start time.Time
	End   time.Time

	Directories []Directory
	Files       []File
}
