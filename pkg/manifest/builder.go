package manifest

import (
	"os"
	"strings"
	"time"

	"github.com/eirikba/ebakup/pkg/blockfile"
	"github.com/eirikba/ebakup/pkg/checksum"
	"github.com/eirikba/ebakup/pkg/cid"
	"github.com/eirikba/ebakup/pkg/ebakuperr"
	"github.com/eirikba/ebakup/pkg/extras"
)

// Builder accumulates a snapshot's directories and files as the walker
// delivers them in arbitrary order, then packs and finalizes the manifest
// file (spec §4.3 "Writer contract").
type Builder struct {
	file      *blockfile.File
	newPath   string
	finalPath string
	blockSize int
	sumAlgo   checksum.Algorithm
	start     time.Time

	dirIDs    map[string]DirID
	dirIndex  map[DirID]int
	dirList   []Directory
	nextDirID DirID

	fileList []File
	extrasB  *extras.Builder

	finalized bool
}

// NewBuilder creates "<newPath>" (failing if it already exists) and writes
// its settings block with "start" set; "end" is added at Finalize. No lock
// is taken here or by storage.StartSnapshot: exclusivity comes only from
// newPath being created under O_EXCL and from StartSnapshot's check that
// finalPath does not exist yet.
func NewBuilder(newPath, finalPath string, blockSize int, sumAlgo checksum.Algorithm, start time.Time) (*Builder, error) {
	s := blockfile.Settings{Magic: Magic, BlockSize: blockSize, BlockSum: sumAlgo}
	s.Set("start", formatManifestTime(start))
	f, err := blockfile.Create(newPath, s)
	if err != nil {
		return nil, err
	}
	return &Builder{
		file:      f,
		newPath:   newPath,
		finalPath: finalPath,
		blockSize: blockSize,
		sumAlgo:   sumAlgo,
		start:     start,
		dirIDs:    map[string]DirID{"": RootDirID},
		dirIndex:  make(map[DirID]int),
		nextDirID: FirstFreeDirID,
		extrasB:   extras.NewBuilder(),
	}, nil
}

// EnsureDir returns the DirID for the directory named by components
// (root-to-leaf path segments), allocating ids left-to-right for any
// segment not seen before (spec §4.3).
func (b *Builder) EnsureDir(components []string) DirID {
	key := ""
	parent := RootDirID
	for _, comp := range components {
		key += "\x00" + comp
		if id, ok := b.dirIDs[key]; ok {
			parent = id
			continue
		}
		id := b.nextDirID
		b.nextDirID++
		b.dirIDs[key] = id
		b.dirIndex[id] = len(b.dirList)
		b.dirList = append(b.dirList, Directory{ID: id, Parent: parent, Name: comp})
		parent = id
	}
	return parent
}

// SetDirExtras attaches owner/group/unix-access-style metadata to the
// directory named by components, creating it first if necessary.
func (b *Builder) SetDirExtras(components []string, kv map[string]string) {
	id := b.EnsureDir(components)
	idx := b.dirIndex[id]
	b.dirList[idx].Extra = b.internKV(kv)
}

func (b *Builder) internKV(kv map[string]string) extras.XID {
	if len(kv) == 0 {
		return 0
	}
	ids := make([]extras.KVID, 0, len(kv))
	for k, v := range kv {
		ids = append(ids, b.extrasB.InternKV(k, v))
	}
	return b.extrasB.InternBundle(ids)
}

// AddFile records one file record under the directory named by dirPath.
func (b *Builder) AddFile(dirPath []string, name string, size uint64, mtime time.Time, c cid.CID, ftype FileType, kv map[string]string) {
	parent := b.EnsureDir(dirPath)
	b.fileList = append(b.fileList, File{
		Parent: parent,
		Name:   name,
		CID:    c,
		Size:   size,
		MTime:  mtime,
		Extra:  b.internKV(kv),
		Type:   ftype,
	})
}

// entryBuffer packs entries into block-sized chunks, never splitting one
// across two blocks (spec §4.1, §4.3).
type entryBuffer struct {
	buf     []byte
	maxSize int
}

func newEntryBuffer(blockSize int, sumAlgo checksum.Algorithm) (*entryBuffer, error) {
	sumSize, err := checksum.Size(sumAlgo)
	if err != nil {
		return nil, err
	}
	return &entryBuffer{maxSize: blockSize - sumSize}, nil
}

func (e *entryBuffer) add(file *blockfile.File, encode func([]byte) []byte) error {
	entry := encode(nil)
	if len(entry) > e.maxSize {
		return ebakuperr.InvalidFormat(file.Path(), "entry too large to fit in one block")
	}
	if len(e.buf)+len(entry) > e.maxSize {
		if err := e.flush(file); err != nil {
			return err
		}
	}
	e.buf = append(e.buf, entry...)
	return nil
}

func (e *entryBuffer) flush(file *blockfile.File) error {
	if len(e.buf) == 0 {
		return nil
	}
	if err := file.AppendBlock(e.buf); err != nil {
		return err
	}
	e.buf = nil
	return nil
}

// Finalize writes the definition blocks (extras), the data blocks
// (directories then files), rewrites the settings block with "end" set,
// fsyncs, and renames newPath to finalPath (spec §4.3).
func (b *Builder) Finalize(end time.Time) error {
	if b.finalized {
		return ebakuperr.InvalidFormat(b.newPath, "manifest already finalized")
	}

	eb, err := newEntryBuffer(b.blockSize, b.sumAlgo)
	if err != nil {
		return err
	}
	for _, kv := range b.extrasB.KVs() {
		if err := eb.add(b.file, func(buf []byte) []byte { return EncodeKV(buf, kv) }); err != nil {
			return err
		}
	}
	for _, bundle := range b.extrasB.Bundles() {
		if err := eb.add(b.file, func(buf []byte) []byte { return EncodeBundle(buf, bundle) }); err != nil {
			return err
		}
	}
	if err := eb.flush(b.file); err != nil {
		return err
	}

	for _, d := range b.dirList {
		d := d
		if err := eb.add(b.file, func(buf []byte) []byte { return EncodeDirectory(buf, d) }); err != nil {
			return err
		}
	}
	for _, f := range b.fileList {
		f := f
		if err := eb.add(b.file, func(buf []byte) []byte { return EncodeFile(buf, f) }); err != nil {
			return err
		}
	}
	if err := eb.flush(b.file); err != nil {
		return err
	}

	s := blockfile.Settings{Magic: Magic, BlockSize: b.blockSize, BlockSum: b.sumAlgo}
	s.Set("start", formatManifestTime(b.start))
	s.Set("end", formatManifestTime(end))
	if err := b.file.RewriteBlock(0, blockfile.EncodeSettings(s)); err != nil {
		return err
	}
	if err := b.file.Sync(); err != nil {
		return err
	}
	if err := b.file.Close(); err != nil {
		return err
	}
	if err := os.Rename(b.newPath, b.finalPath); err != nil {
		return ebakuperr.IoError(b.finalPath, err)
	}
	b.finalized = true
	return nil
}

// Discard closes and removes the in-progress ".new" file without
// finalizing it, e.g. on a failed backup (spec §7 "a failed backup exits
// nonzero without finalizing its manifest").
func (b *Builder) Discard() error {
	if b.finalized {
		return nil
	}
	b.file.Close()
	return os.Remove(b.newPath)
}

// splitPath is a convenience for callers holding a "/"-joined relative
// path instead of pre-split components.
func splitPath(p string) (dir []string, name string) {
	p = strings.Trim(p, "/")
	segs := strings.Split(p, "/")
	if len(segs) == 0 {
		return nil, ""
	}
	return segs[:len(segs)-1], segs[len(segs)-1]
}

// AddFilePath is AddFile for a "/"-joined relative path, the shape the
// storage façade receives from the walker.
func (b *Builder) AddFilePath(path string, size uint64, mtime time.Time, c cid.CID, ftype FileType, kv map[string]string) {
	dir, name := splitPath(path)
	b.AddFile(dir, name, size, mtime, c, ftype, kv)
}
