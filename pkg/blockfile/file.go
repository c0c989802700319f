package blockfile

import (
	"bytes"
	"io"
	"os"

	"github.com/eirikba/ebakup/pkg/checksum"
	"github.com/eirikba/ebakup/pkg/ebakuperr"
)

// bootstrapCap bounds how much of a file the settings-block bootstrap will
// read before giving up on locating the zero-terminator that ends the
// settings lines (spec §4.1: "reads a safely-bounded prefix").
const bootstrapCap = 1 << 20

// File is an open block container: a fixed block size and checksum
// algorithm (read from its own settings block), plus the underlying file
// handle. All reads verify checksums; all writes finalize one whole block
// at a time (spec §4.1).
type File struct {
	f         *os.File
	path      string
	blockSize int
	sumAlgo   checksum.Algorithm
}

// Path returns the file's path, for error reporting by callers that only
// hold a *File.
func (file *File) Path() string { return file.path }

// BlockSize returns the container's fixed block size.
func (file *File) BlockSize() int { return file.blockSize }

// SumAlgo returns the container's checksum algorithm.
func (file *File) SumAlgo() checksum.Algorithm { return file.sumAlgo }

// Open opens an existing container file and bootstraps its settings block.
func Open(path string) (*File, Settings, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, Settings{}, ebakuperr.IoError(path, err)
	}
	s, err := bootstrapSettings(f, path)
	if err != nil {
		f.Close()
		return nil, Settings{}, err
	}
	return &File{f: f, path: path, blockSize: s.BlockSize, sumAlgo: s.BlockSum}, s, nil
}

// OpenReadOnly is Open for callers (verification, sync source reads) that
// must never write.
func OpenReadOnly(path string) (*File, Settings, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, Settings{}, ebakuperr.IoError(path, err)
	}
	s, err := bootstrapSettings(f, path)
	if err != nil {
		f.Close()
		return nil, Settings{}, err
	}
	return &File{f: f, path: path, blockSize: s.BlockSize, sumAlgo: s.BlockSum}, s, nil
}

// Create creates a new container file at path (failing if it already
// exists) and writes its settings block as block 0.
func Create(path string, s Settings) (*File, error) {
	if s.BlockSize == 0 {
		s.BlockSize = DefaultBlockSize
	}
	if s.BlockSum == "" {
		s.BlockSum = checksum.Default
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, ebakuperr.AlreadyExists(path, "container file already exists")
		}
		return nil, ebakuperr.IoError(path, err)
	}
	file := &File{f: f, path: path, blockSize: s.BlockSize, sumAlgo: s.BlockSum}
	if err := file.AppendBlock(EncodeSettings(s)); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	return file, nil
}

func bootstrapSettings(f *os.File, path string) (Settings, error) {
	fi, err := f.Stat()
	if err != nil {
		return Settings{}, ebakuperr.IoError(path, err)
	}
	capLen := int64(bootstrapCap)
	if fi.Size() < capLen {
		capLen = fi.Size()
	}
	if capLen == 0 {
		return Settings{}, ebakuperr.InvalidFormat(path, "empty container file")
	}
	prefix := make([]byte, capLen)
	if _, err := f.ReadAt(prefix, 0); err != nil && err != io.EOF {
		return Settings{}, ebakuperr.IoError(path, err)
	}
	idx := bytes.IndexByte(prefix, 0x00)
	if idx < 0 {
		return Settings{}, ebakuperr.InvalidFormat(path, "could not locate settings block boundary")
	}
	probe, err := DecodeSettings(prefix[:idx], path)
	if err != nil {
		return Settings{}, err
	}
	if int64(probe.BlockSize) > fi.Size() {
		return Settings{}, ebakuperr.InvalidFormat(path, "declared block size exceeds file size")
	}
	block := make([]byte, probe.BlockSize)
	if _, err := f.ReadAt(block, 0); err != nil {
		return Settings{}, ebakuperr.IoError(path, err)
	}
	head, err := VerifyBlock(block, probe.BlockSum)
	if err != nil {
		return Settings{}, ebakuperr.BlockCorrupt(path, 0, err)
	}
	// The settings block is the one text payload in the format: it is
	// terminated by the first 0x00 byte, and everything after must be
	// zero padding (unlike a data block's entries, which can legitimately
	// contain interior 0x00 bytes and decode their own terminator).
	term := bytes.IndexByte(head, 0x00)
	if term < 0 {
		term = len(head)
	}
	for _, b := range head[term:] {
		if b != 0x00 {
			return Settings{}, ebakuperr.BlockCorrupt(path, 0, corruptSentinel{})
		}
	}
	return DecodeSettings(head[:term], path)
}

// NumBlocks returns the number of whole blocks currently in the file.
func (file *File) NumBlocks() (int, error) {
	fi, err := file.f.Stat()
	if err != nil {
		return 0, ebakuperr.IoError(file.path, err)
	}
	if fi.Size()%int64(file.blockSize) != 0 {
		return 0, ebakuperr.InvalidFormat(file.path, "file size is not a multiple of block size")
	}
	return int(fi.Size() / int64(file.blockSize)), nil
}

// ReadBlock verifies the block at index and returns its head: the entries
// payload with its trailing 0x00 padding still attached (the checksum is
// already stripped). Callers decode entries until they hit a 0x00 tag
// byte, then treat everything after that as padding (spec §4.1/§4.3) —
// entries themselves may contain interior 0x00 bytes, so the boundary
// cannot be found generically here.
func (file *File) ReadBlock(index int) ([]byte, error) {
	block := make([]byte, file.blockSize)
	off := int64(index) * int64(file.blockSize)
	if _, err := file.f.ReadAt(block, off); err != nil {
		return nil, ebakuperr.IoError(file.path, err)
	}
	head, err := VerifyBlock(block, file.sumAlgo)
	if err != nil {
		return nil, ebakuperr.BlockCorrupt(file.path, index, err)
	}
	return head, nil
}

// AppendBlock finalizes payload as a new block at the end of the file. A
// block is always written whole; there is no partial-block write (spec
// §4.1).
func (file *File) AppendBlock(payload []byte) error {
	n, err := file.NumBlocks()
	if err != nil {
		return err
	}
	return file.writeBlockAt(n, payload)
}

// RewriteBlock overwrites an existing block in place. Used only on mutable
// files (the content index, lastcheck, issues) and only while the caller
// holds that file's write lock.
func (file *File) RewriteBlock(index int, payload []byte) error {
	n, err := file.NumBlocks()
	if err != nil {
		return err
	}
	if index < 0 || index >= n {
		return ebakuperr.NotFound(file.path, "block index out of range")
	}
	return file.writeBlockAt(index, payload)
}

func (file *File) writeBlockAt(index int, payload []byte) error {
	block, err := BuildBlock(payload, file.blockSize, file.sumAlgo)
	if err != nil {
		return err
	}
	off := int64(index) * int64(file.blockSize)
	if _, err := file.f.WriteAt(block, off); err != nil {
		return ebakuperr.IoError(file.path, err)
	}
	return nil
}

// Iterate calls fn for every block from start to the end of the file,
// stopping at the first error (including a BlockCorrupt on a single bad
// block — spec scenario 4: other blocks remain independently readable via
// ReadBlock even after Iterate stops).
func (file *File) Iterate(start int, fn func(index int, payload []byte) error) error {
	n, err := file.NumBlocks()
	if err != nil {
		return err
	}
	for i := start; i < n; i++ {
		payload, err := file.ReadBlock(i)
		if err != nil {
			return err
		}
		if err := fn(i, payload); err != nil {
			return err
		}
	}
	return nil
}

// Sync flushes the file to stable storage.
func (file *File) Sync() error {
	if err := file.f.Sync(); err != nil {
		return ebakuperr.IoError(file.path, err)
	}
	return nil
}

// Close closes the underlying file handle.
func (file *File) Close() error {
	return file.f.Close()
}
