package objectstore

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/eirikba/ebakup/pkg/checksum"
	"github.com/eirikba/ebakup/pkg/cid"
	"github.com/eirikba/ebakup/pkg/ebakuperr"
	"github.com/google/uuid"
)

// Add implements the content-add protocol (spec §4.4): buffer (or spill
// to tmp/ past maxBuf), checksum while streaming, consult the index for
// an existing object with the same checksum, and either dedup, resolve a
// collision by suffix extension, or write a new object.
func (s *Store) Add(ctx context.Context, r io.Reader, algo checksum.Algorithm) (cid.CID, error) {
	h, err := checksum.New(algo)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	var spillPath string
	var spillFile *os.File
	tee := io.TeeReader(r, h)

	if _, err := io.CopyN(&buf, tee, int64(s.maxBuf)); err != nil && err != io.EOF {
		return nil, ebakuperr.IoError("", err)
	}
	if buf.Len() == s.maxBuf {
		// Might still have more to read: spill the rest to tmp/.
		spillPath = filepath.Join(s.tmpDir, "add-"+uuid.NewString())
		spillFile, err = os.OpenFile(spillPath, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
		if err != nil {
			return nil, ebakuperr.IoError(spillPath, err)
		}
		defer func() {
			if spillFile != nil {
				spillFile.Close()
				os.Remove(spillPath)
			}
		}()
		if _, err := io.Copy(spillFile, &buf); err != nil {
			return nil, ebakuperr.IoError(spillPath, err)
		}
		if _, err := io.Copy(spillFile, tee); err != nil {
			return nil, ebakuperr.IoError(spillPath, err)
		}
	}

	digest := cid.CID(h.Sum(nil))

	source := func() (io.ReadSeekCloser, error) {
		if spillFile != nil {
			if _, err := spillFile.Seek(0, io.SeekStart); err != nil {
				return nil, ebakuperr.IoError(spillPath, err)
			}
			return nopCloserSeeker{spillFile}, nil
		}
		return closableReader{bytes.NewReader(buf.Bytes())}, nil
	}

	candidates, err := s.index.LookupByChecksum(digest)
	if err != nil {
		return nil, err
	}

	for _, existing := range candidates {
		identical, err := s.contentMatches(existing, source)
		if err != nil {
			return nil, err
		}
		if identical {
			return existing, nil
		}
	}

	finalCID := digest
	if len(candidates) > 0 {
		finalCID = cid.NextSuffix(digest, func(c cid.CID) bool {
			for _, existing := range candidates {
				if existing.Equal(c) {
					return true
				}
			}
			ok, _ := s.index.Has(c)
			return ok
		})
		if finalCID == nil {
			return nil, ebakuperr.CidCollision(PathFor(s.root, digest))
		}
	}

	finalPath := PathFor(s.root, finalCID)
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return nil, ebakuperr.IoError(finalPath, err)
	}

	if spillFile != nil {
		if err := spillFile.Sync(); err != nil {
			return nil, ebakuperr.IoError(spillPath, err)
		}
		if err := spillFile.Close(); err != nil {
			return nil, ebakuperr.IoError(spillPath, err)
		}
		if err := os.Rename(spillPath, finalPath); err != nil {
			return nil, ebakuperr.IoError(finalPath, err)
		}
		spillFile = nil // ownership transferred; don't clean it up
	} else {
		tmpPath := filepath.Join(s.tmpDir, "add-"+uuid.NewString())
		f, err := os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
		if err != nil {
			return nil, ebakuperr.IoError(tmpPath, err)
		}
		if _, err := f.Write(buf.Bytes()); err != nil {
			f.Close()
			os.Remove(tmpPath)
			return nil, ebakuperr.IoError(tmpPath, err)
		}
		if err := f.Sync(); err != nil {
			f.Close()
			os.Remove(tmpPath)
			return nil, ebakuperr.IoError(tmpPath, err)
		}
		if err := f.Close(); err != nil {
			os.Remove(tmpPath)
			return nil, ebakuperr.IoError(tmpPath, err)
		}
		if err := os.Rename(tmpPath, finalPath); err != nil {
			os.Remove(tmpPath)
			return nil, ebakuperr.IoError(finalPath, err)
		}
	}

	if err := s.index.Add(ctx, finalCID, digest, time.Now()); err != nil {
		return nil, err
	}
	return finalCID, nil
}

// contentMatches compares the candidate's stored object byte-for-byte
// against the freshly streamed content (spec §4.4 step 4).
func (s *Store) contentMatches(existing cid.CID, source func() (io.ReadSeekCloser, error)) (bool, error) {
	path := PathFor(s.root, existing)
	stored, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, ebakuperr.IoError(path, err)
	}
	defer stored.Close()

	fresh, err := source()
	if err != nil {
		return false, err
	}
	defer fresh.Close()

	const chunk = 64 * 1024
	ab := make([]byte, chunk)
	bb := make([]byte, chunk)
	for {
		an, aerr := io.ReadFull(stored, ab)
		bn, berr := io.ReadFull(fresh, bb)
		if an != bn || !bytes.Equal(ab[:an], bb[:bn]) {
			return false, nil
		}
		doneA := aerr == io.EOF || aerr == io.ErrUnexpectedEOF
		doneB := berr == io.EOF || berr == io.ErrUnexpectedEOF
		if doneA != doneB {
			return false, nil
		}
		if doneA {
			return true, nil
		}
		if aerr != nil {
			return false, ebakuperr.IoError(path, aerr)
		}
		if berr != nil {
			return false, ebakuperr.IoError("", berr)
		}
	}
}

// nopCloserSeeker wraps the shared spill file for a read during collision
// comparison without closing the underlying handle, which the caller
// still needs afterward to sync and rename.
type nopCloserSeeker struct {
	*os.File
}

func (nopCloserSeeker) Close() error { return nil }

type closableReader struct {
	*bytes.Reader
}

func (closableReader) Close() error { return nil }
