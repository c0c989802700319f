package objectstore

import (
	"bytes"
	"io"
	"os"

	"github.com/eirikba/ebakup/pkg/checksum"
	"github.com/eirikba/ebakup/pkg/cid"
	"github.com/eirikba/ebakup/pkg/ebakuperr"
)

// Open resolves c to its object path and opens it for reading (spec §4.4
// "Read"). Callers that need digest re-verification should use
// VerifyContent instead (or in addition).
func (s *Store) Open(c cid.CID) (*os.File, error) {
	path := PathFor(s.root, c)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ebakuperr.ContentMissing(path, "object body absent from content store")
		}
		return nil, ebakuperr.IoError(path, err)
	}
	return f, nil
}

// VerifyContent re-reads the full object for c, recomputing its digest
// under algo and comparing against want, the stored "good checksum" (spec
// §4.4 "On every full-file read used by verification, recompute the
// digest and compare"). It returns (true, nil) when they match, (false,
// nil) on a clean mismatch, and a non-nil error only for I/O failures.
func (s *Store) VerifyContent(c cid.CID, algo checksum.Algorithm, want []byte) (bool, error) {
	f, err := s.Open(c)
	if err != nil {
		return false, err
	}
	defer f.Close()

	h, err := checksum.New(algo)
	if err != nil {
		return false, err
	}
	if _, err := io.Copy(h, f); err != nil {
		return false, ebakuperr.IoError(PathFor(s.root, c), err)
	}
	return bytes.Equal(h.Sum(nil), want), nil
}
