package storage

import (
	"context"
	"io"

	"github.com/eirikba/ebakup/pkg/cid"
)

// AddContent streams r into the content-addressed object store and
// returns its CID (spec §4.5 "add_content(stream) -> cid"). Deduplication,
// collision resolution, and the content-index append all happen inside
// the object store; the façade's only job is to hand it the configured
// checksum algorithm.
func (s *Storage) AddContent(ctx context.Context, r io.Reader) (cid.CID, error) {
	return s.store.Add(ctx, r, s.cfg.ChecksumAlgo)
}
