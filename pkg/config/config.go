// Package config holds the storage engine's tunables: block size,
// checksum algorithm, object-add buffering threshold, and lock staleness
// window. It is a plain struct with a Default constructor, not a global
// singleton — every Storage is opened with an explicit Config so multiple
// storages with different settings can coexist in one process (e.g. sync
// source and destination).
package config

import (
	"time"

	"github.com/eirikba/ebakup/pkg/checksum"
)

// Config collects the settings a new Storage is created with. Opening an
// existing Storage ignores these fields in favor of what db/main already
// declares (spec §4.1, §4.5).
type Config struct {
	BlockSize       int
	ChecksumAlgo    checksum.Algorithm
	MaxAddBuffer    int           // spec §4.4 "default 100 MiB"
	LockStaleAfter  time.Duration // spec §4.5 "two hours"
	ContentRotation int           // default depth for content-index whole-file replace
}

// Default returns the configuration used when a caller does not override
// anything explicitly.
func Default() Config {
	return Config{
		BlockSize:       4096,
		ChecksumAlgo:    checksum.Default,
		MaxAddBuffer:    100 << 20,
		LockStaleAfter:  2 * time.Hour,
		ContentRotation: 4,
	}
}
