// Package checksum dispatches the closed set of checksum algorithms named
// throughout spec §4.1/§6: md5, sha1, sha256, sha512, sha3. Algorithm
// selection is a tagged enumeration with a dispatch table (design note
// "Dynamic dispatch", spec §9), never a registry callers can extend at
// runtime.
package checksum

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"

	"golang.org/x/crypto/sha3"
)

// Algorithm names one of the fixed checksum algorithms a container file can
// declare in its edb-blocksum/checksum setting.
type Algorithm string

const (
	MD5    Algorithm = "md5"
	SHA1   Algorithm = "sha1"
	SHA256 Algorithm = "sha256"
	SHA512 Algorithm = "sha512"
	SHA3   Algorithm = "sha3"

	// Default is the algorithm used when a setting is absent (spec §4.1, §6).
	Default = SHA256
)

var newHash = map[Algorithm]func() hash.Hash{
	MD5:    md5.New,
	SHA1:   sha1.New,
	SHA256: sha256.New,
	SHA512: sha512.New,
	SHA3:   func() hash.Hash { return sha3.New256() },
}

var sizes = map[Algorithm]int{
	MD5:    md5.Size,
	SHA1:   sha1.Size,
	SHA256: sha256.Size,
	SHA512: sha512.Size,
	SHA3:   32,
}

// Valid reports whether name is one of the five recognized algorithms.
func Valid(name string) bool {
	_, ok := newHash[Algorithm(name)]
	return ok
}

// New returns a fresh hash.Hash for algo, or an error if algo is not one of
// the five recognized algorithms.
func New(algo Algorithm) (hash.Hash, error) {
	fn, ok := newHash[algo]
	if !ok {
		return nil, fmt.Errorf("checksum: unknown algorithm %q", algo)
	}
	return fn(), nil
}

// Size returns the digest length in octets for algo.
func Size(algo Algorithm) (int, error) {
	n, ok := sizes[algo]
	if !ok {
		return 0, fmt.Errorf("checksum: unknown algorithm %q", algo)
	}
	return n, nil
}

// Sum computes the digest of data under algo.
func Sum(algo Algorithm, data []byte) ([]byte, error) {
	h, err := New(algo)
	if err != nil {
		return nil, err
	}
	h.Write(data)
	return h.Sum(nil), nil
}
