package blockfile

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/eirikba/ebakup/pkg/checksum"
	"github.com/eirikba/ebakup/pkg/ebakuperr"
)

// KV is one "key:value" settings line, kept in file order so re-emission
// (e.g. a manifest rewriting its settings block at finalization) is
// deterministic.
type KV struct {
	Key   string
	Value string
}

// Settings is the parsed settings block: a magic line identifying the file
// format, the two bootstrap keys every container file carries
// (edb-blocksize, edb-blocksum), and whatever other keys the specific file
// format defines (db/main's "checksum", a manifest's "start"/"end").
type Settings struct {
	Magic     string
	BlockSize int
	BlockSum  checksum.Algorithm
	Extra     []KV
}

// Get returns the value of an extra key (never one of the two bootstrap
// keys, which are typed fields on Settings).
func (s Settings) Get(key string) (string, bool) {
	for _, kv := range s.Extra {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return "", false
}

// Set upserts an extra key, preserving its original position if already
// present or appending it otherwise.
func (s *Settings) Set(key, value string) {
	for i, kv := range s.Extra {
		if kv.Key == key {
			s.Extra[i].Value = value
			return
		}
	}
	s.Extra = append(s.Extra, KV{Key: key, Value: value})
}

const (
	keyBlockSize = "edb-blocksize"
	keyBlockSum  = "edb-blocksum"

	// DefaultBlockSize is used when a writer does not override it (spec §6).
	DefaultBlockSize = 4096
)

// EncodeSettings renders s as the settings-block payload: the magic line
// followed by "key:value" lines, one per line, newline-terminated.
func EncodeSettings(s Settings) []byte {
	var buf bytes.Buffer
	buf.WriteString(s.Magic)
	buf.WriteByte('\n')
	fmt.Fprintf(&buf, "%s:%d\n", keyBlockSize, s.BlockSize)
	fmt.Fprintf(&buf, "%s:%s\n", keyBlockSum, string(s.BlockSum))
	for _, kv := range s.Extra {
		fmt.Fprintf(&buf, "%s:%s\n", kv.Key, kv.Value)
	}
	return buf.Bytes()
}

// DecodeSettings parses a settings-block payload, already cut at its first
// 0x00 byte by the settings bootstrap (VerifyBlock strips only the
// checksum and leaves the padding attached). It does not reject
// unrecognized extra keys — that policy belongs to the format-specific
// reader (spec §4.8: "Unknown setting in a known file: refuse").
func DecodeSettings(payload []byte, path string) (Settings, error) {
	lines := strings.Split(string(payload), "\n")
	if len(lines) == 0 || lines[0] == "" {
		return Settings{}, ebakuperr.InvalidFormat(path, "missing magic line")
	}
	s := Settings{Magic: lines[0], BlockSum: checksum.Default}

	sawBlockSize := false
	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return Settings{}, ebakuperr.InvalidFormat(path, "malformed settings line: "+line)
		}
		switch key {
		case keyBlockSize:
			n, err := strconv.Atoi(value)
			if err != nil || n <= 0 {
				return Settings{}, ebakuperr.InvalidFormat(path, "invalid edb-blocksize: "+value)
			}
			s.BlockSize = n
			sawBlockSize = true
		case keyBlockSum:
			if !checksum.Valid(value) {
				return Settings{}, ebakuperr.InvalidFormat(path, "unknown edb-blocksum: "+value)
			}
			s.BlockSum = checksum.Algorithm(value)
		default:
			s.Extra = append(s.Extra, KV{Key: key, Value: value})
		}
	}
	if !sawBlockSize {
		return Settings{}, ebakuperr.InvalidFormat(path, "missing edb-blocksize")
	}
	return s, nil
}
