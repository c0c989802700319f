// Package ebakuperr defines the typed error vocabulary shared by every
// storage-engine package, so callers can branch on errors.As rather than
// string-matching messages.
package ebakuperr

import (
	"errors"
	"fmt"
)

// Kind identifies which of the fixed error categories an Error belongs to.
type Kind int

const (
	KindBlockCorrupt Kind = iota
	KindInvalidFormat
	KindNotFound
	KindAlreadyExists
	KindConcurrentWriter
	KindCidCollision
	KindContentMissing
	KindLockContention
	KindStaleReplaced
	KindIoError
)

func (k Kind) String() string {
	switch k {
	case KindBlockCorrupt:
		return "BlockCorrupt"
	case KindInvalidFormat:
		return "InvalidFormat"
	case KindNotFound:
		return "NotFound"
	case KindAlreadyExists:
		return "AlreadyExists"
	case KindConcurrentWriter:
		return "ConcurrentWriter"
	case KindCidCollision:
		return "CidCollision"
	case KindContentMissing:
		return "ContentMissing"
	case KindLockContention:
		return "LockContention"
	case KindStaleReplaced:
		return "StaleReplaced"
	case KindIoError:
		return "IoError"
	default:
		return "Unknown"
	}
}

// Error is the single error type returned by storage-engine packages. Every
// occurrence names the offending file and, where applicable, the block
// index within it (spec §7).
type Error struct {
	Kind       Kind
	Path       string
	BlockIndex int // -1 when not applicable
	Message    string
	Cause      error
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	if e.BlockIndex >= 0 {
		return fmt.Sprintf("%s: %s (block %d): %s", e.Kind, e.Path, e.BlockIndex, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Path, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func newErr(kind Kind, path string, blockIndex int, msg string, cause error) *Error {
	return &Error{Kind: kind, Path: path, BlockIndex: blockIndex, Message: msg, Cause: cause}
}

// BlockCorrupt reports a checksum mismatch on a specific block.
func BlockCorrupt(path string, blockIndex int, cause error) *Error {
	return newErr(KindBlockCorrupt, path, blockIndex, "checksum mismatch", cause)
}

// InvalidFormat reports an unrecognized magic line or an unknown setting.
func InvalidFormat(path string, msg string) *Error {
	return newErr(KindInvalidFormat, path, -1, msg, nil)
}

// NotFound reports a missing file, snapshot, or content-index entry.
func NotFound(path string, msg string) *Error {
	return newErr(KindNotFound, path, -1, msg, nil)
}

// AlreadyExists reports a snapshot slot or storage root that is already in use.
func AlreadyExists(path string, msg string) *Error {
	return newErr(KindAlreadyExists, path, -1, msg, nil)
}

// ConcurrentWriter reports a live (non-stale) ".new" file blocking an operation.
func ConcurrentWriter(path string) *Error {
	return newErr(KindConcurrentWriter, path, -1, "a concurrent writer holds this file", nil)
}

// CidCollision reports two distinct objects whose checksums coincide.
func CidCollision(path string) *Error {
	return newErr(KindCidCollision, path, -1, "checksum collides with an existing object", nil)
}

// ContentMissing reports a CID referenced by a manifest with no content-index entry,
// or a content-index entry whose object body is absent from content/.
func ContentMissing(path string, msg string) *Error {
	return newErr(KindContentMissing, path, -1, msg, nil)
}

// LockContention reports failure to acquire an advisory file lock.
func LockContention(path string, cause error) *Error {
	return newErr(KindLockContention, path, -1, "failed to acquire lock", cause)
}

// StaleReplaced reports that a file was replaced out from under a lock holder;
// callers should re-open and retry.
func StaleReplaced(path string) *Error {
	return newErr(KindStaleReplaced, path, -1, "file was replaced by another process", nil)
}

// IoError wraps an underlying I/O failure with the offending path.
func IoError(path string, cause error) *Error {
	return newErr(KindIoError, path, -1, "i/o error", cause)
}

// Is reports whether err is, or wraps, an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}
