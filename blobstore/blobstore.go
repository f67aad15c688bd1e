// Package blobstore defines the content-addressed raw-byte store of
// spec.md §4.3 (C3): the filesystem CAS everything else in this module is
// built on.
package blobstore

import (
	"context"
	"io"

	"github.com/bobg/pigeon-optics"
)

// Store is a content-addressed blob store keyed by SHA-256. Writing the
// same bytes twice is idempotent and yields the same Hash (spec.md §3's
// "Blob" data model).
type Store interface {
	// Write hashes and stores b, returning its Hash. It is a no-op (besides
	// the hash computation) if b is already present.
	Write(ctx context.Context, b []byte) (optics.Hash, error)

	// WriteIter streams r into the store while hashing it, for large
	// attachments that should never be buffered whole in memory
	// (spec.md §4.7, §5).
	WriteIter(ctx context.Context, r io.Reader) (optics.Hash, error)

	// Read returns the full contents of the blob named by h.
	Read(ctx context.Context, h optics.Hash) ([]byte, error)

	// ReadStream opens the blob named by h for streaming reads. The
	// caller must Close it.
	ReadStream(ctx context.Context, h optics.Hash) (io.ReadCloser, error)

	// Exists reports whether h is present.
	Exists(ctx context.Context, h optics.Hash) (bool, error)

	// Delete removes h if present. It is not an error for h to be absent.
	Delete(ctx context.Context, h optics.Hash) error

	// Retain enumerates every stored hash and deletes any not present in
	// keep, implementing the mark-and-sweep GC of spec.md §4.3/§4.6.
	Retain(ctx context.Context, keep map[optics.Hash]bool) error

	// GetPath returns the on-disk path for h, for callers that want to
	// sendfile it directly rather than read it through this interface.
	// It does not guarantee h is present.
	GetPath(h optics.Hash) string
}

// RawWriter is implemented by a Store that can place already-encoded
// bytes directly at a known hash's path, bypassing the hash-of-input
// computation Write does. blobstore/compress uses this so the bytes it
// stores on disk (gzip-compressed) can differ from the bytes whose
// SHA-256 is the blob's identity.
type RawWriter interface {
	WriteAt(ctx context.Context, h optics.Hash, b []byte) error
}
