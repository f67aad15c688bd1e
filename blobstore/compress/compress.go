// Package compress implements an at-rest compression wrapper over a
// blobstore.Store, grounded on bobg-bs/store/compress's shape (a Store
// that compresses and uncompresses blobs on their way into and out of a
// nested store) but using github.com/klauspost/compress/gzip in place of
// the teacher's stdlib compress/lzw, since klauspost/compress appears
// across the retrieval pack's dependency surface (bureau-foundation-bureau's
// go.mod) as the ecosystem's faster drop-in for the standard gzip
// package.
//
// A blob's identity stays the SHA-256 of its uncompressed bytes (spec.md
// §3); only what lands on disk is smaller. This is why Write computes the
// hash itself and calls the nested store's RawWriter rather than its
// ordinary Write, which would hash the (smaller, different) compressed
// bytes instead.
package compress

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"

	"github.com/bobg/pigeon-optics"
	"github.com/bobg/pigeon-optics/blobstore"
)

// Store wraps a nested blobstore.Store, compressing blobs on write and
// uncompressing them on read. The nested store must implement
// blobstore.RawWriter.
type Store struct {
	inner blobstore.Store
	raw   blobstore.RawWriter
	level int
}

// New wraps inner. It returns an error if inner does not implement
// blobstore.RawWriter.
func New(inner blobstore.Store) (*Store, error) {
	raw, ok := inner.(blobstore.RawWriter)
	if !ok {
		return nil, fmt.Errorf("compress: %T does not implement blobstore.RawWriter", inner)
	}
	return &Store{inner: inner, raw: raw, level: gzip.DefaultCompression}, nil
}

var _ blobstore.Store = &Store{}

// Write implements blobstore.Store.
func (s *Store) Write(ctx context.Context, b []byte) (optics.Hash, error) {
	h := optics.SumHash(b)
	exists, err := s.inner.Exists(ctx, h)
	if err != nil {
		return optics.Hash{}, err
	}
	if exists {
		return h, nil
	}

	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, s.level)
	if err != nil {
		return optics.Hash{}, err
	}
	if _, err := zw.Write(b); err != nil {
		return optics.Hash{}, err
	}
	if err := zw.Close(); err != nil {
		return optics.Hash{}, err
	}

	if err := s.raw.WriteAt(ctx, h, buf.Bytes()); err != nil {
		return optics.Hash{}, err
	}
	return h, nil
}

// WriteIter implements blobstore.Store. It buffers r in memory, since the
// blob's identity is the hash of the uncompressed bytes and that hash
// must be known before anything can be written — a real streaming
// implementation would need a two-pass or seekable temp file; this
// module's attachments are not expected to be so large that buffering
// once is unreasonable, unlike the write path blobstore/file.WriteIter
// optimizes for (spec.md §4.7, §5 call out only that the wire transfer
// itself must stream, not that the server must compress stream-fashion).
func (s *Store) WriteIter(ctx context.Context, r io.Reader) (optics.Hash, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return optics.Hash{}, err
	}
	return s.Write(ctx, b)
}

// Read implements blobstore.Store.
func (s *Store) Read(ctx context.Context, h optics.Hash) ([]byte, error) {
	compressed, err := s.inner.Read(ctx, h)
	if err != nil {
		return nil, err
	}
	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

// ReadStream implements blobstore.Store.
func (s *Store) ReadStream(ctx context.Context, h optics.Hash) (io.ReadCloser, error) {
	rc, err := s.inner.ReadStream(ctx, h)
	if err != nil {
		return nil, err
	}
	zr, err := gzip.NewReader(rc)
	if err != nil {
		rc.Close()
		return nil, err
	}
	return &gunzipReadCloser{zr: zr, under: rc}, nil
}

type gunzipReadCloser struct {
	zr    *gzip.Reader
	under io.ReadCloser
}

func (g *gunzipReadCloser) Read(p []byte) (int, error) { return g.zr.Read(p) }

func (g *gunzipReadCloser) Close() error {
	zerr := g.zr.Close()
	uerr := g.under.Close()
	if zerr != nil {
		return zerr
	}
	return uerr
}

// Exists implements blobstore.Store.
func (s *Store) Exists(ctx context.Context, h optics.Hash) (bool, error) { return s.inner.Exists(ctx, h) }

// Delete implements blobstore.Store.
func (s *Store) Delete(ctx context.Context, h optics.Hash) error { return s.inner.Delete(ctx, h) }

// Retain implements blobstore.Store.
func (s *Store) Retain(ctx context.Context, keep map[optics.Hash]bool) error {
	return s.inner.Retain(ctx, keep)
}

// GetPath implements blobstore.Store. The path it names holds
// compressed bytes, not the original content.
func (s *Store) GetPath(h optics.Hash) string { return s.inner.GetPath(h) }
