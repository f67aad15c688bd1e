// Package objectstore implements spec.md §4.4 (C4): a structured-value
// store layered over a blobstore.Store using the canonical codec, the way
// bobg-bs/store/compress wraps a nested bs.Store to transform blobs on
// their way in and out — except here the transform is encode/decode rather
// than compress/uncompress.
package objectstore

import (
	"context"

	"github.com/pkg/errors"

	"github.com/bobg/pigeon-optics"
	"github.com/bobg/pigeon-optics/blobstore"
	"github.com/bobg/pigeon-optics/codec"
	_ "github.com/bobg/pigeon-optics/codec/cbor" // registers the canonical codec
)

// Store writes and reads optics.StructuredValue, keyed by the SHA-256 of
// its canonical CBOR encoding (spec.md §3, §4.4).
type Store struct {
	blobs    blobstore.Store
	codec    codec.Codec
	paranoid bool // test hook: re-encode every decoded value and compare
}

// New wraps blobs with the canonical codec.
func New(blobs blobstore.Store) *Store {
	return &Store{blobs: blobs, codec: codec.Canonical()}
}

// WithParanoid enables the --paranoid test hook of spec.md §4.4: every
// Read re-encodes the decoded value and compares bytes, to catch a codec
// that doesn't round-trip losslessly.
func (s *Store) WithParanoid(on bool) *Store {
	s.paranoid = on
	return s
}

// Write encodes v with the canonical codec and stores it, returning its
// Hash.
func (s *Store) Write(ctx context.Context, v optics.StructuredValue) (optics.Hash, error) {
	b, err := s.codec.Encode(v)
	if err != nil {
		return optics.Hash{}, err
	}
	return s.blobs.Write(ctx, b)
}

// Read loads and decodes the value stored at h.
func (s *Store) Read(ctx context.Context, h optics.Hash) (optics.StructuredValue, error) {
	b, err := s.blobs.Read(ctx, h)
	if err != nil {
		return optics.StructuredValue{}, err
	}
	v, err := s.codec.Decode(b)
	if err != nil {
		return optics.StructuredValue{}, err
	}
	if s.paranoid {
		b2, err := s.codec.Encode(v)
		if err != nil {
			return optics.StructuredValue{}, err
		}
		if optics.SumHash(b2) != h {
			return optics.StructuredValue{}, errors.Errorf("objectstore: paranoid check failed for %s: re-encoding produced a different hash", h)
		}
	}
	return v, nil
}

// Exists reports whether h is present.
func (s *Store) Exists(ctx context.Context, h optics.Hash) (bool, error) {
	return s.blobs.Exists(ctx, h)
}

// Retain delegates to the underlying blobstore's mark-and-sweep GC
// (spec.md §4.6's per-dataset retain pass).
func (s *Store) Retain(ctx context.Context, keep map[optics.Hash]bool) error {
	return s.blobs.Retain(ctx, keep)
}
