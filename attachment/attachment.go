// Package attachment implements spec.md §4.7 (C7): content-addressed
// binary blobs (images, large files, anything not worth inlining into a
// StructuredValue) with their own metadata store, a process-wide hold
// refcount table, and the mark-and-sweep GC oracle that ties a blob's
// survival to the dataset records that still link to it.
package attachment

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/bobg/pigeon-optics"
	"github.com/bobg/pigeon-optics/blobstore"
	"github.com/bobg/pigeon-optics/filestore"
)

// watchdogDelay is how long hold() waits before logging a diagnostic
// warning that a hold was never released (spec.md §4.7: "default 10s").
const watchdogDelay = 10 * time.Second

// Meta is the per-attachment record stored in the meta store (spec.md
// §3's AttachmentMeta).
type Meta struct {
	Created int64
	Updated int64
	MIME    string
	Size    int64
	Linkers []string // dataset/lens paths that currently reference this hash
}

// LinkChecker asks a resolver whether a path's current record still
// embeds a HashURL for a given hash, the question validate() puts to
// "C8 Read-path" per spec.md §4.7 step 2. Kept as a narrow interface
// here to avoid an attachment→resolver import cycle (resolver depends on
// dataset, which depends on attachment's AttachmentChecker interface).
type LinkChecker interface {
	StillLinks(ctx context.Context, path string, hash optics.Hash) (bool, error)
}

// Store is the attachment store of spec.md §4.7.
type Store struct {
	blobs blobstore.Store
	meta  *filestore.Store
	locks *lockManager
	links LinkChecker
	log   *log.Logger

	mu    sync.Mutex
	holds map[optics.Hash]uint
}

// New constructs a Store. blobs should be rooted at attachments/blobs/,
// and meta at the data root itself, since metaPath already prefixes
// every key with attachments/meta/ (spec.md §6.2).
func New(blobs blobstore.Store, meta *filestore.Store, links LinkChecker, logger *log.Logger) *Store {
	return &Store{
		blobs: blobs,
		meta:  meta,
		locks: newLockManager(),
		links: links,
		log:   logger,
		holds: make(map[optics.Hash]uint),
	}
}

// SetLinkChecker wires the LinkChecker after construction, for the usual
// case where the checker (a resolver.Resolver) itself needs a reference
// to datasets that are only available once the attachment Store already
// exists (cmd/pgo's wiring order).
func (s *Store) SetLinkChecker(links LinkChecker) { s.links = links }

// metaPath mirrors the blob store's own two-level sharding (spec.md
// §6.2: "attachments/meta/<hh>/<rest>.cbor"), so meta should be a
// filestore.Store rooted at the same data root as the blob store's
// parent, not at attachments/meta/ itself.
func metaPath(h optics.Hash) []string {
	hex := h.String()
	return []string{"attachments", "meta", hex[:2], hex[2:]}
}

// Has reports whether both the blob and its metadata exist.
func (s *Store) Has(ctx context.Context, h optics.Hash) (bool, error) {
	blobOK, err := s.blobs.Exists(ctx, h)
	if err != nil || !blobOK {
		return false, err
	}
	return s.meta.Exists(ctx, metaPath(h))
}

// ReadMeta returns the metadata for h, or ok=false if absent.
func (s *Store) ReadMeta(ctx context.Context, h optics.Hash) (Meta, bool, error) {
	v, ok, err := s.meta.Read(ctx, metaPath(h))
	if err != nil || !ok {
		return Meta{}, false, err
	}
	m, err := decodeMeta(v)
	return m, true, err
}

// ReadStream opens the blob contents for h.
func (s *Store) ReadStream(ctx context.Context, h optics.Hash) (io.ReadCloser, error) {
	return s.blobs.ReadStream(ctx, h)
}

// WriteInput is the metadata a caller supplies alongside a new blob's
// bytes (spec.md §4.7's writeStream({linkers, ...meta})).
type WriteInput struct {
	MIME    string
	Linkers []string
}

// Release ends a hold acquired by WriteStream or Hold. It is safe to call
// more than once; a second call is logged as a diagnostic, not an error
// (spec.md §4.7: "idempotent-safe (warn if called twice)").
type Release func()

// WriteStream implements spec.md §4.7's writeStream: it streams r to a
// temp file while hashing, holds the resulting hash so it can't be
// collected out from under the caller before they've had a chance to
// link it into a record, renames the temp file into place (or discards
// it if the blob already exists), and merges in the supplied metadata.
func (s *Store) WriteStream(ctx context.Context, r io.Reader, in WriteInput) (optics.Hash, Release, error) {
	h, err := s.blobs.WriteIter(ctx, r)
	if err != nil {
		return optics.Hash{}, nil, err
	}

	release := s.Hold(h)

	release2 := s.locks.acquire(h.String())

	now := time.Now().UnixMilli()
	err = s.meta.Update(ctx, metaPath(h), func(current optics.StructuredValue, ok bool) (optics.StructuredValue, bool, error) {
		old := Meta{}
		if ok {
			old, err = decodeMeta(current)
			if err != nil {
				return optics.StructuredValue{}, false, err
			}
		}
		merged := Meta{
			Created: old.Created,
			Updated: now,
			MIME:    in.MIME,
			Linkers: unionStrings(old.Linkers, in.Linkers),
		}
		if merged.Created == 0 {
			merged.Created = now
		}
		if merged.MIME == "" {
			merged.MIME = old.MIME
		}
		size, sizeErr := s.blobSize(ctx, h)
		if sizeErr != nil {
			return optics.StructuredValue{}, false, sizeErr
		}
		merged.Size = size
		return encodeMeta(merged), true, nil
	})
	// release2 must be gone before release, since release (Hold's closure)
	// synchronously calls Validate, which reacquires this same hash's lock.
	release2()
	if err != nil {
		release()
		return optics.Hash{}, nil, err
	}
	return h, release, nil
}

func (s *Store) blobSize(ctx context.Context, h optics.Hash) (int64, error) {
	rc, err := s.blobs.ReadStream(ctx, h)
	if err != nil {
		return 0, err
	}
	defer rc.Close()
	n, err := io.Copy(io.Discard, rc)
	return n, err
}

// Link adds dataPaths to h's linker set (spec.md §4.7's link operation).
// It fails if h has no metadata yet, mirroring the spec's "fail if meta
// missing".
func (s *Store) Link(ctx context.Context, h optics.Hash, dataPaths ...string) error {
	release := s.locks.acquire(h.String())
	defer release()

	return s.meta.Update(ctx, metaPath(h), func(current optics.StructuredValue, ok bool) (optics.StructuredValue, bool, error) {
		if !ok {
			return optics.StructuredValue{}, false, fmt.Errorf("attachment %s: %w", h, optics.ErrNotFound)
		}
		m, err := decodeMeta(current)
		if err != nil {
			return optics.StructuredValue{}, false, err
		}
		m.Linkers = unionStrings(m.Linkers, dataPaths)
		m.Updated = time.Now().UnixMilli()
		return encodeMeta(m), true, nil
	})
}

// Hold increments h's process-wide refcount and returns a Release
// function. While any hold is outstanding, Validate will never delete h
// even if its linker list is empty — the intended use is a writer
// bridging the gap between WriteStream returning a hash and that hash
// being embedded and committed into a record (spec.md §4.7's GC
// correctness argument).
func (s *Store) Hold(h optics.Hash) Release {
	s.mu.Lock()
	s.holds[h]++
	s.mu.Unlock()

	timer := time.AfterFunc(watchdogDelay, func() {
		s.mu.Lock()
		n := s.holds[h]
		s.mu.Unlock()
		if n > 0 && s.log != nil {
			s.log.Printf("attachment: hold on %s has not been released after %s", h, watchdogDelay)
		}
	})

	var once sync.Once
	return func() {
		first := false
		once.Do(func() {
			first = true
			timer.Stop()
			s.mu.Lock()
			n := s.holds[h]
			if n > 0 {
				n--
			}
			if n == 0 {
				delete(s.holds, h)
			} else {
				s.holds[h] = n
			}
			s.mu.Unlock()

			if _, err := s.Validate(context.Background(), h); err != nil && s.log != nil {
				s.log.Printf("attachment: validating %s after release: %v", h, err)
			}
		})
		// A second call does nothing past the Once except log a warning.
		if !first && s.log != nil {
			s.log.Printf("attachment: hold on %s released more than once", h)
		}
	}
}

func (s *Store) isHeld(h optics.Hash) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.holds[h] > 0
}

// Validate is the GC oracle of spec.md §4.7 step: under h's lock, it
// re-derives the linker list by asking the resolver whether each
// previously-recorded linker path still embeds h, then deletes the blob
// and its metadata if nothing links to it and nothing holds it. It
// returns whether h survives on disk.
func (s *Store) Validate(ctx context.Context, h optics.Hash) (bool, error) {
	release := s.locks.acquire(h.String())
	defer release()

	v, ok, err := s.meta.Read(ctx, metaPath(h))
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	m, err := decodeMeta(v)
	if err != nil {
		return false, err
	}

	var survivingLinkers []string
	for _, path := range m.Linkers {
		still, err := s.links.StillLinks(ctx, path, h)
		if err != nil {
			return false, err
		}
		if still {
			survivingLinkers = append(survivingLinkers, path)
		}
	}
	m.Linkers = survivingLinkers

	if len(survivingLinkers) == 0 && !s.isHeld(h) {
		if err := s.blobs.Delete(ctx, h); err != nil {
			return false, err
		}
		if err := s.meta.Delete(ctx, metaPath(h)); err != nil {
			return false, err
		}
		return false, nil
	}

	if err := s.meta.Write(ctx, metaPath(h), encodeMeta(m)); err != nil {
		return false, err
	}
	return true, nil
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, s := range a {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range b {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
