// Package file implements blobstore.Store as a sharded file hierarchy,
// adapted from bobg-bs/store/file/file.go's blob path scheme (and its
// temp-file-then-atomic-rename Put) from a single-level `<hh>/<hhhh>/<hex>`
// layout keyed by bs.Ref into spec.md §4.3's two-level
// `root/<hh>/<rest>.data` layout keyed by a content hash.
package file

import (
	"context"
	"crypto/sha256"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"

	"github.com/bobg/pigeon-optics"
	"github.com/bobg/pigeon-optics/blobstore"
)

// Store is a filesystem-backed blobstore.Store rooted at a configured
// directory.
type Store struct {
	root string
}

var (
	_ blobstore.Store     = &Store{}
	_ blobstore.RawWriter = &Store{}
)

// New returns a Store persisting blobs beneath root. The directory is
// created lazily on first write.
func New(root string) *Store {
	return &Store{root: root}
}

func (s *Store) path(h optics.Hash) string {
	hex := h.String()
	return filepath.Join(s.root, hex[:2], hex[2:]+".data")
}

// GetPath implements blobstore.Store.
func (s *Store) GetPath(h optics.Hash) string { return s.path(h) }

// Write implements blobstore.Store.
func (s *Store) Write(_ context.Context, b []byte) (optics.Hash, error) {
	h := optics.SumHash(b)
	path := s.path(h)
	dir := filepath.Dir(path)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return optics.Hash{}, errors.Wrapf(err, "ensuring %s exists", dir)
	}

	tmp, err := os.CreateTemp(dir, "tmp-*")
	if err != nil {
		return optics.Hash{}, errors.Wrapf(err, "creating temp file in %s", dir)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once the rename below succeeds

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return optics.Hash{}, errors.Wrapf(err, "writing to %s", tmpName)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return optics.Hash{}, errors.Wrapf(err, "syncing %s", tmpName)
	}
	if err := tmp.Close(); err != nil {
		return optics.Hash{}, errors.Wrapf(err, "closing %s", tmpName)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return optics.Hash{}, errors.Wrapf(err, "renaming %s to %s", tmpName, path)
	}
	return h, nil
}

// WriteAt implements blobstore.RawWriter: it stores b at h's path
// verbatim, without hashing it. Callers are responsible for h actually
// describing whatever content b decodes to (blobstore/compress is the
// only caller in this module).
func (s *Store) WriteAt(_ context.Context, h optics.Hash, b []byte) error {
	path := s.path(h)
	dir := filepath.Dir(path)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "ensuring %s exists", dir)
	}

	tmp, err := os.CreateTemp(dir, "tmp-*")
	if err != nil {
		return errors.Wrapf(err, "creating temp file in %s", dir)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "writing to %s", tmpName)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "syncing %s", tmpName)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "closing %s", tmpName)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return errors.Wrapf(err, "renaming %s to %s", tmpName, path)
	}
	return nil
}

// WriteIter implements blobstore.Store by streaming r to a temp file while
// hashing it, then renaming into place once the hash is known.
func (s *Store) WriteIter(_ context.Context, r io.Reader) (optics.Hash, error) {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return optics.Hash{}, errors.Wrapf(err, "ensuring %s exists", s.root)
	}

	tmp, err := os.CreateTemp(s.root, "tmp-*")
	if err != nil {
		return optics.Hash{}, errors.Wrapf(err, "creating temp file in %s", s.root)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	h := sha256.New()
	if _, err := io.Copy(tmp, io.TeeReader(r, h)); err != nil {
		tmp.Close()
		return optics.Hash{}, errors.Wrap(err, "streaming blob to temp file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return optics.Hash{}, errors.Wrapf(err, "syncing %s", tmpName)
	}
	if err := tmp.Close(); err != nil {
		return optics.Hash{}, errors.Wrapf(err, "closing %s", tmpName)
	}

	digest := optics.HashFromBytes(h.Sum(nil))
	path := s.path(digest)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return optics.Hash{}, errors.Wrapf(err, "ensuring %s exists", dir)
	}
	if err := os.Rename(tmpName, path); err != nil {
		if os.IsExist(err) {
			return digest, nil
		}
		return optics.Hash{}, errors.Wrapf(err, "renaming %s to %s", tmpName, path)
	}
	return digest, nil
}

// Read implements blobstore.Store.
func (s *Store) Read(_ context.Context, h optics.Hash) ([]byte, error) {
	b, err := os.ReadFile(s.path(h))
	if os.IsNotExist(err) {
		return nil, optics.ErrNotFound
	}
	return b, errors.Wrapf(err, "reading blob %s", h)
}

// ReadStream implements blobstore.Store.
func (s *Store) ReadStream(_ context.Context, h optics.Hash) (io.ReadCloser, error) {
	f, err := os.Open(s.path(h))
	if os.IsNotExist(err) {
		return nil, optics.ErrNotFound
	}
	return f, errors.Wrapf(err, "opening blob %s", h)
}

// Exists implements blobstore.Store.
func (s *Store) Exists(_ context.Context, h optics.Hash) (bool, error) {
	_, err := os.Stat(s.path(h))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "statting blob %s", h)
	}
	return true, nil
}

// Delete implements blobstore.Store. It is not an error for h to be
// absent.
func (s *Store) Delete(_ context.Context, h optics.Hash) error {
	err := os.Remove(s.path(h))
	if os.IsNotExist(err) {
		return nil
	}
	return errors.Wrapf(err, "deleting blob %s", h)
}

// Retain implements blobstore.Store: enumerate every stored hash and
// delete anything not in keep. Only files matching the `<hex>.data`
// naming pattern are considered; stray temp files left behind by a
// crashed writer do not match it and are not deleted.
func (s *Store) Retain(ctx context.Context, keep map[optics.Hash]bool) error {
	var toDelete []optics.Hash

	err := s.listAll(func(h optics.Hash) error {
		if !keep[h] {
			toDelete = append(toDelete, h)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, h := range toDelete {
		if err := s.Delete(ctx, h); err != nil {
			return err
		}
	}
	return nil
}

// listAll walks the sharded directory tree in lexicographic order,
// tolerating a missing root (nothing written yet).
func (s *Store) listAll(f func(optics.Hash) error) error {
	entries, err := os.ReadDir(s.root)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "reading %s", s.root)
	}

	var shards []string
	for _, e := range entries {
		if e.IsDir() && len(e.Name()) == 2 {
			shards = append(shards, e.Name())
		}
	}
	sort.Strings(shards)

	for _, shard := range shards {
		dir := filepath.Join(s.root, shard)
		files, err := os.ReadDir(dir)
		if err != nil {
			return errors.Wrapf(err, "reading %s", dir)
		}
		names := make([]string, 0, len(files))
		for _, fi := range files {
			if !fi.IsDir() {
				names = append(names, fi.Name())
			}
		}
		sort.Strings(names)

		for _, name := range names {
			const suffix = ".data"
			if len(name) != 62+len(suffix) || name[62:] != suffix {
				continue // stray temp file or foreign entry; skipped, never deleted
			}
			h, err := optics.HashFromHex(shard + name[:62])
			if err != nil {
				continue
			}
			if err := f(h); err != nil {
				return err
			}
		}
	}
	return nil
}
