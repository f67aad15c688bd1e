// Package filestore implements spec.md §4.5 (C5): a path-keyed persistent
// map of optics.StructuredValue, with the scoped Update read-modify-write
// primitive every higher layer (dataset, attachment) builds its atomicity
// on. Writes use the same stage-to-temp-then-rename discipline as
// blobstore/file, generalised from a hash-keyed layout to an arbitrary
// path of segments.
package filestore

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/bobg/pigeon-optics"
	"github.com/bobg/pigeon-optics/codec"
	_ "github.com/bobg/pigeon-optics/codec/cbor" // registers the canonical codec
)

// Store is a path-keyed, CBOR-encoded persistent map rooted at a
// configured directory.
type Store struct {
	root  string
	codec codec.Codec
	locks *lockManager
}

// New returns a Store persisting values beneath root.
func New(root string) *Store {
	return &Store{root: root, codec: codec.Canonical(), locks: newLockManager()}
}

func key(path []string) string { return strings.Join(path, "/") }

func (s *Store) fsPath(path []string) string {
	segs := append([]string{s.root}, path...)
	return filepath.Join(segs...) + ".cbor"
}

// Read returns the value at path, and false if nothing is stored there.
func (s *Store) Read(_ context.Context, path []string) (optics.StructuredValue, bool, error) {
	b, err := os.ReadFile(s.fsPath(path))
	if os.IsNotExist(err) {
		return optics.StructuredValue{}, false, nil
	}
	if err != nil {
		return optics.StructuredValue{}, false, errors.Wrapf(err, "reading %s", key(path))
	}
	v, err := s.codec.Decode(b)
	if err != nil {
		return optics.StructuredValue{}, false, err
	}
	return v, true, nil
}

// Write encodes and atomically stores v at path, creating parent
// directories as needed.
func (s *Store) Write(_ context.Context, path []string, v optics.StructuredValue) error {
	b, err := s.codec.Encode(v)
	if err != nil {
		return err
	}
	return s.writeBytes(path, b)
}

func (s *Store) writeBytes(path []string, b []byte) error {
	dest := s.fsPath(path)
	dir := filepath.Dir(dest)
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
	if err := os.Rename(tmpName, dest); err != nil {
		return errors.Wrapf(err, "renaming %s to %s", tmpName, dest)
	}
	return nil
}

// UpdateFunc is called by Update with the current value at path (ok=false
// if nothing is stored there yet). Returning write=false leaves the path
// as it is; returning an error aborts the update without writing anything.
type UpdateFunc func(current optics.StructuredValue, ok bool) (next optics.StructuredValue, write bool, err error)

// Update is the scoped read-modify-write primitive of spec.md §4.5: it
// acquires the exclusive in-process lock for path, reads the current
// value, invokes fn, and writes the new value if fn returned write=true
// (Update never deletes; use Delete for that) — releasing the lock on
// every exit path, including a panic inside fn.
func (s *Store) Update(ctx context.Context, path []string, fn UpdateFunc) error {
	release := s.locks.acquire(key(path))
	defer release()

	current, ok, err := s.Read(ctx, path)
	if err != nil {
		return err
	}

	next, write, err := fn(current, ok)
	if err != nil {
		return err
	}
	if !write {
		return nil
	}
	return s.Write(ctx, path, next)
}

// Delete removes the value at path. It is not an error for path to be
// absent.
func (s *Store) Delete(_ context.Context, path []string) error {
	err := os.Remove(s.fsPath(path))
	if os.IsNotExist(err) {
		return nil
	}
	return errors.Wrapf(err, "deleting %s", key(path))
}

// DeleteTree removes every path under the given prefix, for a dataset's
// full deletion (spec.md §4.6's delete(user,name) without a recordID).
func (s *Store) DeleteTree(_ context.Context, prefix []string) error {
	dir := filepath.Join(append([]string{s.root}, prefix...)...)
	err := os.RemoveAll(dir)
	return errors.Wrapf(err, "deleting tree %s", key(prefix))
}

// Exists reports whether path has a stored value.
func (s *Store) Exists(_ context.Context, path []string) (bool, error) {
	_, err := os.Stat(s.fsPath(path))
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, errors.Wrapf(err, "statting %s", key(path))
}

// IterateFolders lists the immediate subdirectory names under prefix, in
// lexicographic order. Used to enumerate users, then dataset/lens names,
// beneath a source root (spec.md §4.8's system listings).
func (s *Store) IterateFolders(_ context.Context, prefix []string) ([]string, error) {
	dir := filepath.Join(append([]string{s.root}, prefix...)...)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", dir)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
