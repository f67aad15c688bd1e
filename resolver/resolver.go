// Package resolver implements the read-path resolver of spec.md §4.8
// (C8): a single entry point that turns a path
// ("<source>/<user>/<name>[/<recordID>]") into metadata or a value,
// dispatching to the right dataset.Store by source tag, plus a virtual
// "meta/system/system/<kind>" branch enumerating system-level
// collections.
package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/bobg/pigeon-optics"
	"github.com/bobg/pigeon-optics/dataset"
	"github.com/bobg/pigeon-optics/objhash"
)

// Kind names a system-level collection exposed under
// meta/system/system/<kind> (spec.md §4.8).
type Kind string

const (
	KindUsers    Kind = "users"
	KindDatasets Kind = "datasets"
	KindLenses   Kind = "lenses"
)

const systemSource = "meta"

// Entry is one result of Meta: either a resolved record (IsSystem false)
// or a virtual system-collection entry (IsSystem true). IsSystem is a
// dedicated field rather than a sentinel Hash value, so callers never
// mistake a placeholder for a real content hash (spec.md §9's resolved
// Open Question #3).
type Entry struct {
	Path     string
	IsSystem bool

	Hash    optics.Hash
	Links   []optics.HashURL
	Version uint64

	// SystemValue holds the literal value for an IsSystem entry (a Seq of
	// strings, e.g. the list of dataset names for a given user).
	SystemValue optics.StructuredValue

	Err error
}

// Resolver dispatches read-path operations across the dataset and lens
// stores named by source tag, and a virtual system-info branch.
type Resolver struct {
	stores map[dataset.Source]*dataset.Store
}

// New returns a Resolver over the given source->Store mapping. Callers
// typically pass {datasets.SourceDatasets: datasetsStore,
// dataset.SourceLenses: lensesStore}.
func New(stores map[dataset.Source]*dataset.Store) *Resolver {
	return &Resolver{stores: stores}
}

// Meta resolves each of paths to an Entry. An error resolving one path is
// attached to that Entry rather than aborting the whole call (spec.md
// §4.8: "Errors on an individual path do not abort iteration").
func (r *Resolver) Meta(ctx context.Context, paths []string) []Entry {
	out := make([]Entry, len(paths))
	for i, p := range paths {
		out[i] = r.resolveOne(ctx, p)
	}
	return out
}

func (r *Resolver) resolveOne(ctx context.Context, path string) Entry {
	source, user, name, recordID, err := objhash.SplitPath(path)
	if err != nil {
		return Entry{Path: path, Err: err}
	}

	if source == systemSource {
		v, err := r.systemValue(ctx, user, recordID)
		return Entry{Path: path, IsSystem: true, SystemValue: v, Err: err}
	}

	store, ok := r.stores[dataset.Source(source)]
	if !ok {
		return Entry{Path: path, Err: fmt.Errorf("resolver: %q: %w", source, optics.ErrNotFound)}
	}

	if recordID == "" {
		meta, err := store.ReadMeta(ctx, user, name)
		if err != nil {
			return Entry{Path: path, Err: err}
		}
		return Entry{Path: path, Version: meta.Version}
	}

	meta, err := store.ReadMeta(ctx, user, name)
	if err != nil {
		return Entry{Path: path, Err: err}
	}
	rec, ok := meta.Records[recordID]
	if !ok {
		return Entry{Path: path, Err: fmt.Errorf("resolver: %s: %w", path, optics.ErrNotFound)}
	}
	return Entry{Path: path, Hash: rec.Hash, Links: rec.Links, Version: rec.Version}
}

// systemValue implements the virtual meta/system/system/<kind> branch:
// user is expected to be "system", and kindStr is the path's last
// segment, the Kind.
func (r *Resolver) systemValue(ctx context.Context, user, kindStr string) (optics.StructuredValue, error) {
	if user != "system" {
		return optics.StructuredValue{}, fmt.Errorf("resolver: unsupported system path user %q", user)
	}
	switch Kind(kindStr) {
	case KindUsers:
		seen := map[string]bool{}
		var names []string
		for _, store := range r.stores {
			us, err := store.Users(ctx)
			if err != nil {
				return optics.StructuredValue{}, err
			}
			for _, u := range us {
				if !seen[u] {
					seen[u] = true
					names = append(names, u)
				}
			}
		}
		return stringSeq(names), nil
	case KindDatasets:
		return r.listNames(ctx, dataset.SourceDatasets)
	case KindLenses:
		return r.listNames(ctx, dataset.SourceLenses)
	default:
		return optics.StructuredValue{}, fmt.Errorf("resolver: unknown system kind %q", kindStr)
	}
}

func (r *Resolver) listNames(ctx context.Context, source dataset.Source) (optics.StructuredValue, error) {
	store, ok := r.stores[source]
	if !ok {
		return optics.Null(), nil
	}
	users, err := store.Users(ctx)
	if err != nil {
		return optics.StructuredValue{}, err
	}
	var all []string
	for _, u := range users {
		names, err := store.List(ctx, u)
		if err != nil {
			return optics.StructuredValue{}, err
		}
		for _, n := range names {
			all = append(all, u+"/"+n)
		}
	}
	return stringSeq(all), nil
}

func stringSeq(ss []string) optics.StructuredValue {
	seq := make([]optics.StructuredValue, len(ss))
	for i, s := range ss {
		seq[i] = optics.String(s)
	}
	return optics.Seq(seq...)
}

// Read returns the StructuredValue at path, following the same
// resolution Meta uses for a record path.
func (r *Resolver) Read(ctx context.Context, path string) (optics.StructuredValue, error) {
	source, user, name, recordID, err := objhash.SplitPath(path)
	if err != nil {
		return optics.StructuredValue{}, err
	}
	if source == systemSource {
		return r.systemValue(ctx, user, recordID)
	}
	store, ok := r.stores[dataset.Source(source)]
	if !ok {
		return optics.StructuredValue{}, fmt.Errorf("resolver: %q: %w", source, optics.ErrNotFound)
	}
	v, ok, err := store.Read(ctx, user, name, recordID)
	if err != nil {
		return optics.StructuredValue{}, err
	}
	if !ok {
		return optics.StructuredValue{}, fmt.Errorf("resolver: %s: %w", path, optics.ErrNotFound)
	}
	return v, nil
}

// Exists reports whether path resolves to something.
func (r *Resolver) Exists(ctx context.Context, path string) (bool, error) {
	source, user, name, recordID, err := objhash.SplitPath(path)
	if err != nil {
		return false, err
	}
	if source == systemSource {
		return true, nil
	}
	store, ok := r.stores[dataset.Source(source)]
	if !ok {
		return false, nil
	}
	if recordID == "" {
		return store.Exists(ctx, user, name)
	}
	meta, err := store.ReadMeta(ctx, user, name)
	if err != nil {
		if errors.Is(err, optics.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	_, ok = meta.Records[recordID]
	return ok, nil
}

// StillLinks implements attachment.LinkChecker: it asks whether path's
// current record still embeds a HashURL for hash (spec.md §4.7's GC
// oracle step 2).
func (r *Resolver) StillLinks(ctx context.Context, path string, hash optics.Hash) (bool, error) {
	entries := r.Meta(ctx, []string{path})
	e := entries[0]
	if e.Err != nil {
		if errors.Is(e.Err, optics.ErrNotFound) {
			return false, nil
		}
		return false, e.Err
	}
	if e.IsSystem {
		return false, nil
	}
	for _, l := range e.Links {
		if l.Hash == hash {
			return true, nil
		}
	}
	return false, nil
}
