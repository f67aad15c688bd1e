// Package dataset implements spec.md §4.6 (C6): versioned dataset/lens
// metadata, the updateMeta atomic read-modify-write primitive, and record
// write/read/list built on top of it.
package dataset

import (
	"context"
	"fmt"
	"sort"

	"github.com/bobg/pigeon-optics"
	"github.com/bobg/pigeon-optics/events"
	"github.com/bobg/pigeon-optics/filestore"
	"github.com/bobg/pigeon-optics/objectstore"
	"github.com/bobg/pigeon-optics/objhash"
)

// Source distinguishes the two dataset families of spec.md's glossary.
type Source string

const (
	SourceDatasets Source = "datasets"
	SourceLenses   Source = "lenses"
)

// RecordMeta is spec.md §3's per-record metadata.
type RecordMeta struct {
	Hash    optics.Hash
	Links   []optics.HashURL
	Version uint64
}

// DatasetMeta is spec.md §3's per-dataset metadata. Records is kept
// sorted by recordID (natural string comparison) on every write, per the
// DatasetMeta invariant.
type DatasetMeta struct {
	Version uint64
	Created int64 // ms
	Updated int64 // ms
	Config  map[string]optics.StructuredValue
	Records map[string]RecordMeta
}

func newMeta(now int64) DatasetMeta {
	return DatasetMeta{Created: now, Updated: now, Config: map[string]optics.StructuredValue{}, Records: map[string]RecordMeta{}}
}

// sortedRecordIDs returns m.Records' keys in natural string order.
func (m DatasetMeta) sortedRecordIDs() []string {
	ids := make([]string, 0, len(m.Records))
	for id := range m.Records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// hashSet returns the set of object hashes referenced by m.Records, used
// to seed and extend the objectstore retain set on every updateMeta call.
func (m DatasetMeta) hashSet() map[optics.Hash]bool {
	out := make(map[optics.Hash]bool, len(m.Records))
	for _, r := range m.Records {
		out[r.Hash] = true
	}
	return out
}

// AttachmentChecker is the slice of attachment.Store that dataset needs:
// confirming a HashURL a record references actually exists before
// committing the write (spec.md §4.6's MISSING_ATTACHMENTS check),
// registering a record path as a linker once the write commits (spec.md
// §4.7's link op), and re-validating an attachment a record used to
// reference once that reference is gone (spec.md §4.7's GC oracle, the
// only way invariant 6's "attachment GC" can fire without an operator
// running `pgo gc` by hand). Kept as a narrow interface here to avoid an
// import cycle between dataset and attachment.
type AttachmentChecker interface {
	Has(ctx context.Context, h optics.Hash) (bool, error)
	Link(ctx context.Context, h optics.Hash, dataPaths ...string) error
	Validate(ctx context.Context, h optics.Hash) (bool, error)
}

// ConfigValidator and RecordValidator let a Source apply its own
// constraints (spec.md §4.6's "source-specific validateConfig/
// validateRecord"). A nil validator accepts everything; cmd/pgo passes
// nil for both sources and keeps users from writing lens records by not
// offering write subcommands for the lenses source.
type (
	ConfigValidator func(config map[string]optics.StructuredValue) error
	RecordValidator func(recordID string, value optics.StructuredValue) error
)

// Store implements the dataset/lens metadata and record operations of
// spec.md §4.6 for one Source.
type Store struct {
	source      Source
	files       *filestore.Store
	objectsRoot func(user, name string) *objectstore.Store
	attachments AttachmentChecker
	bus         *events.Bus
	clock       optics.Clock

	validateConfig ConfigValidator
	validateRecord RecordValidator
}

// New constructs a Store. objectsRoot produces the per-dataset object
// store for (user, name) — callers typically close over a
// blobstore.Store rooted per-dataset, e.g. via
// objectstore.New(blobfile.New(filepath.Join(root, source, user, name, "objects"))).
func New(
	source Source,
	files *filestore.Store,
	objectsRoot func(user, name string) *objectstore.Store,
	attachments AttachmentChecker,
	bus *events.Bus,
	clock optics.Clock,
	validateConfig ConfigValidator,
	validateRecord RecordValidator,
) *Store {
	if validateConfig == nil {
		validateConfig = func(map[string]optics.StructuredValue) error { return nil }
	}
	if validateRecord == nil {
		validateRecord = func(string, optics.StructuredValue) error { return nil }
	}
	return &Store{
		source:         source,
		files:          files,
		objectsRoot:    objectsRoot,
		attachments:    attachments,
		bus:            bus,
		clock:          clock,
		validateConfig: validateConfig,
		validateRecord: validateRecord,
	}
}

func (s *Store) metaPath(user, name string) []string {
	return []string{string(s.source), user, name, "meta"}
}

func (s *Store) objects(user, name string) *objectstore.Store {
	return s.objectsRoot(user, name)
}

// Create initialises a new, empty dataset (spec.md §4.6).
func (s *Store) Create(ctx context.Context, user, name string, config map[string]optics.StructuredValue) error {
	if config == nil {
		config = map[string]optics.StructuredValue{}
	}
	if err := s.validateConfig(config); err != nil {
		return fmt.Errorf("%w: %v", optics.ErrValidation, err)
	}

	path := s.metaPath(user, name)
	exists, err := s.files.Exists(ctx, path)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%s/%s/%s: %w", s.source, user, name, optics.ErrAlreadyExists)
	}

	now := s.clock.Now()
	meta := newMeta(now)
	meta.Config = config

	if err := s.files.Write(ctx, path, encodeMeta(meta)); err != nil {
		return err
	}

	s.bus.PathUpdated(objhash.Path("meta", "system", "system", string(s.source)), 0)
	s.bus.PathUpdated(objhash.Path(string(s.source), user, name), 0)
	return nil
}

// ReadMeta returns the current DatasetMeta for (user, name).
func (s *Store) ReadMeta(ctx context.Context, user, name string) (DatasetMeta, error) {
	v, ok, err := s.files.Read(ctx, s.metaPath(user, name))
	if err != nil {
		return DatasetMeta{}, err
	}
	if !ok {
		return DatasetMeta{}, fmt.Errorf("%s/%s/%s: %w", s.source, user, name, optics.ErrNotFound)
	}
	return decodeMeta(v)
}

// Exists reports whether (user, name) has a dataset.
func (s *Store) Exists(ctx context.Context, user, name string) (bool, error) {
	return s.files.Exists(ctx, s.metaPath(user, name))
}

// UpdateBlock is invoked by UpdateMeta with the dataset's current metadata
// already cloned into draft (version incremented, updated stamped); it
// mutates draft in place and returns nil, or an error to abort the whole
// update (spec.md §4.6, step 5).
type UpdateBlock func(ctx context.Context, draft *DatasetMeta) error

// UpdateMeta is the pivotal primitive of spec.md §4.6: under the
// per-dataset meta lock, it reads the current meta, builds a retain set
// from its current records, hands a version-bumped draft to block, then
// validates, writes, retains orphaned objects, and emits an update event
// — or, on any error, writes nothing and still retains whatever the block
// wrote to the object store along the way.
func (s *Store) UpdateMeta(ctx context.Context, user, name string, block UpdateBlock) (DatasetMeta, error) {
	path := s.metaPath(user, name)

	var result DatasetMeta
	updateErr := s.files.Update(ctx, path, func(current optics.StructuredValue, ok bool) (optics.StructuredValue, bool, error) {
		if !ok {
			return optics.StructuredValue{}, false, fmt.Errorf("%s/%s/%s: %w", s.source, user, name, optics.ErrNotFound)
		}
		meta, err := decodeMeta(current)
		if err != nil {
			return optics.StructuredValue{}, false, err
		}

		retain := meta.hashSet()
		objects := s.objects(user, name)

		draft := meta
		draft.Records = cloneRecords(meta.Records)
		draft.Config = cloneConfig(meta.Config)
		draft.Version = meta.Version + 1
		draft.Updated = s.clock.Now()

		blockErr := block(ctx, &draft)

		// Whatever the block wrote to the object store, successful or not,
		// must be retained-or-collected against the union of the old and
		// (if we're about to commit) new record hashes (spec.md §4.6 step 9).
		defer func() {
			keep := retain
			if blockErr == nil {
				for h := range draft.hashSet() {
					keep[h] = true
				}
			}
			_ = objects.Retain(ctx, keep) // best-effort; a failed GC pass never blocks the write
		}()

		if blockErr != nil {
			return optics.StructuredValue{}, false, blockErr
		}

		normalized, err := normalizeRecords(draft, draft.Version)
		if err != nil {
			return optics.StructuredValue{}, false, err
		}
		draft.Records = normalized

		if err := s.validateConfig(draft.Config); err != nil {
			return optics.StructuredValue{}, false, fmt.Errorf("%w: %v", optics.ErrValidation, err)
		}

		result = draft
		return encodeMeta(draft), true, nil
	})
	if updateErr != nil {
		return DatasetMeta{}, updateErr
	}

	s.bus.PathUpdated(objhash.Path(string(s.source), user, name), result.Version)
	return result, nil
}

// normalizeRecords validates spec.md §4.6 step 6 (every record has a
// 32-byte hash and a positive version, defaulting a missing version to
// draftVersion) and returns the normalized records keyed by recordID.
func normalizeRecords(meta DatasetMeta, draftVersion uint64) (map[string]RecordMeta, error) {
	out := make(map[string]RecordMeta, len(meta.Records))
	for id, r := range meta.Records {
		if r.Hash.IsZero() {
			return nil, fmt.Errorf("%w: record %q has no hash", optics.ErrValidation, id)
		}
		if r.Version == 0 {
			r.Version = draftVersion
		}
		out[id] = r
	}
	return out, nil
}

func cloneRecords(m map[string]RecordMeta) map[string]RecordMeta {
	out := make(map[string]RecordMeta, len(m))
	for k, v := range m {
		links := append([]optics.HashURL(nil), v.Links...)
		v.Links = links
		out[k] = v
	}
	return out
}

func cloneConfig(m map[string]optics.StructuredValue) map[string]optics.StructuredValue {
	out := make(map[string]optics.StructuredValue, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Read returns the value stored at recordID, or ok=false if there is none.
func (s *Store) Read(ctx context.Context, user, name, recordID string) (optics.StructuredValue, bool, error) {
	meta, err := s.ReadMeta(ctx, user, name)
	if err != nil {
		return optics.StructuredValue{}, false, err
	}
	rec, ok := meta.Records[recordID]
	if !ok {
		return optics.StructuredValue{}, false, nil
	}
	v, err := s.objects(user, name).Read(ctx, rec.Hash)
	if err != nil {
		return optics.StructuredValue{}, false, err
	}
	return v, true, nil
}

// Write writes a single record (spec.md §4.6: a thin wrapper of
// WriteEntries).
func (s *Store) Write(ctx context.Context, user, name, recordID string, value optics.StructuredValue) (DatasetMeta, error) {
	return s.WriteEntries(ctx, user, name, []Entry{{ID: recordID, Value: value, Present: true}}, false)
}

// Entry is one [recordID, value] pair passed to WriteEntries. Present
// false means "delete this recordID" (spec.md §4.6: "if data is
// null/undefined: delete").
type Entry struct {
	ID      string
	Value   optics.StructuredValue
	Present bool
}

// Merge writes entries without touching any record not named (spec.md
// §4.6: writeEntries with overwrite=false).
func (s *Store) Merge(ctx context.Context, user, name string, entries map[string]optics.StructuredValue) (DatasetMeta, error) {
	return s.WriteEntries(ctx, user, name, mapToEntries(entries), false)
}

// Overwrite writes entries and removes every previously-present record
// not named this call (spec.md §4.6: writeEntries with overwrite=true).
func (s *Store) Overwrite(ctx context.Context, user, name string, entries map[string]optics.StructuredValue) (DatasetMeta, error) {
	return s.WriteEntries(ctx, user, name, mapToEntries(entries), true)
}

func mapToEntries(m map[string]optics.StructuredValue) []Entry {
	out := make([]Entry, 0, len(m))
	for id, v := range m {
		out = append(out, Entry{ID: id, Value: v, Present: true})
	}
	return out
}

// recordLinks is a record's hash-url links slated for attachment.Link
// once the write that produced them commits.
type recordLinks struct {
	path  string
	links []optics.HashURL
}

// WriteEntries implements spec.md §4.6's writeEntries: for each entry it
// extracts and validates hash-url links against the attachment store,
// runs the source's record validator, writes the value to the object
// store, and updates the record's metadata only if its hash or links
// changed. If overwrite is set, every previously-present record not named
// in entries is removed. All of this happens inside one UpdateMeta call,
// so it either commits as one new version or leaves the dataset
// untouched. Once (and only if) that commit succeeds, every newly- or
// still-linked attachment is registered via Link, and every attachment a
// removed or relinked record used to reference is re-validated via
// Validate, so a record's attachment references stay in sync with the
// GC oracle without a caller ever calling attachment.Store directly
// (spec.md §4.7 invariant 6).
func (s *Store) WriteEntries(ctx context.Context, user, name string, entries []Entry, overwrite bool) (DatasetMeta, error) {
	var toLink []recordLinks
	var toValidate []optics.Hash

	meta, err := s.UpdateMeta(ctx, user, name, func(ctx context.Context, draft *DatasetMeta) error {
		written := make(map[string]bool, len(entries))
		toLink = nil
		toValidate = nil

		for _, e := range entries {
			written[e.ID] = true

			if !e.Present {
				if prev, existed := draft.Records[e.ID]; existed {
					toValidate = append(toValidate, hashesOf(prev.Links)...)
				}
				delete(draft.Records, e.ID)
				continue
			}

			links := optics.ListHashURLs(e.Value)
			var missing []optics.HashURL
			for _, u := range links {
				has, err := s.attachments.Has(ctx, u.Hash)
				if err != nil {
					return err
				}
				if !has {
					missing = append(missing, u)
				}
			}
			if len(missing) > 0 {
				return &optics.MissingAttachmentsError{Missing: missing}
			}

			if err := s.validateRecord(e.ID, e.Value); err != nil {
				return fmt.Errorf("%w: %v", optics.ErrValidation, err)
			}

			h, err := s.objects(user, name).Write(ctx, e.Value)
			if err != nil {
				return err
			}

			prev, existed := draft.Records[e.ID]
			if existed && prev.Hash == h && hashURLsEqual(prev.Links, links) {
				continue // unchanged; don't bump this record's own version
			}
			draft.Records[e.ID] = RecordMeta{Hash: h, Links: links, Version: draft.Version}
			if len(links) > 0 {
				toLink = append(toLink, recordLinks{path: objhash.Path(string(s.source), user, name, e.ID), links: links})
			}
			if existed {
				toValidate = append(toValidate, removedHashes(prev.Links, links)...)
			}
		}

		if overwrite {
			for id, rec := range draft.Records {
				if !written[id] {
					toValidate = append(toValidate, hashesOf(rec.Links)...)
					delete(draft.Records, id)
				}
			}
		}
		return nil
	})
	if err != nil {
		return DatasetMeta{}, err
	}

	for _, rl := range toLink {
		for _, u := range rl.links {
			if err := s.attachments.Link(ctx, u.Hash, rl.path); err != nil {
				return meta, err
			}
		}
	}
	for _, h := range toValidate {
		if _, err := s.attachments.Validate(ctx, h); err != nil {
			return meta, err
		}
	}

	return meta, nil
}

func hashesOf(links []optics.HashURL) []optics.Hash {
	out := make([]optics.Hash, len(links))
	for i, u := range links {
		out[i] = u.Hash
	}
	return out
}

// removedHashes returns the hashes in old that are no longer present in
// next, i.e. the links a write just dropped.
func removedHashes(old, next []optics.HashURL) []optics.Hash {
	keep := make(map[optics.Hash]bool, len(next))
	for _, u := range next {
		keep[u.Hash] = true
	}
	var out []optics.Hash
	for _, u := range old {
		if !keep[u.Hash] {
			out = append(out, u.Hash)
		}
	}
	return out
}

// PutRecord writes or deletes one record directly against draft, for a
// caller that is already inside an UpdateBlock for this same (user,
// name) and needs to write several records as part of one version
// without recursively re-entering UpdateMeta (the lens engine's build
// step, spec.md §4.10, is the only such caller: it accumulates a whole
// build's worth of output records inside the lens's own UpdateBlock).
// Unlike WriteEntries, PutRecord cannot call attachment.Link/Validate
// itself — draft's enclosing UpdateMeta hasn't committed yet, so a
// resolver read of this record would still see the old one. Instead it
// reports linkHashes (attachments this record now references, for the
// caller to Link once its own UpdateMeta returns) and validateHashes
// (attachments a previous version of this record referenced and no
// longer does, for the caller to Validate at that same point).
func (s *Store) PutRecord(ctx context.Context, user, name string, draft *DatasetMeta, recordID string, value optics.StructuredValue, present bool) (linkHashes, validateHashes []optics.Hash, err error) {
	if !present {
		if prev, existed := draft.Records[recordID]; existed {
			validateHashes = hashesOf(prev.Links)
		}
		delete(draft.Records, recordID)
		return nil, validateHashes, nil
	}

	links := optics.ListHashURLs(value)
	var missing []optics.HashURL
	for _, u := range links {
		has, err := s.attachments.Has(ctx, u.Hash)
		if err != nil {
			return nil, nil, err
		}
		if !has {
			missing = append(missing, u)
		}
	}
	if len(missing) > 0 {
		return nil, nil, &optics.MissingAttachmentsError{Missing: missing}
	}

	if err := s.validateRecord(recordID, value); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", optics.ErrValidation, err)
	}

	h, err := s.objects(user, name).Write(ctx, value)
	if err != nil {
		return nil, nil, err
	}
	prev, existed := draft.Records[recordID]
	draft.Records[recordID] = RecordMeta{Hash: h, Links: links, Version: draft.Version}
	linkHashes = hashesOf(links)
	if existed {
		validateHashes = removedHashes(prev.Links, links)
	}
	return linkHashes, validateHashes, nil
}

func hashURLsEqual(a, b []optics.HashURL) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[optics.Hash]bool, len(a))
	for _, u := range a {
		seen[u.Hash] = true
	}
	for _, u := range b {
		if !seen[u.Hash] {
			return false
		}
	}
	return true
}

// Delete removes one record (recordID != ""), or the whole dataset
// (recordID == ""), per spec.md §4.6. Deleting the whole dataset
// re-validates every attachment any of its records referenced, the same
// GC trigger WriteEntries applies to a single removed record (spec.md
// §4.7 invariant 6).
func (s *Store) Delete(ctx context.Context, user, name, recordID string) error {
	if recordID != "" {
		_, err := s.WriteEntries(ctx, user, name, []Entry{{ID: recordID, Present: false}}, false)
		return err
	}

	meta, err := s.ReadMeta(ctx, user, name)
	if err != nil {
		return err
	}

	if err := s.files.DeleteTree(ctx, []string{string(s.source), user, name}); err != nil {
		return err
	}
	// spec.md §9's Open Question #2: the argument order here is
	// objhash.Path's own, not the teacher's mismatched emission — see
	// DESIGN.md.
	s.bus.PathUpdated(objhash.Path("meta", "system", "system", string(s.source)), 0)

	for _, rec := range meta.Records {
		for _, h := range hashesOf(rec.Links) {
			if _, err := s.attachments.Validate(ctx, h); err != nil {
				return err
			}
		}
	}
	return nil
}

// Iterate calls f for every record in (user, name), in recordID order,
// until f returns false or an error. Producers must tolerate an early
// stop without leaking resources (spec.md §9's lazy-sequence design
// note); since this implementation holds only an in-memory DatasetMeta by
// the time it iterates, there is nothing to leak.
func (s *Store) Iterate(ctx context.Context, user, name string, f func(recordID string, rec RecordMeta) (bool, error)) error {
	meta, err := s.ReadMeta(ctx, user, name)
	if err != nil {
		return err
	}
	for _, id := range meta.sortedRecordIDs() {
		cont, err := f(id, meta.Records[id])
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}

// List returns every dataset name owned by user.
func (s *Store) List(ctx context.Context, user string) ([]string, error) {
	return s.files.IterateFolders(ctx, []string{string(s.source), user})
}

// Users returns every username with at least one dataset under this
// source.
func (s *Store) Users(ctx context.Context) ([]string, error) {
	return s.files.IterateFolders(ctx, []string{string(s.source)})
}
