// Package lens implements the lens engine of spec.md §4.10 (C10):
// change-driven re-evaluation of a sandboxed map function over a set of
// input dataset diffs, writing derived output records into the lens's
// own dataset.
package lens

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/bobg/pigeon-optics"
	"github.com/bobg/pigeon-optics/dataset"
	"github.com/bobg/pigeon-optics/events"
	"github.com/bobg/pigeon-optics/objhash"
)

// Engine serialises builds per lens (one at a time, dirty-coalescing),
// translating input dataset changes into lens output records.
type Engine struct {
	lenses      *dataset.Store
	datasets    *dataset.Store
	sandbox     optics.Sandbox
	attachments dataset.AttachmentChecker
	bus         *events.Bus
	logger      *log.Logger

	mu    sync.Mutex
	slots map[string]*buildSlot
}

// New returns an Engine. lenses must be a dataset.Store constructed with
// dataset.SourceLenses, datasets with dataset.SourceDatasets; both are
// also the Engine's only supported input/dependency sources. attachments
// is the same AttachmentChecker lenses was itself constructed with; the
// engine needs it directly because PutRecord, called from inside the
// lens's own UpdateBlock, can only report which attachments to
// Link/Validate — it can't call them itself without the commit having
// happened yet (see buildOnce).
func New(lenses, datasets *dataset.Store, sandbox optics.Sandbox, attachments dataset.AttachmentChecker, bus *events.Bus, logger *log.Logger) *Engine {
	return &Engine{
		lenses:      lenses,
		datasets:    datasets,
		sandbox:     sandbox,
		attachments: attachments,
		bus:         bus,
		logger:      logger,
		slots:       make(map[string]*buildSlot),
	}
}

// Subscribe wires the engine to bus so that any pathUpdated event checks
// every lens's declared inputs and rebuilds the ones that match (spec.md
// §4.10's change-driven trigger). Each matching rebuild is dispatched on
// its own goroutine so a slow build never blocks event delivery to other
// listeners.
func (e *Engine) Subscribe() {
	e.bus.On(func(path string, version uint64) {
		go e.onPathUpdated(path, version)
	})
}

func (e *Engine) onPathUpdated(path string, _ uint64) {
	ctx := context.Background()
	lensPaths, err := e.lensesTrackingInput(ctx, path)
	if err != nil {
		if e.logger != nil {
			e.logger.Printf("lens: scanning for input %s: %v", path, err)
		}
		return
	}
	for _, p := range lensPaths {
		if err := e.Build(ctx, p.user, p.name); err != nil && e.logger != nil {
			e.logger.Printf("lens: building %s/%s: %v", p.user, p.name, err)
		}
	}
}

type userName struct{ user, name string }

func (e *Engine) lensesTrackingInput(ctx context.Context, path string) ([]userName, error) {
	var out []userName
	users, err := e.lenses.Users(ctx)
	if err != nil {
		return nil, err
	}
	for _, user := range users {
		names, err := e.lenses.List(ctx, user)
		if err != nil {
			return nil, err
		}
		for _, name := range names {
			meta, err := e.lenses.ReadMeta(ctx, user, name)
			if err != nil {
				continue
			}
			st := decodeState(meta.Config)
			for _, input := range st.Inputs {
				if input == path {
					out = append(out, userName{user, name})
					break
				}
			}
		}
	}
	return out, nil
}

func (e *Engine) storeFor(source string) *dataset.Store {
	switch dataset.Source(source) {
	case dataset.SourceDatasets:
		return e.datasets
	case dataset.SourceLenses:
		return e.lenses
	default:
		return nil
	}
}

// buildSlot serialises Build calls for one lens and coalesces any
// request that arrives while a build is already running into a single
// re-run afterward (spec.md §4.10: "at most one build per lens runs at a
// time... coalesce into a dirty flag; on completion, if dirty, re-run").
type buildSlot struct {
	mu      sync.Mutex
	dirtyMu sync.Mutex
	dirty   bool
}

func (s *buildSlot) markDirty() {
	s.dirtyMu.Lock()
	s.dirty = true
	s.dirtyMu.Unlock()
}

func (s *buildSlot) takeDirty() bool {
	s.dirtyMu.Lock()
	d := s.dirty
	s.dirty = false
	s.dirtyMu.Unlock()
	return d
}

func (e *Engine) slot(key string) *buildSlot {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.slots[key]
	if !ok {
		s = &buildSlot{}
		e.slots[key] = s
	}
	return s
}

// Create stores a new lens's configuration and triggers its initial
// build (spec.md §4.10's create operation).
func (e *Engine) Create(ctx context.Context, user, name, code string, inputs, dependencies []string, memo map[string]optics.StructuredValue) error {
	config := make(map[string]optics.StructuredValue, len(memo))
	for k, v := range memo {
		config[k] = v
	}
	newState(code, inputs, dependencies).encodeInto(config)

	if err := e.lenses.Create(ctx, user, name, config); err != nil {
		return err
	}
	return e.Build(ctx, user, name)
}

// Build runs (user, name)'s pending build, or marks it dirty if a build
// for this lens is already in flight.
func (e *Engine) Build(ctx context.Context, user, name string) error {
	key := user + "/" + name
	slot := e.slot(key)

	if !slot.mu.TryLock() {
		slot.markDirty()
		return nil
	}
	defer slot.mu.Unlock()

	for {
		if err := e.buildOnce(ctx, user, name); err != nil {
			return err
		}
		if !slot.takeDirty() {
			return nil
		}
	}
}

// buildOnce runs exactly one build pass inside the lens's own UpdateMeta
// block, so that reading the lens's bookkeeping, invoking the sandbox,
// and committing both the bookkeeping and the derived output records
// happen as one version with no other writer able to interleave (spec.md
// §4.10 steps 1-5). It skips the UpdateMeta call entirely when no input
// has advanced past the version this lens already processed, so that
// rebuilding on an unchanged input set commits no new version (spec.md
// §8's lens idempotence invariant).
func (e *Engine) buildOnce(ctx context.Context, user, name string) error {
	meta, err := e.lenses.ReadMeta(ctx, user, name)
	if err != nil {
		return err
	}
	st := decodeState(meta.Config)
	changed, err := e.anyInputChanged(ctx, st)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	type pendingLink struct {
		path   string
		hashes []optics.Hash
	}
	var toLink []pendingLink
	var toValidate []optics.Hash

	_, err = e.lenses.UpdateMeta(ctx, user, name, func(ctx context.Context, draft *dataset.DatasetMeta) error {
		st := decodeState(draft.Config)

		merge := map[string]optics.StructuredValue{}
		touched := map[string]bool{}

		for _, inputPath := range st.Inputs {
			if err := e.processInput(ctx, &st, inputPath, merge, touched); err != nil {
				return err
			}
		}

		var toDelete []string
		for outputID := range touched {
			if len(st.ReverseIndex[outputID]) == 0 {
				toDelete = append(toDelete, outputID)
				delete(merge, outputID)
			}
		}

		ids := make([]string, 0, len(merge))
		for id := range merge {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			linked, validated, err := e.lenses.PutRecord(ctx, user, name, draft, id, merge[id], true)
			if err != nil {
				return err
			}
			if len(linked) > 0 {
				toLink = append(toLink, pendingLink{path: objhash.Path(string(dataset.SourceLenses), user, name, id), hashes: linked})
			}
			toValidate = append(toValidate, validated...)
		}
		sort.Strings(toDelete)
		for _, id := range toDelete {
			_, validated, _ := e.lenses.PutRecord(ctx, user, name, draft, id, optics.Null(), false)
			toValidate = append(toValidate, validated...)
		}

		st.encodeInto(draft.Config)
		return nil
	})
	if err != nil {
		return err
	}

	for _, pl := range toLink {
		for _, h := range pl.hashes {
			if err := e.attachments.Link(ctx, h, pl.path); err != nil {
				return err
			}
		}
	}
	for _, h := range toValidate {
		if _, err := e.attachments.Validate(ctx, h); err != nil {
			return err
		}
	}
	return nil
}

// anyInputChanged reports whether any of st's inputs has a current
// version beyond what st.Versions already recorded, mirroring
// processInput's own at-most-once-per-version check without committing
// anything (buildOnce's idempotence guard).
func (e *Engine) anyInputChanged(ctx context.Context, st state) (bool, error) {
	for _, inputPath := range st.Inputs {
		source, u, n, _, err := objhash.SplitPath(inputPath)
		if err != nil {
			return false, err
		}
		store := e.storeFor(source)
		if store == nil {
			return false, fmt.Errorf("lens: unsupported input source %q", source)
		}

		curMeta, err := store.ReadMeta(ctx, u, n)
		if err != nil {
			if errors.Is(err, optics.ErrNotFound) {
				continue
			}
			return false, err
		}
		if curMeta.Version != 0 && curMeta.Version > st.Versions[inputPath] {
			return true, nil
		}
	}
	return false, nil
}

// processInput advances st past inputPath's latest version, recording
// merged/deleted outputs into merge/touched (spec.md §4.10 step 2: the
// symmetric-difference diff, per-record sandbox invocation, and reverse
// index maintenance for deletion-on-disappear).
func (e *Engine) processInput(ctx context.Context, st *state, inputPath string, merge map[string]optics.StructuredValue, touched map[string]bool) error {
	source, u, n, _, err := objhash.SplitPath(inputPath)
	if err != nil {
		return err
	}
	store := e.storeFor(source)
	if store == nil {
		return fmt.Errorf("lens: unsupported input source %q", source)
	}

	curMeta, err := store.ReadMeta(ctx, u, n)
	if err != nil {
		if errors.Is(err, optics.ErrNotFound) {
			return nil
		}
		return err
	}
	if curMeta.Version != 0 && curMeta.Version <= st.Versions[inputPath] {
		return nil // at-most-once-per-version (spec.md §4.10)
	}

	oldSnapshot := st.Snapshots[inputPath]
	changed := changedRecordIDs(oldSnapshot, curMeta.Records)

	allowed := append(append([]string{}, st.Inputs...), st.Dependencies...)

	for _, recordID := range changed {
		producerKey := inputPath + "|" + recordID
		oldOutputs := st.Produces[producerKey]
		_, stillPresent := curMeta.Records[recordID]

		if !stillPresent {
			delete(st.Produces, producerKey)
			for _, outputID := range oldOutputs {
				removeProducer(st.ReverseIndex, outputID, producerKey)
				touched[outputID] = true
			}
			continue
		}

		value, ok, err := store.Read(ctx, u, n, recordID)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		deps := &dependencyReader{engine: e, allowed: allowed}
		entries, _, sbErr := e.sandbox.Run(ctx, st.Code, recordID, value, deps)
		if sbErr != nil {
			if e.logger != nil {
				e.logger.Printf("lens: sandbox error processing %s: %v", producerKey, sbErr)
			}
			continue // leave this producer's previous outputs untouched
		}

		newOutputs := make([]string, len(entries))
		for i, entry := range entries {
			newOutputs[i] = entry.ID
			merge[entry.ID] = entry.Value
			touched[entry.ID] = true
			addProducer(st.ReverseIndex, entry.ID, producerKey)
		}
		for _, outputID := range oldOutputs {
			if !containsString(newOutputs, outputID) {
				removeProducer(st.ReverseIndex, outputID, producerKey)
				touched[outputID] = true
			}
		}
		st.Produces[producerKey] = newOutputs
	}

	st.Snapshots[inputPath] = snapshotHashes(curMeta.Records)
	st.Versions[inputPath] = curMeta.Version
	return nil
}

func snapshotHashes(records map[string]dataset.RecordMeta) map[string]optics.Hash {
	out := make(map[string]optics.Hash, len(records))
	for id, r := range records {
		out[id] = r.Hash
	}
	return out
}

// changedRecordIDs returns, in sorted order, every recordID whose hash
// differs between old and current (added, removed, or changed) — the
// symmetric difference of spec.md §4.10 step "build".
func changedRecordIDs(old map[string]optics.Hash, current map[string]dataset.RecordMeta) []string {
	seen := make(map[string]bool)
	var out []string
	for id, h := range old {
		if rec, ok := current[id]; !ok || rec.Hash != h {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	for id, rec := range current {
		if h, ok := old[id]; !ok || h != rec.Hash {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	sort.Strings(out)
	return out
}

func addProducer(reverseIndex map[string][]string, outputID, producerKey string) {
	for _, p := range reverseIndex[outputID] {
		if p == producerKey {
			return
		}
	}
	reverseIndex[outputID] = append(reverseIndex[outputID], producerKey)
}

func removeProducer(reverseIndex map[string][]string, outputID, producerKey string) {
	ps := reverseIndex[outputID]
	for i, p := range ps {
		if p == producerKey {
			reverseIndex[outputID] = append(ps[:i], ps[i+1:]...)
			return
		}
	}
}

func containsString(ss []string, s string) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}
