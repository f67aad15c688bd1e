package lens_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/bobg/pigeon-optics"
	"github.com/bobg/pigeon-optics/blobstore/file"
	"github.com/bobg/pigeon-optics/dataset"
	"github.com/bobg/pigeon-optics/events"
	"github.com/bobg/pigeon-optics/filestore"
	"github.com/bobg/pigeon-optics/lens"
	"github.com/bobg/pigeon-optics/objectstore"
	"github.com/bobg/pigeon-optics/objhash"
	"github.com/bobg/pigeon-optics/sandbox"
)

type fixedClock struct{ ms int64 }

func (c *fixedClock) Now() int64 {
	c.ms++
	return c.ms
}

type allowAll struct{}

func (allowAll) Has(context.Context, optics.Hash) (bool, error)       { return true, nil }
func (allowAll) Link(context.Context, optics.Hash, ...string) error  { return nil }
func (allowAll) Validate(context.Context, optics.Hash) (bool, error) { return true, nil }

func newStores(t *testing.T) (datasets, lenses *dataset.Store) {
	t.Helper()
	dir, err := os.MkdirTemp("", "lens")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	bus := events.New(nil)
	newObjectsRoot := func(sub string) func(user, name string) *objectstore.Store {
		return func(user, name string) *objectstore.Store {
			return objectstore.New(file.New(filepath.Join(dir, sub, "objects", user, name)))
		}
	}

	datasets = dataset.New(dataset.SourceDatasets, filestore.New(filepath.Join(dir, "datasets", "meta")),
		newObjectsRoot("datasets"), allowAll{}, bus, &fixedClock{}, nil, nil)
	lenses = dataset.New(dataset.SourceLenses, filestore.New(filepath.Join(dir, "lenses", "meta")),
		newObjectsRoot("lenses"), allowAll{}, bus, &fixedClock{}, nil, nil)
	return datasets, lenses
}

func TestCreateBuildsIdentityLens(t *testing.T) {
	datasets, lenses := newStores(t)
	ctx := context.Background()

	if err := datasets.Create(ctx, "alice", "raw", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := datasets.Write(ctx, "alice", "raw", "rec1", optics.String("hello")); err != nil {
		t.Fatal(err)
	}

	engine := lens.New(lenses, datasets, sandbox.New(), allowAll{}, events.New(nil), nil)
	inputPath := objhash.Path(string(dataset.SourceDatasets), "alice", "raw")
	if err := engine.Create(ctx, "alice", "echo", "identity", []string{inputPath}, nil, nil); err != nil {
		t.Fatal(err)
	}

	got, ok, err := lenses.Read(ctx, "alice", "echo", "rec1")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("lens output record rec1 not found after initial build")
	}
	if !optics.Equal(got, optics.String("hello")) {
		t.Errorf("lens output = %+v, want %+v", got, optics.String("hello"))
	}
}

func TestBuildPicksUpNewAndChangedInputRecords(t *testing.T) {
	datasets, lenses := newStores(t)
	ctx := context.Background()

	if err := datasets.Create(ctx, "alice", "raw", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := datasets.Write(ctx, "alice", "raw", "rec1", optics.String("v1")); err != nil {
		t.Fatal(err)
	}

	engine := lens.New(lenses, datasets, sandbox.New(), allowAll{}, events.New(nil), nil)
	inputPath := objhash.Path(string(dataset.SourceDatasets), "alice", "raw")
	if err := engine.Create(ctx, "alice", "echo", "identity", []string{inputPath}, nil, nil); err != nil {
		t.Fatal(err)
	}

	if _, err := datasets.Write(ctx, "alice", "raw", "rec1", optics.String("v2")); err != nil {
		t.Fatal(err)
	}
	if _, err := datasets.Write(ctx, "alice", "raw", "rec2", optics.String("new")); err != nil {
		t.Fatal(err)
	}
	if err := engine.Build(ctx, "alice", "echo"); err != nil {
		t.Fatal(err)
	}

	got1, ok, err := lenses.Read(ctx, "alice", "echo", "rec1")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || !optics.Equal(got1, optics.String("v2")) {
		t.Errorf("rec1 = (%v, %+v), want (true, v2)", ok, got1)
	}

	got2, ok, err := lenses.Read(ctx, "alice", "echo", "rec2")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || !optics.Equal(got2, optics.String("new")) {
		t.Errorf("rec2 = (%v, %+v), want (true, new)", ok, got2)
	}
}

func TestBuildRemovesOutputWhenInputRecordDisappears(t *testing.T) {
	datasets, lenses := newStores(t)
	ctx := context.Background()

	if err := datasets.Create(ctx, "alice", "raw", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := datasets.Write(ctx, "alice", "raw", "rec1", optics.String("v1")); err != nil {
		t.Fatal(err)
	}

	engine := lens.New(lenses, datasets, sandbox.New(), allowAll{}, events.New(nil), nil)
	inputPath := objhash.Path(string(dataset.SourceDatasets), "alice", "raw")
	if err := engine.Create(ctx, "alice", "echo", "identity", []string{inputPath}, nil, nil); err != nil {
		t.Fatal(err)
	}

	if err := datasets.Delete(ctx, "alice", "raw", "rec1"); err != nil {
		t.Fatal(err)
	}
	if err := engine.Build(ctx, "alice", "echo"); err != nil {
		t.Fatal(err)
	}

	_, ok, err := lenses.Read(ctx, "alice", "echo", "rec1")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("lens output survived after its producing input record was deleted")
	}
}

func TestDropBuiltinProducesNoOutputs(t *testing.T) {
	datasets, lenses := newStores(t)
	ctx := context.Background()

	if err := datasets.Create(ctx, "alice", "raw", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := datasets.Write(ctx, "alice", "raw", "rec1", optics.String("v1")); err != nil {
		t.Fatal(err)
	}

	engine := lens.New(lenses, datasets, sandbox.New(), allowAll{}, events.New(nil), nil)
	inputPath := objhash.Path(string(dataset.SourceDatasets), "alice", "raw")
	if err := engine.Create(ctx, "alice", "nothing", "drop", []string{inputPath}, nil, nil); err != nil {
		t.Fatal(err)
	}

	meta, err := lenses.ReadMeta(ctx, "alice", "nothing")
	if err != nil {
		t.Fatal(err)
	}
	if len(meta.Records) != 0 {
		t.Errorf("lens records = %v, want empty for the drop builtin", meta.Records)
	}
}

func TestRebuildWithNoChangesIsANoOp(t *testing.T) {
	datasets, lenses := newStores(t)
	ctx := context.Background()

	if err := datasets.Create(ctx, "alice", "raw", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := datasets.Write(ctx, "alice", "raw", "rec1", optics.String("v1")); err != nil {
		t.Fatal(err)
	}

	engine := lens.New(lenses, datasets, sandbox.New(), allowAll{}, events.New(nil), nil)
	inputPath := objhash.Path(string(dataset.SourceDatasets), "alice", "raw")
	if err := engine.Create(ctx, "alice", "echo", "identity", []string{inputPath}, nil, nil); err != nil {
		t.Fatal(err)
	}

	meta1, err := lenses.ReadMeta(ctx, "alice", "echo")
	if err != nil {
		t.Fatal(err)
	}

	if err := engine.Build(ctx, "alice", "echo"); err != nil {
		t.Fatal(err)
	}

	meta2, err := lenses.ReadMeta(ctx, "alice", "echo")
	if err != nil {
		t.Fatal(err)
	}
	// A rebuild with no input changes must commit no new version at all
	// (spec.md §8's lens idempotence invariant).
	if meta2.Version != meta1.Version {
		t.Errorf("Version = %d, want %d (unchanged) after one no-op rebuild", meta2.Version, meta1.Version)
	}
	if meta2.Records["rec1"].Version != meta1.Records["rec1"].Version {
		t.Errorf("rec1 record version changed from %d to %d on a no-op rebuild",
			meta1.Records["rec1"].Version, meta2.Records["rec1"].Version)
	}
}
