package resolver_test

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
	"github.com/bobg/pigeon-optics/objectstore"
	"github.com/bobg/pigeon-optics/resolver"
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

func newDatasetStore(t *testing.T, dir string) *dataset.Store {
	t.Helper()
	files := filestore.New(filepath.Join(dir, "meta"))
	objectsRoot := func(user, name string) *objectstore.Store {
		return objectstore.New(file.New(filepath.Join(dir, "objects", user, name)))
	}
	bus := events.New(nil)
	return dataset.New(dataset.SourceDatasets, files, objectsRoot, allowAll{}, bus, &fixedClock{}, nil, nil)
}

func newResolver(t *testing.T) (*resolver.Resolver, *dataset.Store) {
	t.Helper()
	dir, err := os.MkdirTemp("", "resolver")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	ds := newDatasetStore(t, dir)
	r := resolver.New(map[dataset.Source]*dataset.Store{dataset.SourceDatasets: ds})
	return r, ds
}

func TestReadResolvesRecord(t *testing.T) {
	r, ds := newResolver(t)
	ctx := context.Background()

	if err := ds.Create(ctx, "alice", "photos", nil); err != nil {
		t.Fatal(err)
	}
	v := optics.String("a photo")
	if _, err := ds.Write(ctx, "alice", "photos", "rec1", v); err != nil {
		t.Fatal(err)
	}

	got, err := r.Read(ctx, "datasets/alice/photos/rec1")
	if err != nil {
		t.Fatal(err)
	}
	if !optics.Equal(v, got) {
		t.Errorf("Read = %+v, want %+v", got, v)
	}
}

func TestReadUnknownSourceErrors(t *testing.T) {
	r, _ := newResolver(t)
	ctx := context.Background()
	if _, err := r.Read(ctx, "bogus/alice/photos/rec1"); err == nil {
		t.Error("expected an error reading from an unknown source")
	}
}

func TestExists(t *testing.T) {
	r, ds := newResolver(t)
	ctx := context.Background()

	if err := ds.Create(ctx, "alice", "photos", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := ds.Write(ctx, "alice", "photos", "rec1", optics.String("v")); err != nil {
		t.Fatal(err)
	}

	ok, err := r.Exists(ctx, "datasets/alice/photos/rec1")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("Exists = false for a record that was just written")
	}

	ok, err = r.Exists(ctx, "datasets/alice/photos/missing")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("Exists = true for a record that was never written")
	}
}

func TestMetaNeverAbortsOnOneBadPath(t *testing.T) {
	r, ds := newResolver(t)
	ctx := context.Background()

	if err := ds.Create(ctx, "alice", "photos", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := ds.Write(ctx, "alice", "photos", "rec1", optics.String("v")); err != nil {
		t.Fatal(err)
	}

	entries := r.Meta(ctx, []string{
		"datasets/alice/photos/rec1",
		"datasets/alice/photos/missing",
		"datasets/alice/photos/rec1",
	})
	if len(entries) != 3 {
		t.Fatalf("Meta returned %d entries, want 3", len(entries))
	}
	if entries[0].Err != nil {
		t.Errorf("entries[0].Err = %v, want nil", entries[0].Err)
	}
	if entries[1].Err == nil {
		t.Error("entries[1].Err = nil, want a not-found error")
	}
	if entries[2].Err != nil {
		t.Errorf("entries[2].Err = %v, want nil (one bad path must not abort the rest)", entries[2].Err)
	}
}

func TestSystemUsers(t *testing.T) {
	r, ds := newResolver(t)
	ctx := context.Background()

	if err := ds.Create(ctx, "alice", "photos", nil); err != nil {
		t.Fatal(err)
	}
	if err := ds.Create(ctx, "bob", "notes", nil); err != nil {
		t.Fatal(err)
	}

	entries := r.Meta(ctx, []string{"meta/system/system/users"})
	if entries[0].Err != nil {
		t.Fatal(entries[0].Err)
	}
	if !entries[0].IsSystem {
		t.Error("expected IsSystem=true for a meta/system/system/* path")
	}
	names := seqStrings(t, entries[0].SystemValue)
	if len(names) != 2 || names[0] != "alice" || names[1] != "bob" {
		t.Errorf("system users = %v, want [alice bob]", names)
	}
}

func seqStrings(t *testing.T, v optics.StructuredValue) []string {
	t.Helper()
	if v.Kind != optics.KindSeq {
		t.Fatalf("expected a Seq, got kind %v", v.Kind)
	}
	out := make([]string, len(v.Seq))
	for i, e := range v.Seq {
		out[i] = e.Str
	}
	return out
}

func TestStillLinksReflectsCurrentRecord(t *testing.T) {
	r, ds := newResolver(t)
	ctx := context.Background()

	if err := ds.Create(ctx, "alice", "photos", nil); err != nil {
		t.Fatal(err)
	}

	h := optics.SumHash([]byte("attachment content"))
	u := optics.NewHashURL(h, "")
	if _, err := ds.Write(ctx, "alice", "photos", "rec1", optics.HashURLValue(u)); err != nil {
		t.Fatal(err)
	}

	still, err := r.StillLinks(ctx, "datasets/alice/photos/rec1", h)
	if err != nil {
		t.Fatal(err)
	}
	if !still {
		t.Error("StillLinks = false for a record that embeds the hash")
	}

	other := optics.SumHash([]byte("different content"))
	still, err = r.StillLinks(ctx, "datasets/alice/photos/rec1", other)
	if err != nil {
		t.Fatal(err)
	}
	if still {
		t.Error("StillLinks = true for a hash the record does not embed")
	}
}

func TestStillLinksMissingPathIsFalseNotError(t *testing.T) {
	r, _ := newResolver(t)
	ctx := context.Background()
	h := optics.SumHash([]byte("x"))

	still, err := r.StillLinks(ctx, "datasets/alice/missing/rec1", h)
	if err != nil {
		t.Fatal(err)
	}
	if still {
		t.Error("StillLinks = true for a path that does not exist")
	}
}
