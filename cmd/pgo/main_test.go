package main

import (
	"context"
	"os"
	"testing"

	"github.com/bobg/pigeon-optics"
)

func newTestCmd(t *testing.T) maincmd {
	t.Helper()
	dir, err := os.MkdirTemp("", "pgo-root")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	c, err := build(config{DataRoot: dir})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestBuildWiresSubcommands(t *testing.T) {
	c := newTestCmd(t)
	subs := c.Subcmds()
	for _, name := range []string{"create", "write", "read", "merge", "ls", "gc", "lens-create", "lens-build"} {
		if _, ok := subs[name]; !ok {
			t.Errorf("Subcmds() missing %q", name)
		}
	}
}

func TestCreateWriteReadThroughWiredStores(t *testing.T) {
	c := newTestCmd(t)
	ctx := context.Background()

	if err := c.datasets.Create(ctx, "alice", "photos", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := c.datasets.Write(ctx, "alice", "photos", "rec1", optics.String("hi")); err != nil {
		t.Fatal(err)
	}

	got, err := c.resolver.Read(ctx, "datasets/alice/photos/rec1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Str != "hi" {
		t.Errorf("resolved value = %+v, want Str=hi", got)
	}
}
