// Command pgo is an administrative CLI for a Pigeon Optics data root: the
// dataset/attachment/lens operations of spec.md §6.1 exposed for
// scripting and local testing, standing in for the out-of-scope HTTP
// router, auth layer, and sandboxed scripting engine.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/bobg/subcmd"

	"github.com/bobg/pigeon-optics/attachment"
	"github.com/bobg/pigeon-optics/blobstore"
	"github.com/bobg/pigeon-optics/blobstore/compress"
	"github.com/bobg/pigeon-optics/blobstore/file"
	"github.com/bobg/pigeon-optics/dataset"
	"github.com/bobg/pigeon-optics/events"
	"github.com/bobg/pigeon-optics/filestore"
	"github.com/bobg/pigeon-optics/lens"
	"github.com/bobg/pigeon-optics/objectstore"
	"github.com/bobg/pigeon-optics/resolver"
	"github.com/bobg/pigeon-optics/rootlock"
	"github.com/bobg/pigeon-optics/sandbox"
)

type maincmd struct {
	datasets    *dataset.Store
	lenses      *dataset.Store
	attachments *attachment.Store
	resolver    *resolver.Resolver
	lensEngine  *lens.Engine
	bus         *events.Bus
}

func main() {
	configPath := flag.String("config", "pgoconf.json", "path to config file")
	flag.Parse()

	conf, err := configFromFile(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	lock, err := rootlock.Acquire(conf.DataRoot)
	if err != nil {
		log.Fatal(err)
	}
	defer lock.Unlock()

	ctx := context.Background()
	c, err := build(conf)
	if err != nil {
		log.Fatal(err)
	}

	if err := subcmd.Run(ctx, c, flag.Args()); err != nil {
		log.Fatal(err)
	}
}

// systemClock implements optics.Clock with wall-clock time.
type systemClock struct{}

func (systemClock) Now() int64 { return time.Now().UnixMilli() }

func build(conf config) (maincmd, error) {
	root := conf.DataRoot
	logger := log.New(os.Stderr, "pgo: ", log.LstdFlags)
	bus := events.New(logger)
	clock := systemClock{}

	meta := filestore.New(root)

	var attachBlobs blobstore.Store = file.New(filepath.Join(root, "attachments", "blobs"))
	if conf.CompressAttachments {
		compressed, err := compress.New(attachBlobs)
		if err != nil {
			return maincmd{}, err
		}
		attachBlobs = compressed
	}
	attachments := attachment.New(attachBlobs, meta, nil, logger) // LinkChecker wired in below, after resolver exists

	objectsRoot := func(source string) func(user, name string) *objectstore.Store {
		return func(user, name string) *objectstore.Store {
			blobs := file.New(filepath.Join(root, source, user, name, "objects"))
			return objectstore.New(blobs)
		}
	}

	datasets := dataset.New(dataset.SourceDatasets, meta, objectsRoot("datasets"), attachments, bus, clock, nil, nil)
	// Lens output records are derived, never written directly by users
	// (spec.md §3); this CLI enforces that by never exposing a "write"
	// or "merge" subcommand for the lenses source, rather than inside
	// dataset.Store itself, since lens.Engine's own build step writes
	// through the very same PutRecord path a direct write would use.
	lenses := dataset.New(dataset.SourceLenses, meta, objectsRoot("lenses"), attachments, bus, clock, nil, nil)

	res := resolver.New(map[dataset.Source]*dataset.Store{
		dataset.SourceDatasets: datasets,
		dataset.SourceLenses:   lenses,
	})
	attachments.SetLinkChecker(res)

	engine := lens.New(lenses, datasets, sandbox.New(), attachments, bus, logger)
	engine.Subscribe()

	return maincmd{
		datasets:    datasets,
		lenses:      lenses,
		attachments: attachments,
		resolver:    res,
		lensEngine:  engine,
		bus:         bus,
	}, nil
}

func (c maincmd) Subcmds() map[string]subcmd.Subcmd {
	return map[string]subcmd.Subcmd{
		"create":      {F: c.create},
		"write":       {F: c.write},
		"read":        {F: c.read},
		"merge":       {F: c.merge},
		"ls":          {F: c.ls},
		"gc":          {F: c.gc},
		"lens-create": {F: c.lensCreate},
		"lens-build":  {F: c.lensBuild},
	}
}
