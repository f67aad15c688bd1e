package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/pkg/errors"

	"github.com/bobg/pigeon-optics/dataset"
)

// ls lists dataset or lens names for a user, or record IDs within one
// dataset (spec.md §4.8's system listings and per-dataset iteration).
func (c maincmd) ls(ctx context.Context, fs *flag.FlagSet, args []string) error {
	var (
		source = fs.String("source", "datasets", "\"datasets\" or \"lenses\"")
		user   = fs.String("user", "", "owner to list")
		name   = fs.String("name", "", "dataset/lens name to list records of (optional)")
	)
	if err := fs.Parse(args); err != nil {
		return errors.Wrap(err, "parsing args")
	}
	if *user == "" {
		return errors.New("must supply -user")
	}

	var store *dataset.Store
	switch dataset.Source(*source) {
	case dataset.SourceDatasets:
		store = c.datasets
	case dataset.SourceLenses:
		store = c.lenses
	default:
		return errors.Errorf("unknown -source %q", *source)
	}

	if *name == "" {
		names, err := store.List(ctx, *user)
		if err != nil {
			return errors.Wrapf(err, "listing %s for %s", *source, *user)
		}
		for _, n := range names {
			fmt.Println(n)
		}
		return nil
	}

	return store.Iterate(ctx, *user, *name, func(recordID string, rec dataset.RecordMeta) (bool, error) {
		fmt.Printf("%s %s v%d\n", recordID, rec.Hash, rec.Version)
		return true, nil
	})
}
