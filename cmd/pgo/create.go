package main

import (
	"context"
	"flag"

	"github.com/pkg/errors"

	"github.com/bobg/pigeon-optics"
)

func (c maincmd) create(ctx context.Context, fs *flag.FlagSet, args []string) error {
	var (
		user = fs.String("user", "", "dataset owner")
		name = fs.String("name", "", "dataset name")
	)
	if err := fs.Parse(args); err != nil {
		return errors.Wrap(err, "parsing args")
	}
	if *user == "" || *name == "" {
		return errors.New("must supply -user and -name")
	}
	return c.datasets.Create(ctx, *user, *name, map[string]optics.StructuredValue{})
}
