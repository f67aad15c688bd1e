package main

import (
	"context"
	"flag"
	"strings"

	"github.com/pkg/errors"

	"github.com/bobg/pigeon-optics"
)

func (c maincmd) lensCreate(ctx context.Context, fs *flag.FlagSet, args []string) error {
	var (
		user         = fs.String("user", "", "lens owner")
		name         = fs.String("name", "", "lens name")
		transform    = fs.String("transform", "identity", "registered sandbox transform name")
		inputs       = fs.String("inputs", "", "comma-separated dataset paths driving the lens")
		dependencies = fs.String("dependencies", "", "comma-separated read-only dependency dataset paths")
	)
	if err := fs.Parse(args); err != nil {
		return errors.Wrap(err, "parsing args")
	}
	if *user == "" || *name == "" || *inputs == "" {
		return errors.New("must supply -user, -name, and -inputs")
	}

	return c.lensEngine.Create(
		ctx, *user, *name, *transform,
		splitNonEmpty(*inputs), splitNonEmpty(*dependencies),
		map[string]optics.StructuredValue{},
	)
}

func (c maincmd) lensBuild(ctx context.Context, fs *flag.FlagSet, args []string) error {
	var (
		user = fs.String("user", "", "lens owner")
		name = fs.String("name", "", "lens name")
	)
	if err := fs.Parse(args); err != nil {
		return errors.Wrap(err, "parsing args")
	}
	if *user == "" || *name == "" {
		return errors.New("must supply -user and -name")
	}
	return c.lensEngine.Build(ctx, *user, *name)
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
