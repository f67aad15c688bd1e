package main

import (
	"context"
	"flag"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/bobg/pigeon-optics"
	"github.com/bobg/pigeon-optics/codec"
	_ "github.com/bobg/pigeon-optics/codec/jsoncodec"
)

// merge reads a JSON object of {recordID: value} from stdin and merges
// it into a dataset (spec.md §4.6's merge operation).
func (c maincmd) merge(ctx context.Context, fs *flag.FlagSet, args []string) error {
	var (
		user      = fs.String("user", "", "dataset owner")
		name      = fs.String("name", "", "dataset name")
		overwrite = fs.Bool("overwrite", false, "remove records not named in the input")
	)
	if err := fs.Parse(args); err != nil {
		return errors.Wrap(err, "parsing args")
	}
	if *user == "" || *name == "" {
		return errors.New("must supply -user and -name")
	}

	b, err := io.ReadAll(os.Stdin)
	if err != nil {
		return errors.Wrap(err, "reading stdin")
	}
	jsonCodec, _ := codec.For("json")
	v, err := jsonCodec.Decode(b)
	if err != nil {
		return errors.Wrap(err, "decoding stdin as json")
	}
	if v.Kind != optics.KindMap {
		return errors.New("stdin must decode to a JSON object of {recordID: value}")
	}

	entries := make(map[string]optics.StructuredValue, len(v.Map))
	for k, val := range v.Map {
		entries[k] = val
	}

	if *overwrite {
		_, err = c.datasets.Overwrite(ctx, *user, *name, entries)
	} else {
		_, err = c.datasets.Merge(ctx, *user, *name, entries)
	}
	return errors.Wrapf(err, "merging into %s/%s", *user, *name)
}
