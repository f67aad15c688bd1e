package main

import (
	"context"
	"flag"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/bobg/pigeon-optics/codec"
	_ "github.com/bobg/pigeon-optics/codec/jsoncodec"
)

func (c maincmd) write(ctx context.Context, fs *flag.FlagSet, args []string) error {
	var (
		user   = fs.String("user", "", "dataset owner")
		name   = fs.String("name", "", "dataset name")
		record = fs.String("record", "", "record id")
	)
	if err := fs.Parse(args); err != nil {
		return errors.Wrap(err, "parsing args")
	}
	if *user == "" || *name == "" || *record == "" {
		return errors.New("must supply -user, -name, and -record")
	}

	b, err := io.ReadAll(os.Stdin)
	if err != nil {
		return errors.Wrap(err, "reading stdin")
	}
	jsonCodec, _ := codec.For("json")
	value, err := jsonCodec.Decode(b)
	if err != nil {
		return errors.Wrap(err, "decoding stdin as json")
	}

	_, err = c.datasets.Write(ctx, *user, *name, *record, value)
	return errors.Wrapf(err, "writing %s/%s/%s", *user, *name, *record)
}
