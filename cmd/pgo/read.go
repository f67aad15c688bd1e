package main

import (
	"context"
	"flag"
	"os"

	"github.com/pkg/errors"

	"github.com/bobg/pigeon-optics/codec"
	_ "github.com/bobg/pigeon-optics/codec/jsoncodec"
)

func (c maincmd) read(ctx context.Context, fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return errors.Wrap(err, "parsing args")
	}
	if fs.NArg() != 1 {
		return errors.New("usage: read <source/user/name/recordID>")
	}

	v, err := c.resolver.Read(ctx, fs.Arg(0))
	if err != nil {
		return errors.Wrapf(err, "reading %s", fs.Arg(0))
	}

	jsonCodec, _ := codec.For("json")
	b, err := jsonCodec.Encode(v)
	if err != nil {
		return errors.Wrap(err, "encoding result as json")
	}
	_, err = os.Stdout.Write(append(b, '\n'))
	return err
}
