package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/pkg/errors"

	"github.com/bobg/pigeon-optics"
)

// gc forces attachment GC validation for one hash (spec.md §4.7's
// validate() oracle), for diagnosing a blob that should have been
// collected but wasn't, or vice versa.
func (c maincmd) gc(ctx context.Context, fs *flag.FlagSet, args []string) error {
	hashHex := fs.String("hash", "", "attachment hash (hex) to validate")
	if err := fs.Parse(args); err != nil {
		return errors.Wrap(err, "parsing args")
	}
	if *hashHex == "" {
		return errors.New("must supply -hash")
	}

	h, err := optics.HashFromHex(*hashHex)
	if err != nil {
		return errors.Wrapf(err, "parsing hash %s", *hashHex)
	}

	kept, err := c.attachments.Validate(ctx, h)
	if err != nil {
		return errors.Wrapf(err, "validating %s", h)
	}
	if kept {
		fmt.Println("kept")
	} else {
		fmt.Println("collected")
	}
	return nil
}
