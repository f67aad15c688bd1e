package main

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
)

// config names the single data root every store in this process is
// rooted under, per spec.md §6.2's persisted-state layout. It is
// deliberately small — this CLI stands in for an external HTTP router
// and auth layer that spec.md puts out of core scope, not for a
// deployable server.
type config struct {
	DataRoot            string `json:"dataRoot"`
	CompressAttachments bool   `json:"compressAttachments"`
}

func configFromFile(filename string) (config, error) {
	f, err := os.Open(filename)
	if err != nil {
		return config{}, errors.Wrapf(err, "opening config file %s", filename)
	}
	defer f.Close()

	var c config
	dec := json.NewDecoder(f)
	if err := dec.Decode(&c); err != nil {
		return config{}, errors.Wrapf(err, "decoding config file %s", filename)
	}
	if c.DataRoot == "" {
		return config{}, errors.Errorf("config file %s missing dataRoot", filename)
	}
	return c, nil
}
