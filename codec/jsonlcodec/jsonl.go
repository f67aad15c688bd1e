// Package jsonlcodec implements the JSON-Lines codec of spec.md §4.1: one
// JSON value per line, used for streaming export of a dataset's records.
// Not canonical. Built directly on codec/jsoncodec's per-value encoding
// rather than its own bytes convention, so the two formats agree on how a
// single StructuredValue looks as JSON.
package jsonlcodec

import (
	"bufio"
	"bytes"
	"fmt"

	"github.com/bobg/pigeon-optics"
	"github.com/bobg/pigeon-optics/codec"
	"github.com/bobg/pigeon-optics/codec/jsoncodec"
)

type codecImpl struct{}

// Codec is the JSON-Lines codec instance, registered under name "jsonl".
var Codec codec.Codec = codecImpl{}

func init() {
	codec.Register("jsonl", Codec)
}

func (codecImpl) MediaTypes() []string {
	return []string{"application/jsonlines", "application/x-ndjson", "application/jsonl"}
}
func (codecImpl) Extensions() []string { return []string{"jsonl", "ndjson"} }
func (codecImpl) Canonical() bool      { return false }

// Encode requires v to be KindSeq: each element becomes one line. This
// matches how Pigeon Optics uses the format — streaming a dataset's
// records out, one per line — rather than encoding an arbitrary single
// value.
func (codecImpl) Encode(v optics.StructuredValue) ([]byte, error) {
	if v.Kind != optics.KindSeq {
		return nil, fmt.Errorf("%w: jsonl encode requires a sequence, got kind %d", optics.ErrCodec, v.Kind)
	}
	var buf bytes.Buffer
	for _, e := range v.Seq {
		b, err := jsoncodec.Codec.Encode(e)
		if err != nil {
			return nil, err
		}
		buf.Write(b)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

func (codecImpl) Decode(data []byte) (optics.StructuredValue, error) {
	var items []optics.StructuredValue
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		v, err := jsoncodec.Codec.Decode(line)
		if err != nil {
			return optics.StructuredValue{}, err
		}
		items = append(items, v)
	}
	if err := sc.Err(); err != nil {
		return optics.StructuredValue{}, fmt.Errorf("%w: %v", optics.ErrCodec, err)
	}
	return optics.Seq(items...), nil
}
