// Package jsoncodec implements the JSON codec of spec.md §4.1 on the
// standard library's encoding/json: the teacher (bobg-bs) itself reaches
// for encoding/json directly rather than a third-party JSON library
// (cmd/bs/config.go), and no repo in the retrieval pack pulls one in
// either, so JSON stays on stdlib here too.
package jsoncodec

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/bobg/pigeon-optics"
	"github.com/bobg/pigeon-optics/codec"
	"github.com/bobg/pigeon-optics/codec/wire"
)

// bufferBytes mirrors Node's `Buffer.toJSON()` shape, which is what
// spec.md §4.1 calls out as the JSON encoding for binary values.
type bufferBytes struct{}

func (bufferBytes) ToAny(b []byte) interface{} {
	data := make([]int, len(b))
	for i, c := range b {
		data[i] = int(c)
	}
	return map[string]interface{}{"type": "Buffer", "data": data}
}

func (bufferBytes) FromAny(v interface{}) ([]byte, bool) {
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil, false
	}
	if t, _ := m["type"].(string); t == "Buffer" {
		if data, ok := m["data"].([]interface{}); ok {
			out := make([]byte, len(data))
			for i, e := range data {
				n, ok := toByte(e)
				if !ok {
					return nil, false
				}
				out[i] = n
			}
			return out, true
		}
	}
	if b64, ok := m["base64"].(string); ok {
		// "base64 under a recognised wrapper" per spec.md §4.1.
		if b, err := decodeBase64(b64); err == nil {
			return b, true
		}
	}
	return nil, false
}

func toByte(e interface{}) (byte, bool) {
	switch n := e.(type) {
	case json.Number:
		i, err := n.Int64()
		return byte(i), err == nil
	case float64:
		return byte(int(n)), true
	case int:
		return byte(n), true
	default:
		return 0, false
	}
}

type codecImpl struct{}

// Codec is the JSON codec instance, registered under name "json".
var Codec codec.Codec = codecImpl{}

func init() {
	codec.Register("json", Codec)
}

func (codecImpl) MediaTypes() []string { return []string{"application/json", "text/json"} }
func (codecImpl) Extensions() []string { return []string{"json"} }
func (codecImpl) Canonical() bool      { return false }

func (codecImpl) Encode(v optics.StructuredValue) ([]byte, error) {
	w, err := wire.ToAny(v, bufferBytes{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", optics.ErrCodec, err)
	}
	b, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", optics.ErrCodec, err)
	}
	return b, nil
}

func (codecImpl) Decode(data []byte) (optics.StructuredValue, error) {
	var w interface{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&w); err != nil {
		return optics.StructuredValue{}, fmt.Errorf("%w: %v", optics.ErrCodec, err)
	}
	sv, err := fromJSONAny(w)
	if err != nil {
		return optics.StructuredValue{}, fmt.Errorf("%w: %v", optics.ErrCodec, err)
	}
	return sv, nil
}

// fromJSONAny walks the interface{} tree json.Decoder (with UseNumber)
// produces, recognising the Buffer wrapper and json.Number before anything
// else so integral JSON numbers decode as KindInt rather than always
// becoming KindFloat.
func fromJSONAny(w interface{}) (optics.StructuredValue, error) {
	switch x := w.(type) {
	case nil:
		return optics.Null(), nil
	case bool:
		return optics.Bool(x), nil
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return optics.Int(i), nil
		}
		f, err := x.Float64()
		if err != nil {
			return optics.StructuredValue{}, err
		}
		return optics.Float(f), nil
	case string:
		if u, ok, err := optics.ParseHashURL(x); err == nil && ok {
			return optics.HashURLValue(u), nil
		}
		return optics.String(x), nil
	case []interface{}:
		items := make([]optics.StructuredValue, len(x))
		for i, e := range x {
			sv, err := fromJSONAny(e)
			if err != nil {
				return optics.StructuredValue{}, err
			}
			items[i] = sv
		}
		return optics.Seq(items...), nil
	case map[string]interface{}:
		if b, ok := (bufferBytes{}).FromAny(x); ok {
			return optics.Bytes(b), nil
		}
		m := make(map[string]optics.StructuredValue, len(x))
		keys := make([]string, 0, len(x))
		for k, e := range x {
			sv, err := fromJSONAny(e)
			if err != nil {
				return optics.StructuredValue{}, err
			}
			m[k] = sv
			keys = append(keys, k)
		}
		return optics.Map(m, keys), nil
	default:
		return optics.StructuredValue{}, fmt.Errorf("jsoncodec: unsupported decoded type %T", w)
	}
}
