// Package msgpackcodec implements the MessagePack codec of spec.md §4.1 on
// github.com/vmihailenco/msgpack/v5, the standard ecosystem library for the
// format (named per the pack's "out-of-pack deps need naming, not
// grounding" rule; no example repo imports a MessagePack library).
// MessagePack is not canonical; it follows the library's native
// conventions.
package msgpackcodec

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/bobg/pigeon-optics"
	"github.com/bobg/pigeon-optics/codec"
	"github.com/bobg/pigeon-optics/codec/wire"
)

type codecImpl struct{}

// Codec is the MessagePack codec instance, registered under name
// "msgpack".
var Codec codec.Codec = codecImpl{}

func init() {
	codec.Register("msgpack", Codec)
}

func (codecImpl) MediaTypes() []string {
	return []string{"application/msgpack", "application/x-msgpack"}
}
func (codecImpl) Extensions() []string { return []string{"msgpack", "mp"} }
func (codecImpl) Canonical() bool      { return false }

func (codecImpl) Encode(v optics.StructuredValue) ([]byte, error) {
	w, err := wire.ToAny(v, wire.PassthroughBytes{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", optics.ErrCodec, err)
	}
	b, err := msgpack.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", optics.ErrCodec, err)
	}
	return b, nil
}

func (codecImpl) Decode(data []byte) (optics.StructuredValue, error) {
	var w interface{}
	dec := msgpack.NewDecoder(bytesReader(data))
	dec.UseLooseInterfaceDecoding(true)
	if err := dec.Decode(&w); err != nil {
		return optics.StructuredValue{}, fmt.Errorf("%w: %v", optics.ErrCodec, err)
	}
	sv, err := wire.FromAny(w, wire.PassthroughBytes{})
	if err != nil {
		return optics.StructuredValue{}, fmt.Errorf("%w: %v", optics.ErrCodec, err)
	}
	return sv, nil
}
