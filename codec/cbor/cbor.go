// Package cbor implements Pigeon Optics' canonical codec: deterministic CBOR
// (spec.md §4.1). Every object hash in this module is computed over this
// codec's output and no other codec is ever permitted to influence a hash
// (spec.md §3, §8 invariant 1).
package cbor

import (
	"errors"
	"fmt"
	"reflect"
	"time"

	fxcbor "github.com/fxamacker/cbor/v2"

	"github.com/bobg/pigeon-optics"
	"github.com/bobg/pigeon-optics/codec"
)

// hashURLTag is a private-use CBOR tag number (RFC 8949 §9.2 reserves
// 6-15 and 19-20 for arbitrary registration; we pick a value outside the
// IANA table entirely) wrapping the string form of a HashURL so it
// round-trips distinctly from a plain text string.
const hashURLTag = 55799 + 1 // adjacent to the CBOR "self-describe" tag, unused elsewhere

var (
	encMode fxcbor.EncMode
	decMode fxcbor.DecMode
)

func init() {
	encOpts := fxcbor.CoreDetEncOptions() // sorted keys, shortest ints, no indefinite-length items
	encOpts.Time = fxcbor.TimeRFC3339Nano
	encOpts.TimeTag = fxcbor.EncTagRequired // spec.md §4.1: timestamps as tag 0
	var err error
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic("cbor: encoder initialization failed: " + err.Error())
	}

	decMode, err = fxcbor.DecOptions{
		TimeTag: fxcbor.DecTagOptional,
	}.DecMode()
	if err != nil {
		panic("cbor: decoder initialization failed: " + err.Error())
	}
}

type codecImpl struct{}

// Codec is the canonical codec instance, registered under name "cbor".
var Codec codec.Codec = codecImpl{}

func init() {
	codec.Register("cbor", Codec)
}

func (codecImpl) MediaTypes() []string { return []string{"application/cbor"} }
func (codecImpl) Extensions() []string { return []string{"cbor"} }
func (codecImpl) Canonical() bool      { return true }

// Encode serialises v to canonical CBOR. It returns a wrapped ErrCyclic if v
// contains a cycle, since the canonical codec refuses to serialise cyclic
// structures (spec.md §9) rather than hang or overflow the stack.
func (codecImpl) Encode(v optics.StructuredValue) ([]byte, error) {
	wire, err := toWire(v, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", optics.ErrCodec, err)
	}
	b, err := encMode.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", optics.ErrCodec, err)
	}
	return b, nil
}

func (codecImpl) Decode(data []byte) (optics.StructuredValue, error) {
	var wire interface{}
	if err := decMode.Unmarshal(data, &wire); err != nil {
		return optics.StructuredValue{}, fmt.Errorf("%w: %v", optics.ErrCodec, err)
	}
	return fromWire(wire)
}

// ErrCyclic is returned (wrapped) by Encode when v contains a cycle.
var ErrCyclic = errors.New("cbor: cyclic structured value")

// toWire converts a StructuredValue into the plain Go value fxamacker/cbor
// knows how to marshal deterministically. ptrs tracks the chain of
// currently-encoding map/seq nodes by the identity of their backing array
// or map (via reflect.Value.Pointer, not the address of the local
// StructuredValue copy, which differs on every recursive call even when
// the backing storage is shared) to detect cycles; StructuredValue is
// usually passed by value so cycles can only arise via shared, mutated
// backing slices/maps, which this guards against.
func toWire(v optics.StructuredValue, ptrs map[uintptr]bool) (interface{}, error) {
	switch v.Kind {
	case optics.KindNull:
		return nil, nil
	case optics.KindBool:
		return v.Bool, nil
	case optics.KindInt:
		return v.Int, nil
	case optics.KindFloat:
		return v.Float, nil
	case optics.KindString:
		return v.Str, nil
	case optics.KindBytes:
		return []byte(v.Bytes), nil
	case optics.KindTime:
		return v.Time.UTC(), nil
	case optics.KindHashURL:
		return fxcbor.Tag{Number: hashURLTag, Content: v.HashURL.String()}, nil
	case optics.KindSeq:
		if ptrs == nil {
			ptrs = map[uintptr]bool{}
		}
		if len(v.Seq) > 0 {
			key := reflect.ValueOf(v.Seq).Pointer()
			if ptrs[key] {
				return nil, ErrCyclic
			}
			ptrs[key] = true
			defer delete(ptrs, key)
		}
		out := make([]interface{}, len(v.Seq))
		for i, e := range v.Seq {
			w, err := toWire(e, ptrs)
			if err != nil {
				return nil, err
			}
			out[i] = w
		}
		return out, nil
	case optics.KindMap:
		if ptrs == nil {
			ptrs = map[uintptr]bool{}
		}
		if len(v.Map) > 0 {
			key := reflect.ValueOf(v.Map).Pointer()
			if ptrs[key] {
				return nil, ErrCyclic
			}
			ptrs[key] = true
			defer delete(ptrs, key)
		}
		out := make(map[string]interface{}, len(v.Map))
		for k, e := range v.Map {
			w, err := toWire(e, ptrs)
			if err != nil {
				return nil, err
			}
			out[k] = w
		}
		return out, nil
	default:
		return nil, fmt.Errorf("cbor: unknown kind %d", v.Kind)
	}
}

func fromWire(w interface{}) (optics.StructuredValue, error) {
	switch x := w.(type) {
	case nil:
		return optics.Null(), nil
	case bool:
		return optics.Bool(x), nil
	case int64:
		return optics.Int(x), nil
	case uint64:
		return optics.Int(int64(x)), nil
	case float32:
		return optics.Float(float64(x)), nil
	case float64:
		return optics.Float(x), nil
	case string:
		return optics.String(x), nil
	case []byte:
		return optics.Bytes(x), nil
	case time.Time:
		return optics.Time(x), nil
	case fxcbor.Tag:
		if x.Number == hashURLTag {
			s, ok := x.Content.(string)
			if !ok {
				return optics.StructuredValue{}, fmt.Errorf("cbor: hash url tag with non-string content")
			}
			u, ok, err := optics.ParseHashURL(s)
			if err != nil {
				return optics.StructuredValue{}, err
			}
			if !ok {
				return optics.StructuredValue{}, fmt.Errorf("cbor: tag %d content %q is not a hash url", hashURLTag, s)
			}
			return optics.HashURLValue(u), nil
		}
		return fromWire(x.Content)
	case []interface{}:
		items := make([]optics.StructuredValue, len(x))
		for i, e := range x {
			sv, err := fromWire(e)
			if err != nil {
				return optics.StructuredValue{}, err
			}
			items[i] = sv
		}
		return optics.Seq(items...), nil
	case map[string]interface{}:
		m := make(map[string]optics.StructuredValue, len(x))
		keys := make([]string, 0, len(x))
		for k, e := range x {
			sv, err := fromWire(e)
			if err != nil {
				return optics.StructuredValue{}, err
			}
			m[k] = sv
			keys = append(keys, k)
		}
		return optics.Map(m, keys), nil
	case map[interface{}]interface{}:
		m := make(map[string]optics.StructuredValue, len(x))
		keys := make([]string, 0, len(x))
		for k, e := range x {
			ks, ok := k.(string)
			if !ok {
				return optics.StructuredValue{}, fmt.Errorf("cbor: non-string map key %v", k)
			}
			sv, err := fromWire(e)
			if err != nil {
				return optics.StructuredValue{}, err
			}
			m[ks] = sv
			keys = append(keys, ks)
		}
		return optics.Map(m, keys), nil
	default:
		return optics.StructuredValue{}, fmt.Errorf("cbor: unsupported decoded type %T", w)
	}
}
